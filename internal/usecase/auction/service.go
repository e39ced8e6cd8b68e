package auction

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/kailas-cloud/quotapool/internal/domain"
	domauction "github.com/kailas-cloud/quotapool/internal/domain/auction"
	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
)

// PageSize is the largest page the remote API returns.
const PageSize = 200

// DefaultWeight is the quota cost of one auction or clan request.
const DefaultWeight = 2

// Page selects a window of one item's history or lots.
type Page struct {
	Limit      int
	Offset     int
	Additional bool
}

// LongQuery selects history beyond a single page.
// Exact fails when the item has fewer than Limit sales and trims the result
// to Limit; otherwise the walk shrinks to whatever exists.
type LongQuery struct {
	Limit      int
	Offset     int
	Additional bool
	Exact      bool
}

// Service fetches auction data through the dispatcher.
type Service struct {
	d      Dispatcher
	weight int
}

// Option configures a Service.
type Option func(*Service)

// WithWeight overrides the per-request weight.
func WithWeight(w int) Option {
	return func(s *Service) { s.weight = w }
}

// New creates an auction service.
func New(d Dispatcher, opts ...Option) *Service {
	s := &Service{d: d, weight: DefaultWeight}
	for _, o := range opts {
		o(s)
	}
	return s
}

// History returns one page of an item's price history.
func (s *Service) History(ctx context.Context, region, itemID string, p Page) (domauction.HistoryPage, error) {
	if err := validate(region, p.Limit, p.Offset, itemID); err != nil {
		return domauction.HistoryPage{}, err
	}

	var page domauction.HistoryPage
	item := s.item(itemID, historyPath(region, itemID), p)
	err := s.d.Do(ctx, item, func(_ context.Context, _ dispatch.Item, resp *upstream.Response) error {
		var err error
		page, err = domauction.DecodeHistory(itemID, resp.Body)
		return err
	})
	if err != nil {
		return domauction.HistoryPage{}, fmt.Errorf("history %s: %w", itemID, err)
	}
	return page, nil
}

// MultiHistory fetches the same page of history for several items on one
// exclusive checkout and returns all sales together.
func (s *Service) MultiHistory(ctx context.Context, region string, itemIDs []string, p Page) ([]domauction.Sale, error) {
	if err := validate(region, p.Limit, p.Offset, itemIDs...); err != nil {
		return nil, err
	}

	items := make([]dispatch.Item, len(itemIDs))
	for i, id := range itemIDs {
		items[i] = s.item(id, historyPath(region, id), p)
	}

	var (
		mu  sync.Mutex
		out []domauction.Sale
	)
	err := s.d.Run(ctx, dispatch.Items(items...), func(_ context.Context, it dispatch.Item, resp *upstream.Response) error {
		page, err := domauction.DecodeHistory(it.Key, resp.Body)
		if err != nil {
			return err
		}
		mu.Lock()
		out = append(out, page.Sales...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("multi history: %w", err)
	}
	return out, nil
}

// LongHistory walks history pages past the single-page limit. Pages overlap
// and the result is deduplicated and sorted newest first.
func (s *Service) LongHistory(ctx context.Context, region, itemID string, q LongQuery) ([]domauction.Sale, error) {
	if err := validate(region, q.Limit, q.Offset, itemID); err != nil {
		return nil, err
	}

	if q.Limit <= PageSize {
		page, err := s.History(ctx, region, itemID, Page{Limit: q.Limit, Offset: q.Offset, Additional: q.Additional})
		if err != nil {
			return nil, err
		}
		return page.Sales, nil
	}

	plan := newWalkPlan(s, region, itemID, q)

	var (
		mu  sync.Mutex
		out []domauction.Sale
	)
	err := s.d.Run(ctx, plan, func(_ context.Context, _ dispatch.Item, resp *upstream.Response) error {
		page, err := domauction.DecodeHistory(itemID, resp.Body)
		if err != nil {
			return err
		}
		if page.Total < q.Limit && len(resp.Body) > 0 {
			if q.Exact {
				return dispatch.Permanent(fmt.Errorf("total items is %d, requested %d: %w",
					page.Total, q.Limit, domain.ErrNotEnoughHistory))
			}
			plan.shrink(page.Total)
		}
		mu.Lock()
		out = append(out, page.Sales...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("long history %s: %w", itemID, err)
	}

	out = domauction.Dedup(out)
	domauction.SortNewestFirst(out)
	if q.Exact && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Lots returns one page of an item's active lots.
func (s *Service) Lots(ctx context.Context, region, itemID string, p Page) (domauction.LotsPage, error) {
	if err := validate(region, p.Limit, p.Offset, itemID); err != nil {
		return domauction.LotsPage{}, err
	}

	var page domauction.LotsPage
	item := s.item(itemID, lotsPath(region, itemID), p)
	err := s.d.Do(ctx, item, func(_ context.Context, _ dispatch.Item, resp *upstream.Response) error {
		var err error
		page, err = domauction.DecodeLots(itemID, resp.Body)
		return err
	})
	if err != nil {
		return domauction.LotsPage{}, fmt.Errorf("lots %s: %w", itemID, err)
	}
	return page, nil
}

// MultiLots fetches the same page of lots for several items on one exclusive
// checkout and returns all lots together.
func (s *Service) MultiLots(ctx context.Context, region string, itemIDs []string, p Page) ([]domauction.Lot, error) {
	if err := validate(region, p.Limit, p.Offset, itemIDs...); err != nil {
		return nil, err
	}

	items := make([]dispatch.Item, len(itemIDs))
	for i, id := range itemIDs {
		items[i] = s.item(id, lotsPath(region, id), p)
	}

	var (
		mu  sync.Mutex
		out []domauction.Lot
	)
	err := s.d.Run(ctx, dispatch.Items(items...), func(_ context.Context, it dispatch.Item, resp *upstream.Response) error {
		page, err := domauction.DecodeLots(it.Key, resp.Body)
		if err != nil {
			return err
		}
		mu.Lock()
		out = append(out, page.Lots...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("multi lots: %w", err)
	}
	return out, nil
}

// Clan returns clan information. ok is false when the API answered with an
// empty body.
func (s *Service) Clan(ctx context.Context, region, clanID string) (info domauction.ClanInfo, ok bool, err error) {
	if region == "" || clanID == "" {
		return domauction.ClanInfo{}, false, fmt.Errorf("region and clan id are required: %w", domain.ErrInvalidArgument)
	}

	item := dispatch.Item{
		Key:     clanID,
		Request: upstream.Request{Path: "/" + url.PathEscape(region) + "/clan/" + url.PathEscape(clanID) + "/info"},
		Weight:  s.weight,
	}
	err = s.d.Do(ctx, item, func(_ context.Context, _ dispatch.Item, resp *upstream.Response) error {
		var derr error
		info, ok, derr = domauction.DecodeClan(resp.Body)
		return derr
	})
	if err != nil {
		return domauction.ClanInfo{}, false, fmt.Errorf("clan %s: %w", clanID, err)
	}
	return info, ok, nil
}

func (s *Service) item(key, path string, p Page) dispatch.Item {
	return dispatch.Item{
		Key:     key,
		Request: upstream.Request{Path: path, Query: pageQuery(p.Additional, p.Limit, p.Offset)},
		Weight:  s.weight,
	}
}

func validate(region string, limit, offset int, itemIDs ...string) error {
	switch {
	case region == "":
		return fmt.Errorf("region is required: %w", domain.ErrInvalidArgument)
	case limit < 1:
		return fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrInvalidArgument)
	case offset < 0:
		return fmt.Errorf("offset must not be negative, got %d: %w", offset, domain.ErrInvalidArgument)
	}
	for _, id := range itemIDs {
		if id == "" {
			return fmt.Errorf("item id is required: %w", domain.ErrInvalidArgument)
		}
	}
	return nil
}

func historyPath(region, itemID string) string {
	return "/" + url.PathEscape(region) + "/auction/" + url.PathEscape(itemID) + "/history"
}

func lotsPath(region, itemID string) string {
	return "/" + url.PathEscape(region) + "/auction/" + url.PathEscape(itemID) + "/lots"
}

func pageQuery(additional bool, limit, offset int) url.Values {
	return url.Values{
		"additional": {strconv.FormatBool(additional)},
		"limit":      {strconv.Itoa(limit)},
		"offset":     {strconv.Itoa(offset)},
	}
}
