package auction

import (
	"math"
	"strconv"
	"sync"

	"github.com/kailas-cloud/quotapool/internal/domain/upstream"
	"github.com/kailas-cloud/quotapool/internal/usecase/dispatch"
)

// Pages of a long walk start every walkStride rows so neighbours overlap by a
// fifth of a page; rows that shift between requests still land on some page.
const (
	walkStride    = PageSize / 10 * 8
	walkOvershoot = 1.2
)

// walkPages is the number of pages needed to cover limit rows.
func walkPages(limit int) int {
	if limit <= 0 {
		return 0
	}
	return int(math.Ceil(float64(limit) / float64(walkStride) * walkOvershoot))
}

// walkPlan is the page sequence of a long history walk. It shrinks when the
// API reports fewer rows than requested.
type walkPlan struct {
	path       string
	offset     int
	additional bool
	weight     int

	mu    sync.Mutex
	limit int
	pages int
}

func newWalkPlan(s *Service, region, itemID string, q LongQuery) *walkPlan {
	return &walkPlan{
		path:       historyPath(region, itemID),
		offset:     q.Offset,
		additional: q.Additional,
		weight:     s.weight,
		limit:      q.Limit,
		pages:      walkPages(q.Limit),
	}
}

func (w *walkPlan) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pages
}

func (w *walkPlan) Item(i int) dispatch.Item {
	off := walkStride*i + w.offset
	return dispatch.Item{
		Key:     strconv.Itoa(off),
		Request: upstream.Request{Path: w.path, Query: pageQuery(w.additional, PageSize, off)},
		Weight:  w.weight,
	}
}

// shrink lowers the limit to total. The page count never grows.
func (w *walkPlan) shrink(total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if total >= w.limit {
		return
	}
	w.limit = total
	if p := walkPages(total); p < w.pages {
		w.pages = p
	}
}
