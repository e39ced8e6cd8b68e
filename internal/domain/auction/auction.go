package auction

import (
	"slices"
	"time"
)

// Sale is one completed trade from an item's price history.
type Sale struct {
	ItemID    string
	Amount    int
	Price     int64
	Time      time.Time
	Quality   *int
	Potential *int
	Stats     *float64
}

// Lot is one active auction listing.
type Lot struct {
	ItemID       string
	Amount       int
	StartPrice   int64
	CurrentPrice int64
	BuyoutPrice  int64
	StartTime    time.Time
	EndTime      time.Time
	Quality      *int
	Potential    *int
	Stats        *float64
}

// ClanInfo describes a clan.
type ClanInfo struct {
	ID               string
	Name             string
	Tag              string
	Level            int
	LevelPoints      int
	RegistrationTime time.Time
	Alliance         string
	Description      string
	Leader           string
	MemberCount      int
}

// saleKey is the equality rule for history rows: two rows with the same time,
// price and amount are the same trade seen on overlapping pages, whatever the
// item id or additional fields say.
type saleKey struct {
	unixNano int64
	price    int64
	amount   int
}

func keyOf(s *Sale) saleKey {
	return saleKey{unixNano: s.Time.UnixNano(), price: s.Price, amount: s.Amount}
}

// Same reports whether a and b are duplicates under the history equality rule.
func Same(a, b *Sale) bool {
	return keyOf(a) == keyOf(b)
}

// Dedup removes duplicate sales keeping the first occurrence.
func Dedup(sales []Sale) []Sale {
	seen := make(map[saleKey]struct{}, len(sales))
	out := make([]Sale, 0, len(sales))
	for i := range sales {
		k := keyOf(&sales[i])
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, sales[i])
	}
	return out
}

// SortNewestFirst orders sales by time, newest first. Ties keep input order.
func SortNewestFirst(sales []Sale) {
	slices.SortStableFunc(sales, func(a, b Sale) int {
		return b.Time.Compare(a.Time)
	})
}
