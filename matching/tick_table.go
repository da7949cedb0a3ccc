package matching

import (
	"fmt"
	"math"
	"sort"
)

// TickRule maps one inclusive price band to its tick size.
type TickRule struct {
	MinPrice int64
	MaxPrice int64
	TickSize int64
}

// TickTable is a piecewise price grid: non-overlapping bands, each with
// its own tick. Rules are kept sorted by MinPrice.
type TickTable struct {
	rules []TickRule
}

// NewEmptyTickTable returns a table with no bands configured. Prices are
// only admissible once AddRule has covered them.
func NewEmptyTickTable() *TickTable {
	return &TickTable{}
}

// NewTickTable returns the standard grid: tick 1 below 100000, 5 to
// 500000, 10 to 1000000, 100 above.
func NewTickTable() *TickTable {
	t := NewEmptyTickTable()
	t.AddRule(1, 99999, 1)
	t.AddRule(100000, 499999, 5)
	t.AddRule(500000, 999999, 10)
	t.AddRule(1000000, math.MaxInt64, 100)
	return t
}

// AddRule registers a band. The band must be well formed and must not
// overlap an existing one.
func (t *TickTable) AddRule(minPrice, maxPrice, tickSize int64) error {
	if minPrice <= 0 {
		return fmt.Errorf("tick rule min price must be positive, got %d", minPrice)
	}
	if maxPrice < minPrice {
		return fmt.Errorf("tick rule range inverted: [%d, %d]", minPrice, maxPrice)
	}
	if tickSize <= 0 {
		return fmt.Errorf("tick size must be positive, got %d", tickSize)
	}
	for _, r := range t.rules {
		if minPrice <= r.MaxPrice && maxPrice >= r.MinPrice {
			return fmt.Errorf("tick rule [%d, %d] overlaps [%d, %d]", minPrice, maxPrice, r.MinPrice, r.MaxPrice)
		}
	}

	t.rules = append(t.rules, TickRule{MinPrice: minPrice, MaxPrice: maxPrice, TickSize: tickSize})
	sort.Slice(t.rules, func(i, j int) bool { return t.rules[i].MinPrice < t.rules[j].MinPrice })
	return nil
}

// Rules returns the configured bands in ascending price order.
func (t *TickTable) Rules() []TickRule {
	return t.rules
}

func (t *TickTable) rule(price int64) *TickRule {
	if price <= 0 {
		return nil
	}
	i := sort.Search(len(t.rules), func(i int) bool { return t.rules[i].MaxPrice >= price })
	if i == len(t.rules) || t.rules[i].MinPrice > price {
		return nil
	}
	return &t.rules[i]
}

// TickSize returns the tick for the band covering price, or 0 when no
// band covers it.
func (t *TickTable) TickSize(price int64) int64 {
	r := t.rule(price)
	if r == nil {
		return 0
	}
	return r.TickSize
}

// RoundToTick snaps price onto the grid, rounding half up within its
// band. Prices no band covers round to 0, which the engine treats as
// inadmissible.
func (t *TickTable) RoundToTick(price int64) int64 {
	r := t.rule(price)
	if r == nil {
		return 0
	}
	rounded := (price + r.TickSize/2) / r.TickSize * r.TickSize
	if rounded < r.MinPrice {
		rounded = r.MinPrice
	}
	return rounded
}

// IsValidPrice reports whether price already sits on the grid.
func (t *TickTable) IsValidPrice(price int64) bool {
	return price > 0 && t.RoundToTick(price) == price
}

// NextTickUp returns the next grid price above price, following the
// band boundary when the step crosses it.
func (t *TickTable) NextTickUp(price int64) int64 {
	step := t.TickSize(price)
	if step == 0 {
		return price
	}
	if up := t.RoundToTick(price + step); up > 0 {
		return up
	}
	return price
}

// NextTickDown returns the next grid price below price, clamping at the
// bottom of the grid.
func (t *TickTable) NextTickDown(price int64) int64 {
	step := t.TickSize(price)
	if step == 0 {
		return price
	}
	down := t.RoundToTick(price - step)
	if down <= 0 || down >= price {
		return price
	}
	return down
}
