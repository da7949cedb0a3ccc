package matching

import (
	rbt "github.com/emirpasic/gods/trees/redblacktree"

	"github.com/hftsim/matchbox/types"
)

// makeComparator orders a side's tree so that the best price is always
// at Right(): highest first for bids, lowest first for asks.
func makeComparator(side types.Side) func(a, b interface{}) int {
	return func(a, b interface{}) int {
		ap := a.(int64)
		bp := b.(int64)

		switch {
		case ap == bp:
			return 0
		case ap < bp:
			if side == types.SideBuy {
				return -1
			}
			return 1
		default:
			if side == types.SideBuy {
				return 1
			}
			return -1
		}
	}
}

// OrderBook keeps both sides of the book keyed by price plus an index of
// every live order (resting and stop) by id. It is not safe for
// concurrent use; the engine serializes access.
type OrderBook struct {
	Symbol string

	bids   *rbt.Tree
	asks   *rbt.Tree
	orders map[uint64]*types.Order
}

// NewOrderBook returns an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   rbt.NewWith(makeComparator(types.SideBuy)),
		asks:   rbt.NewWith(makeComparator(types.SideSell)),
		orders: make(map[uint64]*types.Order, 1024),
	}
}

func (b *OrderBook) tree(side types.Side) *rbt.Tree {
	if side == types.SideBuy {
		return b.bids
	}
	return b.asks
}

// Best returns the top-priority level of side, or nil when that side is
// empty.
func (b *OrderBook) Best(side types.Side) *PriceLevel {
	node := b.tree(side).Right()
	if node == nil {
		return nil
	}
	return node.Value.(*PriceLevel)
}

// Level returns the level at price on side, creating it when absent.
func (b *OrderBook) Level(side types.Side, price int64) *PriceLevel {
	tree := b.tree(side)
	if v, found := tree.Get(price); found {
		return v.(*PriceLevel)
	}
	level := NewPriceLevel(price)
	tree.Put(price, level)
	return level
}

// RemoveLevel drops the level at price from side.
func (b *OrderBook) RemoveLevel(side types.Side, price int64) {
	b.tree(side).Remove(price)
}

// Rest parks the order at its price level and indexes it by id.
func (b *OrderBook) Rest(o *types.Order) {
	b.Level(o.Side, o.Price).Add(o)
	b.orders[o.ID] = o
}

// Unlink removes a resting order from its level and the id index,
// dropping the level if it empties. Returns false when the order is not
// resting in the book.
func (b *OrderBook) Unlink(o *types.Order) bool {
	v, found := b.tree(o.Side).Get(o.Price)
	if !found {
		return false
	}
	level := v.(*PriceLevel)
	if !level.Erase(o) {
		return false
	}
	if level.Empty() {
		b.RemoveLevel(o.Side, o.Price)
	}
	delete(b.orders, o.ID)
	return true
}

// Get looks up a live order by id.
func (b *OrderBook) Get(id uint64) (*types.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Index registers an order by id without resting it. Stop orders live
// in the stop book but stay cancellable through the shared index.
func (b *OrderBook) Index(o *types.Order) {
	b.orders[o.ID] = o
}

// Unindex drops an id from the index.
func (b *OrderBook) Unindex(id uint64) {
	delete(b.orders, id)
}

// BestBid returns the highest bid price, or 0 when no bids rest.
func (b *OrderBook) BestBid() int64 {
	if level := b.Best(types.SideBuy); level != nil {
		return level.Price
	}
	return 0
}

// BestAsk returns the lowest ask price, or 0 when no asks rest.
func (b *OrderBook) BestAsk() int64 {
	if level := b.Best(types.SideSell); level != nil {
		return level.Price
	}
	return 0
}

// BidLevels returns the number of distinct bid prices.
func (b *OrderBook) BidLevels() int {
	return b.bids.Size()
}

// AskLevels returns the number of distinct ask prices.
func (b *OrderBook) AskLevels() int {
	return b.asks.Size()
}

// OrderCount returns the number of live orders, stops included.
func (b *OrderBook) OrderCount() int {
	return len(b.orders)
}

// DepthEntry is one aggregated price level of a depth snapshot.
type DepthEntry struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// Depth walks side from the best price outward and aggregates up to
// limit levels. A limit of 0 means no cap.
func (b *OrderBook) Depth(side types.Side, limit int) []DepthEntry {
	tree := b.tree(side)
	entries := make([]DepthEntry, 0, tree.Size())

	it := tree.Iterator()
	for it.End(); it.Prev(); {
		if limit > 0 && len(entries) >= limit {
			break
		}
		level := it.Value().(*PriceLevel)
		entries = append(entries, DepthEntry{
			Price:    level.Price,
			Quantity: level.Total(),
			Orders:   level.Size(),
		})
	}
	return entries
}
