package matching

import (
	rbt "github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"

	"github.com/hftsim/matchbox/types"
)

// stopLevel is the FIFO of stop orders sharing one stop price.
type stopLevel struct {
	orders []*types.Order
}

// StopBook holds untriggered stop orders on both sides, keyed by stop
// price in ascending order. Buy stops fire when the last trade price
// rises to or above their stop price, sell stops when it falls to or
// below.
type StopBook struct {
	buys   *rbt.Tree
	sells  *rbt.Tree
	lookup map[uint64]*types.Order
}

// NewStopBook returns an empty stop book.
func NewStopBook() *StopBook {
	return &StopBook{
		buys:   rbt.NewWith(utils.Int64Comparator),
		sells:  rbt.NewWith(utils.Int64Comparator),
		lookup: make(map[uint64]*types.Order, 256),
	}
}

func (s *StopBook) tree(side types.Side) *rbt.Tree {
	if side == types.SideBuy {
		return s.buys
	}
	return s.sells
}

// Add parks a stop order until its trigger condition is met.
func (s *StopBook) Add(o *types.Order) {
	tree := s.tree(o.Side)
	var level *stopLevel
	if v, found := tree.Get(o.StopPrice); found {
		level = v.(*stopLevel)
	} else {
		level = &stopLevel{}
		tree.Put(o.StopPrice, level)
	}
	level.orders = append(level.orders, o)
	s.lookup[o.ID] = o
}

// Remove cancels a pending stop order by id.
func (s *StopBook) Remove(id uint64) (*types.Order, bool) {
	o, ok := s.lookup[id]
	if !ok {
		return nil, false
	}

	tree := s.tree(o.Side)
	if v, found := tree.Get(o.StopPrice); found {
		level := v.(*stopLevel)
		for i, q := range level.orders {
			if q == o {
				level.orders = append(level.orders[:i], level.orders[i+1:]...)
				break
			}
		}
		if len(level.orders) == 0 {
			tree.Remove(o.StopPrice)
		}
	}
	delete(s.lookup, id)
	return o, true
}

// TakeTriggered removes and returns every stop whose trigger condition
// is satisfied by lastTradePrice: buy stops with stop price <= last,
// then sell stops with stop price >= last, each group in ascending stop
// price order with FIFO inside a price.
func (s *StopBook) TakeTriggered(lastTradePrice int64) []*types.Order {
	if lastTradePrice <= 0 {
		return nil
	}

	var triggered []*types.Order
	triggered = s.drain(s.buys, triggered, func(stopPrice int64) bool {
		return stopPrice <= lastTradePrice
	})
	triggered = s.drain(s.sells, triggered, func(stopPrice int64) bool {
		return stopPrice >= lastTradePrice
	})
	return triggered
}

func (s *StopBook) drain(tree *rbt.Tree, out []*types.Order, fires func(int64) bool) []*types.Order {
	var prices []int64
	it := tree.Iterator()
	for it.Next() {
		price := it.Key().(int64)
		if !fires(price) {
			continue
		}
		prices = append(prices, price)
		level := it.Value().(*stopLevel)
		for _, o := range level.orders {
			out = append(out, o)
			delete(s.lookup, o.ID)
		}
	}
	for _, price := range prices {
		tree.Remove(price)
	}
	return out
}

// PendingCount returns the number of parked stop orders.
func (s *StopBook) PendingCount() int {
	return len(s.lookup)
}

// Get looks up a pending stop by id.
func (s *StopBook) Get(id uint64) (*types.Order, bool) {
	o, ok := s.lookup[id]
	return o, ok
}
