package matching

import "github.com/hftsim/matchbox/types"

// PriceLevel holds the resting orders of one price. Market maker orders
// queue ahead of regular orders; within each queue priority is FIFO.
type PriceLevel struct {
	Price   int64
	mm      []*types.Order
	regular []*types.Order
}

// NewPriceLevel returns an empty level at price.
func NewPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Add appends the order to the back of its queue.
func (l *PriceLevel) Add(o *types.Order) {
	if o.IsMarketMaker {
		l.mm = append(l.mm, o)
	} else {
		l.regular = append(l.regular, o)
	}
}

// AddFront puts the order at the head of its queue. Used by the iceberg
// refill policy that preserves queue priority.
func (l *PriceLevel) AddFront(o *types.Order) {
	if o.IsMarketMaker {
		l.mm = append([]*types.Order{o}, l.mm...)
	} else {
		l.regular = append([]*types.Order{o}, l.regular...)
	}
}

// Front returns the highest-priority order at this level, or nil when
// the level is empty.
func (l *PriceLevel) Front() *types.Order {
	if len(l.mm) > 0 {
		return l.mm[0]
	}
	if len(l.regular) > 0 {
		return l.regular[0]
	}
	return nil
}

// PopFront removes the highest-priority order.
func (l *PriceLevel) PopFront() {
	if len(l.mm) > 0 {
		l.mm = l.mm[1:]
		return
	}
	if len(l.regular) > 0 {
		l.regular = l.regular[1:]
	}
}

// Erase removes the order from its queue, wherever it sits.
func (l *PriceLevel) Erase(o *types.Order) bool {
	queue := &l.regular
	if o.IsMarketMaker {
		queue = &l.mm
	}
	for i, q := range *queue {
		if q == o {
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return true
		}
	}
	return false
}

// Empty reports whether both queues are drained.
func (l *PriceLevel) Empty() bool {
	return len(l.mm) == 0 && len(l.regular) == 0
}

// Size returns the number of resting orders at this level.
func (l *PriceLevel) Size() int {
	return len(l.mm) + len(l.regular)
}

// Total returns the displayed quantity at this level. Hidden iceberg
// reserve is not included.
func (l *PriceLevel) Total() int64 {
	var total int64
	for _, o := range l.mm {
		total += o.Display
	}
	for _, o := range l.regular {
		total += o.Display
	}
	return total
}

// Orders returns the level's orders in priority order.
func (l *PriceLevel) Orders() []*types.Order {
	out := make([]*types.Order, 0, len(l.mm)+len(l.regular))
	out = append(out, l.mm...)
	out = append(out, l.regular...)
	return out
}
