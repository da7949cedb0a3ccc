package matching

import (
	"sync"
	"time"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/risk"
	"github.com/hftsim/matchbox/types"
)

// RefillPolicy decides where a refilled iceberg tranche queues at its
// price level.
type RefillPolicy int

const (
	// RefillToBack sends the new tranche to the back of its queue.
	RefillToBack RefillPolicy = iota
	// RefillKeepPriority keeps the tranche at the head of its queue.
	RefillKeepPriority
)

// maxCascadeDepth caps the number of trigger waves one submission can
// set off. A wave at the cap leaves later stops parked until the next
// trade.
const maxCascadeDepth = 3

const (
	orderPoolSize = 16384
	tradePoolSize = 8192
)

// Stats are the engine's lifetime counters.
type Stats struct {
	TotalOrders       uint64 `json:"total_orders"`
	TotalTrades       uint64 `json:"total_trades"`
	TotalVolume       uint64 `json:"total_volume"`
	TotalCancelled    uint64 `json:"total_cancelled"`
	TotalIOCDiscarded uint64 `json:"total_ioc_discarded"`
	TotalStopsFired   uint64 `json:"total_stops_fired"`
	TotalRiskRejected uint64 `json:"total_risk_rejected"`
}

// Engine owns one instrument's book, stop book, tick grid, risk manager
// and object pools. All mutations run under MatchingMutex; submission
// is single threaded by contract and the mutex shields the inspection
// API.
type Engine struct {
	MatchingMutex sync.Mutex

	Symbol string

	book  *OrderBook
	stops *StopBook
	tick  *TickTable
	risk  *risk.Manager

	orderPool *Pool[types.Order, *types.Order]
	tradePool *Pool[types.Trade, *types.Trade]

	refill     RefillPolicy
	processing map[uint64]struct{}
	stats      Stats

	// now is the engine clock in nanoseconds, swappable in tests.
	now func() int64
}

// NewEngine returns an engine with the standard tick grid, an empty
// risk manager and warm object pools.
func NewEngine(symbol string) *Engine {
	return &Engine{
		Symbol:     symbol,
		book:       NewOrderBook(symbol),
		stops:      NewStopBook(),
		tick:       NewTickTable(),
		risk:       risk.NewManager(),
		orderPool:  NewPool[types.Order, *types.Order](orderPoolSize),
		tradePool:  NewPool[types.Trade, *types.Trade](tradePoolSize),
		refill:     RefillToBack,
		processing: make(map[uint64]struct{}),
		now:        func() int64 { return time.Now().UnixNano() },
	}
}

// SetRefillPolicy switches the iceberg refill behavior.
func (e *Engine) SetRefillPolicy(p RefillPolicy) {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	e.refill = p
}

// SetClock swaps the engine clock. Tests use a fixed or stepped clock
// to make rate windows and timestamps deterministic.
func (e *Engine) SetClock(now func() int64) {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	e.now = now
}

// AddOrder admits one order: tick normalization, pre-trade risk,
// then parking (stops), matching and resting. It returns the trades
// the order produced, stop cascades included, in execution order.
func (e *Engine) AddOrder(req types.OrderRequest) []types.Trade {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()

	e.stats.TotalOrders++

	order := e.buildOrder(req)

	switch order.Type {
	case types.TypeMarket:
		// no price to normalize
	case types.TypeStopLoss:
		// the limit price is discarded on trigger; only the stop
		// price must sit on the grid
		rounded := e.tick.RoundToTick(order.StopPrice)
		if rounded == 0 {
			e.reject(order, risk.RejectedInvalidTick)
			return nil
		}
		order.StopPrice = rounded
	default:
		rounded := e.tick.RoundToTick(order.Price)
		if rounded == 0 {
			e.reject(order, risk.RejectedInvalidTick)
			return nil
		}
		order.Price = rounded
	}

	if res := e.risk.CheckOrder(order, e.now()); !res.Ok() {
		e.reject(order, res)
		return nil
	}

	if order.Type == types.TypeStopLoss {
		e.stops.Add(order)
		e.book.Index(order)
		config.Logger.Debugf("[engine] order %d parked as %s stop at %d", order.ID, order.Side, order.StopPrice)
		return nil
	}

	var trades []*types.Trade

	switch order.Type {
	case types.TypeFOK:
		e.matchFOK(order, &trades)
		e.orderPool.Release(order)
	case types.TypeMarket:
		e.matchAgainstBook(order, &trades)
		e.orderPool.Release(order)
	default: // GTC, IOC, ICEBERG
		e.matchAgainstBook(order, &trades)
		if order.Display > 0 {
			if order.Type == types.TypeIOC {
				e.stats.TotalIOCDiscarded++
				e.orderPool.Release(order)
			} else {
				e.book.Rest(order)
			}
		} else {
			e.orderPool.Release(order)
		}
	}

	e.cascadeStops(&trades)

	return e.collectTrades(trades)
}

// CancelOrder removes a live order, resting or pending stop. Unknown
// ids report false.
func (e *Engine) CancelOrder(id uint64) bool {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()

	order, ok := e.book.Get(id)
	if !ok {
		return false
	}

	if order.Type == types.TypeStopLoss {
		e.stops.Remove(id)
		e.book.Unindex(id)
	} else if !e.book.Unlink(order) {
		return false
	}

	e.orderPool.Release(order)
	e.stats.TotalCancelled++
	return true
}

// buildOrder pulls a pooled record and fills it from the request.
// Display starts at the full quantity except for icebergs, which expose
// one tranche and keep the rest as hidden reserve in Remaining.
func (e *Engine) buildOrder(req types.OrderRequest) *types.Order {
	o := e.orderPool.Acquire()
	o.ID = req.ID
	o.Side = req.Side
	o.Type = req.Type
	o.Price = req.Price
	o.StopPrice = req.StopPrice
	o.Quantity = req.Quantity
	o.DisplaySize = req.DisplaySize
	o.OwnerID = req.OwnerID
	o.SessionID = req.SessionID
	o.IsMarketMaker = req.IsMarketMaker
	o.Timestamp = e.now()

	if o.Type == types.TypeIceberg {
		if o.DisplaySize <= 0 || o.DisplaySize > o.Quantity {
			o.DisplaySize = o.Quantity
		}
		o.Display = o.DisplaySize
		o.Remaining = o.Quantity - o.Display
	} else {
		o.Display = o.Quantity
		o.Remaining = o.Quantity
	}
	return o
}

func (e *Engine) reject(order *types.Order, res risk.Result) {
	e.stats.TotalRiskRejected++
	config.Logger.Debugf("[engine] order %d rejected: %s", order.ID, res)
	e.orderPool.Release(order)
}

// matchAgainstBook walks the opposite side from the best price while
// the aggressor has displayed quantity and, for priced orders, the
// level still crosses. Trades print at the passive price.
func (e *Engine) matchAgainstBook(order *types.Order, trades *[]*types.Trade) {
	opposite := order.Side.Opposite()

	for order.Display > 0 {
		level := e.book.Best(opposite)
		if level == nil || !crosses(order, level.Price) {
			break
		}

		for order.Display > 0 && !level.Empty() {
			passive := level.Front()

			if passive.OwnerID == order.OwnerID {
				level.PopFront()
				e.dropPassive(passive)
				continue
			}

			qty := min64(order.Display, passive.Display)
			e.execute(order, passive, qty, trades)
			e.fill(order, qty)
			e.fill(passive, qty)

			// an aggressing iceberg keeps matching out of its reserve
			if order.Type == types.TypeIceberg && order.Display == 0 && order.Remaining > 0 {
				exposeTranche(order)
			}

			if passive.Display == 0 {
				level.PopFront()
				if !e.refillIceberg(passive, level) {
					e.book.Unindex(passive.ID)
					e.orderPool.Release(passive)
				}
			}
		}

		if level.Empty() {
			e.book.RemoveLevel(opposite, level.Price)
		}
	}
}

// crosses reports whether the aggressor's limit reaches a level price.
// Market orders cross every level.
func crosses(order *types.Order, levelPrice int64) bool {
	if order.Type == types.TypeMarket {
		return true
	}
	if order.Side == types.SideBuy {
		return levelPrice <= order.Price
	}
	return levelPrice >= order.Price
}

type fokFill struct {
	passive *types.Order
	qty     int64
}

// matchFOK fills the order completely or not at all. A dry run over the
// opposite side plans the fills; only a fully covered plan commits.
// Same-owner resting orders are skipped in the dry run and left alone.
func (e *Engine) matchFOK(order *types.Order, trades *[]*types.Trade) {
	opposite := order.Side.Opposite()
	needed := order.Quantity
	var plan []fokFill

	it := e.book.tree(opposite).Iterator()
	for it.End(); it.Prev() && needed > 0; {
		level := it.Value().(*PriceLevel)
		if !crosses(order, level.Price) {
			break
		}
		for _, passive := range level.Orders() {
			if passive.OwnerID == order.OwnerID {
				continue
			}
			qty := min64(needed, passive.Display)
			plan = append(plan, fokFill{passive: passive, qty: qty})
			needed -= qty
			if needed == 0 {
				break
			}
		}
	}

	if needed > 0 {
		config.Logger.Debugf("[engine] FOK order %d killed, %d unfillable", order.ID, needed)
		return
	}

	for _, f := range plan {
		e.execute(order, f.passive, f.qty, trades)
		e.fill(order, f.qty)
		e.fill(f.passive, f.qty)

		if f.passive.Display == 0 {
			level := e.book.Level(f.passive.Side, f.passive.Price)
			level.Erase(f.passive)
			if !e.refillIceberg(f.passive, level) {
				e.book.Unindex(f.passive.ID)
				e.orderPool.Release(f.passive)
			}
			if level.Empty() {
				e.book.RemoveLevel(f.passive.Side, f.passive.Price)
			}
		}
	}
}

// execute prints one trade at the passive price and applies both
// position updates.
func (e *Engine) execute(aggressor, passive *types.Order, qty int64, trades *[]*types.Trade) {
	t := e.tradePool.Acquire()
	t.Price = passive.Price
	t.Quantity = qty
	t.Timestamp = e.now()
	if aggressor.Side == types.SideBuy {
		t.BuyID = aggressor.ID
		t.SellID = passive.ID
	} else {
		t.BuyID = passive.ID
		t.SellID = aggressor.ID
	}
	*trades = append(*trades, t)

	var buyer, seller uint32
	if aggressor.Side == types.SideBuy {
		buyer, seller = aggressor.OwnerID, passive.OwnerID
	} else {
		buyer, seller = passive.OwnerID, aggressor.OwnerID
	}
	e.risk.UpdatePosition(buyer, t.Price, qty, types.SideBuy)
	e.risk.UpdatePosition(seller, t.Price, qty, types.SideSell)

	e.stats.TotalTrades++
	e.stats.TotalVolume += uint64(qty)

	config.Logger.Debugf("[engine] trade %d x %d, buy %d sell %d", t.Price, qty, t.BuyID, t.SellID)
}

// fill burns qty off an order's displayed quantity. Iceberg reserve is
// untouched here; refillIceberg moves reserve into display.
func (e *Engine) fill(o *types.Order, qty int64) {
	o.Display -= qty
	if o.Type != types.TypeIceberg {
		o.Remaining -= qty
	}
}

// refillIceberg exposes the next tranche of a drained iceberg and
// requeues it per the refill policy. Returns false when nothing is
// left to expose.
func (e *Engine) refillIceberg(o *types.Order, level *PriceLevel) bool {
	if o.Type != types.TypeIceberg || o.Remaining <= 0 {
		return false
	}

	exposeTranche(o)

	if e.refill == RefillKeepPriority {
		level.AddFront(o)
	} else {
		level.Add(o)
	}
	config.Logger.Debugf("[engine] iceberg %d refilled tranche %d, reserve %d", o.ID, o.Display, o.Remaining)
	return true
}

// dropPassive silently removes a resting order hit by the same owner.
// No counter moves; the order just leaves the book.
func (e *Engine) dropPassive(passive *types.Order) {
	e.book.Unindex(passive.ID)
	config.Logger.Debugf("[engine] order %d removed, same owner on both sides", passive.ID)
	e.orderPool.Release(passive)
}

// cascadeStops fires parked stops set off by the trades so far. Each
// wave converts its stops to market orders, re-checks risk and matches
// them; prints from one wave can set off the next, up to the depth cap.
func (e *Engine) cascadeStops(trades *[]*types.Trade) {
	for depth := 0; depth < maxCascadeDepth; depth++ {
		if len(*trades) == 0 {
			return
		}
		last := (*trades)[len(*trades)-1].Price

		triggered := e.stops.TakeTriggered(last)
		if len(triggered) == 0 {
			return
		}

		for _, stop := range triggered {
			if _, busy := e.processing[stop.ID]; busy {
				continue
			}
			e.processing[stop.ID] = struct{}{}

			e.book.Unindex(stop.ID)
			stop.Type = types.TypeMarket
			stop.Price = 0
			stop.IsTriggered = true
			e.stats.TotalStopsFired++
			config.Logger.Debugf("[engine] stop %d fired at last price %d", stop.ID, last)

			if res := e.risk.CheckOrder(stop, e.now()); !res.Ok() {
				e.stats.TotalRiskRejected++
				config.Logger.Debugf("[engine] fired stop %d rejected: %s", stop.ID, res)
			} else {
				e.matchAgainstBook(stop, trades)
			}
			e.orderPool.Release(stop)

			delete(e.processing, stop.ID)
		}
	}
}

// collectTrades copies pooled trade records into caller-owned values
// and releases the records.
func (e *Engine) collectTrades(trades []*types.Trade) []types.Trade {
	if len(trades) == 0 {
		return nil
	}
	out := make([]types.Trade, len(trades))
	for i, t := range trades {
		out[i] = *t
		e.tradePool.Release(t)
	}
	return out
}

// MarkToMarket revalues positions at price through the risk manager.
func (e *Engine) MarkToMarket(price int64) {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	e.risk.MarkToMarket(price)
}

// BestBid returns the highest resting bid, 0 when none.
func (e *Engine) BestBid() int64 {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.BestBid()
}

// BestAsk returns the lowest resting ask, 0 when none.
func (e *Engine) BestAsk() int64 {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.BestAsk()
}

// OrderCount returns the number of live orders, stops included.
func (e *Engine) OrderCount() int {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.OrderCount()
}

// BidLevels returns the number of distinct bid prices.
func (e *Engine) BidLevels() int {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.BidLevels()
}

// AskLevels returns the number of distinct ask prices.
func (e *Engine) AskLevels() int {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.AskLevels()
}

// PendingStops returns the number of parked stop orders.
func (e *Engine) PendingStops() int {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.stops.PendingCount()
}

// Depth returns up to limit aggregated levels of side.
func (e *Engine) Depth(side types.Side, limit int) []DepthEntry {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.book.Depth(side, limit)
}

// GetOrder looks up a live order by id and returns a copy.
func (e *Engine) GetOrder(id uint64) (types.Order, bool) {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	if o, ok := e.book.Get(id); ok {
		return *o, true
	}
	return types.Order{}, false
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	return e.stats
}

// Risk exposes the risk manager for limit configuration and position
// queries.
func (e *Engine) Risk() *risk.Manager {
	return e.risk
}

// Tick exposes the tick table for grid configuration.
func (e *Engine) Tick() *TickTable {
	return e.tick
}

// SetTickTable swaps the tick grid. Call before any order flow; resting
// prices are not re-snapped.
func (e *Engine) SetTickTable(t *TickTable) {
	e.MatchingMutex.Lock()
	defer e.MatchingMutex.Unlock()
	e.tick = t
}

// PoolStats reports order pool occupancy as (allocated, capacity).
func (e *Engine) PoolStats() (allocated, capacity int) {
	return e.orderPool.Allocated(), e.orderPool.Capacity()
}

// exposeTranche moves the next tranche of an iceberg's reserve into its
// displayed quantity.
func exposeTranche(o *types.Order) {
	o.Display = min64(o.Remaining, o.DisplaySize)
	o.Remaining -= o.Display
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
