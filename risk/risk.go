package risk

import (
	"fmt"
	"sync"

	"github.com/gookit/validate"
	"github.com/shopspring/decimal"

	"github.com/hftsim/matchbox/config"
	"github.com/hftsim/matchbox/types"
)

// Result is the outcome of a pre-trade check. Only the first failing
// check is reported.
type Result int

const (
	Approved Result = iota
	RejectedPositionLimit
	RejectedOrderSize
	RejectedFatFinger
	RejectedLossLimit
	RejectedRateLimit
	RejectedCircuitBreaker
	RejectedVolumeLimit
	RejectedInvalidTick
)

var resultNames = map[Result]string{
	Approved:               "APPROVED",
	RejectedPositionLimit:  "POSITION_LIMIT",
	RejectedOrderSize:      "ORDER_SIZE",
	RejectedFatFinger:      "FAT_FINGER",
	RejectedLossLimit:      "LOSS_LIMIT",
	RejectedRateLimit:      "RATE_LIMIT",
	RejectedCircuitBreaker: "CIRCUIT_BREAKER",
	RejectedVolumeLimit:    "VOLUME_LIMIT",
	RejectedInvalidTick:    "INVALID_TICK_SIZE",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "UNKNOWN"
}

// Approved reports whether the order passed every check.
func (r Result) Ok() bool {
	return r == Approved
}

// Limits are the per-trader risk limits. All quantities and values are
// in minor units.
type Limits struct {
	MaxPosition       int64           `validate:"min:1"`
	MaxOrderQty       int64           `validate:"min:1"`
	MaxOrderValue     int64           `validate:"min:1"`
	DailyLossLimit    int64           `validate:"min:1"`
	MaxPriceDeviation decimal.Decimal `validate:"-"`
	MaxOrdersPerSec   int             `validate:"min:1"`
	MaxDailyVolume    int64           `validate:"min:1"`
}

func (l Limits) check() error {
	v := validate.Struct(l)
	if !v.Validate() {
		return fmt.Errorf("risk limits: %s", v.Errors.One())
	}
	if l.MaxPriceDeviation.LessThanOrEqual(decimal.Zero) || l.MaxPriceDeviation.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk limits: max price deviation %s outside (0,1]", l.MaxPriceDeviation)
	}
	return nil
}

// Position is a trader's net exposure for the instrument.
type Position struct {
	Quantity      int64 `json:"quantity"`
	AvgPrice      int64 `json:"avg_price"`
	RealizedPnL   int64 `json:"realized_pnl"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`
	DailyVolume   int64 `json:"daily_volume"`
}

// rateWindow is a sliding one second window of order timestamps.
type rateWindow struct {
	stamps []int64
}

const rateWindowNanos = int64(1_000_000_000)

func (w *rateWindow) countAndRecord(now int64, max int) bool {
	cutoff := now - rateWindowNanos
	i := 0
	for i < len(w.stamps) && w.stamps[i] <= cutoff {
		i++
	}
	if i > 0 {
		w.stamps = w.stamps[i:]
	}
	if len(w.stamps) >= max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Manager runs the pre-trade checks and tracks positions. The matching
// path is single threaded; the mutex only protects read access from the
// HTTP handlers.
type Manager struct {
	mu sync.Mutex

	limits         map[uint32]Limits
	positions      map[uint32]*Position
	rates          map[uint32]*rateWindow
	breaker        CircuitBreaker
	lastTradePrice int64
}

// NewManager returns a manager with no traders configured. Orders from
// unknown traders are rejected.
func NewManager() *Manager {
	return &Manager{
		limits:    make(map[uint32]Limits),
		positions: make(map[uint32]*Position),
		rates:     make(map[uint32]*rateWindow),
	}
}

// SetTraderLimits installs the limits for one trader, refusing invalid
// ones before any order can flow.
func (m *Manager) SetTraderLimits(ownerID uint32, limits Limits) error {
	if err := limits.check(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[ownerID] = limits
	if _, ok := m.positions[ownerID]; !ok {
		m.positions[ownerID] = &Position{}
	}
	return nil
}

// CheckOrder runs the pre-trade checks in a fixed order and returns the
// first failure. Untriggered stop orders are approved outright; they
// are re-checked when they convert to market orders. now is the engine
// clock in nanoseconds.
func (m *Manager) CheckOrder(o *types.Order, now int64) Result {
	if o.Type == types.TypeStopLoss && !o.IsTriggered {
		return Approved
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	limits, ok := m.limits[o.OwnerID]
	if !ok {
		return RejectedPositionLimit
	}
	pos := m.position(o.OwnerID)

	newQty := pos.Quantity
	if o.Side == types.SideBuy {
		newQty += o.Quantity
	} else {
		newQty -= o.Quantity
	}
	if abs64(newQty) > limits.MaxPosition {
		return RejectedPositionLimit
	}

	if o.Quantity > limits.MaxOrderQty {
		return RejectedOrderSize
	}
	if o.Price > 0 && o.Price*o.Quantity > limits.MaxOrderValue {
		return RejectedOrderSize
	}

	if m.lastTradePrice > 0 && o.Price > 0 {
		deviation := decimal.NewFromInt(abs64(o.Price - m.lastTradePrice)).
			Div(decimal.NewFromInt(m.lastTradePrice))
		if deviation.GreaterThan(limits.MaxPriceDeviation) {
			return RejectedFatFinger
		}
	}

	if pos.RealizedPnL+pos.UnrealizedPnL < -limits.DailyLossLimit {
		return RejectedLossLimit
	}

	window := m.rates[o.OwnerID]
	if window == nil {
		window = &rateWindow{}
		m.rates[o.OwnerID] = window
	}
	if !window.countAndRecord(now, limits.MaxOrdersPerSec) {
		return RejectedRateLimit
	}

	if m.breaker.ShouldHalt(o.Price) {
		return RejectedCircuitBreaker
	}

	if pos.DailyVolume+o.Quantity > limits.MaxDailyVolume {
		return RejectedVolumeLimit
	}

	return Approved
}

// UpdatePosition applies one fill to a trader's position. Realized P&L
// accrues when the fill reduces exposure; the average price resets to
// the fill price when the position flips sign.
func (m *Manager) UpdatePosition(ownerID uint32, price, quantity int64, side types.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := m.position(ownerID)

	if side == types.SideBuy {
		switch {
		case pos.Quantity == 0:
			pos.AvgPrice = price
		case pos.Quantity > 0:
			pos.AvgPrice = (pos.Quantity*pos.AvgPrice + quantity*price) / (pos.Quantity + quantity)
		default:
			covered := min64(-pos.Quantity, quantity)
			pos.RealizedPnL += (pos.AvgPrice - price) * covered
			if quantity > -pos.Quantity {
				pos.AvgPrice = price
			}
		}
		pos.Quantity += quantity
	} else {
		switch {
		case pos.Quantity == 0:
			pos.AvgPrice = price
		case pos.Quantity < 0:
			pos.AvgPrice = (-pos.Quantity*pos.AvgPrice + quantity*price) / (-pos.Quantity + quantity)
		default:
			covered := min64(pos.Quantity, quantity)
			pos.RealizedPnL += (price - pos.AvgPrice) * covered
			if quantity > pos.Quantity {
				pos.AvgPrice = price
			}
		}
		pos.Quantity -= quantity
	}

	pos.DailyVolume += quantity
	m.lastTradePrice = price
}

// MarkToMarket revalues every open position at price and feeds the
// price to the circuit breaker. Non-positive prices are ignored.
func (m *Manager) MarkToMarket(price int64) {
	if price <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		if pos.Quantity != 0 {
			pos.UnrealizedPnL = (price - pos.AvgPrice) * pos.Quantity
		} else {
			pos.UnrealizedPnL = 0
		}
	}
	m.lastTradePrice = price
	if m.breaker.ShouldHalt(price) {
		config.Logger.Warnf("[risk] mark to market at %d tripped the circuit breaker", price)
	}
}

// DailyReset zeroes daily P&L and volume, clears the rate windows,
// forgets the reference price and releases a latched halt. Open
// positions and their average prices survive.
func (m *Manager) DailyReset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pos := range m.positions {
		pos.RealizedPnL = 0
		pos.UnrealizedPnL = 0
		pos.DailyVolume = 0
	}
	m.rates = make(map[uint32]*rateWindow)
	m.lastTradePrice = 0
	m.breaker.Resume()
	config.Logger.Info("[risk] daily reset complete")
}

// GetPosition returns a copy of the trader's position.
func (m *Manager) GetPosition(ownerID uint32) Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pos, ok := m.positions[ownerID]; ok {
		return *pos
	}
	return Position{}
}

// LastTradePrice returns the reference price used by the fat finger
// check, 0 before the first trade of the day.
func (m *Manager) LastTradePrice() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTradePrice
}

// Breaker exposes the circuit breaker for configuration.
func (m *Manager) Breaker() *CircuitBreaker {
	return &m.breaker
}

// Limits returns the limits installed for a trader.
func (m *Manager) Limits(ownerID uint32) (Limits, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[ownerID]
	return l, ok
}

func (m *Manager) position(ownerID uint32) *Position {
	pos, ok := m.positions[ownerID]
	if !ok {
		pos = &Position{}
		m.positions[ownerID] = pos
	}
	return pos
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
