package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/hftsim/matchbox/config"
)

// CircuitBreaker halts trading when a price crosses the configured band
// around a reference price. The halt latches: once tripped, every later
// price is rejected until Resume is called.
type CircuitBreaker struct {
	upper      int64
	lower      int64
	configured bool
	halted     bool
	haltedAt   time.Time
}

// SetLimits arms the breaker with a band of reference*(1±percentage)
// and clears any previous halt.
func (cb *CircuitBreaker) SetLimits(reference int64, percentage decimal.Decimal) {
	ref := decimal.NewFromInt(reference)
	band := ref.Mul(percentage)

	cb.upper = ref.Add(band).Round(0).IntPart()
	cb.lower = ref.Sub(band).Round(0).IntPart()
	cb.configured = true
	cb.halted = false
	cb.haltedAt = time.Time{}
}

// ShouldHalt reports whether price breaches the band or a halt is
// already latched. Unconfigured breakers never halt; non-positive
// prices are ignored.
func (cb *CircuitBreaker) ShouldHalt(price int64) bool {
	if !cb.configured {
		return false
	}
	if cb.halted {
		return true
	}
	if price <= 0 {
		return false
	}
	if price >= cb.upper || price <= cb.lower {
		cb.halted = true
		cb.haltedAt = time.Now()
		config.Logger.Warnf("[risk.breaker] halt latched at price %d, band %d..%d", price, cb.lower, cb.upper)
		return true
	}
	return false
}

// IsHalted reports whether the halt is latched.
func (cb *CircuitBreaker) IsHalted() bool {
	return cb.halted
}

// HaltedAt returns when the halt latched, zero when not halted.
func (cb *CircuitBreaker) HaltedAt() time.Time {
	return cb.haltedAt
}

// Resume clears the latch. The band stays armed.
func (cb *CircuitBreaker) Resume() {
	cb.halted = false
	cb.haltedAt = time.Time{}
}

// Band returns the configured lower and upper bounds.
func (cb *CircuitBreaker) Band() (lower, upper int64) {
	return cb.lower, cb.upper
}
