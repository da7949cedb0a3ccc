package types

// Order is a pooled order record. Prices are signed 64-bit integers in
// minor units (cents); 0 means "no price" for market orders. The record
// is owned by the engine's object pool; the book, stop book and id index
// hold non-owning references that are cleared before release.
type Order struct {
	ID            uint64    `json:"id"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Price         int64     `json:"price"`
	StopPrice     int64     `json:"stop_price"`
	Quantity      int64     `json:"quantity"`
	Remaining     int64     `json:"remaining"`
	Display       int64     `json:"display"`
	DisplaySize   int64     `json:"display_size"`
	OwnerID       uint32    `json:"owner_id"`
	SessionID     uint32    `json:"session_id"`
	IsMarketMaker bool      `json:"is_market_maker"`
	IsTriggered   bool      `json:"is_triggered"`
	Timestamp     int64     `json:"timestamp"`
}

// Unfilled reports the quantity still executable for this order:
// the exposed tranche plus, for icebergs, the hidden reserve.
func (o *Order) Unfilled() int64 {
	if o.Type == TypeIceberg {
		return o.Display + o.Remaining
	}
	return o.Display
}

// Reset clears every field so no stale data survives a pool round-trip.
func (o *Order) Reset() {
	*o = Order{}
}

// Trade is one execution between two orders. Price equals the passive
// order's resting price. Immutable after construction.
type Trade struct {
	BuyID     uint64 `json:"buy_id"`
	SellID    uint64 `json:"sell_id"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// Reset clears the record for pool reuse.
func (t *Trade) Reset() {
	*t = Trade{}
}

// OrderRequest is the engine submission payload, mirroring the columns
// of the benchmark CSV format.
type OrderRequest struct {
	ID            uint64    `json:"id"`
	Side          Side      `json:"side"`
	Type          OrderType `json:"type"`
	Price         int64     `json:"price"`
	StopPrice     int64     `json:"stop_price"`
	Quantity      int64     `json:"quantity"`
	Display       int64     `json:"display"`
	DisplaySize   int64     `json:"display_size"`
	OwnerID       uint32    `json:"owner_id"`
	SessionID     uint32    `json:"session_id"`
	IsMarketMaker bool      `json:"is_market_maker"`
}
