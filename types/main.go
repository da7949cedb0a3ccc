package types

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the supported order types.
type OrderType string

const (
	TypeGTC      OrderType = "GTC"
	TypeIOC      OrderType = "IOC"
	TypeFOK      OrderType = "FOK"
	TypeMarket   OrderType = "MARKET"
	TypeStopLoss OrderType = "STOP_LOSS"
	TypeIceberg  OrderType = "ICEBERG"
)

// ParseSide maps the textual CSV tag onto a Side. Anything that is not
// "SELL" is treated as a buy, matching the benchmark file format.
func ParseSide(s string) Side {
	if s == string(SideSell) {
		return SideSell
	}
	return SideBuy
}

// ParseOrderType maps the textual CSV tag onto an OrderType, defaulting
// to GTC for unknown tags.
func ParseOrderType(s string) OrderType {
	switch OrderType(s) {
	case TypeIOC, TypeFOK, TypeMarket, TypeStopLoss, TypeIceberg:
		return OrderType(s)
	default:
		return TypeGTC
	}
}
