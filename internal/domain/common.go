package domain

// Direction represents the exposure direction of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that closes a position in this direction.
func (d Direction) ExitSide() OrderSide {
	if d == Short {
		return Buy
	}
	return Sell
}

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionState represents the lifecycle state of a supervised position.
type PositionState string

const (
	// StateProposed exists only during admission, before the entry fill is confirmed.
	StateProposed       PositionState = "proposed"
	StateOpen           PositionState = "open"
	StateBreakevenArmed PositionState = "breakeven_armed"
	StateTrailing       PositionState = "trailing"
	StateClosed         PositionState = "closed"
)

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitReasonStop      ExitReason = "stop"
	ExitReasonTarget    ExitReason = "target"
	ExitReasonBreakeven ExitReason = "breakeven" // stopped out at entry after breakeven was armed
	ExitReasonManual    ExitReason = "manual"
)
