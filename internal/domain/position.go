package domain

import "time"

// Position represents an open bracket: a filled entry plus its protective
// stop and target exits, supervised client-side. The ID doubles as the
// idempotency key for all order actions on this position.
type Position struct {
	ID             string // client-assigned identifier (UUID)
	SetupID        string
	Instrument     string
	Direction      Direction
	EntryPrice     float64
	Quantity       float64
	InitialStop    float64 // stop at open; defines 1R for the lifetime of the position
	Stop           float64 // current stop, moves only toward reduced risk
	Target         float64
	BreakevenArmed bool
	TrailingActive bool
	State          PositionState
	ExitPrice      float64 // 0 while open
	ExitReason     ExitReason
	OpenedAt       time.Time
	ClosedAt       time.Time // zero value while open
	LastEvalAt     time.Time
}

// IsOpen reports whether the position is still under supervision.
func (p *Position) IsOpen() bool {
	return p.State != StateClosed
}

// RiskPerUnit returns the initial per-unit risk (1R distance).
func (p *Position) RiskPerUnit() float64 {
	if p.Direction == Short {
		return p.InitialStop - p.EntryPrice
	}
	return p.EntryPrice - p.InitialStop
}

// UnrealizedR returns the unrealized gain at the given price expressed in
// multiples of the initial risk.
func (p *Position) UnrealizedR(price float64) float64 {
	risk := p.RiskPerUnit()
	if risk <= 0 {
		return 0
	}
	if p.Direction == Short {
		return (p.EntryPrice - price) / risk
	}
	return (price - p.EntryPrice) / risk
}

// RealizedR returns the R-multiple realized at the given exit price.
func (p *Position) RealizedR(exitPrice float64) float64 {
	return p.UnrealizedR(exitPrice)
}

// RealizedPnL returns the profit at the given exit price in quote units.
func (p *Position) RealizedPnL(exitPrice float64) float64 {
	if p.Direction == Short {
		return (p.EntryPrice - exitPrice) * p.Quantity
	}
	return (exitPrice - p.EntryPrice) * p.Quantity
}
