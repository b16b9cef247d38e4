package domain

import "time"

// TradeOutcome is the immutable record written once when a position closes.
// Outcomes are the source of truth for all adaptive statistics.
type TradeOutcome struct {
	ID         int64 // assigned by the ledger
	PositionID string
	SetupID    string
	Instrument string
	Direction  Direction
	RMultiple  float64
	PnL        float64
	ExitReason ExitReason
	OpenedAt   time.Time
	ClosedAt   time.Time
}
