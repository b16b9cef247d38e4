package domain

import (
	"math"
	"time"
)

// TradeProposal is a candidate entry produced by the external signal layer.
// Proposals are consumed during admission and discarded; only proposals that
// become positions persist further.
type TradeProposal struct {
	SetupID    string
	Instrument string
	Direction  Direction
	Entry      float64
	Stop       float64
	Target     float64
	RR         float64 // post-cost reward:risk, set during gating
	CreatedAt  time.Time
}

// RiskPerUnit returns the per-unit distance between entry and stop.
func (p *TradeProposal) RiskPerUnit() float64 {
	return math.Abs(p.Entry - p.Stop)
}
