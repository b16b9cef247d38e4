package costmodel

import (
	"fmt"
	"math"

	"bracketbot/internal/domain"
)

// defaultReferenceNotional is the notional at which the impact term equals
// the impact coefficient.
const defaultReferenceNotional = 10000.0

// Model estimates effective fill prices for market orders. It is a pure
// computation with no I/O, so live gating and replay apply identical cost
// treatment.
type Model struct {
	TakerFeeBps       float64
	SlippageBps       float64
	ImpactCoeff       float64
	ReferenceNotional float64
}

// Config holds cost model parameters.
type Config struct {
	TakerFeeBps       float64
	SlippageBps       float64
	ImpactCoeff       float64
	ReferenceNotional float64 // defaults to 10000 quote units when zero
}

// New creates a cost model from the given parameters.
func New(cfg Config) *Model {
	ref := cfg.ReferenceNotional
	if ref <= 0 {
		ref = defaultReferenceNotional
	}
	return &Model{
		TakerFeeBps:       cfg.TakerFeeBps,
		SlippageBps:       cfg.SlippageBps,
		ImpactCoeff:       cfg.ImpactCoeff,
		ReferenceNotional: ref,
	}
}

// SpreadBps returns the full bid/ask spread in basis points of the mid.
// A missing or crossed book yields zero rather than a negative cost.
func SpreadBps(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 || ask < bid {
		return 0
	}
	return 20000.0 * (ask - bid) / (ask + bid)
}

// ImpactBps returns the market-impact cost term, proportional to the square
// root of the order notional relative to the reference notional.
func (m *Model) ImpactBps(notional float64) float64 {
	if notional <= 0 {
		return 0
	}
	return m.ImpactCoeff * math.Sqrt(notional/m.ReferenceNotional)
}

// EstimateFill estimates the effective fill price and total cost in basis
// points for a market order of the given notional. Buys fill above mid,
// sells below. bid/ask may be zero when no book snapshot is available; the
// spread term is then omitted.
func (m *Model) EstimateFill(mid, bid, ask float64, side domain.OrderSide, notional float64) (float64, float64, error) {
	if mid <= 0 {
		return 0, 0, fmt.Errorf("mid price must be positive, got %f", mid)
	}
	if notional <= 0 {
		return 0, 0, fmt.Errorf("notional must be positive, got %f", notional)
	}

	costBps := SpreadBps(bid, ask)/2.0 + m.SlippageBps + m.TakerFeeBps + m.ImpactBps(notional)

	if side == domain.Buy {
		return mid * (1.0 + costBps/10000.0), costBps, nil
	}
	return mid * (1.0 - costBps/10000.0), costBps, nil
}
