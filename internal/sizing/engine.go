// Package sizing converts ledger statistics into position quantities using a
// capped Kelly criterion. All statistics are recomputed from the ledger on
// each call; the engine holds no mutable state.
package sizing

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"bracketbot/internal/ports"
	"bracketbot/internal/stats"
)

// Config holds sizing parameters.
type Config struct {
	EnableKelly    bool
	KellyCap       float64            // upper clamp on the Kelly fraction
	KellyFloor     float64            // fallback fraction under sparse or degenerate stats
	RiskPerTrade   float64            // fixed fraction when Kelly is disabled
	DefaultRR      float64            // payoff ratio assumed when history has no losses
	MinSamples     int                // trades required before the Kelly estimate is trusted
	StatsWindow    int                // rolling trade-count window for statistics
	QuantityStep   float64            // minimum tradable increment; quantities round down to it
	SetupCaps      map[string]float64 // per-setup Kelly cap overrides
	InstrumentCaps map[string]float64 // per-instrument Kelly cap overrides
}

// Engine computes position sizes from trade ledger history.
type Engine struct {
	cfg    Config
	ledger ports.LedgerRepository
	logger ports.Logger
}

// NewEngine creates a sizing engine.
func NewEngine(cfg Config, ledger ports.LedgerRepository, logger ports.Logger) (*Engine, error) {
	if ledger == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for sizing engine")
	}
	if cfg.KellyFloor < 0 || cfg.KellyCap < cfg.KellyFloor {
		return nil, fmt.Errorf("%w: KELLY_FLOOR must be >= 0 and <= KELLY_CAP", ports.ErrConfigurationError)
	}
	if cfg.RiskPerTrade <= 0 {
		return nil, fmt.Errorf("%w: RISK_PER_TRADE must be positive", ports.ErrConfigurationError)
	}
	if cfg.DefaultRR <= 0 {
		cfg.DefaultRR = 2.0
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 500
	}
	return &Engine{cfg: cfg, ledger: ledger, logger: logger}, nil
}

// KellyFraction returns the raw Kelly fraction f = p - (1-p)/payoff, clamped
// to [0, 1]. A non-positive payoff yields zero.
func KellyFraction(winRate, payoff float64) float64 {
	if payoff <= 0 {
		return 0
	}
	p := math.Max(0, math.Min(1, winRate))
	f := p - (1.0-p)/payoff
	return math.Max(0, math.Min(1, f))
}

// RiskFraction returns the clamped fraction of equity to risk on one trade of
// the given setup and instrument. It fails closed: sparse or degenerate
// statistics produce the configured floor, never zero and never a negative.
func (e *Engine) RiskFraction(ctx context.Context, setupID, instrumentID string) float64 {
	if !e.cfg.EnableKelly {
		return e.cfg.RiskPerTrade
	}

	f := e.cfg.KellyFloor
	outcomes, err := e.ledger.FindRecent(ctx, e.cfg.StatsWindow)
	if err != nil {
		e.logger.Warn(ctx, "Ledger read failed, using floor fraction", map[string]interface{}{"setup": setupID, "error": err.Error()})
	} else if s, ok := stats.BySetup(outcomes)[setupID]; ok && s.Count >= e.cfg.MinSamples {
		payoff := s.PayoffRatio()
		if payoff == 0 {
			// No losing (or no winning) trades yet; assume the configured
			// default payoff rather than an unstable estimate.
			payoff = e.cfg.DefaultRR
		}
		f = KellyFraction(s.WinRate, payoff)
	}

	f = math.Max(e.cfg.KellyFloor, math.Min(e.cfg.KellyCap, f))
	if override, ok := e.cfg.SetupCaps[setupID]; ok {
		f = math.Min(f, override)
	}
	if override, ok := e.cfg.InstrumentCaps[instrumentID]; ok {
		f = math.Min(f, override)
	}
	return f
}

// SizePosition converts a risk fraction into a quantity for a trade with the
// given stop distance and account equity. The quantity is rounded down to the
// instrument's minimum increment; a quantity that rounds to zero is rejected
// rather than coerced.
func (e *Engine) SizePosition(ctx context.Context, setupID, instrumentID string, stopDistance, equity float64) (float64, error) {
	if stopDistance <= 0 {
		return 0, fmt.Errorf("%w: stop distance must be positive, got %f", ports.ErrInvalidProposal, stopDistance)
	}
	if equity <= 0 {
		return 0, fmt.Errorf("%w: equity must be positive, got %f", ports.ErrInvalidRequest, equity)
	}

	f := e.RiskFraction(ctx, setupID, instrumentID)
	quantity := equity * f / stopDistance

	if e.cfg.QuantityStep > 0 {
		step := decimal.NewFromFloat(e.cfg.QuantityStep)
		quantity, _ = decimal.NewFromFloat(quantity).Div(step).Floor().Mul(step).Float64()
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: %f below increment %f", ports.ErrQuantityTooSmall, equity*f/stopDistance, e.cfg.QuantityStep)
	}

	e.logger.Debug(ctx, "Position sized", map[string]interface{}{
		"setup":        setupID,
		"instrument":   instrumentID,
		"riskFraction": f,
		"stopDistance": stopDistance,
		"quantity":     quantity,
	})
	return quantity, nil
}
