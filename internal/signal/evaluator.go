// Package signal holds the gating side of the signal boundary: proposals
// arrive from the external signal layer already carrying entry/stop/target
// prices, and the evaluator decides whether they clear the cost-adjusted
// reward:risk bar.
package signal

import (
	"context"
	"fmt"
	"math"

	"bracketbot/internal/costmodel"
	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

// Config holds evaluator parameters.
type Config struct {
	MinRR float64
}

// Evaluator validates proposals and applies the minimum reward:risk gate
// after discounting the entry by estimated transaction costs.
type Evaluator struct {
	cfg    Config
	cost   *costmodel.Model
	logger ports.Logger
}

// NewEvaluator creates a proposal evaluator.
func NewEvaluator(cfg Config, cost *costmodel.Model, logger ports.Logger) (*Evaluator, error) {
	if cost == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for evaluator")
	}
	if cfg.MinRR <= 0 {
		return nil, fmt.Errorf("%w: MIN_RR must be positive", ports.ErrConfigurationError)
	}
	return &Evaluator{cfg: cfg, cost: cost, logger: logger}, nil
}

// Validate checks the structural consistency of a proposal: positive prices,
// stop and target on the correct sides of entry, positive stop distance.
// Malformed proposals are rejected, never coerced.
func Validate(p *domain.TradeProposal) error {
	if p == nil {
		return fmt.Errorf("%w: nil proposal", ports.ErrInvalidProposal)
	}
	if p.SetupID == "" || p.Instrument == "" {
		return fmt.Errorf("%w: missing setup or instrument", ports.ErrInvalidProposal)
	}
	if p.Entry <= 0 || p.Stop <= 0 || p.Target <= 0 {
		return fmt.Errorf("%w: non-positive price (entry=%f stop=%f target=%f)", ports.ErrInvalidProposal, p.Entry, p.Stop, p.Target)
	}
	switch p.Direction {
	case domain.Long:
		if !(p.Stop < p.Entry && p.Entry < p.Target) {
			return fmt.Errorf("%w: long requires stop < entry < target (entry=%f stop=%f target=%f)", ports.ErrInvalidProposal, p.Entry, p.Stop, p.Target)
		}
	case domain.Short:
		if !(p.Target < p.Entry && p.Entry < p.Stop) {
			return fmt.Errorf("%w: short requires target < entry < stop (entry=%f stop=%f target=%f)", ports.ErrInvalidProposal, p.Entry, p.Stop, p.Target)
		}
	default:
		return fmt.Errorf("%w: unknown direction %q", ports.ErrInvalidProposal, p.Direction)
	}
	return nil
}

// Gate validates the proposal, adjusts the entry price for estimated costs,
// recomputes reward:risk and stores it on the proposal. It returns
// ErrBelowMinRR when the post-cost RR falls under the configured minimum.
// bid/ask may be zero when no book snapshot is available.
func (e *Evaluator) Gate(ctx context.Context, p *domain.TradeProposal, bid, ask float64, notional float64) error {
	if err := Validate(p); err != nil {
		return err
	}

	effEntry, costBps, err := e.cost.EstimateFill(p.Entry, bid, ask, p.Direction.EntrySide(), notional)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrInvalidProposal, err)
	}

	risk := math.Abs(effEntry - p.Stop)
	if risk <= 0 {
		return fmt.Errorf("%w: cost-adjusted entry collapses stop distance", ports.ErrInvalidProposal)
	}
	// Costs move the effective entry toward the stop and away from the
	// target; a fill past the stop means the setup has no risk budget left.
	if (p.Direction == domain.Long && effEntry <= p.Stop) ||
		(p.Direction == domain.Short && effEntry >= p.Stop) {
		return fmt.Errorf("%w: cost-adjusted entry crosses the stop", ports.ErrInvalidProposal)
	}

	p.RR = math.Abs(p.Target-effEntry) / risk
	if p.RR < e.cfg.MinRR {
		e.logger.Debug(ctx, "Proposal rejected below minimum RR", map[string]interface{}{
			"setup":      p.SetupID,
			"instrument": p.Instrument,
			"rr":         p.RR,
			"minRR":      e.cfg.MinRR,
			"costBps":    costBps,
		})
		return fmt.Errorf("%w: %.3f < %.3f", ports.ErrBelowMinRR, p.RR, e.cfg.MinRR)
	}

	e.logger.Debug(ctx, "Proposal accepted", map[string]interface{}{
		"setup":      p.SetupID,
		"instrument": p.Instrument,
		"rr":         p.RR,
		"costBps":    costBps,
	})
	return nil
}
