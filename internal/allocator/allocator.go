// Package allocator ranks competing setups with an online multi-armed bandit.
// Pull counts and rewards are derived from the trade ledger on every call, so
// a crash-and-restart loses no allocator state.
package allocator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

// Mode selects the ranking policy.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeUCB1     Mode = "ucb1"
	ModeThompson Mode = "thompson"
)

// Reward clamp bounds; a single outlier trade must not dominate an arm's mean.
const (
	rewardMin = -3.0
	rewardMax = 5.0
)

// Config holds allocator parameters.
type Config struct {
	Mode        Mode
	UCBC        float64 // exploration constant for UCB1
	StatsWindow int     // rolling trade-count window over the ledger
}

// Allocator ranks setups by estimated expectancy.
type Allocator struct {
	cfg    Config
	ledger ports.LedgerRepository
	rng    *rand.Rand
	logger ports.Logger
}

// New creates an allocator. rng must be provided for thompson mode so tests
// can seed it for reproducible rankings.
func New(cfg Config, ledger ports.LedgerRepository, rng *rand.Rand, logger ports.Logger) (*Allocator, error) {
	if ledger == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for allocator")
	}
	switch cfg.Mode {
	case ModeNone, ModeUCB1:
	case ModeThompson:
		if rng == nil {
			return nil, fmt.Errorf("%w: thompson mode requires an explicit random source", ports.ErrConfigurationError)
		}
	default:
		return nil, fmt.Errorf("%w: unknown bandit mode %q", ports.ErrConfigurationError, cfg.Mode)
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 2000
	}
	return &Allocator{cfg: cfg, ledger: ledger, rng: rng, logger: logger}, nil
}

// Rank orders the candidate setup IDs by descending score under the
// configured policy. ModeNone returns the input order unchanged. The ranking
// is stable: ties keep their input order.
func (a *Allocator) Rank(ctx context.Context, setupIDs []string) ([]string, error) {
	if a.cfg.Mode == ModeNone || len(setupIDs) < 2 {
		return setupIDs, nil
	}

	outcomes, err := a.ledger.FindRecent(ctx, a.cfg.StatsWindow)
	if err != nil {
		return nil, fmt.Errorf("allocator ledger read: %w", err)
	}

	var scores map[string]float64
	switch a.cfg.Mode {
	case ModeUCB1:
		scores = a.ucb1Scores(outcomes, setupIDs)
	case ModeThompson:
		scores = a.thompsonScores(outcomes, setupIDs)
	}

	ranked := make([]string, len(setupIDs))
	copy(ranked, setupIDs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})

	a.logger.Debug(ctx, "Setups ranked", map[string]interface{}{"mode": string(a.cfg.Mode), "order": ranked})
	return ranked, nil
}

// ucb1Scores computes mean clamped reward plus an exploration bonus. Unseen
// arms score +Inf so they are always tried before re-exploiting known arms.
func (a *Allocator) ucb1Scores(outcomes []*domain.TradeOutcome, setupIDs []string) map[string]float64 {
	pulls := make(map[string]int, len(setupIDs))
	sums := make(map[string]float64, len(setupIDs))
	candidates := make(map[string]bool, len(setupIDs))
	for _, id := range setupIDs {
		candidates[id] = true
	}

	total := 0
	for _, o := range outcomes {
		if !candidates[o.SetupID] {
			continue
		}
		pulls[o.SetupID]++
		sums[o.SetupID] += clampReward(o.RMultiple)
		total++
	}

	scores := make(map[string]float64, len(setupIDs))
	for _, id := range setupIDs {
		n := pulls[id]
		if n == 0 {
			scores[id] = math.Inf(1)
			continue
		}
		mean := sums[id] / float64(n)
		bonus := a.cfg.UCBC * math.Sqrt(math.Log(math.Max(2, float64(total)))/float64(n))
		scores[id] = mean + bonus
	}
	return scores
}

// thompsonScores samples each arm's win probability from a Beta posterior
// with a uniform prior over wins and losses.
func (a *Allocator) thompsonScores(outcomes []*domain.TradeOutcome, setupIDs []string) map[string]float64 {
	type wl struct{ wins, losses float64 }
	arms := make(map[string]*wl, len(setupIDs))
	for _, id := range setupIDs {
		arms[id] = &wl{wins: 1, losses: 1}
	}
	for _, o := range outcomes {
		arm, ok := arms[o.SetupID]
		if !ok {
			continue
		}
		if o.RMultiple > 0 {
			arm.wins++
		} else {
			arm.losses++
		}
	}

	scores := make(map[string]float64, len(setupIDs))
	for _, id := range setupIDs {
		scores[id] = sampleBeta(a.rng, arms[id].wins, arms[id].losses)
	}
	return scores
}

func clampReward(r float64) float64 {
	return math.Max(rewardMin, math.Min(rewardMax, r))
}

// sampleBeta draws from Beta(alpha, beta) via two gamma draws.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// Boost and correct: Gamma(a) = Gamma(a+1) * U^(1/a).
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1.0/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := rng.NormFloat64()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}
