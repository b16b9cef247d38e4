// Package stats computes derived views over the trade ledger. The views are
// projections: recomputed from the append-only outcome history on each read,
// so they can never drift from ground truth across crashes or restarts.
package stats

import (
	"math"

	"bracketbot/internal/domain"
)

// SetupStats summarizes realized R-multiples for one setup.
type SetupStats struct {
	Count    int
	WinRate  float64
	AvgWinR  float64
	AvgLossR float64 // negative or zero
	MeanR    float64
	StdR     float64
}

// PayoffRatio returns avg win over the magnitude of avg loss, or zero when
// either side of the history is missing.
func (s SetupStats) PayoffRatio() float64 {
	loss := math.Abs(s.AvgLossR)
	if loss == 0 || s.AvgWinR <= 0 {
		return 0
	}
	return s.AvgWinR / loss
}

// BySetup groups outcomes by setup and computes rolling statistics. Trades
// with R > 0 count as wins; everything else counts as a loss.
func BySetup(outcomes []*domain.TradeOutcome) map[string]SetupStats {
	grouped := make(map[string][]float64)
	for _, o := range outcomes {
		grouped[o.SetupID] = append(grouped[o.SetupID], o.RMultiple)
	}

	out := make(map[string]SetupStats, len(grouped))
	for setup, rs := range grouped {
		var winSum, lossSum, sum float64
		var wins, losses int
		for _, r := range rs {
			sum += r
			if r > 0 {
				wins++
				winSum += r
			} else {
				losses++
				lossSum += r
			}
		}
		n := len(rs)
		s := SetupStats{Count: n}
		if n > 0 {
			s.WinRate = float64(wins) / float64(n)
			s.MeanR = sum / float64(n)
		}
		if wins > 0 {
			s.AvgWinR = winSum / float64(wins)
		}
		if losses > 0 {
			s.AvgLossR = lossSum / float64(losses)
		}
		if n > 1 {
			var sq float64
			for _, r := range rs {
				sq += (r - s.MeanR) * (r - s.MeanR)
			}
			s.StdR = math.Sqrt(sq / float64(n))
		}
		out[setup] = s
	}
	return out
}
