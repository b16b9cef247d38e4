package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/domain"
)

func outcomesFor(setup string, rs ...float64) []*domain.TradeOutcome {
	out := make([]*domain.TradeOutcome, 0, len(rs))
	for _, r := range rs {
		out = append(out, &domain.TradeOutcome{SetupID: setup, RMultiple: r})
	}
	return out
}

func TestBySetup(t *testing.T) {
	outcomes := outcomesFor("breakout", 2.0, -1.0, 1.0, -1.0)
	outcomes = append(outcomes, outcomesFor("pullback", 0.5)...)

	grouped := BySetup(outcomes)
	require.Len(t, grouped, 2)

	s := grouped["breakout"]
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 1.5, s.AvgWinR, 1e-9)
	assert.InDelta(t, -1.0, s.AvgLossR, 1e-9)
	assert.InDelta(t, 0.25, s.MeanR, 1e-9)
	assert.InDelta(t, 1.5, s.PayoffRatio(), 1e-9)

	p := grouped["pullback"]
	assert.Equal(t, 1, p.Count)
	assert.InDelta(t, 1.0, p.WinRate, 1e-9)
	// No losses yet: payoff is undefined and reported as zero.
	assert.Equal(t, 0.0, p.PayoffRatio())
}

func TestBySetupZeroRCountsAsLoss(t *testing.T) {
	grouped := BySetup(outcomesFor("scratch", 0.0, 0.0))
	s := grouped["scratch"]
	assert.Equal(t, 0.0, s.WinRate)
	assert.Equal(t, 0.0, s.AvgWinR)
}

func TestBySetupEmpty(t *testing.T) {
	assert.Empty(t, BySetup(nil))
}
