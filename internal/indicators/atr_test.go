package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/domain"
)

func klinesFromOHLC(bars [][3]float64) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(bars))
	for _, b := range bars {
		out = append(out, &domain.Kline{High: b[0], Low: b[1], Close: b[2]})
	}
	return out
}

func TestATRConstantRange(t *testing.T) {
	// Every bar spans exactly 2.0 with no gaps: ATR must converge to 2.0.
	bars := make([][3]float64, 20)
	for i := range bars {
		bars[i] = [3]float64{101, 99, 100}
	}
	atr, err := ATR(klinesFromOHLC(bars), 14)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)
}

func TestATRUsesGapFromPreviousClose(t *testing.T) {
	// Second bar gaps well above the prior close; true range must include
	// the gap, not just the bar's own high-low span.
	bars := [][3]float64{
		{101, 99, 100},
		{111, 110, 110}, // high-low is 1, but high-prevClose is 11
		{111, 109, 110},
	}
	atr, err := ATR(klinesFromOHLC(bars), 2)
	require.NoError(t, err)
	assert.Greater(t, atr, 2.0)
}

func TestATRValidation(t *testing.T) {
	bars := klinesFromOHLC([][3]float64{{101, 99, 100}, {101, 99, 100}})

	_, err := ATR(bars, 0)
	assert.Error(t, err)

	_, err = ATR(bars, 5)
	assert.Error(t, err, "needs period+1 data points")
}
