// Package indicators holds the single indicator the engine consumes as an
// input: Average True Range, used to recompute trailing stops. All other
// indicator math lives with the external signal layer.
package indicators

import (
	"fmt"
	"math"

	"bracketbot/internal/domain"
)

// ATR computes the Average True Range over the given klines using Wilder's
// smoothing. It requires at least period+1 data points.
func ATR(klines []*domain.Kline, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("ATR period must be positive, got %d", period)
	}
	if len(klines) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(klines))
	}

	trueRanges := make([]float64, len(klines))
	trueRanges[0] = klines[0].High - klines[0].Low
	for i := 1; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		// True Range is the greatest of high-low and the gaps from the
		// previous close.
		tr := high - low
		tr = math.Max(tr, math.Abs(high-prevClose))
		tr = math.Max(tr, math.Abs(low-prevClose))
		trueRanges[i] = tr
	}

	// Seed with a simple average, then apply Wilder's smoothing.
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)
	for i := period; i < len(trueRanges); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
