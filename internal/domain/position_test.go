package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionSides(t *testing.T) {
	assert.Equal(t, Buy, Long.EntrySide())
	assert.Equal(t, Sell, Long.ExitSide())
	assert.Equal(t, Sell, Short.EntrySide())
	assert.Equal(t, Buy, Short.ExitSide())
}

func TestPositionRMath(t *testing.T) {
	long := &Position{
		Direction:   Long,
		EntryPrice:  100.0,
		Quantity:    2.0,
		InitialStop: 95.0,
		Stop:        95.0,
		Target:      115.0,
		State:       StateOpen,
	}

	assert.Equal(t, 5.0, long.RiskPerUnit())
	assert.InDelta(t, 1.0, long.UnrealizedR(105.0), 1e-9)
	assert.InDelta(t, -1.0, long.UnrealizedR(95.0), 1e-9)
	assert.InDelta(t, 3.0, long.RealizedR(115.0), 1e-9)
	assert.InDelta(t, 30.0, long.RealizedPnL(115.0), 1e-9)

	// 1R stays anchored to the initial stop even after the stop moves.
	long.Stop = 100.0
	assert.InDelta(t, 2.0, long.UnrealizedR(110.0), 1e-9)

	short := &Position{
		Direction:   Short,
		EntryPrice:  100.0,
		Quantity:    2.0,
		InitialStop: 105.0,
		Stop:        105.0,
		Target:      85.0,
	}
	assert.Equal(t, 5.0, short.RiskPerUnit())
	assert.InDelta(t, 1.0, short.UnrealizedR(95.0), 1e-9)
	assert.InDelta(t, 3.0, short.RealizedR(85.0), 1e-9)
	assert.InDelta(t, 30.0, short.RealizedPnL(85.0), 1e-9)
}

func TestIsOpen(t *testing.T) {
	p := &Position{State: StateOpen}
	assert.True(t, p.IsOpen())
	p.State = StateTrailing
	assert.True(t, p.IsOpen())
	p.State = StateClosed
	assert.False(t, p.IsOpen())
}
