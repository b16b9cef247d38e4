package sizing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

// Mock implementations

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockLedger struct {
	outcomes []*domain.TradeOutcome
	err      error
}

func (m *mockLedger) Append(ctx context.Context, outcome *domain.TradeOutcome) error {
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

func (m *mockLedger) FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.outcomes, nil
}

func (m *mockLedger) TotalPnL(ctx context.Context) (float64, error) { return 0, nil }

func ledgerWith(setup string, wins, losses int, winR, lossR float64) *mockLedger {
	l := &mockLedger{}
	for i := 0; i < wins; i++ {
		l.outcomes = append(l.outcomes, &domain.TradeOutcome{SetupID: setup, RMultiple: winR})
	}
	for i := 0; i < losses; i++ {
		l.outcomes = append(l.outcomes, &domain.TradeOutcome{SetupID: setup, RMultiple: lossR})
	}
	return l
}

func newTestEngine(t *testing.T, cfg Config, ledger ports.LedgerRepository) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, ledger, &mockLogger{})
	require.NoError(t, err)
	return e
}

func TestKellyFraction(t *testing.T) {
	tests := []struct {
		name    string
		winRate float64
		payoff  float64
		want    float64
	}{
		{name: "even coin double payoff", winRate: 0.5, payoff: 2.0, want: 0.25},
		{name: "strong edge", winRate: 0.6, payoff: 2.0, want: 0.4},
		{name: "negative edge clamps to zero", winRate: 0.3, payoff: 1.0, want: 0.0},
		{name: "zero payoff", winRate: 0.9, payoff: 0.0, want: 0.0},
		{name: "certain win clamps to one", winRate: 1.0, payoff: 5.0, want: 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, KellyFraction(tt.winRate, tt.payoff), 1e-9)
		})
	}
}

func TestRiskFraction(t *testing.T) {
	ctx := context.Background()
	base := Config{
		EnableKelly:  true,
		KellyCap:     0.5,
		KellyFloor:   0.005,
		RiskPerTrade: 0.01,
		DefaultRR:    2.0,
		MinSamples:   20,
		StatsWindow:  500,
	}

	t.Run("kelly disabled uses fixed risk", func(t *testing.T) {
		cfg := base
		cfg.EnableKelly = false
		e := newTestEngine(t, cfg, &mockLedger{})
		assert.InDelta(t, 0.01, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("sparse history falls back to floor", func(t *testing.T) {
		e := newTestEngine(t, base, ledgerWith("breakout", 3, 2, 2.0, -1.0))
		assert.InDelta(t, 0.005, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("ledger failure falls back to floor", func(t *testing.T) {
		e := newTestEngine(t, base, &mockLedger{err: errors.New("db down")})
		assert.InDelta(t, 0.005, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("sufficient history computes capped kelly", func(t *testing.T) {
		// 60% win rate at 2R payoff: raw kelly 0.4, under the 0.5 cap.
		e := newTestEngine(t, base, ledgerWith("breakout", 18, 12, 2.0, -1.0))
		assert.InDelta(t, 0.4, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("cap clamps an aggressive estimate", func(t *testing.T) {
		e := newTestEngine(t, base, ledgerWith("breakout", 27, 3, 3.0, -1.0))
		assert.InDelta(t, 0.5, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("no losses assumes default payoff", func(t *testing.T) {
		// All 25 trades won: payoff falls back to DefaultRR=2, f = 1 - 0/2 = 1, capped.
		e := newTestEngine(t, base, ledgerWith("breakout", 25, 0, 2.0, -1.0))
		assert.InDelta(t, 0.5, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("per-setup cap overrides", func(t *testing.T) {
		cfg := base
		cfg.SetupCaps = map[string]float64{"breakout": 0.02}
		e := newTestEngine(t, cfg, ledgerWith("breakout", 18, 12, 2.0, -1.0))
		assert.InDelta(t, 0.02, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})

	t.Run("per-instrument cap overrides", func(t *testing.T) {
		cfg := base
		cfg.InstrumentCaps = map[string]float64{"BTCUSDT": 0.1}
		e := newTestEngine(t, cfg, ledgerWith("breakout", 18, 12, 2.0, -1.0))
		assert.InDelta(t, 0.1, e.RiskFraction(ctx, "breakout", "BTCUSDT"), 1e-9)
	})
}

func TestSizePosition(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		EnableKelly:  true,
		KellyCap:     0.5,
		KellyFloor:   0.005,
		RiskPerTrade: 0.01,
		MinSamples:   20,
		QuantityStep: 0.0001,
	}

	t.Run("floor-sized quantity", func(t *testing.T) {
		// Empty ledger: fraction is the 0.005 floor.
		// 20000 equity * 0.005 / 100 stop distance = 1.0.
		e := newTestEngine(t, cfg, &mockLedger{})
		qty, err := e.SizePosition(ctx, "breakout", "BTCUSDT", 100.0, 20000.0)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, qty, 1e-9)
	})

	t.Run("rounds down to quantity step", func(t *testing.T) {
		e := newTestEngine(t, cfg, &mockLedger{})
		// 10000 * 0.005 / 7 = 7.14285...; step 0.0001 floors it.
		qty, err := e.SizePosition(ctx, "breakout", "BTCUSDT", 7.0, 10000.0)
		require.NoError(t, err)
		assert.InDelta(t, 7.1428, qty, 1e-9)
	})

	t.Run("non-positive stop distance rejected", func(t *testing.T) {
		e := newTestEngine(t, cfg, &mockLedger{})
		_, err := e.SizePosition(ctx, "breakout", "BTCUSDT", 0, 20000.0)
		assert.ErrorIs(t, err, ports.ErrInvalidProposal)
	})

	t.Run("non-positive equity rejected", func(t *testing.T) {
		e := newTestEngine(t, cfg, &mockLedger{})
		_, err := e.SizePosition(ctx, "breakout", "BTCUSDT", 100.0, 0)
		assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	})

	t.Run("quantity below step rejected", func(t *testing.T) {
		big := cfg
		big.QuantityStep = 1.0
		e := newTestEngine(t, big, &mockLedger{})
		// 100 * 0.005 / 100 = 0.005, floors to zero at step 1.0.
		_, err := e.SizePosition(ctx, "breakout", "BTCUSDT", 100.0, 100.0)
		assert.ErrorIs(t, err, ports.ErrQuantityTooSmall)
	})
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{KellyCap: 0.1, KellyFloor: 0.2, RiskPerTrade: 0.01}, &mockLedger{}, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewEngine(Config{KellyCap: 0.5, KellyFloor: 0.005}, &mockLedger{}, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
