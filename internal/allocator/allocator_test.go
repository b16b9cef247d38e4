package allocator

import (
	"context"
	"errors"
	"math/rand"
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

func (m *mockLedger) Append(ctx context.Context, outcome *domain.TradeOutcome) error { return nil }
func (m *mockLedger) FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	return m.outcomes, m.err
}
func (m *mockLedger) TotalPnL(ctx context.Context) (float64, error) { return 0, nil }

func record(setup string, rs ...float64) []*domain.TradeOutcome {
	out := make([]*domain.TradeOutcome, 0, len(rs))
	for _, r := range rs {
		out = append(out, &domain.TradeOutcome{SetupID: setup, RMultiple: r})
	}
	return out
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Mode: "bogus"}, &mockLedger{}, nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Mode: ModeThompson}, &mockLedger{}, nil, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Mode: ModeUCB1}, &mockLedger{}, nil, &mockLogger{})
	assert.NoError(t, err)
}

func TestRankModeNonePassthrough(t *testing.T) {
	a, err := New(Config{Mode: ModeNone}, &mockLedger{err: errors.New("must not be read")}, nil, &mockLogger{})
	require.NoError(t, err)

	in := []string{"b", "a", "c"}
	out, err := a.Rank(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRankSingleCandidatePassthrough(t *testing.T) {
	a, err := New(Config{Mode: ModeUCB1, UCBC: 0.8}, &mockLedger{err: errors.New("must not be read")}, nil, &mockLogger{})
	require.NoError(t, err)

	out, err := a.Rank(context.Background(), []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, out)
}

func TestUCB1UnseenArmRanksFirst(t *testing.T) {
	ledger := &mockLedger{outcomes: record("seasoned", 2.0, 2.0, 1.5, -1.0)}
	a, err := New(Config{Mode: ModeUCB1, UCBC: 0.8}, ledger, nil, &mockLogger{})
	require.NoError(t, err)

	out, err := a.Rank(context.Background(), []string{"seasoned", "fresh"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", out[0], "an arm with no pulls must be explored first")
}

func TestUCB1PrefersHigherMean(t *testing.T) {
	ledger := &mockLedger{}
	ledger.outcomes = append(ledger.outcomes, record("winner", 2.0, 2.0, 2.0, 2.0, 2.0)...)
	ledger.outcomes = append(ledger.outcomes, record("loser", -1.0, -1.0, -1.0, -1.0, -1.0)...)

	a, err := New(Config{Mode: ModeUCB1, UCBC: 0.8}, ledger, nil, &mockLogger{})
	require.NoError(t, err)

	out, err := a.Rank(context.Background(), []string{"loser", "winner"})
	require.NoError(t, err)
	assert.Equal(t, []string{"winner", "loser"}, out)
}

func TestUCB1ClampsOutlierRewards(t *testing.T) {
	// One 100R fluke against a steady 4R performer: the clamp caps the fluke
	// at 5R so the steady arm's bonus-adjusted score stays competitive.
	ledger := &mockLedger{}
	ledger.outcomes = append(ledger.outcomes, record("fluke", 100.0, -1.0, -1.0, -1.0, -1.0, -1.0)...)
	ledger.outcomes = append(ledger.outcomes, record("steady", 4.0, 4.0, 4.0, 4.0, 4.0, 4.0)...)

	a, err := New(Config{Mode: ModeUCB1, UCBC: 0.1}, ledger, nil, &mockLogger{})
	require.NoError(t, err)

	out, err := a.Rank(context.Background(), []string{"fluke", "steady"})
	require.NoError(t, err)
	assert.Equal(t, "steady", out[0])
}

func TestThompsonDeterministicWithSeed(t *testing.T) {
	ledger := &mockLedger{}
	ledger.outcomes = append(ledger.outcomes, record("a", 1.0, 1.0, -1.0)...)
	ledger.outcomes = append(ledger.outcomes, record("b", -1.0, -1.0, 1.0)...)

	rank := func(seed int64) []string {
		a, err := New(Config{Mode: ModeThompson}, ledger, rand.New(rand.NewSource(seed)), &mockLogger{})
		require.NoError(t, err)
		out, err := a.Rank(context.Background(), []string{"a", "b"})
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, rank(42), rank(42), "same seed must produce the same ranking")
}

func TestThompsonFavorsDominantArm(t *testing.T) {
	// 30-0 against 0-30: a sampled posterior should essentially never invert.
	ledger := &mockLedger{}
	for i := 0; i < 30; i++ {
		ledger.outcomes = append(ledger.outcomes, record("dominant", 1.0)...)
		ledger.outcomes = append(ledger.outcomes, record("hopeless", -1.0)...)
	}

	a, err := New(Config{Mode: ModeThompson}, ledger, rand.New(rand.NewSource(7)), &mockLogger{})
	require.NoError(t, err)

	firsts := 0
	for i := 0; i < 50; i++ {
		out, err := a.Rank(context.Background(), []string{"hopeless", "dominant"})
		require.NoError(t, err)
		if out[0] == "dominant" {
			firsts++
		}
	}
	assert.Greater(t, firsts, 45, "dominant arm should rank first in nearly every draw")
}

func TestRankLedgerErrorSurfaces(t *testing.T) {
	a, err := New(Config{Mode: ModeUCB1}, &mockLedger{err: errors.New("db down")}, nil, &mockLogger{})
	require.NoError(t, err)

	_, err = a.Rank(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
