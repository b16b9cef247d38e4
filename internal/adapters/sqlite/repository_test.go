package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testPosition(id string) *domain.Position {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Position{
		ID:          id,
		SetupID:     "breakout",
		Instrument:  "BTCUSDT",
		Direction:   domain.Long,
		EntryPrice:  100.0,
		Quantity:    1.5,
		InitialStop: 95.0,
		Stop:        95.0,
		Target:      115.0,
		State:       domain.StateOpen,
		OpenedAt:    now,
		LastEvalAt:  now,
	}
}

func TestPositionLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos := testPosition("pos-1")
	require.NoError(t, repo.Create(ctx, pos))

	loaded, err := repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, pos.ID, loaded.ID)
	assert.Equal(t, pos.InitialStop, loaded.InitialStop)
	assert.Equal(t, domain.StateOpen, loaded.State)
	assert.True(t, loaded.IsOpen())

	// Tighten the stop and arm breakeven.
	pos.Stop = 100.0
	pos.BreakevenArmed = true
	pos.State = domain.StateBreakevenArmed
	require.NoError(t, repo.Update(ctx, pos))

	loaded, err = repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, loaded.Stop)
	assert.Equal(t, 95.0, loaded.InitialStop, "initial stop must never change")
	assert.True(t, loaded.BreakevenArmed)

	// Close it.
	pos.State = domain.StateClosed
	pos.ExitPrice = 100.0
	pos.ExitReason = domain.ExitReasonBreakeven
	pos.ClosedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Update(ctx, pos))

	loaded, err = repo.FindByID(ctx, "pos-1")
	require.NoError(t, err)
	assert.False(t, loaded.IsOpen())
	assert.Equal(t, domain.ExitReasonBreakeven, loaded.ExitReason)
}

func TestFindByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	loaded, err := repo.FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestUpdateMissingPosition(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Update(context.Background(), testPosition("ghost"))
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestFindOpenExcludesClosed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	open := testPosition("open-1")
	require.NoError(t, repo.Create(ctx, open))

	closed := testPosition("closed-1")
	closed.SetupID = "pullback" // different slot
	require.NoError(t, repo.Create(ctx, closed))
	closed.State = domain.StateClosed
	closed.ExitPrice = 115.0
	closed.ExitReason = domain.ExitReasonTarget
	closed.ClosedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, closed))

	found, err := repo.FindOpen(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "open-1", found[0].ID)
}

func TestOpenSlotUniqueness(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testPosition("first")))

	// Same (setup, instrument, direction) while the first is still open.
	err := repo.Create(ctx, testPosition("second"))
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	// Closing the first frees the slot.
	first := testPosition("first")
	first.State = domain.StateClosed
	first.ExitPrice = 95.0
	first.ExitReason = domain.ExitReasonStop
	first.ClosedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, first))

	assert.NoError(t, repo.Create(ctx, testPosition("third")))
}

func testOutcome(positionID string, r, pnl float64) *domain.TradeOutcome {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.TradeOutcome{
		PositionID: positionID,
		SetupID:    "breakout",
		Instrument: "BTCUSDT",
		Direction:  domain.Long,
		RMultiple:  r,
		PnL:        pnl,
		ExitReason: domain.ExitReasonTarget,
		OpenedAt:   now.Add(-time.Hour),
		ClosedAt:   now,
	}
}

func TestLedgerAppendExactlyOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	outcome := testOutcome("pos-1", 3.0, 45.0)
	require.NoError(t, repo.Append(ctx, outcome))
	assert.NotZero(t, outcome.ID)

	// A retried close appends the same position ID again.
	err := repo.Append(ctx, testOutcome("pos-1", 3.0, 45.0))
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	outcomes, err := repo.FindRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
}

func TestFindRecentLimitAndOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		o := testOutcome("pos-"+string(rune('a'+i)), float64(i), float64(i)*10)
		o.ClosedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Append(ctx, o))
	}

	recent, err := repo.FindRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "pos-e", recent[0].PositionID, "newest outcome first")

	all, err := repo.FindRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "non-positive limit returns full history")
}

func TestTotalPnL(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	total, err := repo.TotalPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	require.NoError(t, repo.Append(ctx, testOutcome("pos-1", 2.0, 30.0)))
	require.NoError(t, repo.Append(ctx, testOutcome("pos-2", -1.0, -15.0)))

	total, err = repo.TotalPnL(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, total, 1e-9)
}
