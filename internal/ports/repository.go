package ports

import (
	"context"

	"bracketbot/internal/domain"
)

// PositionRepository persists in-flight bracket state so that supervision can
// resume across process restarts.
type PositionRepository interface {
	// Create saves a new position.
	Create(ctx context.Context, pos *domain.Position) error
	// Update persists a mutation of an existing position (stop moves, state
	// transitions, close).
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen retrieves all positions not yet in a terminal state.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its identifier. Returns nil, nil if
	// not found.
	FindByID(ctx context.Context, id string) (*domain.Position, error)
}

// LedgerRepository is the append-only record of closed-trade outcomes. It is
// the single source of truth for all adaptive statistics; derived views are
// recomputed from it, never stored.
type LedgerRepository interface {
	// Append writes one outcome record. Appending a second outcome for the
	// same position ID fails with ErrDuplicateEntry.
	Append(ctx context.Context, outcome *domain.TradeOutcome) error
	// FindRecent retrieves the most recent outcomes, newest first, up to limit.
	// A non-positive limit returns the full history.
	FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error)
	// TotalPnL sums realized PnL across the full ledger.
	TotalPnL(ctx context.Context) (float64, error)
}
