package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.PositionRepository and ports.LedgerRepository
// using SQLite. Positions carry the in-flight bracket state that must survive
// restart; trade_outcomes is the append-only ledger.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/bracketbot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection, WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist. The partial unique
// index enforces the one-open-position-per-slot invariant at the storage
// layer as well as in the admission lock.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		setup_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		initial_stop REAL NOT NULL,
		stop_price REAL NOT NULL,
		target_price REAL NOT NULL,
		breakeven_armed INTEGER NOT NULL DEFAULT 0,
		trailing_active INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		exit_price REAL DEFAULT NULL,
		exit_reason TEXT DEFAULT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		last_eval_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL UNIQUE,
		setup_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		direction TEXT NOT NULL,
		r_multiple REAL NOT NULL,
		pnl REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_state ON positions (state);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_slot
		ON positions (setup_id, instrument, direction) WHERE state != 'closed';
	CREATE INDEX IF NOT EXISTS idx_outcomes_setup_closed ON trade_outcomes (setup_id, closed_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- PositionRepository Implementation ---

// Create saves a new position.
func (r *Repository) Create(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (id, setup_id, instrument, direction, entry_price, quantity,
	                       initial_stop, stop_price, target_price, breakeven_armed,
	                       trailing_active, state, opened_at, last_eval_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.SetupID, pos.Instrument, pos.Direction, pos.EntryPrice, pos.Quantity,
		pos.InitialStop, pos.Stop, pos.Target, pos.BreakevenArmed,
		pos.TrailingActive, pos.State, pos.OpenedAt, nullableTime(pos.LastEvalAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("position slot or ID already in use for %s/%s/%s: %w",
				pos.SetupID, pos.Instrument, pos.Direction, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "instrument": pos.Instrument})
	return nil
}

// Update persists a mutation of an existing position.
func (r *Repository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET stop_price = ?, target_price = ?, breakeven_armed = ?, trailing_active = ?,
	    state = ?, exit_price = ?, exit_reason = ?, closed_at = ?, last_eval_at = ?
	WHERE id = ?`

	var exitReason sql.NullString
	if pos.ExitReason != "" {
		exitReason = sql.NullString{String: string(pos.ExitReason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		pos.Stop, pos.Target, pos.BreakevenArmed, pos.TrailingActive,
		pos.State, pos.ExitPrice, exitReason, nullableTime(pos.ClosedAt), nullableTime(pos.LastEvalAt),
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position %s: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %s not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "state": pos.State})
	return nil
}

// FindOpen retrieves all positions not yet in a terminal state.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = positionSelect + ` WHERE state != ? ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, domain.StateClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// FindByID retrieves a position by its identifier.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	const query = positionSelect + ` WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query position %s: %w", id, err)
	}
	return pos, nil
}

// --- LedgerRepository Implementation ---

// Append writes one outcome record. The UNIQUE constraint on position_id
// guarantees exactly-once semantics under retried closes.
func (r *Repository) Append(ctx context.Context, outcome *domain.TradeOutcome) error {
	const query = `
	INSERT INTO trade_outcomes (position_id, setup_id, instrument, direction,
	                            r_multiple, pnl, exit_reason, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		outcome.PositionID, outcome.SetupID, outcome.Instrument, outcome.Direction,
		outcome.RMultiple, outcome.PnL, outcome.ExitReason, outcome.OpenedAt, outcome.ClosedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("outcome for position %s already recorded: %w", outcome.PositionID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to append outcome for position %s: %w", outcome.PositionID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for outcome %s: %w", outcome.PositionID, err)
	}
	outcome.ID = id
	r.logger.Debug(ctx, "Trade outcome appended", map[string]interface{}{"positionID": outcome.PositionID, "r": outcome.RMultiple, "pnl": outcome.PnL})
	return nil
}

// FindRecent retrieves the most recent outcomes, newest first, up to limit.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.TradeOutcome, error) {
	query := `
	SELECT id, position_id, setup_id, instrument, direction, r_multiple, pnl,
	       exit_reason, opened_at, closed_at
	FROM trade_outcomes ORDER BY closed_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]*domain.TradeOutcome, 0)
	for rows.Next() {
		o := &domain.TradeOutcome{}
		var direction, exitReason string
		if err := rows.Scan(&o.ID, &o.PositionID, &o.SetupID, &o.Instrument, &direction,
			&o.RMultiple, &o.PnL, &exitReason, &o.OpenedAt, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade outcome: %w", err)
		}
		o.Direction = domain.Direction(direction)
		o.ExitReason = domain.ExitReason(exitReason)
		outcomes = append(outcomes, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}
	return outcomes, nil
}

// TotalPnL sums realized PnL across the full ledger.
func (r *Repository) TotalPnL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_outcomes`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum realized PnL: %w", err)
	}
	return total, nil
}

// --- Helpers ---

const positionSelect = `
	SELECT id, setup_id, instrument, direction, entry_price, quantity, initial_stop,
	       stop_price, target_price, breakeven_armed, trailing_active, state,
	       COALESCE(exit_price, 0), exit_reason, opened_at, closed_at, last_eval_at
	FROM positions`

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var direction, state string
	var exitReason sql.NullString
	var closedAt, lastEvalAt sql.NullTime
	err := s.Scan(
		&p.ID, &p.SetupID, &p.Instrument, &direction, &p.EntryPrice, &p.Quantity, &p.InitialStop,
		&p.Stop, &p.Target, &p.BreakevenArmed, &p.TrailingActive, &state,
		&p.ExitPrice, &exitReason, &p.OpenedAt, &closedAt, &lastEvalAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Direction = domain.Direction(direction)
	p.State = domain.PositionState(state)
	if exitReason.Valid {
		p.ExitReason = domain.ExitReason(exitReason.String)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	if lastEvalAt.Valid {
		p.LastEvalAt = lastEvalAt.Time
	}
	return p, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
