// Package bracket supervises synthetic order-cancels-order brackets: it
// admits proposals into positions, polls market data, walks each open
// position through breakeven and trailing transitions, and converts fills
// into ledger outcomes exactly once.
package bracket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bracketbot/internal/adapters/metrics"
	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
	"bracketbot/internal/signal"
	"bracketbot/internal/sizing"
)

// Allocator ranks competing setup IDs; the bandit implementation satisfies it.
type Allocator interface {
	Rank(ctx context.Context, setupIDs []string) ([]string, error)
}

// Config holds the bracket manager parameters.
type Config struct {
	CashAsset       string
	MinNotional     float64
	TrailATRMult    float64 // 0 disables trailing
	BreakEvenAfterR float64 // 0 disables the breakeven arm
	Poll            time.Duration
	MaxOpenBrackets int
	MaxConcurrent   int
	EnableShorts    bool
	ATRPeriod       int
}

// Manager owns the trade lifecycle from admission to recorded outcome.
type Manager struct {
	cfg       Config
	exchange  ports.ExchangeClient
	positions ports.PositionRepository
	ledger    ports.LedgerRepository
	proposals ports.ProposalSource
	evaluator *signal.Evaluator
	sizer     *sizing.Engine
	alloc     Allocator
	setups    map[string]domain.Setup
	logger    ports.Logger
	metrics   *metrics.Set

	registry *registry
	admitMu  chan struct{} // 1-slot semaphore serializing admission
}

// NewManager builds a manager and reloads open positions from the repository
// so supervision resumes where the previous process stopped.
func NewManager(
	ctx context.Context,
	cfg Config,
	exchange ports.ExchangeClient,
	positions ports.PositionRepository,
	ledger ports.LedgerRepository,
	proposals ports.ProposalSource,
	evaluator *signal.Evaluator,
	sizer *sizing.Engine,
	alloc Allocator,
	setups []domain.Setup,
	logger ports.Logger,
	m *metrics.Set,
) (*Manager, error) {
	if exchange == nil || positions == nil || ledger == nil || proposals == nil ||
		evaluator == nil || sizer == nil || alloc == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for bracket manager")
	}
	if cfg.Poll <= 0 || cfg.MaxOpenBrackets <= 0 || cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: poll interval, bracket limit and concurrency must be positive", ports.ErrConfigurationError)
	}

	setupIndex := make(map[string]domain.Setup, len(setups))
	for _, s := range setups {
		setupIndex[s.ID] = s
	}

	mgr := &Manager{
		cfg:       cfg,
		exchange:  exchange,
		positions: positions,
		ledger:    ledger,
		proposals: proposals,
		evaluator: evaluator,
		sizer:     sizer,
		alloc:     alloc,
		setups:    setupIndex,
		logger:    logger,
		metrics:   m,
		registry:  newRegistry(),
		admitMu:   make(chan struct{}, 1),
	}

	open, err := positions.FindOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("reloading open positions: %w", err)
	}
	for _, pos := range open {
		mgr.registry.add(pos)
	}
	if len(open) > 0 {
		logger.Info(ctx, "Resumed supervision of open positions", map[string]interface{}{"count": len(open)})
	}
	mgr.metrics.SetOpenBrackets(mgr.registry.count())

	return mgr, nil
}

// Run executes the supervision loop until the context is canceled. A pass in
// progress finishes before Run returns, so in-flight exits are not abandoned.
func (mgr *Manager) Run(ctx context.Context) error {
	op := "Manager.Run"
	mgr.logger.Info(ctx, "Bracket manager started", map[string]interface{}{
		"poll":        mgr.cfg.Poll.String(),
		"maxBrackets": mgr.cfg.MaxOpenBrackets,
	})

	ticker := time.NewTicker(mgr.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mgr.logger.Info(context.Background(), "Bracket manager stopped", map[string]interface{}{"op": op, "openBrackets": mgr.registry.count()})
			return ctx.Err()
		case <-ticker.C:
			mgr.intake(ctx)
			mgr.supervise(ctx)
		}
	}
}

// OpenCount returns the number of positions currently under supervision.
func (mgr *Manager) OpenCount() int {
	return mgr.registry.count()
}

// intake pulls pending proposals, ranks their setups and admits them in rank
// order. Rejections are logged and counted; they never stop the pass.
func (mgr *Manager) intake(ctx context.Context) {
	props, err := mgr.proposals.Proposals(ctx)
	if err != nil {
		mgr.logger.Error(ctx, err, "Proposal intake failed")
		mgr.metrics.PassError()
		return
	}
	if len(props) == 0 {
		return
	}

	order, err := mgr.rankedOrder(ctx, props)
	if err != nil {
		mgr.logger.Error(ctx, err, "Setup ranking failed, using arrival order")
	}

	for _, p := range order {
		if ctx.Err() != nil {
			return
		}
		if _, err := mgr.Admit(ctx, p); err != nil {
			cause := rejectionCause(err)
			mgr.metrics.ProposalRejected(cause)
			mgr.logger.Info(ctx, "Proposal rejected", map[string]interface{}{
				"setup":      p.SetupID,
				"instrument": p.Instrument,
				"direction":  p.Direction,
				"cause":      cause,
				"error":      err.Error(),
			})
		}
	}
}

// rankedOrder reorders proposals so those from higher-ranked setups are
// admitted first, preserving arrival order within a setup.
func (mgr *Manager) rankedOrder(ctx context.Context, props []*domain.TradeProposal) ([]*domain.TradeProposal, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range props {
		if !seen[p.SetupID] {
			seen[p.SetupID] = true
			ids = append(ids, p.SetupID)
		}
	}

	ranked, err := mgr.alloc.Rank(ctx, ids)
	if err != nil {
		return props, err
	}

	out := make([]*domain.TradeProposal, 0, len(props))
	for _, id := range ranked {
		for _, p := range props {
			if p.SetupID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Admit runs the full admission pipeline for one proposal: setup and slot
// checks, cost-adjusted RR gate, Kelly sizing, notional floor, entry order,
// persistence. Admission is serialized so capacity checks cannot race.
func (mgr *Manager) Admit(ctx context.Context, p *domain.TradeProposal) (*domain.Position, error) {
	select {
	case mgr.admitMu <- struct{}{}:
		defer func() { <-mgr.admitMu }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	setup, ok := mgr.setups[p.SetupID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ports.ErrUnknownSetup, p.SetupID)
	}
	if p.Direction == domain.Short && (!mgr.cfg.EnableShorts || !setup.AllowShort) {
		return nil, fmt.Errorf("%w: setup %q", ports.ErrShortNotPermitted, p.SetupID)
	}
	if mgr.registry.count() >= mgr.cfg.MaxOpenBrackets {
		return nil, fmt.Errorf("%w: %d open", ports.ErrMaxBracketsOpen, mgr.registry.count())
	}
	if mgr.registry.slotTaken(p.SetupID, p.Instrument, p.Direction) {
		return nil, fmt.Errorf("%w: %s/%s/%s", ports.ErrSlotOccupied, p.SetupID, p.Instrument, p.Direction)
	}

	bid, ask, err := mgr.exchange.GetBookTicker(ctx, p.Instrument)
	if err != nil {
		// The gate degrades to fee+slippage-only costs without a book snapshot.
		mgr.logger.Warn(ctx, "Book ticker unavailable, gating without spread", map[string]interface{}{"instrument": p.Instrument, "error": err.Error()})
		bid, ask = 0, 0
	}

	equity, err := mgr.equity(ctx)
	if err != nil {
		return nil, err
	}

	// A provisional notional feeds the impact estimate; the final quantity is
	// sized against the cost-adjusted risk below.
	fraction := mgr.sizer.RiskFraction(ctx, p.SetupID, p.Instrument)
	notional := 0.0
	if risk := p.RiskPerUnit(); risk > 0 {
		notional = equity * fraction / risk * p.Entry
	}

	if err := mgr.evaluator.Gate(ctx, p, bid, ask, notional); err != nil {
		return nil, err
	}

	quantity, err := mgr.sizer.SizePosition(ctx, p.SetupID, p.Instrument, p.RiskPerUnit(), equity)
	if err != nil {
		return nil, err
	}
	if quantity*p.Entry < mgr.cfg.MinNotional {
		return nil, fmt.Errorf("%w: %.2f below %.2f", ports.ErrNotionalTooSmall, quantity*p.Entry, mgr.cfg.MinNotional)
	}
	if p.Direction == domain.Short {
		if err := mgr.checkShortInventory(ctx, p.Instrument, quantity); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	resp, err := mgr.exchange.PlaceMarketOrder(ctx, p.Instrument, p.Direction.EntrySide(), quantity, id+":entry")
	if err != nil {
		return nil, fmt.Errorf("entry order: %w", err)
	}

	entryPrice := resp.AvgPrice
	if entryPrice <= 0 {
		entryPrice = p.Entry
	}
	if resp.ExecutedQty > 0 {
		quantity = resp.ExecutedQty
	}

	now := time.Now().UTC()
	pos := &domain.Position{
		ID:          id,
		SetupID:     p.SetupID,
		Instrument:  p.Instrument,
		Direction:   p.Direction,
		EntryPrice:  entryPrice,
		Quantity:    quantity,
		InitialStop: p.Stop,
		Stop:        p.Stop,
		Target:      p.Target,
		State:       domain.StateOpen,
		OpenedAt:    now,
		LastEvalAt:  now,
	}

	if err := mgr.positions.Create(ctx, pos); err != nil {
		// The entry is already filled; dropping the position would orphan live
		// exposure, so supervision continues in memory.
		mgr.logger.Error(ctx, err, "Position not persisted, supervising in memory only", map[string]interface{}{"positionID": pos.ID})
	}
	mgr.registry.add(pos)

	mgr.metrics.BracketOpened()
	mgr.metrics.SetOpenBrackets(mgr.registry.count())
	mgr.logger.Info(ctx, "Bracket opened", map[string]interface{}{
		"positionID": pos.ID,
		"setup":      pos.SetupID,
		"instrument": pos.Instrument,
		"direction":  pos.Direction,
		"entry":      pos.EntryPrice,
		"stop":       pos.Stop,
		"target":     pos.Target,
		"quantity":   pos.Quantity,
		"rr":         p.RR,
	})
	return pos, nil
}

// checkShortInventory verifies that the account holds enough of the base
// asset to sell; a spot venue has no margin to borrow against.
func (mgr *Manager) checkShortInventory(ctx context.Context, instrument string, quantity float64) error {
	base := strings.TrimSuffix(instrument, mgr.cfg.CashAsset)
	if base == instrument || base == "" {
		return fmt.Errorf("%w: cannot derive base asset from %q", ports.ErrInvalidRequest, instrument)
	}
	free, err := mgr.exchange.GetAccountBalance(ctx, base)
	if err != nil {
		return fmt.Errorf("short inventory check: %w", err)
	}
	if free < quantity {
		return fmt.Errorf("%w: %f %s held, %f required", ports.ErrInsufficientFunds, free, base, quantity)
	}
	return nil
}

// supervise evaluates every open position against one price snapshot per
// instrument, bounded by the configured concurrency.
func (mgr *Manager) supervise(ctx context.Context) {
	open := mgr.registry.snapshot()
	if len(open) == 0 {
		return
	}

	prices := make(map[string]float64)
	atrs := make(map[string]float64)
	for _, pos := range open {
		if _, done := prices[pos.Instrument]; done {
			continue
		}
		price, err := mgr.exchange.GetTickerPrice(ctx, pos.Instrument)
		if err != nil {
			mgr.logger.Error(ctx, err, "Price fetch failed, skipping instrument this pass", map[string]interface{}{"instrument": pos.Instrument})
			mgr.metrics.PassError()
			continue
		}
		prices[pos.Instrument] = price

		if mgr.cfg.TrailATRMult > 0 {
			atr, err := mgr.exchange.GetATR(ctx, pos.Instrument, mgr.cfg.ATRPeriod)
			if err != nil {
				mgr.logger.Warn(ctx, "ATR fetch failed, trailing paused this pass", map[string]interface{}{"instrument": pos.Instrument, "error": err.Error()})
			} else {
				atrs[pos.Instrument] = atr
			}
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(mgr.cfg.MaxConcurrent)
	for _, pos := range open {
		price, ok := prices[pos.Instrument]
		if !ok {
			continue
		}
		if !mgr.registry.tryAcquire(pos.ID) {
			continue // previous evaluation still in flight
		}
		pos := pos
		g.Go(func() error {
			defer mgr.registry.release(pos.ID)
			mgr.evaluate(ctx, pos, price, atrs[pos.Instrument])
			return nil
		})
	}
	g.Wait()

	mgr.metrics.SetOpenBrackets(mgr.registry.count())
	if equity, err := mgr.equity(ctx); err == nil {
		mgr.metrics.SetEquity(equity)
	}
}

// evaluate walks one position through the exit and stop-adjustment rules. The
// stop is checked before the target: when one price observation crosses both
// levels, the conservative exit wins.
func (mgr *Manager) evaluate(ctx context.Context, pos *domain.Position, price, atr float64) {
	pos.LastEvalAt = time.Now().UTC()

	if crossedStop(pos, price) {
		reason := domain.ExitReasonStop
		// Armed but never trailed means the stop sits at entry: a scratch, not
		// a loss. Once trailing has tightened further it is a regular stop.
		if pos.BreakevenArmed && !pos.TrailingActive {
			reason = domain.ExitReasonBreakeven
		}
		mgr.closePosition(ctx, pos, price, reason)
		return
	}
	if crossedTarget(pos, price) {
		mgr.closePosition(ctx, pos, price, domain.ExitReasonTarget)
		return
	}

	changed := false
	gain := pos.UnrealizedR(price)

	if !pos.BreakevenArmed && mgr.cfg.BreakEvenAfterR > 0 && gain >= mgr.cfg.BreakEvenAfterR {
		pos.BreakevenArmed = true
		pos.State = domain.StateBreakevenArmed
		moveStopTighter(pos, pos.EntryPrice)
		changed = true
		mgr.logger.Info(ctx, "Breakeven armed", map[string]interface{}{"positionID": pos.ID, "stop": pos.Stop, "gainR": gain})
	}

	if mgr.cfg.TrailATRMult > 0 && pos.BreakevenArmed && atr > 0 {
		candidate := price - mgr.cfg.TrailATRMult*atr
		if pos.Direction == domain.Short {
			candidate = price + mgr.cfg.TrailATRMult*atr
		}
		if moveStopTighter(pos, candidate) {
			if !pos.TrailingActive {
				pos.TrailingActive = true
			}
			pos.State = domain.StateTrailing
			changed = true
			mgr.logger.Debug(ctx, "Trailing stop tightened", map[string]interface{}{"positionID": pos.ID, "stop": pos.Stop})
		}
	}

	if changed {
		if err := mgr.positions.Update(ctx, pos); err != nil {
			mgr.logger.Error(ctx, err, "Failed to persist stop adjustment", map[string]interface{}{"positionID": pos.ID})
			mgr.metrics.PassError()
		}
	}
}

// closePosition places the exit order and, on success, records the outcome.
// On failure the position state is untouched so the next pass retries; the
// client order ID guarantees at most one exit fill across retries.
func (mgr *Manager) closePosition(ctx context.Context, pos *domain.Position, marketPrice float64, reason domain.ExitReason) {
	resp, err := mgr.exchange.PlaceMarketOrder(ctx, pos.Instrument, pos.Direction.ExitSide(), pos.Quantity, pos.ID+":exit")
	if err != nil {
		mgr.logger.Error(ctx, err, "Exit order failed, will retry next pass", map[string]interface{}{"positionID": pos.ID, "reason": reason})
		mgr.metrics.PassError()
		return
	}

	exitPrice := resp.AvgPrice
	if exitPrice <= 0 {
		exitPrice = marketPrice
	}
	mgr.finalize(ctx, pos, exitPrice, reason)
}

// ResolveExternalFill records an exit that happened outside the supervision
// loop (a manual close or a venue-side liquidation). The reported fill is
// authoritative; no exit order is placed.
func (mgr *Manager) ResolveExternalFill(ctx context.Context, positionID string, fillPrice float64, reason domain.ExitReason) error {
	if fillPrice <= 0 {
		return fmt.Errorf("%w: fill price must be positive", ports.ErrInvalidRequest)
	}
	if reason == "" {
		reason = domain.ExitReasonManual
	}

	pos := mgr.registry.get(positionID)
	if pos == nil {
		stored, err := mgr.positions.FindByID(ctx, positionID)
		if err != nil {
			return err
		}
		if stored == nil {
			return fmt.Errorf("%w: position %q", ports.ErrNotFound, positionID)
		}
		if !stored.IsOpen() {
			return fmt.Errorf("%w: position %q", ports.ErrPositionNotOpen, positionID)
		}
		mgr.registry.add(stored)
		pos = stored
	}

	if !mgr.registry.tryAcquire(positionID) {
		return fmt.Errorf("%w: position %q", ports.ErrPositionBusy, positionID)
	}
	defer mgr.registry.release(positionID)

	mgr.finalize(ctx, pos, fillPrice, reason)
	return nil
}

// finalize transitions the position to closed and appends the ledger outcome.
// A duplicate append means the outcome was already recorded by a previous
// attempt and is treated as success.
func (mgr *Manager) finalize(ctx context.Context, pos *domain.Position, exitPrice float64, reason domain.ExitReason) {
	pos.State = domain.StateClosed
	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.ClosedAt = time.Now().UTC()

	if err := mgr.positions.Update(ctx, pos); err != nil {
		mgr.logger.Error(ctx, err, "Failed to persist closed position", map[string]interface{}{"positionID": pos.ID})
		mgr.metrics.PassError()
	}

	outcome := &domain.TradeOutcome{
		PositionID: pos.ID,
		SetupID:    pos.SetupID,
		Instrument: pos.Instrument,
		Direction:  pos.Direction,
		RMultiple:  pos.RealizedR(exitPrice),
		PnL:        pos.RealizedPnL(exitPrice),
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   pos.ClosedAt,
	}
	if err := mgr.ledger.Append(ctx, outcome); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			mgr.logger.Warn(ctx, "Outcome already recorded", map[string]interface{}{"positionID": pos.ID})
		} else {
			mgr.logger.Error(ctx, err, "Failed to append outcome", map[string]interface{}{"positionID": pos.ID})
			mgr.metrics.PassError()
		}
	}

	mgr.registry.remove(pos.ID)
	mgr.metrics.BracketExited(string(reason), string(pos.Direction))
	mgr.metrics.SetOpenBrackets(mgr.registry.count())
	mgr.logger.Info(ctx, "Bracket closed", map[string]interface{}{
		"positionID": pos.ID,
		"setup":      pos.SetupID,
		"instrument": pos.Instrument,
		"reason":     reason,
		"exitPrice":  exitPrice,
		"rMultiple":  outcome.RMultiple,
		"pnl":        outcome.PnL,
	})
}

// equity approximates account equity as free cash plus the entry value of all
// open positions. Marking open positions at entry keeps sizing stable between
// passes; the discrepancy is bounded by unrealized PnL.
func (mgr *Manager) equity(ctx context.Context) (float64, error) {
	cash, err := mgr.exchange.GetAccountBalance(ctx, mgr.cfg.CashAsset)
	if err != nil {
		return 0, fmt.Errorf("equity: %w", err)
	}
	total := cash
	for _, pos := range mgr.registry.snapshot() {
		total += pos.Quantity * pos.EntryPrice
	}
	return total, nil
}

// --- transition helpers ---

func crossedStop(pos *domain.Position, price float64) bool {
	if pos.Direction == domain.Short {
		return price >= pos.Stop
	}
	return price <= pos.Stop
}

func crossedTarget(pos *domain.Position, price float64) bool {
	if pos.Direction == domain.Short {
		return price <= pos.Target
	}
	return price >= pos.Target
}

// moveStopTighter moves the stop to candidate only when that reduces risk.
// The stop never loosens.
func moveStopTighter(pos *domain.Position, candidate float64) bool {
	if pos.Direction == domain.Short {
		if candidate < pos.Stop {
			pos.Stop = candidate
			return true
		}
		return false
	}
	if candidate > pos.Stop {
		pos.Stop = candidate
		return true
	}
	return false
}

// rejectionCause maps an admission error onto a stable metrics label.
func rejectionCause(err error) string {
	switch {
	case errors.Is(err, ports.ErrBelowMinRR):
		return "below_min_rr"
	case errors.Is(err, ports.ErrInvalidProposal):
		return "invalid_proposal"
	case errors.Is(err, ports.ErrSlotOccupied):
		return "slot_occupied"
	case errors.Is(err, ports.ErrMaxBracketsOpen):
		return "max_brackets"
	case errors.Is(err, ports.ErrQuantityTooSmall):
		return "quantity_too_small"
	case errors.Is(err, ports.ErrNotionalTooSmall):
		return "notional_too_small"
	case errors.Is(err, ports.ErrShortNotPermitted):
		return "short_not_permitted"
	case errors.Is(err, ports.ErrUnknownSetup):
		return "unknown_setup"
	case errors.Is(err, ports.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}
