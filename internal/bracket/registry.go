package bracket

import (
	"sync"

	"bracketbot/internal/domain"
)

// registry is the in-memory view of open positions. It enforces the one
// bracket per (setup, instrument, direction) slot rule and tracks which
// positions have an evaluation in flight so a slow exit order cannot be
// doubled by the next supervision pass.
type registry struct {
	mu       sync.Mutex
	open     map[string]*domain.Position
	inFlight map[string]bool
}

func newRegistry() *registry {
	return &registry{
		open:     make(map[string]*domain.Position),
		inFlight: make(map[string]bool),
	}
}

func (r *registry) add(pos *domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[pos.ID] = pos
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, id)
	delete(r.inFlight, id)
}

func (r *registry) get(id string) *domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[id]
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// slotTaken reports whether an open position already occupies the
// (setup, instrument, direction) slot.
func (r *registry) slotTaken(setupID, instrument string, dir domain.Direction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pos := range r.open {
		if pos.SetupID == setupID && pos.Instrument == instrument && pos.Direction == dir {
			return true
		}
	}
	return false
}

// tryAcquire marks a position as being evaluated. It returns false when the
// position is unknown or an evaluation is already in flight.
func (r *registry) tryAcquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[id]; !ok {
		return false
	}
	if r.inFlight[id] {
		return false
	}
	r.inFlight[id] = true
	return true
}

func (r *registry) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, id)
}

// snapshot returns the open positions at this instant. Callers must still
// acquire a position before mutating it.
func (r *registry) snapshot() []*domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Position, 0, len(r.open))
	for _, pos := range r.open {
		out = append(out, pos)
	}
	return out
}
