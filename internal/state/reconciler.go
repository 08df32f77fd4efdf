package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avelar/feedgate/internal/model"
)

// MaxOpenOrders bounds the reconciled order table: only the most recently
// touched open orders are retained, oldest-touched evicted first.
const MaxOpenOrders = 50

// Reconciler merges per-entity updates into latest-value tables.
type Reconciler struct {
	mu        sync.RWMutex
	balances  map[string]model.Balance
	positions map[string]model.Position
	orders    map[string]model.Order

	// orderRecency holds order ids oldest-touched first. It drives the
	// deterministic eviction of the order table.
	orderRecency []string

	lastUpdate time.Time

	now    func() time.Time
	logger *slog.Logger
}

// New creates an empty reconciler using the wall clock.
func New(logger *slog.Logger) *Reconciler {
	return NewWithClock(logger, time.Now)
}

// NewWithClock creates an empty reconciler with an injected clock.
func NewWithClock(logger *slog.Logger, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		balances:  make(map[string]model.Balance),
		positions: make(map[string]model.Position),
		orders:    make(map[string]model.Order),
		now:       now,
		logger:    logger,
	}
}

// ApplyBalance replaces the balance for its asset.
func (r *Reconciler) ApplyBalance(b model.Balance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.ReceivedAt = r.now()
	r.balances[b.Asset] = b
	r.lastUpdate = b.ReceivedAt
}

// ApplyPosition replaces the position for its symbol, or removes it when the
// size is exactly zero. Zero-size positions are never stored.
func (r *Reconciler) ApplyPosition(p model.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Size == 0 {
		delete(r.positions, p.Symbol)
	} else {
		p.ReceivedAt = r.now()
		r.positions[p.Symbol] = p
	}
	r.lastUpdate = r.now()
}

// ApplyOrder replaces the order for its id, removing terminal orders and
// truncating the table to the MaxOpenOrders most recently touched entries.
func (r *Reconciler) ApplyOrder(o model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Terminal() {
		if _, ok := r.orders[o.ID]; ok {
			delete(r.orders, o.ID)
			r.removeRecency(o.ID)
		}
		r.lastUpdate = r.now()
		return
	}

	o.ReceivedAt = r.now()
	if _, ok := r.orders[o.ID]; ok {
		r.removeRecency(o.ID)
	}
	r.orders[o.ID] = o
	r.orderRecency = append(r.orderRecency, o.ID)

	for len(r.orderRecency) > MaxOpenOrders {
		oldest := r.orderRecency[0]
		r.orderRecency = r.orderRecency[1:]
		delete(r.orders, oldest)
		r.logger.Debug("evicted oldest-touched order", "id", oldest)
	}

	r.lastUpdate = o.ReceivedAt
}

// removeRecency drops id from the recency list. Must hold the lock.
func (r *Reconciler) removeRecency(id string) {
	for i, v := range r.orderRecency {
		if v == id {
			r.orderRecency = append(r.orderRecency[:i], r.orderRecency[i+1:]...)
			return
		}
	}
}

// LastUpdate returns the time of the most recent successful reconciliation.
// Consumers use it to detect liveness without polling each table.
func (r *Reconciler) LastUpdate() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastUpdate
}

// Balances returns a copy of the balance table.
func (r *Reconciler) Balances() map[string]model.Balance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.Balance, len(r.balances))
	for k, v := range r.balances {
		out[k] = v
	}
	return out
}

// Positions returns a copy of the position table.
func (r *Reconciler) Positions() map[string]model.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.Position, len(r.positions))
	for k, v := range r.positions {
		out[k] = v
	}
	return out
}

// Orders returns a copy of the order table.
func (r *Reconciler) Orders() map[string]model.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]model.Order, len(r.orders))
	for k, v := range r.orders {
		out[k] = v
	}
	return out
}
