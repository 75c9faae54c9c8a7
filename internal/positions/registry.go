// Package positions is the Position Registry (C8): the single source of
// truth for open positions and their metadata, guarded by a per-symbol
// mutex, with a write-behind snapshot to Redis so a restart can rehydrate
// in-flight state before exchange reconciliation completes.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/errs"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/metrics"
)

const (
	positionKeyPrefix = "scalper:position"
	positionTTL       = 7 * 24 * time.Hour
)

type entry struct {
	mu   sync.Mutex
	data domain.PositionMetadata
	set  bool
}

// Registry is the per-symbol Position Registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	redis          *redis.Client
	redisAvailable atomic.Bool
	log            *logging.Logger
}

// New creates a Position Registry. redisClient may be nil, in which case
// the registry is in-memory only — Redis is a write-behind convenience, not
// the source of truth.
func New(redisClient *redis.Client) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		redis:   redisClient,
		log:     logging.WithComponent("positions"),
	}
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.redisAvailable.Store(redisClient.Ping(ctx).Err() == nil)
	}
	return r
}

func (r *Registry) entryFor(symbol string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[symbol]
	if !ok {
		e = &entry{}
		r.entries[symbol] = e
	}
	return e
}

// Register creates a Pending position. Fails if a non-Closed position
// already exists on the symbol (spec.md §3 invariant).
func (r *Registry) Register(symbol string, meta domain.PositionMetadata) error {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set && e.data.State != domain.PositionClosed {
		return fmt.Errorf("position already exists for %s in state %s: %w", symbol, e.data.State, errs.ErrInvariantViolated)
	}
	meta.Symbol = symbol
	meta.State = domain.PositionPending
	e.data = meta
	e.set = true
	r.writeBehind(symbol, meta)
	return nil
}

// Get returns an immutable snapshot of the position, if one exists.
func (r *Registry) Get(symbol string) (domain.PositionMetadata, bool) {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return domain.PositionMetadata{}, false
	}
	return e.data, true
}

// UpdateMetadata applies mutate to the symbol's metadata under its lock and
// persists the result. mutate must not retain the pointer past the call.
func (r *Registry) UpdateMetadata(symbol string, mutate func(*domain.PositionMetadata)) error {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return fmt.Errorf("no position registered for %s: %w", symbol, errs.ErrInvariantViolated)
	}
	mutate(&e.data)
	e.data.LastUpdate = time.Now().UTC()
	r.writeBehind(symbol, e.data)
	return nil
}

// MarkOpen CAS-transitions Pending -> Open on fill.
func (r *Registry) MarkOpen(symbol string, entryPrice, quantity float64, leverage int) error {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.data.State != domain.PositionPending {
		return fmt.Errorf("cannot mark open from state %v: %w", e.data.State, errs.ErrInvariantViolated)
	}
	e.data.State = domain.PositionOpen
	e.data.EntryPrice = entryPrice
	e.data.Quantity = quantity
	e.data.Leverage = leverage
	e.data.OpenedAt = time.Now().UTC()
	e.data.LastUpdate = e.data.OpenedAt
	// peak_pnl_* stays at its zero value with PeakSet=false-equivalent
	// (HighWaterMark/LowWaterMark) until the lifecycle manager's first
	// observation — never initialized to zero-as-a-real-reading.
	r.writeBehind(symbol, e.data)
	return nil
}

// MarkRejected CAS-transitions Pending -> Closed on entry rejection, with
// no realized PnL recorded (no fill occurred).
func (r *Registry) MarkRejected(symbol string) error {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.data.State != domain.PositionPending {
		return fmt.Errorf("cannot reject from state %v: %w", e.data.State, errs.ErrInvariantViolated)
	}
	e.data.State = domain.PositionClosed
	e.data.ClosedAt = time.Now().UTC()
	r.writeBehind(symbol, e.data)
	return nil
}

// MarkClosing is the Exit Executor's CAS: only the first caller on an Open
// position wins; a second call (or a call on an already-Closing position)
// is a no-op that returns false, satisfying the at-most-once-close invariant.
func (r *Registry) MarkClosing(symbol string) (won bool) {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.data.State != domain.PositionOpen {
		return false
	}
	e.data.State = domain.PositionClosing
	r.writeBehind(symbol, e.data)
	return true
}

// MarkClosed finalizes a Closing position with its exit accounting.
func (r *Registry) MarkClosed(symbol string, reason domain.ExitReason, exitPrice, realizedPnL, fees float64) error {
	e := r.entryFor(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set || e.data.State != domain.PositionClosing {
		return fmt.Errorf("cannot close from state %v: %w", e.data.State, errs.ErrInvariantViolated)
	}
	e.data.State = domain.PositionClosed
	e.data.ExitReason = reason
	e.data.ClosedAt = time.Now().UTC()
	e.data.ExitPrice = exitPrice
	e.data.RealizedPnL = realizedPnL
	e.data.Fees = fees
	meta := e.data
	r.writeBehind(symbol, meta)
	r.remove(symbol)

	metrics.ExitReasonsTotal.WithLabelValues(string(reason), string(meta.Side)).Inc()
	metrics.RealizedPnLUSD.Add(realizedPnL)
	return nil
}

// Unregister removes the symbol's entry entirely (used after reconciliation
// confirms a close already happened, or to clear a rejected Pending).
func (r *Registry) Unregister(symbol string) {
	r.remove(symbol)
}

func (r *Registry) remove(symbol string) {
	r.mu.Lock()
	delete(r.entries, symbol)
	r.mu.Unlock()
	if r.redis != nil && r.redisAvailable.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.redis.Del(ctx, redisKey(symbol))
	}
}

// OpenSymbols returns the symbols currently holding a non-Closed position.
func (r *Registry) OpenSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for symbol, e := range r.entries {
		e.mu.Lock()
		if e.set && e.data.State != domain.PositionClosed {
			out = append(out, symbol)
		}
		e.mu.Unlock()
	}
	return out
}

// OpenCount returns the number of non-Closed positions, used by the Risk
// Controller's max-concurrent admission check.
func (r *Registry) OpenCount() int {
	return len(r.OpenSymbols())
}

// EntryPriceLookup adapts Get into the function shape the Data Registry's
// last-resort price fallback rung expects, wired in post-construction to
// avoid an import cycle between registry and positions.
func (r *Registry) EntryPriceLookup(symbol string) (float64, bool) {
	meta, ok := r.Get(symbol)
	if !ok || meta.State != domain.PositionOpen {
		return 0, false
	}
	return meta.EntryPrice, true
}

func redisKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

func (r *Registry) writeBehind(symbol string, meta domain.PositionMetadata) {
	metrics.PositionsOpenGauge.Set(float64(len(r.OpenSymbols())))
	if r.redis == nil || !r.redisAvailable.Load() {
		return
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.redis.Set(ctx, redisKey(symbol), data, positionTTL).Err(); err != nil {
		r.log.WithField("symbol", symbol).WithError(err).Warn("redis write-behind failed, continuing in-memory")
		r.redisAvailable.Store(false)
	}
}

// Rehydrate loads any position snapshots persisted in Redis into the
// in-memory registry, used on startup before exchange reconciliation
// completes. Exchange fills remain the source of truth; this only gives a
// faster warm path for entry_time/regime/profile metadata.
func (r *Registry) Rehydrate(ctx context.Context, symbols []string) {
	if r.redis == nil || !r.redisAvailable.Load() {
		return
	}
	for _, symbol := range symbols {
		data, err := r.redis.Get(ctx, redisKey(symbol)).Bytes()
		if err != nil {
			continue
		}
		var meta domain.PositionMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if meta.State == domain.PositionClosed {
			continue
		}
		e := r.entryFor(symbol)
		e.mu.Lock()
		e.data = meta
		e.set = true
		e.mu.Unlock()
		r.log.WithField("symbol", symbol).Info("rehydrated position metadata from redis")
	}
}
