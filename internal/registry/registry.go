// Package registry is the Data Registry (C1): per-symbol latest tick, recent
// candles, latest indicator snapshot and regime, plus the price fallback
// chain every price-dependent decision in the engine goes through.
package registry

import (
	"fmt"
	"sync"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/errs"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/metrics"
)

// FallbackConfig controls the price fallback chain's timing thresholds.
type FallbackConfig struct {
	TickFreshMs   int64
	TickStaleMs   int64
	CandleFreshMs int64
	RestRetryAfterMs int64
}

// DefaultFallbackConfig matches spec.md defaults.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		TickFreshMs:      2000,
		TickStaleMs:      5000,
		CandleFreshMs:    60000,
		RestRetryAfterMs: 1000,
	}
}

// RestPoller is the subset of the exchange client the registry needs for
// the REST-last-price rung of the fallback chain.
type RestPoller interface {
	GetTicker(symbol string) (float64, error)
}

// EntryPriceLookup supplies the entry price of the currently open position
// on a symbol, for the last-resort fallback rung. Returns ok=false if none.
type EntryPriceLookup func(symbol string) (price float64, ok bool)

type symbolState struct {
	mu           sync.RWMutex
	lastTick     domain.Tick
	hasTick      bool
	lastStale    domain.Tick
	hasStale     bool
	candles      map[string][]domain.Candle // by timeframe
	snapshot     domain.IndicatorSnapshot
	hasSnapshot  bool
	regime       domain.Regime
}

// Registry is the per-symbol Data Registry.
type Registry struct {
	mu       sync.RWMutex
	symbols  map[string]*symbolState
	fallback FallbackConfig
	rest     RestPoller
	entryLookup EntryPriceLookup
	maxCandles int
	log      *logging.Logger
}

// New creates a Data Registry. rest may be nil if REST fallback is unused
// (tests); entryLookup may be nil until the Position Registry is wired in.
func New(fallback FallbackConfig, rest RestPoller, entryLookup EntryPriceLookup) *Registry {
	return &Registry{
		symbols:     make(map[string]*symbolState),
		fallback:    fallback,
		rest:        rest,
		entryLookup: entryLookup,
		maxCandles:  200,
		log:         logging.WithComponent("registry"),
	}
}

// SetEntryPriceLookup wires the last-resort fallback rung after the
// Position Registry exists, avoiding an import cycle at construction time.
func (r *Registry) SetEntryPriceLookup(fn EntryPriceLookup) {
	r.entryLookup = fn
}

func (r *Registry) state(symbol string) *symbolState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.symbols[symbol]
	if !ok {
		s = &symbolState{candles: make(map[string][]domain.Candle)}
		r.symbols[symbol] = s
	}
	return s
}

// UpdateTick validates and stores a tick. Invalid ticks are discarded and
// bump the data_invalid counter instead of propagating.
func (r *Registry) UpdateTick(symbol string, tick domain.Tick) error {
	if err := validateTick(tick); err != nil {
		metrics.DataInvalidTotal.WithLabelValues(symbol, "tick").Inc()
		r.log.WithField("symbol", symbol).Warn("discarding invalid tick", "error", err)
		return err
	}

	s := r.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	age := time.Since(tick.Timestamp)
	if age <= time.Duration(r.fallback.TickFreshMs)*time.Millisecond {
		s.lastTick = tick
		s.hasTick = true
	}
	if age <= time.Duration(r.fallback.TickStaleMs)*time.Millisecond {
		s.lastStale = tick
		s.hasStale = true
	}
	return nil
}

func validateTick(t domain.Tick) error {
	if t.Price <= 0 {
		return fmt.Errorf("non-positive tick price: %w", errs.ErrDataInvalid)
	}
	if t.Bid > 0 || t.Ask > 0 {
		if t.Bid <= 0 || t.Ask <= 0 {
			return fmt.Errorf("tick carries only one side of bid/ask: %w", errs.ErrDataInvalid)
		}
		if t.Bid > t.Price || t.Price > t.Ask {
			return fmt.Errorf("tick violates bid <= last <= ask: %w", errs.ErrDataInvalid)
		}
	}
	return nil
}

// UpdateCandles validates and stores a timeframe's candle window, keeping at
// most maxCandles most-recent bars. A single invalid bar rejects the whole
// call so the registry never exposes a violating candle.
func (r *Registry) UpdateCandles(symbol, tf string, candles []domain.Candle) error {
	if err := validateCandles(candles); err != nil {
		metrics.DataInvalidTotal.WithLabelValues(symbol, "candle").Inc()
		r.log.WithField("symbol", symbol).WithField("tf", tf).Warn("rejecting invalid candle window", "error", err)
		return err
	}

	s := r.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(candles) > r.maxCandles {
		candles = candles[len(candles)-r.maxCandles:]
	}
	s.candles[tf] = candles
	return nil
}

func validateCandles(candles []domain.Candle) error {
	var prevTs time.Time
	for i, c := range candles {
		if c.Low <= 0 || c.Open <= 0 || c.High <= 0 || c.Close <= 0 {
			return fmt.Errorf("non-positive OHLC: %w", errs.ErrDataInvalid)
		}
		hi := maxF(c.Open, c.Close)
		lo := minF(c.Open, c.Close)
		if c.High < hi || c.Low > lo {
			return fmt.Errorf("OHLC ordering violated: %w", errs.ErrDataInvalid)
		}
		if i > 0 && !c.OpenTime.After(prevTs) {
			return fmt.Errorf("candle timestamp regression: %w", errs.ErrDataInvalid)
		}
		prevTs = c.OpenTime
	}
	return nil
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Candles returns the stored window for a symbol/timeframe.
func (r *Registry) Candles(symbol, tf string) []domain.Candle {
	s := r.state(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Candle, len(s.candles[tf]))
	copy(out, s.candles[tf])
	return out
}

// SetSnapshot stores the latest indicator snapshot for a symbol.
func (r *Registry) SetSnapshot(symbol string, snap domain.IndicatorSnapshot) {
	s := r.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.hasSnapshot = true
}

// Snapshot returns the latest stored indicator snapshot and whether one has
// been stored; the snapshot's WarmedUp field says whether it is usable.
func (r *Registry) Snapshot(symbol string) (domain.IndicatorSnapshot, bool) {
	s := r.state(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.hasSnapshot
}

// SetRegime stores the confirmed regime for a symbol.
func (r *Registry) SetRegime(symbol string, regime domain.Regime) {
	s := r.state(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regime = regime
}

// Regime returns the last confirmed regime, or RegimeUnknown.
func (r *Registry) Regime(symbol string) domain.Regime {
	s := r.state(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.regime == "" {
		return domain.RegimeUnknown
	}
	return s.regime
}

// GetCurrentPrice implements the six-rung fallback chain from spec.md §4.1.
func (r *Registry) GetCurrentPrice(symbol string) domain.PriceReading {
	s := r.state(symbol)
	s.mu.RLock()
	fresh := s.lastTick
	hasFresh := s.hasTick
	stale := s.lastStale
	hasStale := s.hasStale
	candles1m := append([]domain.Candle(nil), s.candles["1m"]...)
	s.mu.RUnlock()

	now := time.Now()

	if hasFresh && now.Sub(fresh.Timestamp) <= time.Duration(r.fallback.TickFreshMs)*time.Millisecond {
		return domain.PriceReading{Symbol: symbol, Price: fresh.Price, Source: domain.PriceSourceFreshTick, AsOf: fresh.Timestamp}
	}
	if hasStale && now.Sub(stale.Timestamp) <= time.Duration(r.fallback.TickStaleMs)*time.Millisecond {
		return domain.PriceReading{Symbol: symbol, Price: stale.Price, Source: domain.PriceSourceStaleTick, AsOf: stale.Timestamp}
	}
	if len(candles1m) > 0 {
		last := candles1m[len(candles1m)-1]
		if now.Sub(last.CloseTime) <= time.Duration(r.fallback.CandleFreshMs)*time.Millisecond {
			return domain.PriceReading{Symbol: symbol, Price: last.Close, Source: domain.PriceSourceCandle, AsOf: last.CloseTime}
		}
	}
	if r.rest != nil {
		if price, err := r.rest.GetTicker(symbol); err == nil && price > 0 {
			return domain.PriceReading{Symbol: symbol, Price: price, Source: domain.PriceSourceREST, AsOf: now}
		}
		time.Sleep(time.Duration(r.fallback.RestRetryAfterMs) * time.Millisecond)
		if price, err := r.rest.GetTicker(symbol); err == nil && price > 0 {
			return domain.PriceReading{Symbol: symbol, Price: price, Source: domain.PriceSourceREST, AsOf: now}
		}
	}
	if r.entryLookup != nil {
		if price, ok := r.entryLookup(symbol); ok {
			r.log.WithField("symbol", symbol).Warn("falling back to entry price, no live price available")
			return domain.PriceReading{Symbol: symbol, Price: price, Source: domain.PriceSourceEntry, AsOf: now}
		}
	}
	return domain.PriceReading{Symbol: symbol, Source: domain.PriceSourceUnavailable, AsOf: now}
}
