// Package engine wires the thirteen components into a running process: one
// actor per symbol serializing signal-pipeline and lifecycle evaluation,
// sharing the Data Registry, Position Registry, Risk Controller, and
// Connection Quality Monitor across symbols.
package engine

import (
	"context"
	"sync"
	"time"

	"okx-scalper/internal/connquality"
	"okx-scalper/internal/domain"
	"okx-scalper/internal/events"
	"okx-scalper/internal/exchange"
	"okx-scalper/internal/execution"
	"okx-scalper/internal/indicators"
	"okx-scalper/internal/lifecycle"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/notifier"
	"okx-scalper/internal/persistence"
	"okx-scalper/internal/pipeline"
	"okx-scalper/internal/positions"
	"okx-scalper/internal/profile"
	"okx-scalper/internal/regime"
	"okx-scalper/internal/registry"
	"okx-scalper/internal/risk"
)

// Timeframe is the candle interval every component keyed by regime/score
// reacts to. Scalping timeframes are fixed at construction, not configurable
// per spec.md's scope (it names the indicator set, not the bar interval).
const Timeframe = "1m"

// HigherTimeframe feeds the Filter Stack's multi-timeframe gate.
const HigherTimeframe = "15m"

// pollInterval is the actor's fallback cadence: a tick or candle arrival
// wakes the actor immediately via its notify channel, but a stalled stream
// must still reach lifecycle checks on this interval (price source will
// simply read as not-live and skip them).
const pollInterval = 2 * time.Second

// Deps bundles every already-constructed subsystem the Engine ties
// together. Each is built once in cmd/scalper and shared across symbol
// actors except where a component is explicitly per-symbol.
type Deps struct {
	Symbols []string
	Client  exchange.Client
	Stream  *exchange.Stream

	DataRegistry     *registry.Registry
	PositionRegistry *positions.Registry
	Indicators       *indicators.Aggregator
	RegimeDetector   *regime.Detector
	ProfileManager   *profile.Manager
	RiskManager      *risk.Manager

	Pipeline *pipeline.Pipeline
	Entry    *execution.Entry
	Exit     *execution.Exit
	Lifecycle *lifecycle.Manager

	ConnQuality *connquality.Monitor
	Notifier    *notifier.Telegram
	Store       *persistence.Store
	EventBus    *events.Bus

	TierLimitsFor func(domain.BalanceTier) risk.TierLimits
	TPSL          map[domain.Regime]execution.RegimeTPSL
	Leverage      int
}

// Engine runs one actor per symbol plus the process-wide background loops
// (connection quality probing, balance profile refresh).
type Engine struct {
	deps Deps
	log  *logging.Logger

	notify map[string]chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an Engine from its dependencies. Construction performs no I/O;
// call Start to begin streaming and per-symbol evaluation.
func New(deps Deps) *Engine {
	return &Engine{deps: deps, log: logging.WithComponent("engine")}
}

// Start wires the exchange stream's handlers into the Data Registry, then
// launches one actor goroutine per symbol plus the shared background
// loops. It returns once everything is launched; Stop blocks until every
// actor has finished its in-flight tick.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.notify = make(map[string]chan struct{}, len(e.deps.Symbols))
	for _, symbol := range e.deps.Symbols {
		e.notify[symbol] = make(chan struct{}, 1)
	}

	e.wireStream()

	if e.deps.Stream != nil {
		if err := e.deps.Stream.Connect(runCtx); err != nil {
			cancel()
			return err
		}
	}

	if e.deps.ConnQuality != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.deps.ConnQuality.Run(runCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.refreshProfileLoop(runCtx)
	}()

	for _, symbol := range e.deps.Symbols {
		w := &worker{symbol: symbol, deps: e.deps, log: e.log.WithSymbol(symbol), notify: e.notify[symbol]}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run(runCtx)
		}()
	}

	return nil
}

// wake nudges a symbol's actor to run a pass immediately instead of waiting
// for the next poll tick. Non-blocking: the channel is buffered 1, so a
// wake that arrives while a pass is already pending is simply coalesced.
func (e *Engine) wake(symbol string) {
	ch, ok := e.notify[symbol]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop signals every actor to finish its current tick and exit, then
// blocks until they have.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) wireStream() {
	if e.deps.Stream == nil {
		return
	}
	e.deps.Stream.OnTick(func(tick domain.Tick) {
		if err := e.deps.DataRegistry.UpdateTick(tick.Symbol, tick); err != nil {
			e.log.WithField("symbol", tick.Symbol).WithError(err).Debug("discarded invalid tick")
			return
		}
		e.wake(tick.Symbol)
	})
	e.deps.Stream.OnCandle(func(tf string, candle domain.Candle) {
		candles := e.deps.DataRegistry.Candles(candle.Symbol, tf)
		if n := len(candles); n > 0 && candles[n-1].OpenTime.Equal(candle.OpenTime) {
			candles[n-1] = candle
		} else {
			candles = append(candles, candle)
		}
		if err := e.deps.DataRegistry.UpdateCandles(candle.Symbol, tf, candles); err != nil {
			e.log.WithField("symbol", candle.Symbol).WithError(err).Debug("discarded invalid candle batch")
			return
		}
		if tf == Timeframe {
			e.wake(candle.Symbol)
		}
	})
	for _, symbol := range e.deps.Symbols {
		e.deps.Stream.Subscribe(exchange.ChannelTickers, symbol)
		e.deps.Stream.Subscribe(exchange.CandleChannel(Timeframe), symbol)
		e.deps.Stream.Subscribe(exchange.CandleChannel(HigherTimeframe), symbol)
	}
	e.deps.Stream.Subscribe(exchange.ChannelOrders)
	e.deps.Stream.Subscribe(exchange.ChannelPositions)
}

// refreshProfileLoop re-pulls account equity on an interval and refreshes
// the Balance Profile Manager; it never touches already-open positions
// (profile.Manager.Refresh's own contract).
func (e *Engine) refreshProfileLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, exchange.DefaultCallTimeout)
			bal, err := e.deps.Client.GetBalance(callCtx)
			cancel()
			if err != nil {
				e.log.WithError(err).Warn("balance refresh failed")
				continue
			}
			e.deps.ProfileManager.Refresh(bal.Equity)
		}
	}
}
