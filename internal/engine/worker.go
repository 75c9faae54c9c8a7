package engine

import (
	"context"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/exchange"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/persistence"
	"okx-scalper/internal/pipeline"
)

// worker is the per-symbol actor: every pass it serializes one round of
// indicator computation, regime classification, signal-pipeline evaluation
// (when flat) or lifecycle evaluation (when holding a position). Running as
// a single goroutine per symbol is what makes this serialization free; nothing
// inside a pass touches another symbol's state. A pass runs as soon as a
// tick or 1m candle lands on notify (spec.md §5's per-tick ordering
// guarantee), with pollInterval as a fallback so a stalled stream still
// reaches lifecycle checks (price source will simply read as not-live).
type worker struct {
	symbol string
	deps   Deps
	log    *logging.Logger
	notify <-chan struct{}
}

func (w *worker) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notify:
			w.tick(ctx)
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *worker) tick(ctx context.Context) {
	candles := w.deps.DataRegistry.Candles(w.symbol, Timeframe)
	if len(candles) == 0 {
		return
	}
	snap := w.deps.Indicators.Compute(w.symbol, Timeframe, candles)
	w.deps.DataRegistry.SetSnapshot(w.symbol, snap)
	if !snap.WarmedUp {
		return
	}

	price := w.deps.DataRegistry.GetCurrentPrice(w.symbol)
	recentHigh, recentLow := candleRange(candles)
	currentRegime := w.deps.RegimeDetector.Update(w.symbol, snap, price.Price, recentHigh, recentLow)
	w.deps.DataRegistry.SetRegime(w.symbol, currentRegime)

	meta, open := w.deps.PositionRegistry.Get(w.symbol)
	if open && meta.State == domain.PositionOpen {
		w.evaluateLifecycle(ctx, currentRegime, snap, price)
		return
	}
	if open && meta.State != domain.PositionClosed {
		// Pending or Closing: the Entry/Exit Executor already owns this
		// tick's outcome, nothing further for the actor to decide.
		return
	}
	w.evaluateEntry(ctx, currentRegime, snap, price, candles)
}

func (w *worker) evaluateLifecycle(ctx context.Context, currentRegime domain.Regime, snap domain.IndicatorSnapshot, price domain.PriceReading) {
	decision := w.deps.Lifecycle.Evaluate(w.symbol, snap, currentRegime, price, time.Now())
	switch decision.Action {
	case "close":
		w.closePosition(ctx, decision.Reason)
	default:
		// extend_tp and advance_tsl are applied to the metadata directly by
		// the Lifecycle Manager before returning; none (including these)
		// need further action from the actor.
	}
}

func (w *worker) closePosition(ctx context.Context, reason domain.ExitReason) {
	if _, ok := w.deps.PositionRegistry.Get(w.symbol); !ok {
		return
	}
	if !w.deps.PositionRegistry.MarkClosing(w.symbol) {
		// Someone else already won the CAS this tick; at-most-once close.
		return
	}

	orderType := exchange.OrderMarket
	closed, err := w.deps.Exit.Close(ctx, w.symbol, reason, orderType)
	if err != nil {
		w.log.WithError(err).WithField("reason", string(reason)).Error("exit close failed")
		return
	}
	// Exit.Close already unregisters the position via MarkClosed; closed
	// carries the final accounting since the registry entry is gone by now.

	pnlPct := 0.0
	if notional := closed.EntryPrice * closed.Quantity; notional != 0 {
		pnlPct = closed.RealizedPnL / notional * 100
	}
	w.deps.RiskManager.RecordClosedTrade(closed.RealizedPnL, pnlPct, w.deps.ProfileManager.Current().Equity)

	if w.deps.Notifier != nil {
		w.deps.Notifier.NotifyExit(w.symbol, closed.Side, closed.EntryPrice, closed.ExitPrice, closed.RealizedPnL, reason)
	}
	if w.deps.EventBus != nil {
		w.deps.EventBus.PublishPositionClosed(w.symbol, string(reason), closed.EntryPrice, closed.ExitPrice, closed.Quantity, closed.RealizedPnL, pnlPct)
	}

	if w.deps.Store != nil {
		grossPnL := closed.RealizedPnL + closed.Fees
		_ = w.deps.Store.RecordTrade(ctx, persistence.TradeRecord{
			ClosedAt:       closed.ClosedAt,
			Symbol:         w.symbol,
			Side:           closed.Side,
			EntryPrice:     closed.EntryPrice,
			ExitPrice:      closed.ExitPrice,
			Size:           closed.Quantity,
			Leverage:       closed.Leverage,
			GrossPnL:       grossPnL,
			Fees:           closed.Fees,
			NetPnL:         closed.RealizedPnL,
			DurationS:      closed.ClosedAt.Sub(closed.OpenedAt).Seconds(),
			RegimeAtEntry:  closed.RegimeAtEntry,
			ProfileAtEntry: closed.BalanceProfileAtEntry,
			CloseReason:    reason,
		})
	}
}

func (w *worker) evaluateEntry(ctx context.Context, currentRegime domain.Regime, snap domain.IndicatorSnapshot, price domain.PriceReading, candles []domain.Candle) {
	activeProfile := w.deps.ProfileManager.Current()
	tierCfg := w.deps.ProfileManager.TierConfigFor(activeProfile.Tier)

	higherTF := w.deps.DataRegistry.Candles(w.symbol, HigherTimeframe)
	htfSnap := domain.IndicatorSnapshot{}
	if len(higherTF) > 0 {
		htfSnap = w.deps.Indicators.Compute(w.symbol, HigherTimeframe, higherTF)
	}

	input := pipeline.Input{
		Symbol:           w.symbol,
		Snapshot:         snap,
		Regime:           currentRegime,
		Candles:          candles,
		PriceReading:     price,
		MinScoreBoost:    tierCfg.MinScoreBoost,
		HigherTFSnapshot: htfSnap,
		RiskCanOpen: func() (bool, string) {
			ok, reason, _ := w.deps.RiskManager.CanOpen(activeProfile.Equity, tierCfg.MaxConcurrent, tierCfg.MinPositionUSD, w.deps.Leverage)
			return ok, string(reason)
		},
	}

	proposal, accepted := w.deps.Pipeline.Evaluate(input)
	if !accepted {
		return
	}

	sym := domain.Symbol{Name: w.symbol}
	sizeResult := w.deps.RiskManager.Size(activeProfile.Equity, currentRegime, activeProfile,
		w.deps.TierLimitsFor(activeProfile.Tier), proposal.Score, snap.ATR, price.Price, sym)

	executed := !sizeResult.Rejected
	if executed {
		ok, _, reason := w.deps.RiskManager.CanOpen(activeProfile.Equity, tierCfg.MaxConcurrent, sizeResult.USD, w.deps.Leverage)
		if !ok {
			executed = false
			w.log.WithField("reason", reason).Info("risk controller denied entry")
		}
	}

	var orderID string
	if executed {
		regimeTPSL, ok := w.deps.TPSL[currentRegime]
		if !ok {
			regimeTPSL = w.deps.TPSL[domain.RegimeChoppy]
		}
		if err := w.deps.Entry.Open(ctx, proposal, regimeTPSL, sizeResult.Contracts, currentRegime, activeProfile.Tier); err != nil {
			w.log.WithError(err).Error("entry open failed")
			executed = false
		} else {
			if w.deps.Notifier != nil {
				w.deps.Notifier.NotifyEntry(w.symbol, proposal.Side, proposal.Price, sizeResult.Contracts, proposal.Strategy)
			}
			if w.deps.EventBus != nil {
				w.deps.EventBus.PublishPositionOpened(w.symbol, string(proposal.Side), proposal.Price, sizeResult.Contracts, w.deps.Leverage)
			}
		}
	}
	if w.deps.EventBus != nil {
		w.deps.EventBus.PublishSignal(string(proposal.Strategy), w.symbol, string(proposal.Side), proposal.Score, proposal.Price)
	}

	if w.deps.Store != nil {
		_ = w.deps.Store.RecordSignal(ctx, persistence.SignalRecord{
			Timestamp:     proposal.GeneratedAt,
			Symbol:        w.symbol,
			Side:          proposal.Side,
			Type:          proposal.Strategy,
			Score:         proposal.Score,
			Executed:      executed,
			OrderID:       orderID,
			FiltersPassed: proposal.Reasons,
		})
	}
}

func candleRange(candles []domain.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	window := candles
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	high, low = window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}
