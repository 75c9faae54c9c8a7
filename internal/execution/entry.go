// Package execution is the Entry Executor (C10) and Exit Executor (C12):
// the only code that places or closes orders on the exchange.
package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/exchange"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/positions"
)

// RegimeTPSL holds the configured TP/SL base percentages and ATR
// multipliers for one regime, per spec.md §4.10 step 2.
type RegimeTPSL struct {
	TPPercent      float64
	SLPercent      float64
	TPAtrMultiplier float64
	SLAtrMultiplier float64
}

// Config controls the Entry Executor's retry bounds.
type Config struct {
	LeverageRetries int
	RepriceRetries  int
	RepriceOffsetPct float64 // shrunk on each reprice attempt
	MarginMode      exchange.MarginMode
	OrderType       exchange.OrderType
	PostOnly        bool
}

// DefaultConfig matches a conservative production default.
func DefaultConfig() Config {
	return Config{
		LeverageRetries:  3,
		RepriceRetries:   3,
		RepriceOffsetPct: 0.05,
		MarginMode:       exchange.MarginIsolated,
		OrderType:        exchange.OrderLimit,
		PostOnly:         true,
	}
}

// Entry is the Entry Executor.
type Entry struct {
	client    exchange.Client
	registry  *positions.Registry
	config    Config
	leverage  int
	log       *logging.Logger
}

// NewEntry builds an Entry Executor against a shared exchange client and
// Position Registry.
func NewEntry(client exchange.Client, registry *positions.Registry, config Config, leverage int) *Entry {
	return &Entry{
		client:   client,
		registry: registry,
		config:   config,
		leverage: leverage,
		log:      logging.WithComponent("execution.entry"),
	}
}

// Open runs the full entry sequence: leverage set, TP/SL snapshot, order
// placement with reprice-on-51006, and fill reconciliation.
func (e *Entry) Open(ctx context.Context, proposal domain.Proposal, regimeTPSL RegimeTPSL, quantity float64, regime domain.Regime, tier domain.BalanceTier) error {
	symbol := proposal.Symbol

	if err := e.registry.Register(symbol, domain.PositionMetadata{
		ID:                    uuid.NewString(),
		Side:                  proposal.Side,
		RegimeAtEntry:         proposal.Regime,
		BalanceProfileAtEntry: tier,
	}); err != nil {
		return fmt.Errorf("register pending position: %w", err)
	}

	if err := e.setLeverageWithRetry(ctx, symbol); err != nil {
		e.registry.MarkRejected(symbol)
		return fmt.Errorf("set leverage: %w", err)
	}

	tpPrice, slPrice := e.snapshotTPSL(proposal, regimeTPSL)

	result, err := e.placeWithReprice(ctx, proposal, quantity)
	if err != nil {
		e.registry.MarkRejected(symbol)
		return fmt.Errorf("place entry order: %w", err)
	}

	if err := e.registry.MarkOpen(symbol, result.FillPrice, result.FillQty, e.leverage); err != nil {
		return fmt.Errorf("mark position open: %w", err)
	}
	_ = e.registry.UpdateMetadata(symbol, func(m *domain.PositionMetadata) {
		m.StopLoss = slPrice
		m.TakeProfit = tpPrice
		m.OriginalStop = slPrice
		// HighWaterMark/LowWaterMark stay at their zero value until the
		// Lifecycle Manager's first observation — a real PnL reading, not a
		// placeholder peak.
	})
	return nil
}

// snapshotTPSL implements step 2: tp_percent = max(config, atr_multiplier *
// ATR / price * 100), symmetric for SL, converted to absolute prices.
func (e *Entry) snapshotTPSL(p domain.Proposal, cfg RegimeTPSL) (tpPrice, slPrice float64) {
	if p.Price <= 0 {
		return 0, 0
	}
	atrPct := 0.0
	if p.ATR > 0 {
		atrPct = p.ATR / p.Price * 100
	}
	tpPct := math.Max(cfg.TPPercent, cfg.TPAtrMultiplier*atrPct)
	slPct := math.Max(cfg.SLPercent, cfg.SLAtrMultiplier*atrPct)

	dir := p.Side.Dir()
	tpPrice = p.Price * (1 + dir*tpPct/100)
	slPrice = p.Price * (1 - dir*slPct/100)
	return tpPrice, slPrice
}

// setLeverageWithRetry handles the leverage-set call: retry on timeout
// (50004) up to LeverageRetries, backoff on 429, never proceed unresolved.
func (e *Entry) setLeverageWithRetry(ctx context.Context, symbol string) error {
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, exchange.DefaultCallTimeout)
		defer cancel()
		err := e.client.SetLeverage(callCtx, symbol, e.leverage, e.config.MarginMode)
		if err == nil {
			return nil
		}
		if exErr, ok := exchange.AsExchangeError(err); ok {
			switch exErr.Kind {
			case exchange.KindLeverageTimeout, exchange.KindRateLimited:
				if attempt >= e.config.LeverageRetries {
					return backoff.Permanent(err)
				}
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(e.config.LeverageRetries))
	return backoff.Retry(operation, b)
}

// placeWithReprice implements step 3: on 51006 (price out of limits),
// refresh price and retry with a reduced offset, up to RepriceRetries.
func (e *Entry) placeWithReprice(ctx context.Context, p domain.Proposal, quantity float64) (exchange.OrderResult, error) {
	offsetPct := e.config.RepriceOffsetPct
	price := p.Price

	var lastErr error
	for attempt := 0; attempt <= e.config.RepriceRetries; attempt++ {
		side := exchange.OrderBuy
		if p.Side == domain.SideShort {
			side = exchange.OrderSell
		}
		limitPrice := price * (1 + p.Side.Dir()*offsetPct/100)

		callCtx, cancel := context.WithTimeout(ctx, exchange.DefaultCallTimeout)
		result, err := e.client.PlaceOrder(callCtx, exchange.OrderParams{
			Symbol:   p.Symbol,
			Side:     side,
			Type:     e.config.OrderType,
			Quantity: quantity,
			Price:    limitPrice,
			PostOnly: e.config.PostOnly,
		})
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = err

		exErr, ok := exchange.AsExchangeError(err)
		if !ok || exErr.Kind != exchange.KindPriceOutOfLimits {
			return exchange.OrderResult{}, err
		}

		fresh, tickerErr := e.client.GetTicker(ctx, p.Symbol)
		if tickerErr == nil && fresh.Last > 0 {
			price = fresh.Last
		}
		offsetPct /= 2
		e.log.WithField("symbol", p.Symbol).WithField("attempt", attempt+1).Warn("order rejected as price out of limits, reprising")
		time.Sleep(100 * time.Millisecond)
	}
	return exchange.OrderResult{}, fmt.Errorf("reprice retries exhausted: %w", lastErr)
}
