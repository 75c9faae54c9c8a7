package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/exchange"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/positions"
)

// FeeRates holds the maker/taker fee rates used for realized PnL
// accounting (spec.md §4.12).
type FeeRates struct {
	MakerPct float64 `json:"maker"`
	TakerPct float64 `json:"taker"`
}

// ExitConfig controls the Exit Executor's close-failure retry bounds.
type ExitConfig struct {
	CloseRetries int
	Fees         FeeRates
}

// DefaultExitConfig matches a conservative production default.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{CloseRetries: 5, Fees: FeeRates{MakerPct: 0.02, TakerPct: 0.05}}
}

// Exit is the Exit Executor.
type Exit struct {
	client   exchange.Client
	registry *positions.Registry
	config   ExitConfig
	log      *logging.Logger
}

// NewExit builds an Exit Executor.
func NewExit(client exchange.Client, registry *positions.Registry, config ExitConfig) *Exit {
	return &Exit{client: client, registry: registry, config: config, log: logging.WithComponent("execution.exit")}
}

// Close runs the exit sequence for a position the Lifecycle Manager has
// already CAS'd into Closing: place a reduce-only close, reconcile the
// fill, compute fees and realized PnL, and unregister the position.
//
// Exchange close failure while Closing retries with exponential backoff; if
// exhausted it leaves the position in Closing (never reverts to Open) so
// the next attempt is idempotent, per spec.md §4.11's failure semantics.
func (x *Exit) Close(ctx context.Context, symbol string, reason domain.ExitReason, orderType exchange.OrderType) (domain.PositionMetadata, error) {
	meta, ok := x.registry.Get(symbol)
	if !ok || meta.State != domain.PositionClosing {
		return domain.PositionMetadata{}, fmt.Errorf("position %s is not in Closing state", symbol)
	}

	closeSide := exchange.OrderSell
	if meta.Side == domain.SideShort {
		closeSide = exchange.OrderBuy
	}

	var result exchange.OrderResult
	attempt := 0
	operation := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, exchange.DefaultCallTimeout)
		defer cancel()
		r, err := x.client.PlaceOrder(callCtx, exchange.OrderParams{
			Symbol:     symbol,
			Side:       closeSide,
			Type:       orderType,
			Quantity:   meta.Quantity,
			ReduceOnly: true,
		})
		if err != nil {
			if attempt >= x.config.CloseRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(x.config.CloseRetries))
	if err := backoff.Retry(operation, b); err != nil {
		x.log.WithField("symbol", symbol).WithError(err).Error("close order exhausted retries, leaving position in closing")
		return domain.PositionMetadata{}, fmt.Errorf("close order failed after retries: %w", err)
	}

	feeRate := x.config.Fees.TakerPct
	if orderType == exchange.OrderLimit {
		feeRate = x.config.Fees.MakerPct
	}
	notional := result.FillPrice * result.FillQty
	fees := notional * feeRate / 100

	realizedPnL := (result.FillPrice-meta.EntryPrice)*meta.Side.Dir()*meta.Quantity - fees

	if err := x.registry.MarkClosed(symbol, reason, result.FillPrice, realizedPnL, fees); err != nil {
		return domain.PositionMetadata{}, err
	}

	meta.State = domain.PositionClosed
	meta.ExitReason = reason
	meta.ExitPrice = result.FillPrice
	meta.RealizedPnL = realizedPnL
	meta.Fees = fees
	meta.ClosedAt = time.Now().UTC()
	return meta, nil
}

// DurationHeld returns ClosedAt minus OpenedAt, or the time elapsed since
// OpenedAt while ClosedAt is unset.
func DurationHeld(meta domain.PositionMetadata) time.Duration {
	if meta.ClosedAt.IsZero() {
		return time.Since(meta.OpenedAt)
	}
	return meta.ClosedAt.Sub(meta.OpenedAt)
}
