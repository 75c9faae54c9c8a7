package risk

import (
	"context"

	"okx-scalper/internal/exchange"
)

// ExchangeMarginChecker implements MarginChecker against the live exchange
// client's account balance, per spec.md §4.9's "margin available after
// isolated-margin allocation at configured leverage" admission check.
type ExchangeMarginChecker struct {
	client exchange.Client
}

// NewExchangeMarginChecker wraps an existing exchange client as a MarginChecker.
func NewExchangeMarginChecker(client exchange.Client) *ExchangeMarginChecker {
	return &ExchangeMarginChecker{client: client}
}

// MarginAvailable reports whether usd/leverage of isolated margin fits
// within the account's currently available balance.
func (c *ExchangeMarginChecker) MarginAvailable(usd float64, leverage int) (bool, error) {
	if leverage <= 0 {
		leverage = 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), exchange.DefaultCallTimeout)
	defer cancel()
	bal, err := c.client.GetBalance(ctx)
	if err != nil {
		return false, err
	}
	required := usd / float64(leverage)
	return required <= bal.Available, nil
}
