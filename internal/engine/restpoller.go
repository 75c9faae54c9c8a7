package engine

import (
	"context"

	"okx-scalper/internal/exchange"
)

// RestPoller adapts exchange.Client's context-taking GetTicker into the
// synchronous shape registry.RestPoller expects, for the Data Registry's
// REST-last-price fallback rung.
type RestPoller struct {
	Client exchange.Client
}

// NewRestPoller wraps an exchange client for use as a registry.RestPoller.
func NewRestPoller(client exchange.Client) RestPoller {
	return RestPoller{Client: client}
}

func (p RestPoller) GetTicker(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), exchange.DefaultCallTimeout)
	defer cancel()
	t, err := p.Client.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}
