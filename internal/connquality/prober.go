package connquality

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"

	"okx-scalper/internal/exchange"
)

// ExchangeProber probes connection quality using the live exchange client's
// ticker endpoint as a cheap, always-available round trip.
type ExchangeProber struct {
	client      exchange.Client
	probeSymbol string
	timeout     time.Duration
}

// NewExchangeProber builds a Prober around an existing exchange client.
func NewExchangeProber(client exchange.Client, probeSymbol string) *ExchangeProber {
	return &ExchangeProber{client: client, probeSymbol: probeSymbol, timeout: 5 * time.Second}
}

func (p *ExchangeProber) Probe(ctx context.Context) (time.Duration, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.GetTicker(callCtx, p.probeSymbol)
	latency := time.Since(start)

	if err != nil {
		return latency, isTLSError(err), err
	}
	return latency, false, nil
}

func isTLSError(err error) bool {
	var certErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	var opErr *net.OpError
	switch {
	case errors.As(err, &certErr), errors.As(err, &hostErr), errors.As(err, &recordErr):
		return true
	case errors.As(err, &opErr):
		return opErr.Op == "remote error" || opErr.Op == "tls"
	default:
		return false
	}
}
