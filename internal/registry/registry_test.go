package registry

import (
	"testing"
	"time"

	"okx-scalper/internal/domain"
)

func TestUpdateCandlesRejectsInvertedOHLC(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	bad := []domain.Candle{
		{Symbol: "BTC-USDT-SWAP", OpenTime: time.Now(), Open: 100, High: 90, Low: 80, Close: 95},
	}
	if err := r.UpdateCandles("BTC-USDT-SWAP", "1m", bad); err == nil {
		t.Fatal("expected rejection of high < max(open,close)")
	}
	if got := r.Candles("BTC-USDT-SWAP", "1m"); len(got) != 0 {
		t.Fatalf("registry must not expose the rejected window, got %d candles", len(got))
	}
}

func TestUpdateCandlesRejectsTimestampRegression(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	now := time.Now()
	candles := []domain.Candle{
		{OpenTime: now, Open: 100, High: 101, Low: 99, Close: 100.5},
		{OpenTime: now.Add(-time.Minute), Open: 100, High: 101, Low: 99, Close: 100.5},
	}
	if err := r.UpdateCandles("BTC-USDT-SWAP", "1m", candles); err == nil {
		t.Fatal("expected rejection of non-monotonic timestamps")
	}
}

func TestUpdateTickRejectsNonPositivePrice(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	if err := r.UpdateTick("BTC-USDT-SWAP", domain.Tick{Price: 0, Timestamp: time.Now()}); err == nil {
		t.Fatal("expected rejection of zero price tick")
	}
}

func TestUpdateTickRejectsLastOutsideBidAsk(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	bad := domain.Tick{Price: 3210, Bid: 3190, Ask: 3200, Timestamp: time.Now()}
	if err := r.UpdateTick("ETH-USDT-SWAP", bad); err == nil {
		t.Fatal("expected rejection of a last price outside [bid, ask]")
	}
}

func TestUpdateTickRejectsOneSidedBidAsk(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	bad := domain.Tick{Price: 3200, Bid: 3199, Ask: 0, Timestamp: time.Now()}
	if err := r.UpdateTick("ETH-USDT-SWAP", bad); err == nil {
		t.Fatal("expected rejection of a tick missing one side of bid/ask")
	}
}

func TestGetCurrentPriceFreshTick(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	_ = r.UpdateTick("ETH-USDT-SWAP", domain.Tick{Price: 3200, Bid: 3199.5, Ask: 3200.5, Timestamp: time.Now()})
	reading := r.GetCurrentPrice("ETH-USDT-SWAP")
	if reading.Source != domain.PriceSourceFreshTick {
		t.Fatalf("source = %v, want fresh tick", reading.Source)
	}
	if reading.Price != 3200 {
		t.Fatalf("price = %v", reading.Price)
	}
}

func TestGetCurrentPriceFallsBackToEntryPrice(t *testing.T) {
	entryLookup := func(symbol string) (float64, bool) {
		if symbol == "SOL-USDT-SWAP" {
			return 150.0, true
		}
		return 0, false
	}
	r := New(DefaultFallbackConfig(), nil, entryLookup)
	reading := r.GetCurrentPrice("SOL-USDT-SWAP")
	if reading.Source != domain.PriceSourceEntry {
		t.Fatalf("source = %v, want entry fallback", reading.Source)
	}
	if reading.Price != 150.0 {
		t.Fatalf("price = %v", reading.Price)
	}
}

func TestGetCurrentPriceUnavailable(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	reading := r.GetCurrentPrice("XRP-USDT-SWAP")
	if reading.Source != domain.PriceSourceUnavailable {
		t.Fatalf("source = %v, want unavailable", reading.Source)
	}
}

func TestGetCurrentPriceStaleTickNotFreshEnoughFallsThrough(t *testing.T) {
	r := New(DefaultFallbackConfig(), nil, nil)
	_ = r.UpdateTick("BTC-USDT-SWAP", domain.Tick{Price: 60000, Bid: 59995, Ask: 60005, Timestamp: time.Now().Add(-3 * time.Second)})
	reading := r.GetCurrentPrice("BTC-USDT-SWAP")
	if reading.Source != domain.PriceSourceStaleTick {
		t.Fatalf("source = %v, want stale tick", reading.Source)
	}
}
