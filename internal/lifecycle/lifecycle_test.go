package lifecycle

import (
	"testing"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/positions"
	"okx-scalper/internal/profile"
)

func testTierConfig(domain.BalanceTier) profile.TierConfig {
	return profile.TierConfig{PHMultiplier: 1}
}

func testRegimeConfig() map[domain.Regime]RegimeConfig {
	return map[domain.Regime]RegimeConfig{
		domain.RegimeTrending: {TPPercent: 1, SLPercent: 1, PHThreshold: 5, PHTimeLimitS: 600, MinHoldingS: 30, TimeoutMinutes: 30, TimeoutLossPct: 0.5},
		domain.RegimeRanging:  {TPPercent: 1, SLPercent: 1, PHThreshold: 5, PHTimeLimitS: 600, MinHoldingS: 30, TimeoutMinutes: 30, TimeoutLossPct: 0.5},
		domain.RegimeChoppy:   {TPPercent: 1, SLPercent: 1, PHThreshold: 5, PHTimeLimitS: 600, MinHoldingS: 30, TimeoutMinutes: 30, TimeoutLossPct: 0.5},
	}
}

func openPosition(t *testing.T, reg *positions.Registry, symbol string, side domain.Side, entryPrice, quantity float64, opened time.Time) {
	t.Helper()
	if err := reg.Register(symbol, domain.PositionMetadata{Side: side, RegimeAtEntry: domain.RegimeRanging, BalanceProfileAtEntry: domain.TierSmall}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.MarkOpen(symbol, entryPrice, quantity, 5); err != nil {
		t.Fatalf("mark open: %v", err)
	}
	_ = reg.UpdateMetadata(symbol, func(m *domain.PositionMetadata) {
		m.OriginalStop = entryPrice * 0.99
		m.TakeProfit = entryPrice * 1.01
		m.OpenedAt = opened
	})
}

func TestEvaluateSkipsWhenPriceNotLive(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "BTC-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	d := m.Evaluate("BTC-USDT-SWAP", domain.IndicatorSnapshot{}, domain.RegimeRanging,
		domain.PriceReading{Price: 50, Source: domain.PriceSourceEntry}, time.Now())

	if d.Action != ActionNone {
		t.Fatalf("expected no action on a non-live price source, got %v", d.Action)
	}
}

func TestEvaluateClosesOnStopLoss(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "ETH-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	d := m.Evaluate("ETH-USDT-SWAP", domain.IndicatorSnapshot{}, domain.RegimeRanging,
		domain.PriceReading{Price: 98.9, Source: domain.PriceSourceFreshTick}, time.Now())

	if d.Action != ActionClose || d.Reason != domain.ExitStopLoss {
		t.Fatalf("expected sl_hit close, got %+v", d)
	}
}

func TestEvaluateExtendsTPInTrendingAlignment(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "SOL-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	snap := domain.IndicatorSnapshot{EMAFast: 110, EMASlow: 100}
	d := m.Evaluate("SOL-USDT-SWAP", snap, domain.RegimeTrending,
		domain.PriceReading{Price: 101.5, Source: domain.PriceSourceFreshTick}, time.Now())

	if d.Action != ActionExtendTP || d.Reason != domain.ExitTPExtended {
		t.Fatalf("expected tp_extended, got %+v", d)
	}
	meta, _ := reg.Get("SOL-USDT-SWAP")
	if meta.TPExtensions != 1 || !meta.TrailingActive {
		t.Fatalf("expected TPExtensions incremented and trailing activated, got %+v", meta)
	}
}

func TestEvaluateClosesOnTakeProfitWhenNotTrendAligned(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "XRP-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	d := m.Evaluate("XRP-USDT-SWAP", domain.IndicatorSnapshot{}, domain.RegimeRanging,
		domain.PriceReading{Price: 101.5, Source: domain.PriceSourceFreshTick}, time.Now())

	if d.Action != ActionClose || d.Reason != domain.ExitTakeProfitHit {
		t.Fatalf("expected tp_hit close, got %+v", d)
	}
}

func TestEvaluateSkipsAllChecksBeforeMinHoldingForSmartExit(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "DOGE-USDT-SWAP", domain.SideLong, 100, 1, time.Now())

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	snap := domain.IndicatorSnapshot{RSI: 30, MACDHist: -1, ADX: 10}
	d := m.Evaluate("DOGE-USDT-SWAP", snap, domain.RegimeRanging,
		domain.PriceReading{Price: 100.05, Source: domain.PriceSourceFreshTick}, time.Now())

	if d.Action != ActionNone {
		t.Fatalf("expected no action before min_holding elapses, got %+v", d)
	}
}

func TestEvaluateProfitDrawdownRequiresMinProfitToProtect(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "ADA-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))
	_ = reg.UpdateMetadata("ADA-USDT-SWAP", func(m *domain.PositionMetadata) {
		m.PeakPnLUSD = 1
		m.PeakSet = true
	})

	cfg := DefaultConfig()
	cfg.DrawdownPct = 0.1
	cfg.MinProfitToProtect = 5
	m := New(reg, testTierConfig, cfg, testRegimeConfig())

	// Net PnL 0.2 USD is an 80% drawdown from the 1 USD peak (over DrawdownPct)
	// but stays under MinProfitToProtect, so profit_drawdown does not fire.
	d := m.Evaluate("ADA-USDT-SWAP", domain.IndicatorSnapshot{}, domain.RegimeChoppy,
		domain.PriceReading{Price: 100.2, Source: domain.PriceSourceFreshTick}, time.Now())
	if d.Action == ActionClose && d.Reason == domain.ExitProfitDrawdown {
		t.Fatal("profit_drawdown should not fire below min_profit_to_protect")
	}
}

func TestEvaluateClosesOnSmartExitReversalEvidence(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "BNB-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-5*time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	// RSI below the 50 cross level and a negative MACD histogram both vote
	// reversal-against-long; price sitting at/below BBMiddle supplies the
	// third vote. pnl stays well under the 1% take-profit so TP never
	// preempts smart_exit.
	snap := domain.IndicatorSnapshot{RSI: 40, MACDHist: -1, ADX: 25, BBMiddle: 100.5}
	d := m.Evaluate("BNB-USDT-SWAP", snap, domain.RegimeRanging,
		domain.PriceReading{Price: 100.3, Source: domain.PriceSourceFreshTick}, time.Now())

	if d.Action != ActionClose || d.Reason != domain.ExitSmartExit {
		t.Fatalf("expected smart_exit close, got %+v", d)
	}
}

func TestReversalEvidenceBBVoteRequiresPriceCrossingMiddleBand(t *testing.T) {
	cfg := DefaultConfig()
	// RSI alone votes (MACD and ADX do not), one vote short of the 2-vote
	// bar, unless price at/below BBMiddle supplies the deciding second vote.
	snap := domain.IndicatorSnapshot{RSI: 40, MACDHist: 1, ADX: 25, BBMiddle: 100.5}
	if reversalEvidence(domain.SideLong, snap, cfg, 101) {
		t.Fatalf("expected no reversal evidence with price above BBMiddle and only one other vote")
	}
	if !reversalEvidence(domain.SideLong, snap, cfg, 100) {
		t.Fatalf("expected reversal evidence once price crosses at/below BBMiddle")
	}
}

func TestUpdatePeakNeverWorsensOnceSet(t *testing.T) {
	reg := positions.New(nil)
	openPosition(t, reg, "LTC-USDT-SWAP", domain.SideLong, 100, 1, time.Now().Add(-time.Minute))

	m := New(reg, testTierConfig, DefaultConfig(), testRegimeConfig())
	meta, _ := reg.Get("LTC-USDT-SWAP")
	m.updatePeak("LTC-USDT-SWAP", &meta, 10)
	meta, _ = reg.Get("LTC-USDT-SWAP")
	if meta.PeakPnLUSD != 10 || !meta.PeakSet {
		t.Fatalf("expected peak set to 10, got %+v", meta)
	}

	m.updatePeak("LTC-USDT-SWAP", &meta, 3)
	meta, _ = reg.Get("LTC-USDT-SWAP")
	if meta.PeakPnLUSD != 10 {
		t.Fatalf("expected peak to remain 10 after a worse observation, got %v", meta.PeakPnLUSD)
	}
}
