package filters

import (
	"testing"

	"okx-scalper/internal/domain"
)

func TestCounterTrendHardRejectedInTrending(t *testing.T) {
	ctx := Context{
		Snapshot: domain.IndicatorSnapshot{EMAFast: 95, EMASlow: 100}, // downtrend
		Regime:   domain.RegimeTrending,
		RegimeConfig: RegimeParams{ConflictMultiplier: 0.5},
	}
	p := domain.Proposal{Side: domain.SideLong} // opposes downtrend

	outcome, isCT := CounterTrendInTrending(ctx, p)
	if !isCT {
		t.Fatal("expected proposal to be flagged as counter-trend")
	}
	if outcome.Decision != Reject {
		t.Fatalf("expected hard rejection in trending regime, got %v", outcome.Decision)
	}
	if outcome.Reason != "counter_trend_in_trending" {
		t.Fatalf("reason = %q", outcome.Reason)
	}
}

func TestCounterTrendAttenuatedInRanging(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{EMAFast: 95, EMASlow: 100},
		Regime:       domain.RegimeRanging,
		RegimeConfig: RegimeParams{ConflictMultiplier: 0.5},
	}
	p := domain.Proposal{Side: domain.SideLong}

	outcome, isCT := CounterTrendInTrending(ctx, p)
	if !isCT {
		t.Fatal("expected counter-trend flag")
	}
	if outcome.Decision != Modify || outcome.ScoreMultiplier != 0.5 {
		t.Fatalf("expected attenuation by conflict multiplier in ranging regime, got %+v", outcome)
	}
}

func TestDataHealthFilterRejectsUnwarmedIndicators(t *testing.T) {
	ctx := Context{Snapshot: domain.IndicatorSnapshot{WarmedUp: false}}
	outcome := DataHealthFilter{}.Apply(ctx, domain.Proposal{})
	if outcome.Decision != Reject {
		t.Fatalf("expected rejection, got %v", outcome.Decision)
	}
}

func TestStackShortCircuitsOnFirstRejection(t *testing.T) {
	stack := NewStack(DataHealthFilter{}, RiskFilter{})
	ctx := Context{Snapshot: domain.IndicatorSnapshot{WarmedUp: false}}
	result := stack.Run(ctx, domain.Proposal{})
	if result.Accepted {
		t.Fatal("expected stack to reject")
	}
	if result.RejectReason != "indicators_not_warmed_up" {
		t.Fatalf("reject reason = %q", result.RejectReason)
	}
}

func TestStackMultipliesModifyOutcomes(t *testing.T) {
	stack := NewStack(
		OrderFlowFilter{AttenuationFactor: 0.7},
		FundingRateFilter{HeavyThreshold: 0.001, AttenuationFactor: 0.9},
	)
	ctx := Context{
		Snapshot:        domain.IndicatorSnapshot{WarmedUp: true},
		PriceReading:    domain.PriceReading{Source: domain.PriceSourceFreshTick, Price: 100},
		OrderFlowImbalance: -0.5,
		FundingRate:        0.002,
	}
	p := domain.Proposal{Side: domain.SideLong}
	result := stack.Run(ctx, p)
	if !result.Accepted {
		t.Fatal("expected acceptance with attenuation")
	}
	want := 0.7 * 0.9
	if result.ScoreMultiplier < want-1e-9 || result.ScoreMultiplier > want+1e-9 {
		t.Fatalf("score multiplier = %v, want %v", result.ScoreMultiplier, want)
	}
}

func TestMultiTimeframeFilterReadsSnapshotFromContextEachCall(t *testing.T) {
	filter := MultiTimeframeFilter{}
	p := domain.Proposal{Side: domain.SideLong}

	// Higher-timeframe downtrend with a hard block configured: reject.
	blocking := Context{
		HigherTFSnapshot: domain.IndicatorSnapshot{EMAFast: 90, EMASlow: 100},
		RegimeConfig:     RegimeParams{BlockOppositeMTF: true},
	}
	if outcome := filter.Apply(blocking, p); outcome.Decision != Reject {
		t.Fatalf("expected reject when higher timeframe opposes and blocking is on, got %v", outcome.Decision)
	}

	// Same filter instance, a fresh call with an aligned higher-timeframe
	// snapshot must accept, since the snapshot comes from ctx and isn't
	// baked in at construction time.
	aligned := Context{
		HigherTFSnapshot: domain.IndicatorSnapshot{EMAFast: 110, EMASlow: 100},
		RegimeConfig:     RegimeParams{BlockOppositeMTF: true},
	}
	if outcome := filter.Apply(aligned, p); outcome.Decision != Accept {
		t.Fatalf("expected accept when higher timeframe aligns, got %v", outcome.Decision)
	}
}

func TestPivotFilterRejectsLongStallingUnderResistance(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{Pivot: domain.PivotLevels{R1: 100.2}},
		PriceReading: domain.PriceReading{Price: 100},
		RegimeConfig: RegimeParams{PivotTolerancePct: 0.005}, // 0.5% tolerance ~0.5
	}
	outcome := PivotFilter{}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Reject || outcome.Reason != "pivot_resistance_congestion" {
		t.Fatalf("expected pivot_resistance_congestion rejection, got %+v", outcome)
	}
}

func TestPivotFilterAcceptsLongAfterClearingResistance(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{Pivot: domain.PivotLevels{R1: 100.2}},
		PriceReading: domain.PriceReading{Price: 101},
		RegimeConfig: RegimeParams{PivotTolerancePct: 0.005},
	}
	outcome := PivotFilter{}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Accept {
		t.Fatalf("expected accept once price has cleared R1, got %v", outcome.Decision)
	}
}

func TestPivotFilterDisabledWhenToleranceZero(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{Pivot: domain.PivotLevels{R1: 100.2}},
		PriceReading: domain.PriceReading{Price: 100},
	}
	outcome := PivotFilter{}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Accept {
		t.Fatalf("expected accept when pivot filter disabled, got %v", outcome.Decision)
	}
}

func TestVolumeProfileFilterRejectsBelowAverageVolume(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{VolumeRatio: 0.4},
		RegimeConfig: RegimeParams{MinVolumeRatio: 0.8},
	}
	outcome := VolumeProfileFilter{AttenuationFactor: 0.6}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Reject || outcome.Reason != "volume_below_average" {
		t.Fatalf("expected volume_below_average rejection, got %+v", outcome)
	}
}

func TestVolumeProfileFilterAttenuatesOpposingPressure(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{VolumeRatio: 1.5, VolumeType: domain.VolumeTypeSelling},
		RegimeConfig: RegimeParams{MinVolumeRatio: 0.5},
	}
	outcome := VolumeProfileFilter{AttenuationFactor: 0.6}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Modify || outcome.ScoreMultiplier != 0.6 {
		t.Fatalf("expected attenuation for long against selling pressure, got %+v", outcome)
	}
}

func TestVolumeProfileFilterAcceptsConfirmingVolume(t *testing.T) {
	ctx := Context{
		Snapshot:     domain.IndicatorSnapshot{VolumeRatio: 1.5, VolumeType: domain.VolumeTypeBuying},
		RegimeConfig: RegimeParams{MinVolumeRatio: 0.5},
	}
	outcome := VolumeProfileFilter{AttenuationFactor: 0.6}.Apply(ctx, domain.Proposal{Side: domain.SideLong})
	if outcome.Decision != Accept {
		t.Fatalf("expected accept when volume confirms the long, got %v", outcome.Decision)
	}
}
