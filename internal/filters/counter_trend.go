package filters

import "okx-scalper/internal/domain"

// CounterTrendInTrending is the one mandatory, non-configurable gate named in
// spec.md §4.5: in a trending regime, a proposal opposing the EMA_fast vs
// EMA_slow direction is hard-rejected, never merely attenuated. In ranging
// or choppy regimes it is allowed through but with a score multiplier.
//
// This lives outside the ordered Stack because it must run before any other
// filter can attenuate it away — the spec treats it as a property of the
// regime itself, not a swappable pipeline stage.
func CounterTrendInTrending(ctx Context, p domain.Proposal) (outcome Outcome, isCounterTrend bool) {
	trendUp := ctx.Snapshot.EMAFast > ctx.Snapshot.EMASlow
	opposes := (trendUp && p.Side == domain.SideShort) || (!trendUp && p.Side == domain.SideLong)
	if !opposes {
		return accept(), false
	}
	if ctx.Regime == domain.RegimeTrending {
		return reject("counter_trend_in_trending"), true
	}
	return modify(ctx.RegimeConfig.ConflictMultiplier), true
}
