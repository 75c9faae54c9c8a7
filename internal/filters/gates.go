package filters

import "okx-scalper/internal/domain"

// DataHealthFilter rejects proposals built on a stale or missing price, or
// an un-warmed indicator snapshot.
type DataHealthFilter struct{}

func (DataHealthFilter) Name() string { return "data_health" }

func (DataHealthFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if !ctx.Snapshot.WarmedUp {
		return reject("indicators_not_warmed_up")
	}
	if !ctx.PriceReading.Source.Live() {
		return reject("price_source_not_live")
	}
	return accept()
}

// VolatilityRegimeFilter rejects if ATR% of price falls outside the
// configured [vol_min, vol_max] band.
type VolatilityRegimeFilter struct{}

func (VolatilityRegimeFilter) Name() string { return "volatility_regime" }

func (VolatilityRegimeFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.PriceReading.Price <= 0 {
		return reject("no_price")
	}
	atrPct := ctx.Snapshot.ATR / ctx.PriceReading.Price * 100
	if atrPct < ctx.RegimeConfig.VolMin || atrPct > ctx.RegimeConfig.VolMax {
		return reject("atr_pct_out_of_band")
	}
	return accept()
}

// RiskFilter rejects if the Risk Controller currently denies new entries
// (daily loss limit, circuit breaker open, max concurrent reached).
type RiskFilter struct{}

func (RiskFilter) Name() string { return "risk" }

func (RiskFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.RiskCanOpen == nil {
		return accept()
	}
	ok, reason := ctx.RiskCanOpen()
	if !ok {
		return reject(reason)
	}
	return accept()
}

// ADXDirectionFilter rejects a proposal whose side conflicts with a strong
// ADX-confirmed directional move.
type ADXDirectionFilter struct{}

func (ADXDirectionFilter) Name() string { return "adx_direction" }

func (ADXDirectionFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.Snapshot.ADX < ctx.RegimeConfig.ADXDirectionThresh {
		return accept()
	}
	strongUp := ctx.Snapshot.PlusDI > ctx.Snapshot.MinusDI
	if strongUp && p.Side == domain.SideShort {
		return reject("adx_direction_conflict")
	}
	if !strongUp && p.Side == domain.SideLong {
		return reject("adx_direction_conflict")
	}
	return accept()
}

// MultiTimeframeFilter rejects or attenuates when the higher-timeframe EMA
// cross opposes the proposal's side. The higher-timeframe snapshot arrives
// fresh on ctx every call, since the 15m bar changes independently of the
// 1m bar the rest of the stack evaluates against.
type MultiTimeframeFilter struct{}

func (MultiTimeframeFilter) Name() string { return "multi_timeframe" }

func (MultiTimeframeFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	htfUp := ctx.HigherTFSnapshot.EMAFast > ctx.HigherTFSnapshot.EMASlow
	opposes := (htfUp && p.Side == domain.SideShort) || (!htfUp && p.Side == domain.SideLong)
	if !opposes {
		return accept()
	}
	if ctx.RegimeConfig.BlockOppositeMTF {
		return reject("mtf_opposes_block")
	}
	return modify(ctx.RegimeConfig.ConflictMultiplier)
}

// CorrelationFilter rejects when another open position on a correlated
// symbol opposes this proposal's side and the correlation exceeds threshold.
type CorrelationFilter struct{}

func (CorrelationFilter) Name() string { return "correlation" }

func (CorrelationFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.CorrelatedOpenOpposing && ctx.CorrelationCoeff >= ctx.RegimeConfig.CorrelationThresh {
		return reject("correlated_opposing_position")
	}
	return accept()
}

// LiquidityFilter rejects when spread or top-of-book depth is below minima.
type LiquidityFilter struct{}

func (LiquidityFilter) Name() string { return "liquidity" }

func (LiquidityFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.LiquiditySpreadPct > ctx.RegimeConfig.MinSpreadPct && ctx.RegimeConfig.MinSpreadPct > 0 {
		return reject("spread_too_wide")
	}
	if ctx.LiquidityDepth < ctx.RegimeConfig.MinDepth {
		return reject("insufficient_depth")
	}
	return accept()
}

// OrderFlowFilter attenuates a proposal whose side fights the recent
// buy/sell trade imbalance.
type OrderFlowFilter struct {
	AttenuationFactor float64 // e.g. 0.7
}

func (f OrderFlowFilter) Name() string { return "order_flow" }

func (f OrderFlowFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	against := (p.Side == domain.SideLong && ctx.OrderFlowImbalance < -0.2) ||
		(p.Side == domain.SideShort && ctx.OrderFlowImbalance > 0.2)
	if against {
		return modify(f.AttenuationFactor)
	}
	return accept()
}

// FundingRateFilter attenuates trades that pay heavily against the holding side.
type FundingRateFilter struct {
	HeavyThreshold    float64 // e.g. 0.001 (0.1% per period)
	AttenuationFactor float64
}

func (f FundingRateFilter) Name() string { return "funding_rate" }

func (f FundingRateFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	payingAgainst := (p.Side == domain.SideLong && ctx.FundingRate >= f.HeavyThreshold) ||
		(p.Side == domain.SideShort && ctx.FundingRate <= -f.HeavyThreshold)
	if payingAgainst {
		return modify(f.AttenuationFactor)
	}
	return accept()
}

// PivotFilter rejects entries attempting to push through a pivot resistance
// (long) or support (short) level from the wrong side, within a tolerance
// band scaled off current price. A long stalling right under R1/R2/R3, or a
// short stalling right above S1/S2/S3, is congestion rather than breakout.
type PivotFilter struct{}

func (PivotFilter) Name() string { return "pivot" }

func (PivotFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.RegimeConfig.PivotTolerancePct <= 0 || ctx.PriceReading.Price <= 0 {
		return accept()
	}
	tolerance := ctx.PriceReading.Price * ctx.RegimeConfig.PivotTolerancePct
	price := ctx.PriceReading.Price
	pivot := ctx.Snapshot.Pivot

	if p.Side == domain.SideLong {
		for _, level := range []float64{pivot.R1, pivot.R2, pivot.R3} {
			if level > 0 && dist(price, level) <= tolerance && price <= level {
				return reject("pivot_resistance_congestion")
			}
		}
	} else {
		for _, level := range []float64{pivot.S1, pivot.S2, pivot.S3} {
			if level > 0 && dist(price, level) <= tolerance && price >= level {
				return reject("pivot_support_congestion")
			}
		}
	}
	return accept()
}

// VolumeProfileFilter rejects signals formed on below-average volume and
// attenuates ones whose candle volume reads as pressure from the opposite
// side of the proposal.
type VolumeProfileFilter struct {
	AttenuationFactor float64
}

func (f VolumeProfileFilter) Name() string { return "volume_profile" }

func (f VolumeProfileFilter) Apply(ctx Context, p domain.Proposal) Outcome {
	if ctx.RegimeConfig.MinVolumeRatio > 0 && ctx.Snapshot.VolumeRatio < ctx.RegimeConfig.MinVolumeRatio {
		return reject("volume_below_average")
	}
	against := (p.Side == domain.SideLong && ctx.Snapshot.VolumeType == domain.VolumeTypeSelling) ||
		(p.Side == domain.SideShort && ctx.Snapshot.VolumeType == domain.VolumeTypeBuying)
	if against {
		return modify(f.AttenuationFactor)
	}
	return accept()
}
