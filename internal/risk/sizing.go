package risk

import (
	"okx-scalper/internal/domain"
)

// RegimeRiskConfig holds the per-regime risk_per_trade_pct and sizing
// multiplier used by the sizing algorithm's steps 1 and 3.
type RegimeRiskConfig struct {
	RiskPerTradePct  float64
	RegimeMultiplier float64
}

// DefaultRegimeRiskConfig matches the example values in spec.md §4.9.
func DefaultRegimeRiskConfig() map[domain.Regime]RegimeRiskConfig {
	return map[domain.Regime]RegimeRiskConfig{
		domain.RegimeTrending: {RiskPerTradePct: 1.0, RegimeMultiplier: 1.1},
		domain.RegimeRanging:  {RiskPerTradePct: 1.5, RegimeMultiplier: 1.0},
		domain.RegimeChoppy:   {RiskPerTradePct: 2.0, RegimeMultiplier: 0.8},
	}
}

// volAdjustment shrinks size as ATR% of price rises above a comfortable
// band, and never amplifies size for low volatility.
func volAdjustment(atrPct float64) float64 {
	const comfortable = 0.5 // ATR as % of price
	if atrPct <= comfortable {
		return 1.0
	}
	excess := atrPct - comfortable
	adj := 1.0 - excess*0.2
	if adj < 0.4 {
		adj = 0.4
	}
	return adj
}

// strengthMultiplier maps a proposal's [0, 2] score onto spec.md's
// 0.8x-1.2x signal-strength multiplier band.
func strengthMultiplier(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > 2 {
		score = 2
	}
	return 0.8 + (score/2)*0.4
}

// SizeResult carries the sizing algorithm's output and the failure
// taxonomy reason when sizing could not produce an admissible order.
type SizeResult struct {
	USD       float64
	Contracts float64
	Rejected  bool
	Reason    FailureReason
}

// CalculateSize runs the five-step sizing algorithm from spec.md §4.9.
// Kelly and any rolling win/loss-based fraction scheme are explicitly out of
// scope: scalping samples are too noisy to support that kind of estimator.
func CalculateSize(equity float64, regime domain.Regime, regimeCfg map[domain.Regime]RegimeRiskConfig, tier domain.BalanceProfile, tierCfg TierLimits, score, atr, price float64, sym domain.Symbol) SizeResult {
	rc, ok := regimeCfg[regime]
	if !ok {
		rc = regimeCfg[domain.RegimeChoppy]
	}

	baseUSD := equity * (rc.RiskPerTradePct / 100)
	sized := baseUSD * rc.RegimeMultiplier * strengthMultiplier(score)

	if price > 0 {
		atrPct := atr / price * 100
		sized *= volAdjustment(atrPct)
	}

	if sized < tierCfg.MinPositionUSD {
		sized = tierCfg.MinPositionUSD
	}
	if sized > tierCfg.MaxPositionUSD {
		sized = tierCfg.MaxPositionUSD
	}

	contracts := 0.0
	if sym.ContractValue > 0 && price > 0 {
		rawContracts := sized / (price * sym.ContractValue)
		contracts = roundDownToLot(rawContracts, sym.MinOrderSize)
	}

	if contracts < sym.MinOrderSize || contracts <= 0 {
		return SizeResult{Rejected: true, Reason: SizeBelowMinimum}
	}

	return SizeResult{USD: sized, Contracts: contracts}
}

// TierLimits is the subset of a balance tier's config the sizer clamps to.
type TierLimits struct {
	MinPositionUSD float64
	MaxPositionUSD float64
}

func roundDownToLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	lots := float64(int(qty / lot))
	return lots * lot
}
