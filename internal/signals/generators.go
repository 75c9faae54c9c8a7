// Package signals is the Signal Generators (C6): pure functions from
// indicators + regime + recent candles to a list of scored base proposals.
package signals

import (
	"time"

	"okx-scalper/internal/domain"
)

// Generator is the fixed capability every generator implements.
type Generator interface {
	Name() string
	Generate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, candles []domain.Candle) []domain.Proposal
}

// RSIConfig holds the adaptive oversold/overbought thresholds (spec.md §6).
type RSIConfig struct {
	Oversold                    float64 `json:"oversold"`            // default 30
	Overbought                  float64 `json:"overbought"`          // default 70
	TrendingUptrendOversold     float64 `json:"uptrend_oversold"`    // default 50
	TrendingDowntrendOverbought float64 `json:"downtrend_overbought"` // default 50
}

// DefaultRSIConfig matches spec.md §6 defaults.
func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Oversold: 30, Overbought: 70, TrendingUptrendOversold: 50, TrendingDowntrendOverbought: 50}
}

// RSIGenerator emits RSI oversold/overbought proposals with regime-adaptive
// thresholds and EMA-alignment confirmation.
type RSIGenerator struct {
	Config RSIConfig
}

func (RSIGenerator) Name() string { return "rsi_adaptive" }

func (g RSIGenerator) Generate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, candles []domain.Candle) []domain.Proposal {
	if !snap.WarmedUp || len(candles) == 0 {
		return nil
	}
	price := candles[len(candles)-1].Close
	uptrend := snap.EMAFast > snap.EMASlow

	oversold := g.Config.Oversold
	overbought := g.Config.Overbought
	if regime == domain.RegimeTrending && uptrend {
		oversold = g.Config.TrendingUptrendOversold
	}
	if regime == domain.RegimeTrending && !uptrend {
		overbought = g.Config.TrendingDowntrendOverbought
	}

	var proposals []domain.Proposal
	if snap.RSI <= oversold && uptrend && price > snap.EMAFast {
		proposals = append(proposals, baseProposal(symbol, domain.SideLong, "rsi_adaptive", strength(oversold-snap.RSI, oversold), 0.7, regime, price, snap.ATR))
	}
	if snap.RSI >= overbought && !uptrend && price < snap.EMAFast {
		proposals = append(proposals, baseProposal(symbol, domain.SideShort, "rsi_adaptive", strength(snap.RSI-overbought, 100-overbought), 0.7, regime, price, snap.ATR))
	}
	return proposals
}

// MACDCrossoverGenerator emits a proposal on a histogram sign change
// confirmed by EMA alignment.
type MACDCrossoverGenerator struct {
	prevHist map[string]float64
}

// NewMACDCrossoverGenerator creates a generator with its own per-symbol
// previous-histogram memory (needed to detect a sign flip).
func NewMACDCrossoverGenerator() *MACDCrossoverGenerator {
	return &MACDCrossoverGenerator{prevHist: make(map[string]float64)}
}

func (*MACDCrossoverGenerator) Name() string { return "macd_crossover" }

func (g *MACDCrossoverGenerator) Generate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, candles []domain.Candle) []domain.Proposal {
	if !snap.WarmedUp || len(candles) == 0 {
		return nil
	}
	prev, seen := g.prevHist[symbol]
	g.prevHist[symbol] = snap.MACDHist
	if !seen {
		return nil
	}
	price := candles[len(candles)-1].Close
	uptrend := snap.EMAFast > snap.EMASlow

	var proposals []domain.Proposal
	if prev <= 0 && snap.MACDHist > 0 && uptrend {
		proposals = append(proposals, baseProposal(symbol, domain.SideLong, "macd_crossover", strength(snap.MACDHist, snap.ATR), 0.75, regime, price, snap.ATR))
	}
	if prev >= 0 && snap.MACDHist < 0 && !uptrend {
		proposals = append(proposals, baseProposal(symbol, domain.SideShort, "macd_crossover", strength(-snap.MACDHist, snap.ATR), 0.75, regime, price, snap.ATR))
	}
	return proposals
}

// MACrossoverGenerator emits a proposal when EMA_fast crosses EMA_slow on
// bar close, tracking the previous bar's relative ordering per symbol.
type MACrossoverGenerator struct {
	prevUp map[string]bool
}

// NewMACrossoverGenerator creates a generator with its own cross-state memory.
func NewMACrossoverGenerator() *MACrossoverGenerator {
	return &MACrossoverGenerator{prevUp: make(map[string]bool)}
}

func (*MACrossoverGenerator) Name() string { return "ma_crossover" }

func (g *MACrossoverGenerator) Generate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, candles []domain.Candle) []domain.Proposal {
	if !snap.WarmedUp || len(candles) == 0 {
		return nil
	}
	up := snap.EMAFast > snap.EMASlow
	prevUp, seen := g.prevUp[symbol]
	g.prevUp[symbol] = up
	if !seen || prevUp == up {
		return nil
	}
	price := candles[len(candles)-1].Close
	side := domain.SideShort
	if up {
		side = domain.SideLong
	}
	return []domain.Proposal{baseProposal(symbol, side, "ma_crossover", 1.0, 0.85, regime, price, snap.ATR)}
}

// TrendPullbackConfig holds the pullback tolerance (spec.md §4.6).
type TrendPullbackConfig struct {
	PullbackPct float64 // e.g. 0.003 (0.3%)
}

// TrendPullbackGenerator emits a proposal only in a trending regime, when
// price has pulled back close to EMA_fast from the trend side.
type TrendPullbackGenerator struct {
	Config TrendPullbackConfig
}

func (TrendPullbackGenerator) Name() string { return "trend_pullback" }

func (g TrendPullbackGenerator) Generate(symbol string, snap domain.IndicatorSnapshot, regime domain.Regime, candles []domain.Candle) []domain.Proposal {
	if regime != domain.RegimeTrending || !snap.WarmedUp || len(candles) == 0 {
		return nil
	}
	price := candles[len(candles)-1].Close
	if snap.EMAFast <= 0 {
		return nil
	}
	distance := (price - snap.EMAFast) / snap.EMAFast

	uptrend := snap.EMAFast > snap.EMASlow
	if uptrend && price >= snap.EMAFast && distance <= g.Config.PullbackPct {
		return []domain.Proposal{baseProposal(symbol, domain.SideLong, "trend_pullback", 1.0, 0.8, regime, price, snap.ATR)}
	}
	if !uptrend && price <= snap.EMAFast && -distance <= g.Config.PullbackPct {
		return []domain.Proposal{baseProposal(symbol, domain.SideShort, "trend_pullback", 1.0, 0.8, regime, price, snap.ATR)}
	}
	return nil
}

func baseProposal(symbol string, side domain.Side, strat string, rawStrength, confidence float64, regime domain.Regime, price, atr float64) domain.Proposal {
	return domain.Proposal{
		Symbol:      symbol,
		Side:        side,
		Strategy:    strat,
		RawStrength: rawStrength,
		Confidence:  confidence,
		Score:       rawStrength * confidence,
		Price:       price,
		ATR:         atr,
		Regime:      regime,
		GeneratedAt: time.Now(),
		Reasons:     []string{strat},
	}
}

func strength(delta, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	s := delta / scale
	if s > 2 {
		return 2
	}
	if s < 0 {
		return 0
	}
	return s
}
