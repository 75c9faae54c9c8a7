// Package pipeline is the Signal Pipeline (C7): orchestrates indicators ->
// regime -> generators -> filters -> scoring -> selection, returning at
// most one proposal per symbol per tick.
package pipeline

import (
	"okx-scalper/internal/domain"
	"okx-scalper/internal/filters"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/metrics"
	"okx-scalper/internal/signals"
)

// RegimeThresholds supplies the per-regime min_score_threshold and the
// filter-context regime parameters, looked up by the active regime.
type RegimeThresholds struct {
	MinScoreThreshold float64
	FilterParams      filters.RegimeParams
}

// Pipeline ties the component stages together for one symbol evaluation.
type Pipeline struct {
	generators []signals.Generator
	stack      *filters.Stack
	thresholds map[domain.Regime]RegimeThresholds
	log        *logging.Logger
}

// New builds a Pipeline from the fixed generator set, the filter stack, and
// a per-regime threshold table.
func New(generators []signals.Generator, stack *filters.Stack, thresholds map[domain.Regime]RegimeThresholds) *Pipeline {
	return &Pipeline{
		generators: generators,
		stack:      stack,
		thresholds: thresholds,
		log:        logging.WithComponent("pipeline"),
	}
}

// Input bundles everything one Evaluate call needs.
type Input struct {
	Symbol       string
	Snapshot     domain.IndicatorSnapshot
	Regime       domain.Regime
	Candles      []domain.Candle
	PriceReading domain.PriceReading
	RiskCanOpen  func() (bool, string)
	MinScoreBoost float64 // from the active balance profile

	LiquiditySpreadPct     float64
	LiquidityDepth         float64
	OrderFlowImbalance     float64
	FundingRate            float64
	CorrelatedOpenOpposing bool
	CorrelationCoeff       float64
	HigherTFSnapshot       domain.IndicatorSnapshot
}

// Evaluate runs one full tick's worth of signal generation for one symbol,
// returning the single highest-scoring accepted proposal, if any.
func (p *Pipeline) Evaluate(in Input) (domain.Proposal, bool) {
	if !in.Snapshot.WarmedUp {
		return domain.Proposal{}, false
	}

	thresholds, ok := p.thresholds[in.Regime]
	if !ok {
		thresholds = p.thresholds[domain.RegimeChoppy]
	}

	var candidates []domain.Proposal
	for _, gen := range p.generators {
		proposals := gen.Generate(in.Symbol, in.Snapshot, in.Regime, in.Candles)
		for _, prop := range proposals {
			metrics.SignalsGeneratedTotal.WithLabelValues(in.Symbol, gen.Name()).Inc()
			scored, accepted := p.scoreOne(in, thresholds, prop)
			if accepted {
				candidates = append(candidates, scored)
			}
		}
	}

	var best domain.Proposal
	var bestSet bool
	for _, c := range candidates {
		if !bestSet || c.Score > best.Score {
			best = c
			bestSet = true
		}
	}

	if !bestSet {
		return domain.Proposal{}, false
	}
	if best.Score < thresholds.MinScoreThreshold+in.MinScoreBoost {
		return domain.Proposal{}, false
	}
	return best, true
}

func (p *Pipeline) scoreOne(in Input, thresholds RegimeThresholds, prop domain.Proposal) (domain.Proposal, bool) {
	ctx := filters.Context{
		Snapshot:               in.Snapshot,
		PriceReading:           in.PriceReading,
		Regime:                 in.Regime,
		RegimeConfig:           thresholds.FilterParams,
		RiskCanOpen:            in.RiskCanOpen,
		LiquiditySpreadPct:     in.LiquiditySpreadPct,
		LiquidityDepth:         in.LiquidityDepth,
		OrderFlowImbalance:     in.OrderFlowImbalance,
		FundingRate:            in.FundingRate,
		CorrelatedOpenOpposing: in.CorrelatedOpenOpposing,
		CorrelationCoeff:       in.CorrelationCoeff,
		HigherTFSnapshot:       in.HigherTFSnapshot,
	}

	// Mandatory regime-aware counter-trend gate runs before the configurable
	// stack: in trending regime it is a hard rejection no filter can override.
	ctOutcome, _ := filters.CounterTrendInTrending(ctx, prop)
	multiplier := 1.0
	if ctOutcome.Decision == filters.Reject {
		metrics.FilterRejectionsTotal.WithLabelValues("counter_trend", ctOutcome.Reason).Inc()
		return prop, false
	}
	if ctOutcome.Decision == filters.Modify {
		multiplier *= ctOutcome.ScoreMultiplier
	}

	result := p.stack.Run(ctx, prop)
	if !result.Accepted {
		return prop, false
	}
	multiplier *= result.ScoreMultiplier

	prop.Score = prop.RawStrength * prop.Confidence * multiplier
	prop.Reasons = append(prop.Reasons, result.Passed...)
	return prop, true
}
