// Package filters is the Filter Stack (C5): a fixed-order chain of
// independent gates applied to every base Proposal before it can be scored
// and selected by the Signal Pipeline.
package filters

import (
	"okx-scalper/internal/domain"
	"okx-scalper/internal/metrics"
)

// Decision is what a Filter did to a proposal.
type Decision int

const (
	Accept Decision = iota
	Reject
	Modify
)

// Outcome is the result of one Filter's Apply call.
type Outcome struct {
	Decision       Decision
	Reason         string
	ScoreMultiplier float64 // applied only when Decision == Modify; 1.0 means unchanged
}

func accept() Outcome { return Outcome{Decision: Accept, ScoreMultiplier: 1.0} }

func reject(reason string) Outcome { return Outcome{Decision: Reject, Reason: reason} }

func modify(mult float64) Outcome { return Outcome{Decision: Modify, ScoreMultiplier: mult} }

// Context carries everything a Filter needs to evaluate one proposal.
type Context struct {
	Snapshot        domain.IndicatorSnapshot
	PriceReading    domain.PriceReading
	Regime          domain.Regime
	RegimeConfig    RegimeParams
	RiskCanOpen     func() (bool, string) // Risk Controller admission check
	LiquiditySpreadPct float64
	LiquidityDepth     float64
	OrderFlowImbalance float64 // [-1,1], positive favors buyers
	FundingRate        float64 // positive means longs pay shorts
	CorrelatedOpenOpposing bool
	CorrelationCoeff       float64
	HigherTFSnapshot       domain.IndicatorSnapshot
}

// dist is the absolute distance between two prices.
func dist(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// RegimeParams are the regime-specific thresholds a filter needs (ATR bounds,
// ADX direction threshold, conflict multiplier for non-trending regimes).
type RegimeParams struct {
	VolMin             float64
	VolMax             float64
	ADXDirectionThresh float64
	ConflictMultiplier float64
	BlockOppositeMTF   bool
	CorrelationThresh  float64
	MinSpreadPct       float64
	MinDepth           float64
	PivotTolerancePct  float64 // e.g. 0.001 = 0.1%; 0 disables the pivot filter
	MinVolumeRatio     float64 // 0 disables the minimum-volume gate
}

// Filter is the fixed capability every stack entry implements.
type Filter interface {
	Name() string
	Apply(ctx Context, p domain.Proposal) Outcome
}

// Stack applies filters in registration order, short-circuiting on the
// first Reject, and multiplying Modify outcomes' score multipliers together.
type Stack struct {
	filters []Filter
}

// NewStack builds a stack from the fixed filter set in spec.md §4.5 order.
func NewStack(filters ...Filter) *Stack {
	return &Stack{filters: filters}
}

// StackResult is what running the whole stack produced.
type StackResult struct {
	Accepted        bool
	RejectReason    string
	ScoreMultiplier float64
	Passed          []string
}

// Run applies every filter in order. A regime-aware hard rejection (a
// counter-trend signal in a trending regime) happens before this stack is
// even consulted — see CounterTrendInTrending, called by the pipeline's
// scoreOne — so by the time a
// proposal reaches here it has already cleared that mandatory gate.
func (s *Stack) Run(ctx Context, p domain.Proposal) StackResult {
	result := StackResult{Accepted: true, ScoreMultiplier: 1.0}
	for _, f := range s.filters {
		outcome := f.Apply(ctx, p)
		switch outcome.Decision {
		case Reject:
			metrics.FilterRejectionsTotal.WithLabelValues(f.Name(), outcome.Reason).Inc()
			result.Accepted = false
			result.RejectReason = outcome.Reason
			return result
		case Modify:
			result.ScoreMultiplier *= outcome.ScoreMultiplier
			result.Passed = append(result.Passed, f.Name())
		default:
			result.Passed = append(result.Passed, f.Name())
		}
	}
	return result
}
