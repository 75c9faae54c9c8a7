// Package regime is the Regime Detector (C3): classifies each symbol as
// trending, ranging or choppy from ADX, ATR%, and EMA separation, with
// hysteresis so the published regime doesn't flap tick to tick.
package regime

import (
	"math"
	"strings"
	"sync"

	"okx-scalper/internal/domain"
)

// Config holds the thresholds spec.md §4.3 names, all with defaults.
type Config struct {
	ADXTrendThreshold float64 // default 25
	ADXRangeThreshold float64 // default 20
	EMASepThreshold   float64 // default 0.001 (0.1%)
	RangeThreshold    float64 // default 0.01 (1%), normalized high/low range
	ConfirmBars       int     // default 3
}

// DefaultConfig matches spec.md defaults.
func DefaultConfig() Config {
	return Config{
		ADXTrendThreshold: 25,
		ADXRangeThreshold: 20,
		EMASepThreshold:   0.001,
		RangeThreshold:    0.01,
		ConfirmBars:       3,
	}
}

type symbolHysteresis struct {
	published domain.Regime
	candidate domain.Regime
	streak    int
}

// Detector classifies regimes per symbol with hysteresis confirmation.
type Detector struct {
	mu      sync.Mutex
	cfg     Config
	states  map[string]*symbolHysteresis
	onChange func(symbol string, from, to domain.Regime)
}

// NewDetector creates a Detector. onChange may be nil.
func NewDetector(cfg Config, onChange func(symbol string, from, to domain.Regime)) *Detector {
	return &Detector{
		cfg:      cfg,
		states:   make(map[string]*symbolHysteresis),
		onChange: onChange,
	}
}

// classify returns the raw (unconfirmed) regime classification for one bar.
func classify(cfg Config, snap domain.IndicatorSnapshot, price float64, recentHigh, recentLow float64) domain.Regime {
	if price <= 0 {
		return domain.RegimeUnknown
	}
	emaSep := math.Abs(snap.EMAFast-snap.EMASlow) / price
	normalizedRange := (recentHigh - recentLow) / price

	if snap.ADX >= cfg.ADXTrendThreshold && emaSep >= cfg.EMASepThreshold {
		return domain.RegimeTrending
	}
	if snap.ADX < cfg.ADXRangeThreshold && normalizedRange <= cfg.RangeThreshold {
		return domain.RegimeRanging
	}
	return domain.RegimeChoppy
}

// Update classifies one new bar and applies hysteresis: a candidate regime
// must be observed on ConfirmBars consecutive closes before it replaces the
// published regime. Returns the (possibly unchanged) published regime.
func (d *Detector) Update(symbol string, snap domain.IndicatorSnapshot, price, recentHigh, recentLow float64) domain.Regime {
	raw := classify(d.cfg, snap, price, recentHigh, recentLow)
	normalized := domain.Regime(strings.ToLower(string(raw)))

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.states[symbol]
	if !ok {
		s = &symbolHysteresis{published: normalized, candidate: normalized, streak: d.cfg.ConfirmBars}
		d.states[symbol] = s
		return s.published
	}

	if normalized == s.published {
		s.candidate = normalized
		s.streak = 0
		return s.published
	}

	if normalized == s.candidate {
		s.streak++
	} else {
		s.candidate = normalized
		s.streak = 1
	}

	if s.streak >= d.cfg.ConfirmBars {
		prev := s.published
		s.published = normalized
		s.streak = 0
		if d.onChange != nil && prev != normalized {
			d.onChange(symbol, prev, normalized)
		}
	}

	return s.published
}

// Current returns the last published regime for a symbol, or RegimeUnknown.
func (d *Detector) Current(symbol string) domain.Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.states[symbol]; ok {
		return s.published
	}
	return domain.RegimeUnknown
}
