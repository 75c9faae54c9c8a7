// Package profile is the Balance Profile Manager (C4): picks a small/medium/
// large sizing profile from account equity and publishes a change event
// whenever the tier flips, without resizing already-open positions.
package profile

import (
	"sync"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/events"
	"okx-scalper/internal/logging"
)

// TierConfig is one balance-profile tier's parameters (spec.md §6).
type TierConfig struct {
	ThresholdUSD    float64 `json:"threshold_usd"`
	BasePositionUSD float64 `json:"base_position_usd"`
	MinPositionUSD  float64 `json:"min_position_usd"`
	MaxPositionUSD  float64 `json:"max_position_usd"`
	MaxConcurrent   int     `json:"max_concurrent"`
	TPAtrBoost      float64 `json:"tp_atr_boost"`
	SLAtrBoost      float64 `json:"sl_atr_boost"`
	PHMultiplier    float64 `json:"ph_multiplier"`
	MinScoreBoost   float64 `json:"min_score_boost"`
}

// Config is the full set of tier configs, keyed by tier name.
type Config struct {
	Small  TierConfig `json:"small"`
	Medium TierConfig `json:"medium"`
	Large  TierConfig `json:"large"`
}

// Validate enforces spec.md §8 property 7: min <= max per tier.
func (c Config) Validate() error {
	for _, t := range []TierConfig{c.Small, c.Medium, c.Large} {
		if t.MinPositionUSD > t.MaxPositionUSD {
			return errMinExceedsMax
		}
	}
	return nil
}

var errMinExceedsMax = &configError{"balance profile min_position_usd exceeds max_position_usd"}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

// Manager holds the process-wide active balance profile, refreshed on
// startup, on every position close, and on a periodic timer.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	current domain.BalanceProfile
	bus     *events.Bus
	log     *logging.Logger
}

// NewManager creates a Manager seeded from the given starting equity.
func NewManager(cfg Config, startingEquity float64, bus *events.Bus) *Manager {
	m := &Manager{cfg: cfg, bus: bus, log: logging.WithComponent("profile")}
	m.current = m.resolve(startingEquity)
	return m
}

func (m *Manager) resolve(equity float64) domain.BalanceProfile {
	switch {
	case equity < m.cfg.Medium.ThresholdUSD:
		return tierProfile(domain.TierSmall, m.cfg.Small, equity)
	case equity < m.cfg.Large.ThresholdUSD:
		return tierProfile(domain.TierMedium, m.cfg.Medium, equity)
	default:
		return tierProfile(domain.TierLarge, m.cfg.Large, equity)
	}
}

func tierProfile(tier domain.BalanceTier, t TierConfig, equity float64) domain.BalanceProfile {
	return domain.BalanceProfile{
		Tier:            tier,
		Equity:          equity,
		SizeMultiplier:  1.0,
		MaxConcurrent:   t.MaxConcurrent,
		RiskPerTradePct: 0, // sizing percent comes from the regime table, not the tier
	}
}

// Refresh recomputes the active profile from current equity. If the tier
// changed, publishes a ProfileChanged event; already-open positions are
// never touched by this call.
func (m *Manager) Refresh(equity float64) domain.BalanceProfile {
	next := m.resolve(equity)

	m.mu.Lock()
	prev := m.current
	m.current = next
	m.mu.Unlock()

	if prev.Tier != next.Tier {
		m.log.WithField("from_tier", prev.Tier).WithField("to_tier", next.Tier).Info("balance profile changed")
		if m.bus != nil {
			m.bus.PublishProfileChanged(string(prev.Tier), string(next.Tier), equity)
		}
	}
	return next
}

// Current returns an immutable snapshot of the active profile.
func (m *Manager) Current() domain.BalanceProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// TierConfigFor returns the full tier config for a given tier, used by the
// Risk Controller for min/max clamps and max-concurrent checks.
func (m *Manager) TierConfigFor(tier domain.BalanceTier) TierConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch tier {
	case domain.TierSmall:
		return m.cfg.Small
	case domain.TierMedium:
		return m.cfg.Medium
	default:
		return m.cfg.Large
	}
}
