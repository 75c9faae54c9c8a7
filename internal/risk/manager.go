// Package risk is the Risk Controller (C9): position sizing and the
// admission checks gating every new entry.
package risk

import (
	"sync"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/logging"
	"okx-scalper/internal/metrics"
)

// FailureReason names why an entry was denied, matching spec.md §4.9's
// failure taxonomy exactly.
type FailureReason string

const (
	DailyLossExceeded   FailureReason = "daily_loss_exceeded"
	CircuitBreakerOpen  FailureReason = "circuit_breaker_open"
	MaxConcurrentReached FailureReason = "max_concurrent_reached"
	InsufficientMargin  FailureReason = "insufficient_margin"
	SizeBelowMinimum    FailureReason = "size_below_minimum"
)

// MarginChecker reports whether a new isolated-margin allocation fits
// within the account's available margin at the configured leverage.
type MarginChecker interface {
	MarginAvailable(usd float64, leverage int) (bool, error)
}

// Config holds the daily loss limit and the regime risk table the Manager
// needs in addition to the circuit breaker's own thresholds.
type Config struct {
	DailyLossLimitPct float64
	RegimeRisk        map[domain.Regime]RegimeRiskConfig
}

// DefaultConfig matches spec.md's example values.
func DefaultConfig() Config {
	return Config{
		DailyLossLimitPct: 5.0,
		RegimeRisk:        DefaultRegimeRiskConfig(),
	}
}

// Manager is the Risk Controller: it tracks today's realized PnL and open
// position count, and decides whether a new entry may be admitted.
type Manager struct {
	mu sync.RWMutex

	config  Config
	breaker *CircuitBreaker
	margin  MarginChecker
	log     *logging.Logger

	dailyRealizedPnL float64
	dailyResetAt     time.Time

	openCount func() int
}

// New builds a Risk Controller. openCount reports the live count of
// non-Closed positions (normally positions.Registry.OpenCount).
func New(config Config, breaker *CircuitBreaker, margin MarginChecker, openCount func() int) *Manager {
	now := time.Now()
	return &Manager{
		config:       config,
		breaker:      breaker,
		margin:       margin,
		openCount:    openCount,
		dailyResetAt: now.Truncate(24 * time.Hour).Add(24 * time.Hour),
		log:          logging.WithComponent("risk"),
	}
}

// RecordClosedTrade folds a realized trade into the daily PnL tally and the
// circuit breaker's loss/consecutive-loss counters.
func (m *Manager) RecordClosedTrade(pnlUSD, pnlPct, equity float64) {
	m.mu.Lock()
	m.resetDailyIfElapsed()
	m.dailyRealizedPnL += pnlUSD
	m.mu.Unlock()

	m.breaker.RecordTrade(pnlPct)
	if m.breaker.State() == BreakerOpen {
		metrics.CircuitBreakerTripsTotal.Inc()
	}
	_ = equity
}

func (m *Manager) resetDailyIfElapsed() {
	now := time.Now()
	if now.After(m.dailyResetAt) {
		m.dailyRealizedPnL = 0
		m.dailyResetAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// CanOpen runs the admission checks from spec.md §4.9. All must pass.
func (m *Manager) CanOpen(equity float64, maxConcurrent int, sizedUSD float64, leverage int) (bool, FailureReason, string) {
	if ok, reason := m.breaker.CanTrade(); !ok {
		return false, CircuitBreakerOpen, reason
	}

	m.mu.RLock()
	m.resetDailyIfElapsed()
	dailyPnL := m.dailyRealizedPnL
	m.mu.RUnlock()

	if equity > 0 {
		dailyLossPct := -dailyPnL / equity * 100
		if dailyLossPct >= m.config.DailyLossLimitPct {
			return false, DailyLossExceeded, "daily realized loss limit reached"
		}
	}

	if m.openCount() >= maxConcurrent {
		return false, MaxConcurrentReached, "max concurrent positions reached"
	}

	if m.margin != nil {
		ok, err := m.margin.MarginAvailable(sizedUSD, leverage)
		if err != nil || !ok {
			return false, InsufficientMargin, "insufficient margin for isolated allocation"
		}
	}

	return true, "", ""
}

// Size runs the sizing algorithm for a given regime/profile/proposal.
func (m *Manager) Size(equity float64, regime domain.Regime, profile domain.BalanceProfile, tierLimits TierLimits, score, atr, price float64, sym domain.Symbol) SizeResult {
	m.mu.RLock()
	regimeCfg := m.config.RegimeRisk
	m.mu.RUnlock()
	return CalculateSize(equity, regime, regimeCfg, profile, tierLimits, score, atr, price, sym)
}

// BreakerState exposes the circuit breaker's state for the ops API.
func (m *Manager) BreakerState() BreakerState {
	return m.breaker.State()
}

// ForceResetBreaker manually closes the circuit breaker.
func (m *Manager) ForceResetBreaker() {
	m.breaker.ForceReset()
}
