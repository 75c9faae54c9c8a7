package risk

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's three-state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig holds the hourly/daily/consecutive-loss trip
// thresholds and the cooldown before a half-open recovery attempt.
type CircuitBreakerConfig struct {
	MaxLossPerHourPct    float64
	MaxDailyLossPct      float64
	MaxConsecutiveLosses int
	CooldownMinutes      int
}

// DefaultCircuitBreakerConfig matches spec.md's circuit_breaker_n example.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxLossPerHourPct:    3.0,
		MaxDailyLossPct:      5.0,
		MaxConsecutiveLosses: 5,
		CooldownMinutes:      30,
	}
}

// CircuitBreaker halts new entries after excessive realized losses, and
// admits trial entries again (half-open) once the cooldown has elapsed,
// until the next recorded trade closes it (win) or trips it again (loss).
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig

	state             BreakerState
	consecutiveLosses int
	hourlyLossPct     float64
	dailyLossPct      float64
	tripReason        string
	lastTripTime      time.Time
	hourlyResetAt     time.Time
	dailyResetAt      time.Time

	onTrip func(reason string)
}

// NewCircuitBreaker builds a breaker in the closed state with the reset
// windows anchored to now.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	now := time.Now()
	return &CircuitBreaker{
		config:        config,
		state:         BreakerClosed,
		hourlyResetAt: now.Add(time.Hour),
		dailyResetAt:  now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// OnTrip registers a callback invoked (synchronously) whenever the breaker
// transitions into the open state.
func (cb *CircuitBreaker) OnTrip(fn func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = fn
}

// CanTrade reports whether new entries are currently admitted.
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetWindowsIfElapsed()

	if cb.state == BreakerOpen {
		elapsed := time.Since(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit breaker open (%s), cooldown remaining %s", cb.tripReason, (cooldown - elapsed).Round(time.Second))
		}
		cb.state = BreakerHalfOpen
	}
	if cb.state == BreakerHalfOpen {
		return true, ""
	}

	if cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses {
		return false, fmt.Sprintf("consecutive losses at limit: %d", cb.consecutiveLosses)
	}
	if cb.hourlyLossPct >= cb.config.MaxLossPerHourPct {
		return false, fmt.Sprintf("hourly loss at limit: %.2f%%", cb.hourlyLossPct)
	}
	if cb.dailyLossPct >= cb.config.MaxDailyLossPct {
		return false, fmt.Sprintf("daily loss at limit: %.2f%%", cb.dailyLossPct)
	}
	return true, ""
}

// RecordTrade folds a closed trade's realized PnL percentage into the
// hourly/daily/consecutive-loss counters and trips the breaker if any
// threshold is now exceeded.
func (cb *CircuitBreaker) RecordTrade(pnlPct float64) {
	if math.IsNaN(pnlPct) || math.IsInf(pnlPct, 0) {
		return
	}

	cb.mu.Lock()
	cb.resetWindowsIfElapsed()

	if pnlPct < 0 {
		cb.consecutiveLosses++
		cb.hourlyLossPct += -pnlPct
		cb.dailyLossPct += -pnlPct
	} else {
		cb.consecutiveLosses = 0
		if cb.state == BreakerHalfOpen {
			cb.state = BreakerClosed
			cb.tripReason = ""
		}
	}

	var tripReason string
	switch {
	case cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses:
		tripReason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	case cb.hourlyLossPct >= cb.config.MaxLossPerHourPct:
		tripReason = fmt.Sprintf("hourly loss: %.2f%%", cb.hourlyLossPct)
	case cb.dailyLossPct >= cb.config.MaxDailyLossPct:
		tripReason = fmt.Sprintf("daily loss: %.2f%%", cb.dailyLossPct)
	}
	if tripReason != "" {
		cb.state = BreakerOpen
		cb.lastTripTime = time.Now()
		cb.tripReason = tripReason
	}
	onTrip := cb.onTrip
	cb.mu.Unlock()

	if tripReason != "" && onTrip != nil {
		onTrip(tripReason)
	}
}

func (cb *CircuitBreaker) resetWindowsIfElapsed() {
	now := time.Now()
	if now.After(cb.hourlyResetAt) {
		cb.hourlyLossPct = 0
		cb.hourlyResetAt = now.Add(time.Hour)
	}
	if now.After(cb.dailyResetAt) {
		cb.dailyLossPct = 0
		cb.dailyResetAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
}

// ForceReset manually closes the breaker, used by the ops API's
// /circuit-breaker reset endpoint.
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
