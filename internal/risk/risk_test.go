package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-scalper/internal/domain"
)

func testSymbol() domain.Symbol {
	return domain.Symbol{Name: "BTC-USDT-SWAP", TickSize: 0.1, MinOrderSize: 0.01, ContractValue: 1, LeverageCap: 20}
}

func TestCalculateSizeClampsToTierBounds(t *testing.T) {
	cfg := DefaultRegimeRiskConfig()
	limits := TierLimits{MinPositionUSD: 50, MaxPositionUSD: 500}
	result := CalculateSize(100000, domain.RegimeTrending, cfg, domain.BalanceProfile{}, limits, 2.0, 10, 30000, testSymbol())
	require.False(t, result.Rejected, "did not expect rejection: %+v", result)
	assert.LessOrEqual(t, result.USD, limits.MaxPositionUSD)
}

func TestCalculateSizeRejectsBelowMinimumLot(t *testing.T) {
	cfg := DefaultRegimeRiskConfig()
	limits := TierLimits{MinPositionUSD: 1, MaxPositionUSD: 5}
	sym := domain.Symbol{Name: "BTC-USDT-SWAP", MinOrderSize: 1, ContractValue: 1}
	result := CalculateSize(1000, domain.RegimeChoppy, cfg, domain.BalanceProfile{}, limits, 0, 10, 30000, sym)
	require.True(t, result.Rejected)
	assert.Equal(t, SizeBelowMinimum, result.Reason)
}

func TestVolAdjustmentShrinksOnHighATR(t *testing.T) {
	low := volAdjustment(0.2)
	high := volAdjustment(3.0)
	if high >= low {
		t.Fatalf("expected higher ATR%% to shrink size more: low=%v high=%v", low, high)
	}
}

func TestCircuitBreakerTripsOnConsecutiveLosses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxLossPerHourPct: 100, MaxDailyLossPct: 100, MaxConsecutiveLosses: 3, CooldownMinutes: 30})
	for i := 0; i < 3; i++ {
		cb.RecordTrade(-1)
	}
	ok, reason := cb.CanTrade()
	if ok {
		t.Fatalf("expected breaker open after 3 consecutive losses, reason=%q", reason)
	}
}

func TestCircuitBreakerHalfOpenRecoversOnWin(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxLossPerHourPct: 100, MaxDailyLossPct: 100, MaxConsecutiveLosses: 1, CooldownMinutes: 0})
	cb.RecordTrade(-1)
	if ok, _ := cb.CanTrade(); !ok {
		t.Fatal("expected half-open recovery attempt once cooldown (0 min) has elapsed")
	}
	cb.RecordTrade(1)
	if cb.State() != BreakerClosed {
		t.Fatalf("expected breaker closed after winning trade in half-open, got %v", cb.State())
	}
}

func TestManagerCanOpenRejectsOnMaxConcurrent(t *testing.T) {
	breaker := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	m := New(DefaultConfig(), breaker, nil, func() int { return 3 })
	ok, reason, _ := m.CanOpen(100000, 3, 100, 5)
	if ok || reason != MaxConcurrentReached {
		t.Fatalf("expected MaxConcurrentReached, got ok=%v reason=%v", ok, reason)
	}
}

func TestManagerCanOpenRejectsOnDailyLoss(t *testing.T) {
	breaker := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	m := New(Config{DailyLossLimitPct: 1, RegimeRisk: DefaultRegimeRiskConfig()}, breaker, nil, func() int { return 0 })
	m.RecordClosedTrade(-2000, -2, 100000)
	ok, reason, _ := m.CanOpen(100000, 5, 100, 5)
	if ok || reason != DailyLossExceeded {
		t.Fatalf("expected DailyLossExceeded, got ok=%v reason=%v", ok, reason)
	}
}

func TestManagerCanOpenAllowsWhenChecksPass(t *testing.T) {
	breaker := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	m := New(DefaultConfig(), breaker, nil, func() int { return 0 })
	ok, _, _ := m.CanOpen(100000, 5, 100, 5)
	assert.True(t, ok, "expected admission to pass with no prior losses and open capacity")
}
