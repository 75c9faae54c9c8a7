package profile

import (
	"testing"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/events"
)

func testConfig() Config {
	return Config{
		Small:  TierConfig{ThresholdUSD: 0, MinPositionUSD: 10, MaxPositionUSD: 50, MaxConcurrent: 1},
		Medium: TierConfig{ThresholdUSD: 1000, MinPositionUSD: 20, MaxPositionUSD: 150, MaxConcurrent: 2},
		Large:  TierConfig{ThresholdUSD: 2500, MinPositionUSD: 50, MaxPositionUSD: 500, MaxConcurrent: 4},
	}
}

func TestValidateRejectsMinExceedingMax(t *testing.T) {
	cfg := testConfig()
	cfg.Medium.MinPositionUSD = 200
	cfg.Medium.MaxPositionUSD = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when min > max")
	}
}

func TestManagerResolvesTierFromEquity(t *testing.T) {
	m := NewManager(testConfig(), 500, nil)
	if m.Current().Tier != domain.TierSmall {
		t.Fatalf("tier = %v, want small", m.Current().Tier)
	}

	p := m.Refresh(3000)
	if p.Tier != domain.TierLarge {
		t.Fatalf("tier = %v, want large", p.Tier)
	}
}

func TestRefreshPublishesOnlyOnTierChange(t *testing.T) {
	bus := events.NewBus()
	var changes int
	bus.Subscribe(events.EventProfileChanged, func(e events.Event) { changes++ })

	m := NewManager(testConfig(), 500, bus)
	m.Refresh(600) // still small
	m.Refresh(1200) // -> medium

	// give the async subscriber a moment; events.Bus dispatches via goroutine
	waitForCondition(t, func() bool { return changes == 1 })
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}
