// Package events is the engine's internal pub/sub bus: components publish
// lifecycle facts (a position opened, a regime flipped) without importing
// each other, and the ops API and notifier subscribe to surface them.
package events

import (
	"sync"
	"time"
)

// EventType identifies the kind of fact an Event carries.
type EventType string

const (
	EventProfileChanged        EventType = "PROFILE_CHANGED"
	EventPositionOpened        EventType = "POSITION_OPENED"
	EventPositionClosed        EventType = "POSITION_CLOSED"
	EventSignalGenerated       EventType = "SIGNAL_GENERATED"
	EventCircuitBreakerTripped EventType = "CIRCUIT_BREAKER_TRIPPED"
	EventRegimeChanged         EventType = "REGIME_CHANGED"
)

// Event is a single published fact.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles a published event.
type Subscriber func(Event)

// Bus fans events out to subscribers of a specific type and to subscribers
// of everything. Each subscriber runs in its own goroutine so a slow
// consumer (the ops API's SSE stream, say) never blocks the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish fans event out to matching subscribers, stamping Timestamp if unset.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishProfileChanged announces a balance-tier transition.
func (b *Bus) PublishProfileChanged(fromTier, toTier string, equity float64) {
	b.Publish(Event{
		Type: EventProfileChanged,
		Data: map[string]interface{}{
			"from_tier": fromTier,
			"to_tier":   toTier,
			"equity":    equity,
		},
	})
}

// PublishPositionOpened announces a new open position.
func (b *Bus) PublishPositionOpened(symbol, side string, entryPrice, quantity float64, leverage int) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"leverage":    leverage,
		},
	})
}

// PublishPositionClosed announces a position close with its realized PnL.
func (b *Bus) PublishPositionClosed(symbol, reason string, entryPrice, exitPrice, quantity, pnl, pnlPercent float64) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"reason":      reason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishSignal announces a proposal emitted by a signal generator.
func (b *Bus) PublishSignal(strategy, symbol, side string, confidence, price float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"strategy":   strategy,
			"symbol":     symbol,
			"side":       side,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishCircuitBreakerTripped announces a risk controller trip.
func (b *Bus) PublishCircuitBreakerTripped(reason string, cooldownSeconds int) {
	b.Publish(Event{
		Type: EventCircuitBreakerTripped,
		Data: map[string]interface{}{
			"reason":           reason,
			"cooldown_seconds": cooldownSeconds,
		},
	})
}

// PublishRegimeChanged announces a confirmed regime transition for a symbol.
func (b *Bus) PublishRegimeChanged(symbol, fromRegime, toRegime string) {
	b.Publish(Event{
		Type: EventRegimeChanged,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"from_regime": fromRegime,
			"to_regime":   toRegime,
		},
	})
}
