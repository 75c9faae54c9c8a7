package engine

import "testing"

func TestWakeIsNonBlockingAndCoalesces(t *testing.T) {
	e := &Engine{notify: map[string]chan struct{}{"BTC-USDT-SWAP": make(chan struct{}, 1)}}

	// Two wakes before anything drains the channel must not block and must
	// coalesce into a single pending notification.
	e.wake("BTC-USDT-SWAP")
	e.wake("BTC-USDT-SWAP")

	ch := e.notify["BTC-USDT-SWAP"]
	select {
	case <-ch:
	default:
		t.Fatal("expected a pending wake notification")
	}
	select {
	case <-ch:
		t.Fatal("expected the second wake to have coalesced, not queued")
	default:
	}
}

func TestWakeIgnoresUnknownSymbol(t *testing.T) {
	e := &Engine{notify: map[string]chan struct{}{}}
	e.wake("DOGE-USDT-SWAP") // must not panic on a symbol with no channel
}
