package positions

import (
	"testing"

	"okx-scalper/internal/domain"
)

func TestRegisterRejectsDuplicateWhileOpen(t *testing.T) {
	r := New(nil)
	if err := r.Register("BTC-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong}); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := r.Register("BTC-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong}); err == nil {
		t.Fatal("expected error registering over a live pending position")
	}
}

func TestMarkOpenRequiresPending(t *testing.T) {
	r := New(nil)
	if err := r.MarkOpen("ETH-USDT-SWAP", 100, 1, 5); err == nil {
		t.Fatal("expected error marking open a position that was never registered")
	}

	r.Register("ETH-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong})
	if err := r.MarkOpen("ETH-USDT-SWAP", 100, 1, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, ok := r.Get("ETH-USDT-SWAP")
	if !ok || meta.State != domain.PositionOpen {
		t.Fatalf("expected open position, got %+v ok=%v", meta, ok)
	}

	if err := r.MarkOpen("ETH-USDT-SWAP", 100, 1, 5); err == nil {
		t.Fatal("expected error re-opening an already-open position")
	}
}

func TestMarkClosingIsAtMostOnceWinner(t *testing.T) {
	r := New(nil)
	r.Register("SOL-USDT-SWAP", domain.PositionMetadata{Side: domain.SideShort})
	r.MarkOpen("SOL-USDT-SWAP", 50, 2, 10)

	first := r.MarkClosing("SOL-USDT-SWAP")
	second := r.MarkClosing("SOL-USDT-SWAP")
	if !first {
		t.Fatal("first MarkClosing call should win the CAS")
	}
	if second {
		t.Fatal("second MarkClosing call must lose the CAS (at-most-once close)")
	}
}

func TestMarkClosedRequiresClosing(t *testing.T) {
	r := New(nil)
	r.Register("DOGE-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong})
	r.MarkOpen("DOGE-USDT-SWAP", 1, 100, 3)

	if err := r.MarkClosed("DOGE-USDT-SWAP", domain.ExitTakeProfitHit, 1.1, 10, 0.5); err == nil {
		t.Fatal("expected error closing a position that is still Open, not Closing")
	}

	r.MarkClosing("DOGE-USDT-SWAP")
	if err := r.MarkClosed("DOGE-USDT-SWAP", domain.ExitTakeProfitHit, 1.1, 10, 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Get("DOGE-USDT-SWAP"); ok {
		t.Fatal("expected position to be removed from the registry after close")
	}
}

func TestOpenCountExcludesClosedPositions(t *testing.T) {
	r := New(nil)
	r.Register("A-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong})
	r.Register("B-USDT-SWAP", domain.PositionMetadata{Side: domain.SideShort})
	r.MarkOpen("A-USDT-SWAP", 1, 1, 1)
	r.MarkOpen("B-USDT-SWAP", 1, 1, 1)

	if got := r.OpenCount(); got != 2 {
		t.Fatalf("expected 2 open positions, got %d", got)
	}

	r.MarkClosing("A-USDT-SWAP")
	r.MarkClosed("A-USDT-SWAP", domain.ExitStopLoss, 0.9, -5, 0.1)

	if got := r.OpenCount(); got != 1 {
		t.Fatalf("expected 1 open position after closing A, got %d", got)
	}
}

func TestUpdateMetadataRequiresExistingPosition(t *testing.T) {
	r := New(nil)
	err := r.UpdateMetadata("NOPE-USDT-SWAP", func(m *domain.PositionMetadata) { m.HighWaterMark = 1 })
	if err == nil {
		t.Fatal("expected error updating metadata for an unregistered symbol")
	}
}

func TestRegisterAllowsReuseAfterClose(t *testing.T) {
	r := New(nil)
	r.Register("XRP-USDT-SWAP", domain.PositionMetadata{Side: domain.SideLong})
	r.MarkOpen("XRP-USDT-SWAP", 1, 1, 1)
	r.MarkClosing("XRP-USDT-SWAP")
	r.MarkClosed("XRP-USDT-SWAP", domain.ExitManual, 1, 0, 0)

	if err := r.Register("XRP-USDT-SWAP", domain.PositionMetadata{Side: domain.SideShort}); err != nil {
		t.Fatalf("expected re-registration to succeed after a prior close, got %v", err)
	}
}
