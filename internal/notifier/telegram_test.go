package notifier

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"okx-scalper/internal/domain"
)

func TestSendIsNoOpWhenDisabled(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{Enabled: false, BotToken: "x", ChatID: "y"})
	n.NotifyEntry("BTC-USDT-SWAP", domain.SideLong, 100, 1, "rsi_adaptive")

	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatal("expected no HTTP call when notifier is disabled")
	}
}

func TestEnabledRequiresTokenAndChatID(t *testing.T) {
	n := New(Config{Enabled: true, BotToken: "", ChatID: "y"})
	if n.enabled() {
		t.Fatal("expected disabled when bot token is empty")
	}
}
