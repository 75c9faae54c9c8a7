// Package notifier sends human-readable trade notifications to Telegram.
package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/logging"
)

// Config holds the Telegram bot credentials.
type Config struct {
	Enabled  bool
	BotToken string
	ChatID   string
}

// Telegram sends position-lifecycle notifications via a Telegram bot.
type Telegram struct {
	config Config
	client *http.Client
	log    *logging.Logger
}

// New builds a Telegram notifier. It is inert (every Send call is a no-op)
// unless Enabled, BotToken, and ChatID are all set.
func New(config Config) *Telegram {
	return &Telegram{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logging.WithComponent("notifier"),
	}
}

func (t *Telegram) enabled() bool {
	return t.config.Enabled && t.config.BotToken != "" && t.config.ChatID != ""
}

// NotifyEntry announces a newly opened position.
func (t *Telegram) NotifyEntry(symbol string, side domain.Side, price, quantity float64, strategy string) {
	t.send(fmt.Sprintf("Opened %s %s\nPrice: %.6f  Qty: %.6f\nStrategy: %s", side, symbol, price, quantity, strategy))
}

// NotifyExit announces a closed position with its realized outcome.
func (t *Telegram) NotifyExit(symbol string, side domain.Side, entryPrice, exitPrice, realizedPnL float64, reason domain.ExitReason) {
	t.send(fmt.Sprintf("Closed %s %s\nEntry: %.6f -> Exit: %.6f\nPnL: %.4f USD\nReason: %s", side, symbol, entryPrice, exitPrice, realizedPnL, reason))
}

// NotifyCircuitBreaker announces a circuit breaker trip or recovery.
func (t *Telegram) NotifyCircuitBreaker(tripped bool, reason string) {
	if tripped {
		t.send(fmt.Sprintf("Circuit breaker tripped: %s", reason))
		return
	}
	t.send("Circuit breaker reset")
}

func (t *Telegram) send(message string) {
	if !t.enabled() {
		return
	}

	payload := map[string]interface{}{
		"chat_id": t.config.ChatID,
		"text":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.log.WithError(err).Error("marshal telegram payload")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.config.BotToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.log.WithError(err).Warn("send telegram notification")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.WithField("status", resp.StatusCode).Warn("telegram API returned non-200")
	}
}
