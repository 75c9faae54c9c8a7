// Package persistence appends closed-trade and generated-signal records to
// CSV files for post-hoc analysis, and mirrors the same rows into Postgres
// for querying. Both sinks are append-only: nothing here ever updates or
// deletes a row.
package persistence

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"okx-scalper/internal/domain"
	"okx-scalper/internal/logging"
)

// TradeRecord is one closed-trade row.
type TradeRecord struct {
	ClosedAt         time.Time
	Symbol           string
	Side             domain.Side
	EntryPrice       float64
	ExitPrice        float64
	Size             float64
	Leverage         int
	GrossPnL         float64
	Fees             float64
	NetPnL           float64
	DurationS        float64
	RegimeAtEntry    domain.Regime
	ProfileAtEntry   domain.BalanceTier
	CloseReason      domain.ExitReason
	SignalType       string
}

// SignalRecord is one generated-signal row, whether or not it was executed.
type SignalRecord struct {
	Timestamp     time.Time
	Symbol        string
	Side          domain.Side
	Type          string
	Score         float64
	Executed      bool
	OrderID       string
	FiltersPassed []string
}

var tradeHeader = []string{
	"ts_close", "symbol", "side", "entry_price", "exit_price", "size", "leverage",
	"gross_pnl", "fees", "net_pnl", "duration_s", "regime_at_entry", "profile_at_entry",
	"close_reason", "signal_type",
}

var signalHeader = []string{
	"ts", "symbol", "side", "type", "score", "executed", "order_id", "filters_passed",
}

// CSVWriter appends trade and signal rows to two append-only files, creating
// them with a header row the first time each is written to.
type CSVWriter struct {
	mu          sync.Mutex
	tradesPath  string
	signalsPath string
	log         *logging.Logger
}

// NewCSVWriter builds a writer targeting the given file paths. Directories
// must already exist; the files themselves are created on first write.
func NewCSVWriter(tradesPath, signalsPath string) *CSVWriter {
	return &CSVWriter{
		tradesPath:  tradesPath,
		signalsPath: signalsPath,
		log:         logging.WithComponent("persistence"),
	}
}

// WriteTrade appends one closed-trade row.
func (w *CSVWriter) WriteTrade(r TradeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, isNew, err := openAppend(w.tradesPath)
	if err != nil {
		return fmt.Errorf("persistence: open trades csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(tradeHeader); err != nil {
			return fmt.Errorf("persistence: write trades header: %w", err)
		}
	}
	row := []string{
		r.ClosedAt.UTC().Format(time.RFC3339Nano),
		r.Symbol,
		string(r.Side),
		strconv.FormatFloat(r.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(r.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(r.Size, 'f', -1, 64),
		strconv.Itoa(r.Leverage),
		strconv.FormatFloat(r.GrossPnL, 'f', -1, 64),
		strconv.FormatFloat(r.Fees, 'f', -1, 64),
		strconv.FormatFloat(r.NetPnL, 'f', -1, 64),
		strconv.FormatFloat(r.DurationS, 'f', -1, 64),
		string(r.RegimeAtEntry),
		string(r.ProfileAtEntry),
		string(r.CloseReason),
		r.SignalType,
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("persistence: write trade row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("persistence: flush trades csv: %w", err)
	}
	w.log.WithField("symbol", r.Symbol).WithField("close_reason", string(r.CloseReason)).Info("wrote trade record")
	return nil
}

// WriteSignal appends one generated-signal row.
func (w *CSVWriter) WriteSignal(r SignalRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, isNew, err := openAppend(w.signalsPath)
	if err != nil {
		return fmt.Errorf("persistence: open signals csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(signalHeader); err != nil {
			return fmt.Errorf("persistence: write signals header: %w", err)
		}
	}
	row := []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Symbol,
		string(r.Side),
		r.Type,
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		strconv.FormatBool(r.Executed),
		r.OrderID,
		joinFiltersPassed(r.FiltersPassed),
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("persistence: write signal row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("persistence: flush signals csv: %w", err)
	}
	return nil
}

func joinFiltersPassed(filters []string) string {
	out := ""
	for i, f := range filters {
		if i > 0 {
			out += "|"
		}
		out += f
	}
	return out
}

func openAppend(path string) (*os.File, bool, error) {
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, false, err
	}
	return f, isNew, nil
}
