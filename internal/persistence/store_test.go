package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"okx-scalper/internal/domain"
)

func TestStoreRecordTradeWithoutJournalStillWritesCSV(t *testing.T) {
	dir := t.TempDir()
	csvWriter := NewCSVWriter(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "signals.csv"))
	store := NewStore(csvWriter, nil)

	err := store.RecordTrade(context.Background(), TradeRecord{
		Symbol:         "BTC-USDT-SWAP",
		Side:           domain.SideLong,
		RegimeAtEntry:  domain.RegimeTrending,
		ProfileAtEntry: domain.TierMedium,
		CloseReason:    domain.ExitStopLoss,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreRecordSignalWithoutJournalStillWritesCSV(t *testing.T) {
	dir := t.TempDir()
	csvWriter := NewCSVWriter(filepath.Join(dir, "trades.csv"), filepath.Join(dir, "signals.csv"))
	store := NewStore(csvWriter, nil)

	err := store.RecordSignal(context.Background(), SignalRecord{
		Symbol: "ETH-USDT-SWAP",
		Side:   domain.SideShort,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
