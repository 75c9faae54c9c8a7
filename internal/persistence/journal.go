package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"okx-scalper/internal/logging"
)

// JournalConfig holds the Postgres connection parameters for the trade
// journal.
type JournalConfig struct {
	DSN string
}

// Journal mirrors the CSV trade and signal rows into Postgres, so they can
// be queried without reparsing flat files.
type Journal struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// NewJournal connects to Postgres and runs the journal's migrations.
func NewJournal(ctx context.Context, cfg JournalConfig) (*Journal, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse dsn: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("persistence: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}

	j := &Journal{pool: pool, log: logging.WithComponent("persistence")}
	if err := j.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the connection pool.
func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
	}
}

func (j *Journal) runMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			ts_close TIMESTAMP NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(5) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			leverage INT NOT NULL,
			gross_pnl DECIMAL(20, 8) NOT NULL,
			fees DECIMAL(20, 8) NOT NULL,
			net_pnl DECIMAL(20, 8) NOT NULL,
			duration_s DOUBLE PRECISION NOT NULL,
			regime_at_entry VARCHAR(16) NOT NULL,
			profile_at_entry VARCHAR(16) NOT NULL,
			close_reason VARCHAR(32) NOT NULL,
			signal_type VARCHAR(32) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ts_close ON trades(ts_close)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id SERIAL PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(5) NOT NULL,
			signal_type VARCHAR(32) NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			executed BOOLEAN NOT NULL DEFAULT FALSE,
			order_id VARCHAR(64),
			filters_passed TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_executed ON signals(executed)`,
	}

	for i, m := range migrations {
		if _, err := j.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("persistence: migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// RecordTrade inserts one closed-trade row.
func (j *Journal) RecordTrade(ctx context.Context, r TradeRecord) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO trades (
			ts_close, symbol, side, entry_price, exit_price, size, leverage,
			gross_pnl, fees, net_pnl, duration_s, regime_at_entry, profile_at_entry,
			close_reason, signal_type
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ClosedAt, r.Symbol, string(r.Side), r.EntryPrice, r.ExitPrice, r.Size, r.Leverage,
		r.GrossPnL, r.Fees, r.NetPnL, r.DurationS, string(r.RegimeAtEntry), string(r.ProfileAtEntry),
		string(r.CloseReason), r.SignalType,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert trade: %w", err)
	}
	return nil
}

// RecordSignal inserts one generated-signal row.
func (j *Journal) RecordSignal(ctx context.Context, r SignalRecord) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO signals (ts, symbol, side, signal_type, score, executed, order_id, filters_passed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.Timestamp, r.Symbol, string(r.Side), r.Type, r.Score, r.Executed, r.OrderID, joinFiltersPassed(r.FiltersPassed),
	)
	if err != nil {
		return fmt.Errorf("persistence: insert signal: %w", err)
	}
	return nil
}

// HealthCheck pings the connection pool.
func (j *Journal) HealthCheck(ctx context.Context) error {
	return j.pool.Ping(ctx)
}
