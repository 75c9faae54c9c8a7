package persistence

import (
	"context"

	"okx-scalper/internal/logging"
)

// Store is the single persistence entry point the engine writes through: a
// CSV writer that must succeed (it is the record of truth for post-hoc
// analysis per spec.md) backed by an optional Postgres journal mirror that
// is best-effort and never fails a trade or signal write.
type Store struct {
	csv     *CSVWriter
	journal *Journal
	log     *logging.Logger
}

// NewStore builds a Store. journal may be nil, in which case only the CSV
// files are written.
func NewStore(csv *CSVWriter, journal *Journal) *Store {
	return &Store{csv: csv, journal: journal, log: logging.WithComponent("persistence")}
}

// RecordTrade appends the closed trade to CSV, then best-effort mirrors it
// into Postgres.
func (s *Store) RecordTrade(ctx context.Context, r TradeRecord) error {
	if err := s.csv.WriteTrade(r); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RecordTrade(ctx, r); err != nil {
			s.log.WithError(err).WithField("symbol", r.Symbol).Warn("postgres trade mirror failed")
		}
	}
	return nil
}

// RecordSignal appends the generated signal to CSV, then best-effort
// mirrors it into Postgres.
func (s *Store) RecordSignal(ctx context.Context, r SignalRecord) error {
	if err := s.csv.WriteSignal(r); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RecordSignal(ctx, r); err != nil {
			s.log.WithError(err).WithField("symbol", r.Symbol).Warn("postgres signal mirror failed")
		}
	}
	return nil
}
