package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweeper re-drives ledger entries the consumer never finished: messages lost
// before they reached Kafka, failed attempts whose backoff has passed and
// attempts abandoned by a crashed worker.
type Sweeper struct {
	Reconciler *Reconciler
	Interval   time.Duration
	Batch      int
	Logger     *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass and returns how many entries were reconciled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	r := s.Reconciler
	now := r.clock()
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}

	// Pending rows younger than one interval are left to the consumer.
	ids, err := r.Ledger.Due(ctx, now, now.Add(-interval), batch)
	if err != nil {
		s.Logger.Error("sweep: list due entries", slog.Any("err", err))
		return 0
	}
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, err := r.Reconcile(ctx, id)
		switch {
		case err == nil:
			done++
		case errors.Is(err, ErrDuplicate), errors.Is(err, ErrInFlight), errors.Is(err, ErrDead):
		default:
			s.Logger.Debug("sweep: attempt failed", slog.String("session_id", id), slog.Any("err", err))
		}
	}
	if len(ids) > 0 {
		s.Logger.Info("sweep finished", slog.Int("due", len(ids)), slog.Int("reconciled", done))
	}
	return done
}
