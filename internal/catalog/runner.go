package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner allows one background sync at a time.
type Runner struct {
	Syncer  *Syncer
	Timeout time.Duration
	Logger  *slog.Logger

	mu      sync.Mutex
	running bool
	last    *Report
	wg      sync.WaitGroup
}

// Trigger starts a sync unless one is already running and reports whether
// it started one. The sync outlives the caller's request.
func (r *Runner) Trigger(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.mu.Unlock()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		rep, err := r.Syncer.Sync(runCtx)
		if err != nil {
			r.Logger.Error("catalog sync aborted", slog.Any("err", err))
		}
		r.mu.Lock()
		r.running = false
		r.last = &rep
		r.mu.Unlock()
	}()
	return true
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Last returns the report of the most recent finished sync.
func (r *Runner) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Wait blocks until the running sync, if any, is done.
func (r *Runner) Wait() { r.wg.Wait() }
