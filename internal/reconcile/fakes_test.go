package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	kafkago "github.com/segmentio/kafka-go"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memLedger mirrors PGLedger's semantics in memory.
type memLedger struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func newMemLedger() *memLedger { return &memLedger{entries: map[string]*Entry{}} }

func (l *memLedger) Enqueue(_ context.Context, sessionID, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[sessionID]; ok {
		return false, nil
	}
	now := time.Now()
	l.entries[sessionID] = &Entry{SessionID: sessionID, EventID: eventID, Status: StatusPending,
		NextAttemptAt: now, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (l *memLedger) Claim(_ context.Context, sessionID string, now time.Time, lease time.Duration) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	claimable := e.Status != StatusInProgress || (e.LockedUntil != nil && e.LockedUntil.Before(now))
	if !claimable || !CanTransition(e.Status, StatusInProgress) {
		return *e, claimError(e.Status)
	}
	until := now.Add(lease)
	e.Status, e.LockedUntil, e.UpdatedAt = StatusInProgress, &until, now
	e.Attempts++
	return *e, nil
}

func (l *memLedger) Complete(_ context.Context, sessionID, orderID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok || e.Status != StatusInProgress {
		return ErrNotFound
	}
	e.Status, e.OrderID, e.LastError, e.LockedUntil, e.UpdatedAt = StatusDone, orderID, "", nil, now
	return nil
}

func (l *memLedger) Release(_ context.Context, sessionID string, to Status, cause string, next, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok || e.Status != StatusInProgress || !CanTransition(e.Status, to) {
		return ErrNotFound
	}
	e.Status, e.LastError, e.NextAttemptAt, e.LockedUntil, e.UpdatedAt = to, cause, next, nil, now
	return nil
}

func (l *memLedger) Due(_ context.Context, now, stale time.Time, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, e := range l.entries {
		switch {
		case e.Status == StatusPending && !e.CreatedAt.After(stale),
			e.Status == StatusFailed && !e.NextAttemptAt.After(now),
			e.Status == StatusInProgress && e.LockedUntil != nil && e.LockedUntil.Before(now):
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (l *memLedger) Get(_ context.Context, sessionID string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

type fakePayments struct {
	mu       sync.Mutex
	sessions map[string]payments.CompletedSession
	err      error
	calls    int
}

func (f *fakePayments) FetchCompletedSession(_ context.Context, id string) (payments.CompletedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return payments.CompletedSession{}, f.err
	}
	return f.sessions[id], nil
}

type fakeShop struct {
	mu     sync.Mutex
	orders []shop.Order
	errs   []error // consumed one per call
	nextID int64
}

func (f *fakeShop) CreateOrder(_ context.Context, o shop.Order) (shop.CreatedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return shop.CreatedOrder{}, err
		}
	}
	f.orders = append(f.orders, o)
	f.nextID++
	return shop.CreatedOrder{ID: 1000 + f.nextID, Name: fmt.Sprintf("#%d", 1000+f.nextID)}, nil
}

func (f *fakeShop) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return true
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}
