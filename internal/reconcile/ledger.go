package reconcile

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("reconciliation not found")
	ErrDuplicate = errors.New("session already reconciled")
	ErrInFlight  = errors.New("reconciliation in progress")
	ErrDead      = errors.New("reconciliation gave up")
)

// Entry is one checkout session's row in the ledger.
type Entry struct {
	SessionID     string     `json:"session_id"`
	EventID       string     `json:"event_id"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Ledger records every completed checkout before any order is created, so a
// crash or a Shopify outage leaves something to retry.
type Ledger interface {
	// Enqueue reports whether the session was new.
	Enqueue(ctx context.Context, sessionID, eventID string) (bool, error)
	// Claim takes the entry for one attempt until now+lease. It fails with
	// ErrDuplicate, ErrInFlight, ErrDead or ErrNotFound when it cannot.
	Claim(ctx context.Context, sessionID string, now time.Time, lease time.Duration) (Entry, error)
	Complete(ctx context.Context, sessionID, orderID string, now time.Time) error
	// Release ends an attempt without an order; to is FAILED, DEAD or
	// AWAITING_PAYMENT.
	Release(ctx context.Context, sessionID string, to Status, cause string, next, now time.Time) error
	// Due lists entries the sweeper should retry: pending rows created before
	// stale, failed rows whose next attempt has come, and expired leases.
	Due(ctx context.Context, now, stale time.Time, limit int) ([]string, error)
	Get(ctx context.Context, sessionID string) (Entry, error)
}

// claimError explains why an entry in status s could not be claimed.
func claimError(s Status) error {
	switch s {
	case StatusDone:
		return ErrDuplicate
	case StatusDead:
		return ErrDead
	default:
		return ErrInFlight
	}
}
