package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGLedger struct{ DB *pgxpool.Pool }

const entryColumns = `session_id, event_id, status, attempts, last_error, order_id,
	next_attempt_at, locked_until, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var status string
	err := row.Scan(&e.SessionID, &e.EventID, &status, &e.Attempts, &e.LastError, &e.OrderID,
		&e.NextAttemptAt, &e.LockedUntil, &e.CreatedAt, &e.UpdatedAt)
	e.Status = Status(status)
	return e, err
}

// Enqueue is idempotent on session_id: the first event for a session wins.
func (l *PGLedger) Enqueue(ctx context.Context, sessionID, eventID string) (bool, error) {
	tag, err := l.DB.Exec(ctx, `
		INSERT INTO reconciliations(session_id, event_id, status)
		VALUES ($1, $2, 'PENDING')
		ON CONFLICT (session_id) DO NOTHING`, sessionID, eventID)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", sessionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *PGLedger) Claim(ctx context.Context, sessionID string, now time.Time, lease time.Duration) (Entry, error) {
	row := l.DB.QueryRow(ctx, `
		UPDATE reconciliations
		SET status = 'IN_PROGRESS', attempts = attempts + 1, locked_until = $3, updated_at = $2
		WHERE session_id = $1
		  AND (status IN ('PENDING', 'FAILED', 'AWAITING_PAYMENT')
		       OR (status = 'IN_PROGRESS' AND locked_until < $2))
		RETURNING `+entryColumns, sessionID, now, now.Add(lease))
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("claim %s: %w", sessionID, err)
	}
	cur, err := l.Get(ctx, sessionID)
	if err != nil {
		return Entry{}, err
	}
	return cur, claimError(cur.Status)
}

func (l *PGLedger) Complete(ctx context.Context, sessionID, orderID string, now time.Time) error {
	tag, err := l.DB.Exec(ctx, `
		UPDATE reconciliations
		SET status = 'DONE', order_id = $2, last_error = '', locked_until = NULL, updated_at = $3
		WHERE session_id = $1 AND status = 'IN_PROGRESS'`, sessionID, orderID, now)
	if err != nil {
		return fmt.Errorf("complete %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (l *PGLedger) Release(ctx context.Context, sessionID string, to Status, cause string, next, now time.Time) error {
	if !CanTransition(StatusInProgress, to) || to == StatusDone || to == StatusInProgress {
		return fmt.Errorf("release %s: invalid status %s", sessionID, to)
	}
	tag, err := l.DB.Exec(ctx, `
		UPDATE reconciliations
		SET status = $2, last_error = $3, next_attempt_at = $4, locked_until = NULL, updated_at = $5
		WHERE session_id = $1 AND status = 'IN_PROGRESS'`, sessionID, string(to), cause, next, now)
	if err != nil {
		return fmt.Errorf("release %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (l *PGLedger) Due(ctx context.Context, now, stale time.Time, limit int) ([]string, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT session_id FROM reconciliations
		WHERE (status = 'PENDING' AND created_at <= $2)
		   OR (status = 'FAILED' AND next_attempt_at <= $1)
		   OR (status = 'IN_PROGRESS' AND locked_until < $1)
		ORDER BY next_attempt_at
		LIMIT $3`, now, stale, limit)
	if err != nil {
		return nil, fmt.Errorf("due: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (l *PGLedger) Get(ctx context.Context, sessionID string) (Entry, error) {
	e, err := scanEntry(l.DB.QueryRow(ctx, `SELECT `+entryColumns+` FROM reconciliations WHERE session_id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", sessionID, err)
	}
	return e, nil
}
