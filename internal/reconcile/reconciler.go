package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/redisx"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type SessionFetcher interface {
	FetchCompletedSession(ctx context.Context, id string) (payments.CompletedSession, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, o shop.Order) (shop.CreatedOrder, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) bool
}

const (
	baseBackoff = time.Minute
	maxBackoff  = time.Hour
)

// Backoff is the wait before retry number attempt+1: one minute doubling up
// to an hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Retryable reports whether another attempt could succeed. Client errors
// from either provider (other than rate limiting) never will.
func Retryable(err error) bool {
	var ae *shop.APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	var pe *payments.ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 0 || pe.Status == 429 || pe.Status >= 500
	}
	return true
}

type Reconciler struct {
	Ledger   Ledger
	Payments SessionFetcher
	Shop     OrderCreator
	Redis    *redis.Client

	Reconciled Publisher // OrderReconciled
	Alerts     Publisher // ReconciliationFailed, once an entry is dead

	ServiceName string
	MaxAttempts int
	Lease       time.Duration
	Logger      *slog.Logger

	Now func() time.Time
}

func (r *Reconciler) clock() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Reconciler) lease() time.Duration {
	if r.Lease <= 0 {
		return 2 * time.Minute
	}
	return r.Lease
}

func (r *Reconciler) maxAttempts() int {
	if r.MaxAttempts <= 0 {
		return 8
	}
	return r.MaxAttempts
}

// Reconcile creates the Shopify order for a completed checkout session at
// most once. The ledger entry must exist.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string) (Entry, error) {
	log := r.Logger.With(slog.String("session_id", sessionID))

	if r.Redis != nil {
		id, err := redisx.GetString(ctx, r.Redis, fmt.Sprintf(redisx.KeyIdemOrderCreate, sessionID))
		if err != nil {
			log.Warn("idempotency lookup failed", slog.Any("err", err))
		} else if id != "" {
			return r.adopt(ctx, sessionID, id, log)
		}
	}

	e, err := r.Ledger.Claim(ctx, sessionID, r.clock(), r.lease())
	if err != nil {
		return e, err
	}
	log = log.With(slog.Int("attempt", e.Attempts))

	sess, err := r.Payments.FetchCompletedSession(ctx, sessionID)
	if err != nil {
		return r.fail(ctx, e, fmt.Errorf("fetch session: %w", err), log)
	}
	if !sess.Paid() {
		now := r.clock()
		cause := "payment status " + sess.PaymentStatus
		if err := r.Ledger.Release(context.WithoutCancel(ctx), sessionID, StatusAwaitingPayment, cause, now, now); err != nil {
			return e, err
		}
		e.Status, e.LastError, e.LockedUntil = StatusAwaitingPayment, cause, nil
		r.cache(ctx, e)
		log.Info("payment not settled, waiting", slog.String("payment_status", sess.PaymentStatus))
		return e, nil
	}

	order := BuildOrder(sess)
	created, err := r.Shop.CreateOrder(ctx, order)
	if err != nil {
		var ae *shop.APIError
		if errors.As(err, &ae) {
			log.Error("shopify rejected order", slog.Int("status", ae.Status), slog.String("body", ae.Body))
		}
		return r.fail(ctx, e, fmt.Errorf("create order: %w", err), log)
	}

	// From here on the order exists, so nothing below may fail the attempt.
	ctx = context.WithoutCancel(ctx)
	orderID := strconv.FormatInt(created.ID, 10)
	if r.Redis != nil {
		key := fmt.Sprintf(redisx.KeyIdemOrderCreate, sessionID)
		if err := redisx.SetString(ctx, r.Redis, key, orderID, redisx.TTLIdempotency); err != nil {
			log.Warn("idempotency write failed", slog.Any("err", err))
		}
	}
	if err := r.complete(ctx, sessionID, orderID); err != nil {
		log.Error("order created but ledger not updated", slog.String("order_id", orderID), slog.Any("err", err))
		return e, err
	}
	e.Status, e.OrderID, e.LastError, e.LockedUntil = StatusDone, orderID, "", nil
	r.cache(ctx, e)

	total := orderTotal(order)
	r.publish(r.Reconciled, EventOrderReconciled, sessionID, OrderReconciledPayload{
		SessionID: sessionID,
		OrderID:   orderID,
		OrderName: created.Name,
		Email:     order.Email,
		Currency:  order.Currency,
		LineItems: reconciledItems(order),
		Total:     total.StringFixed(2),
	})
	log.Info("order created",
		slog.String("order_id", orderID),
		slog.String("order_name", created.Name),
		slog.Int("line_items", len(order.LineItems)),
		slog.String("total", total.StringFixed(2)),
	)
	return e, nil
}

var completeRetryDelay = 100 * time.Millisecond

// complete records the order on the ledger, retrying briefly: once the order
// exists the entry must not stay claimable.
func (r *Reconciler) complete(ctx context.Context, sessionID, orderID string) error {
	var err error
	for i := range 3 {
		if i > 0 {
			time.Sleep(completeRetryDelay << (i - 1))
		}
		if err = r.Ledger.Complete(ctx, sessionID, orderID, r.clock()); err == nil {
			return nil
		}
	}
	return err
}

// adopt moves an entry to done using the order id from the idempotency
// record, without calling Shopify. It repairs entries whose order was created
// but whose completion never reached the ledger.
func (r *Reconciler) adopt(ctx context.Context, sessionID, orderID string, log *slog.Logger) (Entry, error) {
	e, err := r.Ledger.Claim(ctx, sessionID, r.clock(), r.lease())
	if err != nil {
		return e, err
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.complete(ctx, sessionID, orderID); err != nil {
		log.Error("ledger repair failed", slog.String("order_id", orderID), slog.Any("err", err))
		return e, err
	}
	e.Status, e.OrderID, e.LastError, e.LockedUntil = StatusDone, orderID, "", nil
	r.cache(ctx, e)
	r.publish(r.Reconciled, EventOrderReconciled, sessionID, OrderReconciledPayload{
		SessionID: sessionID,
		OrderID:   orderID,
	})
	log.Warn("ledger completed from idempotency record", slog.String("order_id", orderID))
	return e, ErrDuplicate
}

func (r *Reconciler) fail(ctx context.Context, e Entry, cause error, log *slog.Logger) (Entry, error) {
	ctx = context.WithoutCancel(ctx)
	now := r.clock()
	to := StatusFailed
	if !Retryable(cause) || e.Attempts >= r.maxAttempts() {
		to = StatusDead
	}
	next := now.Add(Backoff(e.Attempts))
	if err := r.Ledger.Release(ctx, e.SessionID, to, cause.Error(), next, now); err != nil {
		log.Error("ledger release failed", slog.Any("err", err))
	}
	e.Status, e.LastError, e.NextAttemptAt, e.LockedUntil = to, cause.Error(), next, nil
	r.cache(ctx, e)

	if to == StatusDead {
		log.Error("reconciliation abandoned", slog.Any("err", cause))
		r.publish(r.Alerts, EventReconciliationFailed, e.SessionID, ReconciliationFailedPayload{
			SessionID: e.SessionID,
			Attempts:  e.Attempts,
			LastError: cause.Error(),
		})
		return e, fmt.Errorf("%w: %w", ErrDead, cause)
	}
	log.Warn("reconciliation failed, will retry", slog.Time("next_attempt_at", next), slog.Any("err", cause))
	return e, cause
}

func (r *Reconciler) cache(ctx context.Context, e Entry) {
	if r.Redis == nil {
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = redisx.SetString(ctx, r.Redis, fmt.Sprintf(redisx.KeyReconcileStatus, e.SessionID), string(b), redisx.TTLStatusCache)
}

func (r *Reconciler) publish(p Publisher, eventType, sessionID string, payload any) {
	if p == nil {
		return
	}
	env := kafkax.NewEnvelope(eventType, r.ServiceName, sessionID, payload)
	if !p.Publish(PartitionKey(sessionID), kafkax.MustMarshal(env), env.Headers()...) {
		r.Logger.Warn("event dropped", slog.String("event_type", eventType), slog.String("session_id", sessionID))
	}
}

// HandleCheckoutCompleted is the consumer handler for TopicCheckoutCompleted.
// Entries that are already done, in flight or abandoned are acknowledged.
func (r *Reconciler) HandleCheckoutCompleted(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		r.Logger.Warn("skip undecodable message", slog.Int64("offset", m.Offset), slog.Any("err", err))
		return nil
	}
	if env.EventType != EventCheckoutCompleted {
		return nil
	}
	p, err := kafkax.UnwrapPayload[CheckoutCompletedPayload](env.Payload)
	if err != nil || p.SessionID == "" {
		r.Logger.Warn("skip checkout event without session", slog.String("event_id", env.EventID))
		return nil
	}

	// The API enqueues before publishing; this covers events replayed from
	// elsewhere.
	if _, err := r.Ledger.Enqueue(ctx, p.SessionID, p.EventID); err != nil {
		return err
	}
	e, err := r.Reconcile(ctx, p.SessionID)
	switch {
	case err == nil, errors.Is(err, ErrDuplicate), errors.Is(err, ErrInFlight), errors.Is(err, ErrDead):
		return nil
	case e.Status == StatusFailed:
		// Recorded with its next attempt time; the sweeper owns the retry.
		return nil
	}
	return fmt.Errorf("reconcile %s: %w", p.SessionID, err)
}

// Lookup returns the ledger entry for a session, served from the Redis
// status cache when possible.
func Lookup(ctx context.Context, l Ledger, rdb *redis.Client, sessionID string) (Entry, error) {
	key := fmt.Sprintf(redisx.KeyReconcileStatus, sessionID)
	if rdb != nil {
		if s, err := redisx.GetString(ctx, rdb, key); err == nil && s != "" {
			var e Entry
			if json.Unmarshal([]byte(s), &e) == nil {
				return e, nil
			}
		}
	}
	e, err := l.Get(ctx, sessionID)
	if err != nil {
		return Entry{}, err
	}
	if rdb != nil {
		if b, err := json.Marshal(e); err == nil {
			_ = redisx.SetString(ctx, rdb, key, string(b), redisx.TTLStatusCache)
		}
	}
	return e, nil
}
