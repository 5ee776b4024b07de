package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/storefront-bridge/internal/kafka"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/reconcile"
	"github.com/ariefcatur/storefront-bridge/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const maxWebhookBody = 1 << 16

// WebhookHandler accepts Stripe events. A completed checkout is written to
// the ledger before the 200 goes out; order creation happens in the
// reconciler.
type WebhookHandler struct {
	Verifier    *payments.Verifier
	Ledger      reconcile.Ledger
	Producer    reconcile.Publisher
	Redis       *redis.Client
	ServiceName string
	Logger      *slog.Logger
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/payment-webhook", h.paymentWebhook)
}

func (h *WebhookHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	ev, err := h.Verifier.Verify(body, r.Header.Get(payments.SignatureHeader))
	if err != nil {
		h.Logger.Warn("webhook rejected", slog.Any("err", err))
		if errors.Is(err, payments.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
		} else {
			writeError(w, http.StatusBadRequest, "invalid payload")
		}
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	log := h.Logger.With(slog.String("event_id", ev.ID), slog.String("event_type", ev.Type))

	dkey := fmt.Sprintf(redisx.KeyDedup, "payment-webhook", ev.ID)
	if h.Redis != nil {
		if seen, _ := redisx.Exists(ctx, h.Redis, dkey); seen {
			log.Info("duplicate delivery")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	switch ev.Type {
	case payments.EventCheckoutCompleted, payments.EventCheckoutAsyncPaymentOK:
		if err := h.record(ctx, ev); err != nil {
			// Stripe retries anything that is not 2xx.
			log.Error("record checkout", slog.String("session_id", ev.ObjectID), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "could not record event")
			return
		}
		log.Info("checkout recorded", slog.String("session_id", ev.ObjectID), slog.String("payment_status", ev.PaymentStatus))
	case payments.EventPaymentSucceeded:
		log.Info("payment intent succeeded", slog.String("payment_intent", ev.ObjectID))
	case payments.EventPaymentFailed, payments.EventCheckoutAsyncPaymentFailed:
		log.Warn("payment failed", slog.String("object_id", ev.ObjectID))
	default:
		log.Debug("event ignored")
	}

	if h.Redis != nil {
		_, _ = redisx.Mark(ctx, h.Redis, dkey, redisx.TTLDedup)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) record(ctx context.Context, ev payments.Event) error {
	if ev.ObjectID == "" {
		return errors.New("event without session id")
	}
	if _, err := h.Ledger.Enqueue(ctx, ev.ObjectID, ev.ID); err != nil {
		return err
	}
	env := kafkax.NewEnvelope(reconcile.EventCheckoutCompleted, h.ServiceName, ev.ObjectID, reconcile.CheckoutCompletedPayload{
		SessionID: ev.ObjectID,
		EventID:   ev.ID,
		EventType: ev.Type,
	})
	// A dropped message is recovered by the sweeper from the ledger row.
	h.Producer.Publish(reconcile.PartitionKey(ev.ObjectID), kafkax.MustMarshal(env), env.Headers()...)
	return nil
}
