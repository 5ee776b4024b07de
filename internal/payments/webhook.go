package payments

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader is the request header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventPaymentSucceeded           = "payment_intent.succeeded"
	EventPaymentFailed              = "payment_intent.payment_failed"
)

// Event is a verified provider webhook event.
type Event struct {
	ID       string
	Type     string
	Created  time.Time
	ObjectID string
	// PaymentStatus is set for checkout session events.
	PaymentStatus string
}

type Verifier struct {
	Secret    string
	Tolerance time.Duration
}

// Verify checks header against the exact payload bytes and only then decodes
// the event envelope. The v1 scheme is used; any one matching v1 signature in
// the header is accepted, and timestamps outside Tolerance are rejected.
func (v Verifier) Verify(payload []byte, header string) (Event, error) {
	tol := v.Tolerance
	if tol <= 0 {
		tol = webhook.DefaultTolerance
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.Secret, tol); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if se.ID == "" || se.Type == "" || se.Data == nil {
		return Event{}, fmt.Errorf("%w: missing id, type or data", ErrBadPayload)
	}

	var obj struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
	}
	if len(se.Data.Raw) > 0 {
		if err := json.Unmarshal(se.Data.Raw, &obj); err != nil {
			return Event{}, fmt.Errorf("%w: data.object: %v", ErrBadPayload, err)
		}
	}

	return Event{
		ID:            se.ID,
		Type:          string(se.Type),
		Created:       time.Unix(se.Created, 0).UTC(),
		ObjectID:      obj.ID,
		PaymentStatus: obj.PaymentStatus,
	}, nil
}

// Settled reports whether a checkout session event carries a completed payment.
func (e Event) Settled() bool {
	switch e.PaymentStatus {
	case "paid", "no_payment_required":
		return true
	}
	return false
}
