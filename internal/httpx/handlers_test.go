package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/reconcile"
	"github.com/ariefcatur/storefront-bridge/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCreator struct {
	mu   sync.Mutex
	reqs []checkout.SessionRequest
	err  error
}

func (f *fakeCreator) CreateCheckoutSession(_ context.Context, req checkout.SessionRequest) (checkout.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return checkout.Session{}, f.err
	}
	return checkout.Session{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

// fakeLedger only implements what the API process uses.
type fakeLedger struct {
	reconcile.Ledger
	mu       sync.Mutex
	enqueued []string
	entries  map[string]reconcile.Entry
	err      error
}

func (l *fakeLedger) Enqueue(_ context.Context, sessionID, _ string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	l.enqueued = append(l.enqueued, sessionID)
	return true, nil
}

func (l *fakeLedger) Get(_ context.Context, sessionID string) (reconcile.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[sessionID]
	if !ok {
		return reconcile.Entry{}, reconcile.ErrNotFound
	}
	return e, nil
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

const webhookSecret = "whsec_test"

type testAPI struct {
	router  *chi.Mux
	creator *fakeCreator
	ledger  *fakeLedger
	pub     *fakePublisher
	rdb     *redis.Client
	mr      *miniredis.Miniredis
}

func newTestAPI(t *testing.T, response string) *testAPI {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	a := &testAPI{
		router:  NewRouter(),
		creator: &fakeCreator{},
		ledger:  &fakeLedger{entries: map[string]reconcile.Entry{}},
		pub:     &fakePublisher{},
		rdb:     rdb,
		mr:      mr,
	}
	(&CheckoutHandler{
		Initiator: &checkout.Initiator{
			Provider: a.creator,
			Options:  checkout.Options{Currency: "usd", SuccessURL: "https://s", CancelURL: "https://c"},
			Logger:   discard,
		},
		Response: response,
		Logger:   discard,
	}).Register(a.router)
	(&WebhookHandler{
		Verifier:    &payments.Verifier{Secret: webhookSecret, Tolerance: 5 * time.Minute},
		Ledger:      a.ledger,
		Producer:    a.pub,
		Redis:       rdb,
		ServiceName: "test",
		Logger:      discard,
	}).Register(a.router)
	(&ReconciliationHandler{Ledger: a.ledger, Redis: rdb, Logger: discard}).Register(a.router)
	return a
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func checkoutForm(v url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/create-checkout-session", strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLiveness(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	for _, path := range []string{"/", "/ping"} {
		rec := a.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
		assert.NotEmpty(t, rec.Body.String())
	}
}

func TestCreateCheckoutSession_Redirects(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	rec := a.do(checkoutForm(url.Values{
		"product_name[]":  {"Widget"},
		"product_price[]": {"19.99"},
		"quantity[]":      {"2"},
	}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", rec.Header().Get("Location"))
	require.Len(t, a.creator.reqs, 1)
	assert.Equal(t, []checkout.LineItem{{Name: "Widget", UnitAmount: 1999, Quantity: 2}}, a.creator.reqs[0].Items)
	assert.Equal(t, "usd", a.creator.reqs[0].Currency)
}

func TestCreateCheckoutSession_JSON(t *testing.T) {
	for name, tc := range map[string]struct {
		mode, accept string
	}{
		"configured": {ResponseJSON, ""},
		"accept":     {ResponseRedirect, "application/json"},
	} {
		t.Run(name, func(t *testing.T) {
			a := newTestAPI(t, tc.mode)
			req := checkoutForm(url.Values{"product_name[]": {"Widget"}, "product_price[]": {"19.99"}})
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			rec := a.do(req)
			require.Equal(t, http.StatusOK, rec.Code)
			var body CheckoutResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", body.URL)
			assert.Equal(t, "cs_test_1", body.ID)
		})
	}
}

func TestCreateCheckoutSession_NoValidProducts(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	rec := a.do(checkoutForm(url.Values{
		"product_name[]":  {"A", "B"},
		"product_price[]": {"1.00", "2.00"},
		"quantity[]":      {"0", "-1"},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"no valid products"}`, rec.Body.String())
	assert.Empty(t, a.creator.reqs, "provider must not be called")
}

func TestCreateCheckoutSession_BadPrice(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	rec := a.do(checkoutForm(url.Values{"product_name[]": {"A"}, "product_price[]": {"abc"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.creator.reqs)
}

func TestCreateCheckoutSession_OversizedPrice(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	rec := a.do(checkoutForm(url.Values{"product_name[]": {"A"}, "product_price[]": {"92233720368547758.08"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.creator.reqs)
}

func TestCreateCheckoutSession_StorefrontPath(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	v := url.Values{"product_name[]": {"Widget"}, "product_price[]": {"19.99"}}
	req := httptest.NewRequest(http.MethodPost, "/create-stripe-checkout-session", strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := a.do(req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	require.Len(t, a.creator.reqs, 1)
}

func TestCreateCheckoutSession_ProviderErrorVerbatim(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	a.creator.err = &payments.ProviderError{Status: 400, Message: "Invalid currency: xyz"}
	rec := a.do(checkoutForm(url.Values{"product_name[]": {"A"}, "product_price[]": {"1.00"}}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid currency: xyz"}`, rec.Body.String())
}

const completedEvent = `{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1760400000,
"data":{"object":{"id":"cs_test_1","object":"checkout.session","payment_status":"paid"}}}`

func webhookRequest(payload string, header string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payment-webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	return req
}

func signed(payload string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func TestPaymentWebhook_RecordsCompletedCheckout(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	rec := a.do(webhookRequest(completedEvent, signed(completedEvent)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, []string{"cs_test_1"}, a.ledger.enqueued)
	require.Len(t, a.pub.msgs, 1)
	assert.Equal(t, "cs_test_1", string(a.pub.msgs[0].Key))
}

func TestPaymentWebhook_TamperedBodyRejected(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	header := signed(completedEvent)
	tampered := strings.Replace(completedEvent, "cs_test_1", "cs_test_2", 1)

	rec := a.do(webhookRequest(tampered, header))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.ledger.enqueued)
	assert.Empty(t, a.pub.msgs)

	rec = a.do(webhookRequest(completedEvent, "garbage"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, a.ledger.enqueued)
}

func TestPaymentWebhook_DuplicateDeliveryIgnored(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	for i := 0; i < 2; i++ {
		rec := a.do(webhookRequest(completedEvent, signed(completedEvent)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, a.ledger.enqueued, 1)
	assert.Len(t, a.pub.msgs, 1)
}

func TestPaymentWebhook_UnknownTypeAccepted(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	ev := `{"id":"evt_9","object":"event","type":"customer.created","created":1760400000,"data":{"object":{"id":"cus_1"}}}`
	rec := a.do(webhookRequest(ev, signed(ev)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, a.ledger.enqueued)
	assert.Empty(t, a.pub.msgs)
}

func TestPaymentWebhook_LedgerFailureAsksForRetry(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	a.ledger.err = errors.New("db down")

	rec := a.do(webhookRequest(completedEvent, signed(completedEvent)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, a.pub.msgs)
	assert.False(t, a.mr.Exists("dedup:payment-webhook:evt_1"), "a failed delivery must not be marked seen")

	a.ledger.err = nil
	rec = a.do(webhookRequest(completedEvent, signed(completedEvent)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, a.pub.msgs, 1)
}

func TestGetReconciliation(t *testing.T) {
	a := newTestAPI(t, ResponseRedirect)
	a.ledger.entries["cs_1"] = reconcile.Entry{SessionID: "cs_1", Status: reconcile.StatusDone, OrderID: "1001"}

	rec := a.do(httptest.NewRequest(http.MethodGet, "/reconciliations/cs_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var e reconcile.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, reconcile.StatusDone, e.Status)
	assert.True(t, a.mr.Exists("reconcile_status:cs_1"), "status is cached")

	rec = a.do(httptest.NewRequest(http.MethodGet, "/reconciliations/cs_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
