package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ariefcatur/storefront-bridge/internal/catalog"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	err   error
	calls []payments.ProductListing
}

func (f *fakeMirror) UpsertProduct(_ context.Context, p payments.ProductListing) (payments.MirrorResult, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return payments.MirrorResult{}, f.err
	}
	return payments.MirrorResult{ProductID: p.ID, PriceID: "price_1", Action: payments.MirrorCreated}, nil
}

func (f *fakeMirror) CreatePaymentLink(context.Context, string, string, string) (string, error) {
	return "", nil
}

type blockingSource struct{ release chan struct{} }

func (s blockingSource) EachProduct(ctx context.Context, _ int, _ func(shop.Product) error) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

const catalogSecret = "shpss_test"

func newCatalogAPI(secret string) (*fakeMirror, *catalog.Runner, chan struct{}, http.Handler) {
	m := &fakeMirror{}
	release := make(chan struct{})
	syncer := &catalog.Syncer{Source: blockingSource{release}, Target: m, Currency: "usd", Logger: discard}
	runner := &catalog.Runner{Syncer: syncer, Logger: discard}
	r := NewRouter()
	(&CatalogHandler{Syncer: syncer, Runner: runner, WebhookSecret: secret, Logger: discard}).Register(r)
	return m, runner, release, r
}

func productWebhookRequest(body, hmac string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/catalog-webhook", strings.NewReader(body))
	req.Header.Set(shop.HMACHeader, hmac)
	req.Header.Set("X-Shopify-Topic", "products/create")
	return req
}

func TestCatalogWebhook(t *testing.T) {
	const product = `{"id":42,"title":"Mug","body_html":"Ceramic","variants":[{"id":7,"price":"12.50"}]}`

	t.Run("mirrors signed product", func(t *testing.T) {
		m, _, _, h := newCatalogAPI(catalogSecret)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, productWebhookRequest(product, shop.Sign(catalogSecret, []byte(product))))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, m.calls, 1)
		assert.Equal(t, "shopify_42", m.calls[0].ID)
		assert.Equal(t, int64(1250), m.calls[0].UnitAmount)
	})

	t.Run("bad hmac", func(t *testing.T) {
		m, _, _, h := newCatalogAPI(catalogSecret)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, productWebhookRequest(product, shop.Sign("other", []byte(product))))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, m.calls)
	})

	t.Run("bad json", func(t *testing.T) {
		_, _, _, h := newCatalogAPI(catalogSecret)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, productWebhookRequest("{", shop.Sign(catalogSecret, []byte("{"))))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider failure", func(t *testing.T) {
		m, _, _, h := newCatalogAPI(catalogSecret)
		m.err = &payments.ProviderError{Status: 500, Message: "stripe down"}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, productWebhookRequest(product, shop.Sign(catalogSecret, []byte(product))))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("disabled without secret", func(t *testing.T) {
		_, _, _, h := newCatalogAPI("")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, productWebhookRequest(product, shop.Sign(catalogSecret, []byte(product))))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSyncCatalog_SingleFlight(t *testing.T) {
	_, runner, release, h := newCatalogAPI("")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync-catalog", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync-catalog", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	runner.Wait()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync-catalog", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
	assert.Contains(t, rec.Body.String(), `"last"`)
}
