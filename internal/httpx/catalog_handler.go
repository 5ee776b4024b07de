package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/catalog"
	"github.com/ariefcatur/storefront-bridge/internal/shop"
	"github.com/go-chi/chi/v5"
)

type CatalogHandler struct {
	Syncer *catalog.Syncer
	Runner *catalog.Runner
	// WebhookSecret enables /catalog-webhook when set.
	WebhookSecret string
	Logger        *slog.Logger
}

func (h *CatalogHandler) Register(r *chi.Mux) {
	r.Post("/sync-catalog", h.triggerSync)
	r.Get("/sync-catalog", h.syncStatus)
	if h.WebhookSecret != "" {
		r.Post("/catalog-webhook", h.productWebhook)
	}
}

func (h *CatalogHandler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.Runner.Trigger(r.Context()) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *CatalogHandler) syncStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"running": h.Runner.Running()}
	if rep, ok := h.Runner.Last(); ok {
		body["last"] = rep
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *CatalogHandler) productWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !shop.VerifyWebhook(h.WebhookSecret, body, r.Header.Get(shop.HMACHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid hmac")
		return
	}
	var p shop.Product
	if err := json.Unmarshal(body, &p); err != nil || p.ID == 0 {
		writeError(w, http.StatusBadRequest, "invalid product")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Syncer.Mirror(ctx, p)
	switch {
	case errors.Is(err, catalog.ErrNoPrice):
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
		return
	case err != nil:
		h.Logger.Error("mirror product", slog.Int64("shopify_product_id", p.ID), slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
