package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/reconcile"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type ReconciliationHandler struct {
	Ledger reconcile.Ledger
	Redis  *redis.Client
	Logger *slog.Logger
}

func (h *ReconciliationHandler) Register(r *chi.Mux) {
	r.Get("/reconciliations/{session_id}", h.get)
}

func (h *ReconciliationHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	e, err := reconcile.Lookup(ctx, h.Ledger, h.Redis, id)
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case err != nil:
		h.Logger.Error("lookup reconciliation", slog.String("session_id", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
	default:
		writeJSON(w, http.StatusOK, e)
	}
}
