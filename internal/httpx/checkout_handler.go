package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-bridge/internal/checkout"
	"github.com/ariefcatur/storefront-bridge/internal/payments"
	"github.com/go-chi/chi/v5"
)

const (
	ResponseRedirect = "redirect"
	ResponseJSON     = "json"
)

type CheckoutHandler struct {
	Initiator *checkout.Initiator
	// Response is ResponseRedirect or ResponseJSON. Clients asking for
	// application/json always get JSON.
	Response string
	Logger   *slog.Logger
}

type CheckoutResp struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/create-checkout-session", h.createSession)
	// Path used by existing storefront forms.
	r.Post("/create-stripe-checkout-session", h.createSession)
}

func (h *CheckoutHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(1 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	cart, err := checkout.ParseCart(r.PostForm)
	if err != nil {
		writeError(w, http.StatusBadRequest, inputMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	s, err := h.Initiator.Create(ctx, cart)
	if err != nil {
		var ie *checkout.InputError
		if errors.As(err, &ie) {
			writeError(w, http.StatusBadRequest, ie.Msg)
			return
		}
		h.Logger.Error("create checkout session", slog.Any("err", err))
		var pe *payments.ProviderError
		if errors.As(err, &pe) {
			writeError(w, http.StatusInternalServerError, pe.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.Response == ResponseJSON || strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, CheckoutResp{URL: s.URL, ID: s.ID})
		return
	}
	http.Redirect(w, r, s.URL, http.StatusSeeOther)
}

func inputMessage(err error) string {
	var ie *checkout.InputError
	if errors.As(err, &ie) {
		return ie.Msg
	}
	return err.Error()
}
