package checkout

import (
	"context"
	"fmt"
	"log/slog"
)

type SessionRequest struct {
	Items             []LineItem
	Currency          string
	SuccessURL        string
	CancelURL         string
	CollectBilling    bool
	ShippingCountries []string
	Metadata          map[string]string
}

type Session struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	AmountTotal int64  `json:"amount_total"`
}

// SessionCreator creates hosted checkout sessions at the payment provider.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req SessionRequest) (Session, error)
}

type Options struct {
	Currency          string
	SuccessURL        string
	CancelURL         string
	CollectBilling    bool
	ShippingCountries []string
	Source            string
}

type Initiator struct {
	Provider SessionCreator
	Options  Options
	Logger   *slog.Logger
}

// Create requests a one-time hosted payment session for cart. Provider errors
// are returned unchanged so their message can be passed to the caller.
func (in *Initiator) Create(ctx context.Context, cart Cart) (Session, error) {
	if len(cart.Items) == 0 {
		return Session{}, &InputError{Msg: ErrNoValidProducts.Error(), Err: ErrNoValidProducts}
	}
	total, err := cart.Total()
	if err != nil {
		return Session{}, &InputError{Msg: err.Error(), Err: err}
	}
	req := SessionRequest{
		Items:             cart.Items,
		Currency:          in.Options.Currency,
		SuccessURL:        in.Options.SuccessURL,
		CancelURL:         in.Options.CancelURL,
		CollectBilling:    in.Options.CollectBilling,
		ShippingCountries: in.Options.ShippingCountries,
	}
	if in.Options.Source != "" {
		req.Metadata = map[string]string{"source": in.Options.Source}
	}

	s, err := in.Provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	in.Logger.Info("checkout session created",
		slog.String("session_id", s.ID),
		slog.Int("items", len(cart.Items)),
		slog.Int64("total", total),
		slog.String("currency", in.Options.Currency),
	)
	return s, nil
}
