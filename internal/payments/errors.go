package payments

import (
	"errors"

	"github.com/stripe/stripe-go/v82"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadPayload   = errors.New("invalid webhook payload")
)

// ProviderError carries the payment provider's own error message so callers
// can surface it unchanged.
type ProviderError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }

func providerError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = err.Error()
		}
		return &ProviderError{Status: se.HTTPStatusCode, Code: string(se.Code), Message: msg, Err: err}
	}
	return err
}

func isMissing(err error) bool {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == 404
}
