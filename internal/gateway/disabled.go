package gateway

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/heating-shop/internal/domain/payment"
)

// ErrNotConfigured is returned by Disabled when a card payment is attempted.
var ErrNotConfigured = errors.New("card gateway is not configured")

var _ payment.Gateway = Disabled{}

// Disabled is the gateway used when no merchant credentials are set. Card
// orders are still placed and stay pending.
type Disabled struct{}

func (Disabled) URL() string { return "" }

func (Disabled) Sign(context.Context, payment.Charge) (*payment.Form, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Verify(context.Context, payment.Form) (*payment.Notification, error) {
	return nil, errors.Wrap(payment.ErrInvalidSignature, "gateway disabled")
}
