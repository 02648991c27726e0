// Package payment hands placed orders off to the matching payment flow and
// settles card payments reported back by the gateway.
package payment

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidSignature is returned for gateway notifications whose
	// signature does not match the merchant key.
	ErrInvalidSignature = errors.New("invalid gateway signature")
	// ErrAmountMismatch is returned when an authorised amount differs from
	// the order's grand total.
	ErrAmountMismatch = errors.New("authorised amount does not match order")
)

// Kind tells the client what to do after placing the order.
type Kind string

const (
	// KindRedirect means the browser must POST Redirect.Fields to Redirect.URL.
	KindRedirect Kind = "redirect"
	// KindManual means the customer pays offline following Manual.
	KindManual Kind = "manual"
	// KindNone means nothing is owed.
	KindNone Kind = "none"
)

// Instruction is the payment step returned with a placed order.
type Instruction struct {
	Kind     Kind
	Redirect *Redirect
	Manual   *Manual
}

// Redirect is a signed form for the card gateway.
type Redirect struct {
	URL    string
	Fields Form
}

// Manual describes an offline payment.
type Manual struct {
	Instructions string
	BankAccount  string
	BankHolder   string
	// Reference must be quoted by the customer, e.g. as transfer concept.
	Reference string
	Amount    int64
}

// Charge is a card payment request.
type Charge struct {
	OrderID     string
	Amount      int64
	Description string
}

// Form holds the signed fields posted to the gateway.
type Form struct {
	SignatureVersion   string
	MerchantParameters string
	Signature          string
}

// Notification is a verified gateway callback.
type Notification struct {
	OrderID   string
	Reference string
	Amount    int64
	// Response is the gateway response code; 0-99 is an authorisation.
	Response int
	AuthCode string
}

// Authorized reports whether the gateway accepted the payment.
func (n *Notification) Authorized() bool {
	return n.Response >= 0 && n.Response <= 99
}

// Gateway signs outgoing charges and verifies incoming notifications.
type Gateway interface {
	URL() string
	Sign(ctx context.Context, c Charge) (*Form, error)
	Verify(ctx context.Context, f Form) (*Notification, error)
}
