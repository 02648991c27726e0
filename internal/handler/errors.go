package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
	"github.com/xenking/heating-shop/internal/domain/payment"
)

// requestError reports a malformed request body or parameter.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	var (
		malformed  *requestError
		validation *order.ValidationError
		quantity   *order.InvalidQuantityError
		variant    *order.VariantNotFoundError
	)
	switch {
	case errors.As(err, &malformed),
		errors.Is(err, order.ErrEmptyItems),
		errors.As(err, &validation),
		errors.As(err, &quantity),
		errors.Is(err, checkout.ErrAmountOverflow),
		errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.As(err, &variant),
		errors.Is(err, checkout.ErrInvalidShippingMethod),
		errors.Is(err, catalog.ErrShippingMethodNotFound),
		errors.Is(err, catalog.ErrPaymentMethodNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, invoice.ErrNotFound),
		errors.Is(err, invoice.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrDuplicateRequest),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// mapError writes err as an error body. Unexpected errors are logged and
// their message is not exposed.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
