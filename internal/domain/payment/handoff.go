package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
)

// Orders reads and advances orders.
type Orders interface {
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, target order.Status) (*order.Order, error)
}

// Invoices settles invoices.
type Invoices interface {
	MarkPaid(ctx context.Context, orderID string) (*invoice.Invoice, error)
}

// BankDetails are shown to customers paying by transfer.
type BankDetails struct {
	Account string
	Holder  string
}

// Handoff prepares payments and applies gateway results.
type Handoff struct {
	gateway  Gateway
	orders   Orders
	invoices Invoices
	bank     BankDetails
}

func NewHandoff(gw Gateway, orders Orders, invoices Invoices, bank BankDetails) *Handoff {
	return &Handoff{
		gateway:  gw,
		orders:   orders,
		invoices: invoices,
		bank:     bank,
	}
}

// Prepare returns how o is to be paid with method. A signing failure is
// returned as is; the order stays pending and can be paid later.
func (h *Handoff) Prepare(ctx context.Context, o *order.Order, method catalog.PaymentMethod) (*Instruction, error) {
	if o.GrandTotal == 0 {
		return &Instruction{Kind: KindNone}, nil
	}

	switch method.Kind {
	case catalog.PaymentCard:
		form, err := h.gateway.Sign(ctx, Charge{
			OrderID:     o.ID,
			Amount:      o.GrandTotal,
			Description: "Order " + o.ConfirmationNumber(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "sign gateway request")
		}
		return &Instruction{
			Kind:     KindRedirect,
			Redirect: &Redirect{URL: h.gateway.URL(), Fields: *form},
		}, nil
	case catalog.PaymentBankTransfer:
		return &Instruction{
			Kind: KindManual,
			Manual: &Manual{
				Instructions: method.Instructions,
				BankAccount:  h.bank.Account,
				BankHolder:   h.bank.Holder,
				Reference:    o.ConfirmationNumber(),
				Amount:       o.GrandTotal,
			},
		}, nil
	default:
		return &Instruction{
			Kind: KindManual,
			Manual: &Manual{
				Instructions: method.Instructions,
				Reference:    o.ConfirmationNumber(),
				Amount:       o.GrandTotal,
			},
		}, nil
	}
}

// HandleCallback verifies a gateway notification. An authorisation confirms
// the order and marks its invoice paid; repeated notifications are no-ops.
// Declines leave the order pending.
func (h *Handoff) HandleCallback(ctx context.Context, f Form) (*Notification, error) {
	n, err := h.gateway.Verify(ctx, f)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", n.OrderID),
		zap.String("reference", n.Reference),
		zap.Int("response", n.Response),
	)
	if !n.Authorized() {
		lg.Info("Card payment declined")
		return n, nil
	}

	o, err := h.orders.GetOrder(ctx, n.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if n.Amount != o.GrandTotal {
		lg.Error("Authorised amount differs from order total",
			zap.Int64("amount", n.Amount),
			zap.Int64("grand_total", o.GrandTotal),
		)
		return nil, ErrAmountMismatch
	}

	switch o.Status {
	case order.StatusPending:
		if _, err := h.orders.UpdateStatus(ctx, o.ID, order.StatusConfirmed); err != nil && !errors.Is(err, order.ErrConflict) {
			return nil, errors.Wrap(err, "confirm order")
		}
	case order.StatusCancelled:
		lg.Warn("Payment authorised for a cancelled order, refund required")
		return n, nil
	}

	if _, err := h.invoices.MarkPaid(ctx, o.ID); err != nil {
		return nil, errors.Wrap(err, "mark invoice paid")
	}
	lg.Info("Card payment authorised", zap.String("auth_code", n.AuthCode))
	return n, nil
}
