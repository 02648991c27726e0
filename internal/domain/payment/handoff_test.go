package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
)

type mockGateway struct {
	form         *Form
	signErr      error
	notification *Notification
	verifyErr    error
	charges      []Charge
}

func (m *mockGateway) URL() string { return "https://pay.example.com" }

func (m *mockGateway) Sign(_ context.Context, c Charge) (*Form, error) {
	m.charges = append(m.charges, c)
	return m.form, m.signErr
}

func (m *mockGateway) Verify(context.Context, Form) (*Notification, error) {
	return m.notification, m.verifyErr
}

type mockOrders struct {
	order     *order.Order
	updateErr error
	updates   []order.Status
}

func (m *mockOrders) GetOrder(_ context.Context, id string) (*order.Order, error) {
	if m.order == nil || m.order.ID != id {
		return nil, order.ErrNotFound
	}
	cp := *m.order
	return &cp, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, _ string, target order.Status) (*order.Order, error) {
	m.updates = append(m.updates, target)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	m.order.Status = target
	cp := *m.order
	return &cp, nil
}

type mockInvoices struct {
	paid []string
	err  error
}

func (m *mockInvoices) MarkPaid(_ context.Context, orderID string) (*invoice.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.paid = append(m.paid, orderID)
	return &invoice.Invoice{OrderID: orderID, Status: invoice.StatusPaid}, nil
}

const orderID = "3f2a9c1e-7b4d-4e0a-9c3b-1d2e3f4a5b6c"

func pendingOrder() *order.Order {
	return &order.Order{ID: orderID, Status: order.StatusPending, GrandTotal: 2500}
}

func TestHandoff_Prepare(t *testing.T) {
	bank := BankDetails{Account: "ES91 2100 0418 4502 0005 1332", Holder: "Calefacción SL"}
	signed := &Form{SignatureVersion: "HMAC_SHA256_V1", MerchantParameters: "e30=", Signature: "c2ln"}

	t.Run("card redirects to gateway", func(t *testing.T) {
		gw := &mockGateway{form: signed}
		h := NewHandoff(gw, &mockOrders{}, &mockInvoices{}, bank)

		ins, err := h.Prepare(context.Background(), pendingOrder(), catalog.PaymentMethod{Kind: catalog.PaymentCard})
		require.NoError(t, err)

		assert.Equal(t, KindRedirect, ins.Kind)
		require.NotNil(t, ins.Redirect)
		assert.Equal(t, "https://pay.example.com", ins.Redirect.URL)
		assert.Equal(t, *signed, ins.Redirect.Fields)
		require.Len(t, gw.charges, 1)
		assert.Equal(t, int64(2500), gw.charges[0].Amount)
		assert.Equal(t, orderID, gw.charges[0].OrderID)
		assert.Equal(t, "Order HS-3F2A9C1E", gw.charges[0].Description)
	})

	t.Run("bank transfer", func(t *testing.T) {
		h := NewHandoff(&mockGateway{}, &mockOrders{}, &mockInvoices{}, bank)

		ins, err := h.Prepare(context.Background(), pendingOrder(), catalog.PaymentMethod{
			Kind:         catalog.PaymentBankTransfer,
			Instructions: "Transfer within 7 days",
		})
		require.NoError(t, err)

		assert.Equal(t, KindManual, ins.Kind)
		require.NotNil(t, ins.Manual)
		assert.Equal(t, bank.Account, ins.Manual.BankAccount)
		assert.Equal(t, bank.Holder, ins.Manual.BankHolder)
		assert.Equal(t, "HS-3F2A9C1E", ins.Manual.Reference)
		assert.Equal(t, int64(2500), ins.Manual.Amount)
		assert.Equal(t, "Transfer within 7 days", ins.Manual.Instructions)
	})

	t.Run("cash on delivery has no bank details", func(t *testing.T) {
		h := NewHandoff(&mockGateway{}, &mockOrders{}, &mockInvoices{}, bank)

		ins, err := h.Prepare(context.Background(), pendingOrder(), catalog.PaymentMethod{Kind: catalog.PaymentCashOnDelivery})
		require.NoError(t, err)
		assert.Equal(t, KindManual, ins.Kind)
		assert.Empty(t, ins.Manual.BankAccount)
	})

	t.Run("nothing owed", func(t *testing.T) {
		gw := &mockGateway{}
		h := NewHandoff(gw, &mockOrders{}, &mockInvoices{}, bank)
		o := pendingOrder()
		o.GrandTotal = 0

		ins, err := h.Prepare(context.Background(), o, catalog.PaymentMethod{Kind: catalog.PaymentCard})
		require.NoError(t, err)
		assert.Equal(t, KindNone, ins.Kind)
		assert.Empty(t, gw.charges)
	})

	t.Run("signing failure surfaces", func(t *testing.T) {
		signErr := errors.New("hsm unavailable")
		h := NewHandoff(&mockGateway{signErr: signErr}, &mockOrders{}, &mockInvoices{}, bank)

		_, err := h.Prepare(context.Background(), pendingOrder(), catalog.PaymentMethod{Kind: catalog.PaymentCard})
		require.ErrorIs(t, err, signErr)
	})
}

func TestHandoff_HandleCallback(t *testing.T) {
	ctx := context.Background()
	authorised := &Notification{OrderID: orderID, Reference: "1234ABCDEF12", Amount: 2500, Response: 0, AuthCode: "999"}

	t.Run("authorised confirms and pays", func(t *testing.T) {
		orders := &mockOrders{order: pendingOrder()}
		invoices := &mockInvoices{}
		h := NewHandoff(&mockGateway{notification: authorised}, orders, invoices, BankDetails{})

		n, err := h.HandleCallback(ctx, Form{})
		require.NoError(t, err)
		assert.True(t, n.Authorized())
		assert.Equal(t, []order.Status{order.StatusConfirmed}, orders.updates)
		assert.Equal(t, []string{orderID}, invoices.paid)
	})

	t.Run("repeated notification is a no-op for the order", func(t *testing.T) {
		o := pendingOrder()
		o.Status = order.StatusConfirmed
		orders := &mockOrders{order: o}
		invoices := &mockInvoices{}
		h := NewHandoff(&mockGateway{notification: authorised}, orders, invoices, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.NoError(t, err)
		assert.Empty(t, orders.updates)
		assert.Equal(t, []string{orderID}, invoices.paid)
	})

	t.Run("concurrent confirmation is tolerated", func(t *testing.T) {
		orders := &mockOrders{order: pendingOrder(), updateErr: order.ErrConflict}
		invoices := &mockInvoices{}
		h := NewHandoff(&mockGateway{notification: authorised}, orders, invoices, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.NoError(t, err)
		assert.Len(t, invoices.paid, 1)
	})

	t.Run("declined leaves order pending", func(t *testing.T) {
		orders := &mockOrders{order: pendingOrder()}
		invoices := &mockInvoices{}
		declined := *authorised
		declined.Response = 190
		h := NewHandoff(&mockGateway{notification: &declined}, orders, invoices, BankDetails{})

		n, err := h.HandleCallback(ctx, Form{})
		require.NoError(t, err)
		assert.False(t, n.Authorized())
		assert.Empty(t, orders.updates)
		assert.Empty(t, invoices.paid)
	})

	t.Run("bad signature", func(t *testing.T) {
		h := NewHandoff(&mockGateway{verifyErr: ErrInvalidSignature}, &mockOrders{}, &mockInvoices{}, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		orders := &mockOrders{order: pendingOrder()}
		short := *authorised
		short.Amount = 100
		h := NewHandoff(&mockGateway{notification: &short}, orders, &mockInvoices{}, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.ErrorIs(t, err, ErrAmountMismatch)
		assert.Empty(t, orders.updates)
	})

	t.Run("cancelled order is not paid", func(t *testing.T) {
		o := pendingOrder()
		o.Status = order.StatusCancelled
		invoices := &mockInvoices{}
		h := NewHandoff(&mockGateway{notification: authorised}, &mockOrders{order: o}, invoices, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.NoError(t, err)
		assert.Empty(t, invoices.paid)
	})

	t.Run("unknown order", func(t *testing.T) {
		h := NewHandoff(&mockGateway{notification: authorised}, &mockOrders{}, &mockInvoices{}, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("invoice failure is returned for retry", func(t *testing.T) {
		invErr := errors.New("db down")
		h := NewHandoff(&mockGateway{notification: authorised}, &mockOrders{order: pendingOrder()}, &mockInvoices{err: invErr}, BankDetails{})

		_, err := h.HandleCallback(ctx, Form{})
		require.ErrorIs(t, err, invErr)
	})
}

func TestNotification_Authorized(t *testing.T) {
	for code, want := range map[int]bool{0: true, 99: true, 100: false, 190: false, 9915: false, -1: false} {
		assert.Equal(t, want, (&Notification{Response: code}).Authorized(), "code %d", code)
	}
}
