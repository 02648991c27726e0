package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/heating-shop/internal/domain/auth"
	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
	"github.com/xenking/heating-shop/internal/domain/payment"
)

type mockCatalog struct {
	shipping []catalog.ShippingMethod
	payments []catalog.PaymentMethod
	variants map[string]catalog.Variant
	err      error
}

func (m *mockCatalog) ListShippingMethods(context.Context) ([]catalog.ShippingMethod, error) {
	return m.shipping, m.err
}

func (m *mockCatalog) ListPaymentMethods(context.Context) ([]catalog.PaymentMethod, error) {
	return m.payments, m.err
}

func (m *mockCatalog) GetShippingMethod(_ context.Context, id string) (*catalog.ShippingMethod, error) {
	for _, s := range m.shipping {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, catalog.ErrShippingMethodNotFound
}

func (m *mockCatalog) VariantsByIDs(_ context.Context, ids []string, role catalog.Role) ([]catalog.Variant, error) {
	var out []catalog.Variant
	for _, id := range ids {
		v, ok := m.variants[id]
		if !ok {
			continue
		}
		if role == catalog.RoleInstaller {
			v.Price = v.Price * 80 / 100
		}
		out = append(out, v)
	}
	return out, nil
}

type mockCoupons struct {
	coupons map[string]*coupon.Coupon
	errs    map[string]error
}

func (m *mockCoupons) Validate(_ context.Context, code string) (*coupon.Coupon, error) {
	if err, ok := m.errs[code]; ok {
		return nil, err
	}
	if c, ok := m.coupons[code]; ok {
		return c, nil
	}
	return nil, coupon.ErrNotFound
}

type mockOrders struct {
	placeReq order.PlaceOrderRequest
	placeRes *order.PlaceOrderResult
	placeErr error

	orders    map[string]*order.Order
	updateErr error
}

func (m *mockOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	m.placeReq = req
	return m.placeRes, m.placeErr
}

func (m *mockOrders) GetOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) UpdateStatus(ctx context.Context, id string, target order.Status) (*order.Order, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	o, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = target
	return o, nil
}

type mockInvoices struct {
	invoices map[string]*invoice.Invoice
	limit    int
}

func (m *mockInvoices) Get(_ context.Context, id string) (*invoice.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, invoice.ErrNotFound
	}
	return inv, nil
}

func (m *mockInvoices) ListByClient(_ context.Context, clientID string, limit int) ([]invoice.Invoice, error) {
	m.limit = limit
	var out []invoice.Invoice
	for _, inv := range m.invoices {
		if inv.ClientID != nil && *inv.ClientID == clientID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *mockInvoices) Generate(_ context.Context, orderID string) (*invoice.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.OrderID == orderID {
			return inv, nil
		}
	}
	return nil, errors.Wrap(invoice.ErrOrderNotFound, "get order")
}

type mockPayments struct {
	prepareErr  error
	callback    payment.Form
	callbackErr error
}

func (m *mockPayments) Prepare(_ context.Context, o *order.Order, method catalog.PaymentMethod) (*payment.Instruction, error) {
	if m.prepareErr != nil {
		return nil, m.prepareErr
	}
	if method.Kind == catalog.PaymentCard {
		return &payment.Instruction{Kind: payment.KindRedirect, Redirect: &payment.Redirect{
			URL:    "https://pay.example.com",
			Fields: payment.Form{SignatureVersion: "HMAC_SHA256_V1", MerchantParameters: "e30=", Signature: "sig"},
		}}, nil
	}
	return &payment.Instruction{Kind: payment.KindManual, Manual: &payment.Manual{
		Reference: o.ConfirmationNumber(),
		Amount:    o.GrandTotal,
	}}, nil
}

func (m *mockPayments) HandleCallback(_ context.Context, f payment.Form) (*payment.Notification, error) {
	m.callback = f
	if m.callbackErr != nil {
		return nil, m.callbackErr
	}
	return &payment.Notification{OrderID: "order-1", Response: 0}, nil
}

type mockAuth struct{}

func (mockAuth) Authenticate(_ context.Context, key string) (*auth.APIKeyInfo, error) {
	switch key {
	case "admin-key":
		return &auth.APIKeyInfo{ID: "admin", Scopes: []string{auth.ScopeAll}}, nil
	case "reader-key":
		return &auth.APIKeyInfo{ID: "reader", Scopes: []string{ScopeInvoicesRead}}, nil
	}
	return nil, auth.ErrUnauthorized
}

type fixture struct {
	catalog  *mockCatalog
	coupons  *mockCoupons
	orders   *mockOrders
	invoices *mockInvoices
	payments *mockPayments
	mux      *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	freeOver := int64(10000)
	clientID := "client-1"
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	f := &fixture{
		catalog: &mockCatalog{
			shipping: []catalog.ShippingMethod{
				{ID: "standard", Name: "Standard", Price: 500, FreeOver: &freeOver, EstimatedDays: 3},
			},
			payments: []catalog.PaymentMethod{
				{ID: "card", Name: "Card", Kind: catalog.PaymentCard},
				{ID: "transfer", Name: "Bank transfer", Kind: catalog.PaymentBankTransfer, Instructions: "Quote the reference"},
			},
			variants: map[string]catalog.Variant{
				"v-valve":  {ID: "v-valve", ProductID: "p-valve", CategoryID: "c-valves", SKU: "VALV-01", Name: "Valve", Price: 1000},
				"v-boiler": {ID: "v-boiler", ProductID: "p-boiler", CategoryID: "c-boilers", SKU: "BOIL-24", Name: "Boiler", Price: 150000},
			},
		},
		coupons: &mockCoupons{
			coupons: map[string]*coupon.Coupon{
				"TEN": {ID: "c1", Code: "TEN", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Scope: coupon.ScopeOrder},
			},
			errs: map[string]error{
				"OLD":    coupon.ErrExpired,
				"BROKEN": errors.New("connection reset"),
			},
		},
		orders: &mockOrders{orders: map[string]*order.Order{
			"order-1": {
				ID: "0a1b2c3d-0000-0000-0000-000000000000", ClientID: &clientID, Status: order.StatusPending,
				Total: 2000, ShippingCost: 500, GrandTotal: 2500,
				Items:     []order.Item{{ID: "i1", VariantID: "v-valve", SKU: "VALV-01", Name: "Valve", Quantity: 2, UnitPrice: 1000}},
				CreatedAt: created, UpdatedAt: created,
			},
		}},
		invoices: &mockInvoices{invoices: map[string]*invoice.Invoice{
			"inv-1": {
				ID: "inv-1", OrderID: "order-1", ClientID: &clientID, Number: 7,
				Series: invoice.Series{Prefix: "HS-", Suffix: "/26"}, Code: "HS-000007/26",
				Total: 2500, TaxBase: 2066, TaxAmount: 434, TaxRate: decimal.RequireFromString("0.21"),
				Currency: "EUR", Status: invoice.StatusDraft, IssuedAt: created, DueDate: created.AddDate(0, 0, 30),
			},
		}},
		payments: &mockPayments{},
	}

	h := New(Deps{
		Catalog:  f.catalog,
		Coupons:  f.coupons,
		Checkout: checkout.NewCalculator(f.catalog, f.coupons, decimal.RequireFromString("0.21")),
		Orders:   f.orders,
		Invoices: f.invoices,
		Payments: f.payments,
		Auth:     mockAuth{},
	})
	f.mux = http.NewServeMux()
	h.Register(f.mux)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestListMethods(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/shipping-methods", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"standard","name":"Standard","price":500,"freeOver":10000,"estimatedDays":3}]`, w.Body.String())

	w, _ = f.do(t, http.MethodGet, "/api/payment-methods", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"card","name":"Card","kind":"card"},
		{"id":"transfer","name":"Bank transfer","kind":"bank_transfer","instructions":"Quote the reference"}]`, w.Body.String())

	f.catalog.err = errors.New("db down")
	w, body := f.do(t, http.MethodGet, "/api/shipping-methods", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body["message"])
}

func TestValidateCoupon(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		want     map[string]any
	}{
		{name: "Valid", body: `{"code":"TEN"}`, wantCode: http.StatusOK, want: map[string]any{
			"valid": true, "code": "TEN", "discountType": "percentage", "discountValue": "10", "scope": "order",
		}},
		{name: "Expired", body: `{"code":"OLD"}`, wantCode: http.StatusOK, want: map[string]any{
			"valid": false, "reason": "expired",
		}},
		{name: "Unknown", body: `{"code":"NOPE"}`, wantCode: http.StatusOK, want: map[string]any{
			"valid": false, "reason": "not_found",
		}},
		{name: "EmptyCode", body: `{"code":"  "}`, wantCode: http.StatusBadRequest, want: map[string]any{
			"code": float64(400), "message": "code required",
		}},
		{name: "MalformedJSON", body: `{"code":`, wantCode: http.StatusBadRequest, want: map[string]any{
			"code": float64(400), "message": "invalid request body",
		}},
		{name: "StorageError", body: `{"code":"BROKEN"}`, wantCode: http.StatusInternalServerError, want: map[string]any{
			"code": float64(500), "message": "internal error",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.do(t, http.MethodPost, "/api/coupons/validate", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestCheckoutSummary(t *testing.T) {
	f := newFixture(t)

	t.Run("NoCoupon", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/checkout/summary",
			`{"items":[{"variantId":"v-valve","quantity":2}],"shippingMethodId":"standard"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 2000, body["subtotal"])
		assert.EqualValues(t, 500, body["shipping"])
		assert.EqualValues(t, 0, body["discount"])
		assert.EqualValues(t, 0, body["tax"])
		assert.EqualValues(t, 2500, body["total"])
		assert.EqualValues(t, 434, body["includedVat"])
		assert.NotContains(t, body, "coupon")
	})

	t.Run("RolePriceAndCoupon", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/checkout/summary",
			`{"items":[{"variantId":"v-valve","quantity":10}],"shippingMethodId":"standard","couponCode":"TEN","role":"installer"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 8000, body["subtotal"])
		assert.EqualValues(t, 800, body["discount"])
		assert.EqualValues(t, 7700, body["total"])
		require.Contains(t, body, "coupon")
		assert.Equal(t, "TEN", body["coupon"].(map[string]any)["code"])
	})

	t.Run("ExpiredCouponIgnored", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/checkout/summary",
			`{"items":[{"variantId":"v-valve","quantity":2}],"shippingMethodId":"standard","couponCode":"OLD"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 0, body["discount"])
		assert.EqualValues(t, 2500, body["total"])
	})

	errCases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "EmptyItems", body: `{"items":[],"shippingMethodId":"standard"}`, wantCode: http.StatusBadRequest},
		{name: "MissingShipping", body: `{"items":[{"variantId":"v-valve","quantity":1}]}`, wantCode: http.StatusBadRequest},
		{name: "ZeroQuantity", body: `{"items":[{"variantId":"v-valve","quantity":0}],"shippingMethodId":"standard"}`, wantCode: http.StatusBadRequest},
		{name: "HugeQuantity", body: `{"items":[{"variantId":"v-valve","quantity":9223372036854775}],"shippingMethodId":"standard"}`, wantCode: http.StatusBadRequest},
		{name: "QuantityAboveMax", body: `{"items":[{"variantId":"v-valve","quantity":10001}],"shippingMethodId":"standard"}`, wantCode: http.StatusBadRequest},
		{name: "UnknownVariant", body: `{"items":[{"variantId":"v-nope","quantity":1}],"shippingMethodId":"standard"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "UnknownShipping", body: `{"items":[{"variantId":"v-valve","quantity":1}],"shippingMethodId":"drone"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "WrongType", body: `{"items":[{"variantId":"v-valve","quantity":"two"}],"shippingMethodId":"standard"}`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.do(t, http.MethodPost, "/api/checkout/summary", tt.body, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.EqualValues(t, tt.wantCode, body["code"])
		})
	}
}

const placeOrderBody = `{
	"clientId": "client-1",
	"role": "retail",
	"items": [{"variantId": "v-valve", "quantity": 2}],
	"shippingMethodId": "standard",
	"paymentMethodId": "card",
	"couponCode": null,
	"shippingAddress": {"fullName": "Ana Ruiz", "line1": "Calle Mayor 1", "city": "Madrid", "postalCode": "28013", "country": "ES"},
	"billingAddress": {"fullName": "Ana Ruiz", "taxId": "12345678Z", "line1": "Calle Mayor 1", "city": "Madrid", "postalCode": "28013", "country": "ES"}
}`

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	placed := f.orders.orders["order-1"]
	f.orders.placeRes = &order.PlaceOrderResult{
		Order:         placed,
		Invoice:       f.invoices.invoices["inv-1"],
		PaymentMethod: f.catalog.payments[0],
	}

	w, body := f.do(t, http.MethodPost, "/api/orders", placeOrderBody, map[string]string{IdempotencyKeyHeader: "key-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req := f.orders.placeReq
	require.NotNil(t, req.ClientID)
	assert.Equal(t, "client-1", *req.ClientID)
	assert.Equal(t, "key-1", req.IdempotencyKey)
	assert.Equal(t, catalog.RoleRetail, req.Role)
	assert.Equal(t, []order.ItemRequest{{VariantID: "v-valve", Quantity: 2}}, req.Items)
	assert.Equal(t, "12345678Z", req.BillingAddress.TaxID)
	assert.Equal(t, "ES", req.ShippingAddress.Country)

	o := body["order"].(map[string]any)
	assert.Equal(t, "HS-0A1B2C3D", o["confirmationNumber"])
	assert.EqualValues(t, 2500, o["grandTotal"])
	assert.Len(t, o["items"], 1)
	assert.Equal(t, "HS-000007/26", body["invoice"].(map[string]any)["code"])
	pay := body["payment"].(map[string]any)
	assert.Equal(t, "redirect", pay["kind"])
	fields := pay["redirect"].(map[string]any)["fields"].(map[string]any)
	assert.Equal(t, "HMAC_SHA256_V1", fields["Ds_SignatureVersion"])

	t.Run("Replayed", func(t *testing.T) {
		f.orders.placeRes.Replayed = true
		defer func() { f.orders.placeRes.Replayed = false }()
		w, _ := f.do(t, http.MethodPost, "/api/orders", placeOrderBody, map[string]string{IdempotencyKeyHeader: "key-1"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("HandoffFailure", func(t *testing.T) {
		f.payments.prepareErr = errors.New("bad merchant key")
		defer func() { f.payments.prepareErr = nil }()
		w, body := f.do(t, http.MethodPost, "/api/orders", placeOrderBody, nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, body["message"], "HS-0A1B2C3D")
	})

	errCases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "Validation", err: &order.ValidationError{Field: "guestEmail", Reason: "invalid email"}, wantCode: http.StatusBadRequest},
		{name: "EmptyItems", err: order.ErrEmptyItems, wantCode: http.StatusBadRequest},
		{name: "InvalidQuantity", err: &order.InvalidQuantityError{VariantID: "v-valve"}, wantCode: http.StatusBadRequest},
		{name: "AmountOverflow", err: errors.Wrap(checkout.ErrAmountOverflow, "summarize"), wantCode: http.StatusBadRequest},
		{name: "UnknownVariant", err: &order.VariantNotFoundError{VariantID: "v-x"}, wantCode: http.StatusUnprocessableEntity},
		{name: "UnknownPayment", err: errors.Wrap(catalog.ErrPaymentMethodNotFound, "get payment method"), wantCode: http.StatusUnprocessableEntity},
		{name: "UnknownShipping", err: errors.Wrap(checkout.ErrInvalidShippingMethod, "summarize"), wantCode: http.StatusUnprocessableEntity},
		{name: "Duplicate", err: order.ErrDuplicateRequest, wantCode: http.StatusConflict},
		{name: "Internal", err: errors.New("tx aborted"), wantCode: http.StatusInternalServerError},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			f.orders.placeErr = tt.err
			defer func() { f.orders.placeErr = nil }()
			w, body := f.do(t, http.MethodPost, "/api/orders", placeOrderBody, nil)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.EqualValues(t, tt.wantCode, body["code"])
		})
	}

	t.Run("MalformedBody", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/api/orders", `{"items": 5}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = f.do(t, http.MethodPost, "/api/orders", ``, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBackOfficeAuth(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/orders/order-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["message"])

	w, _ = f.do(t, http.MethodGet, "/api/orders/order-1", "", map[string]string{APIKeyHeader: "bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/orders/order-1", "", map[string]string{APIKeyHeader: "reader-key"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodGet, "/api/invoices?invoice_id=inv-1", "", map[string]string{APIKeyHeader: "reader-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{APIKeyHeader: "admin-key"}

	w, body := f.do(t, http.MethodGet, "/api/orders/order-1", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "client-1", body["clientId"])
	assert.Equal(t, "2026-01-15T10:00:00Z", body["createdAt"])
	item := body["items"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 2000, item["lineTotal"])

	w, _ = f.do(t, http.MethodGet, "/api/orders/missing", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{APIKeyHeader: "admin-key"}

	w, body := f.do(t, http.MethodPatch, "/api/orders/order-1/status", `{"status":"confirmed"}`, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "confirmed", body["status"])

	w, _ = f.do(t, http.MethodPatch, "/api/orders/order-1/status", `{"status":"lost"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.orders.updateErr = &order.TransitionError{From: order.StatusDelivered, To: order.StatusPending}
	w, body = f.do(t, http.MethodPatch, "/api/orders/order-1/status", `{"status":"pending"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "cannot move order from delivered to pending", body["message"])

	f.orders.updateErr = order.ErrConflict
	w, _ = f.do(t, http.MethodPatch, "/api/orders/order-1/status", `{"status":"cancelled"}`, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetInvoices(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{APIKeyHeader: "admin-key"}

	w, body := f.do(t, http.MethodGet, "/api/invoices?invoice_id=inv-1", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HS-000007/26", body["code"])
	assert.Equal(t, "0.21", body["taxRate"])
	assert.EqualValues(t, 434, body["taxAmount"])
	assert.Equal(t, "2026-02-14T10:00:00Z", body["dueDate"])

	w, _ = f.do(t, http.MethodGet, "/api/invoices?client_id=client-1&limit=5", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	assert.Equal(t, 5, f.invoices.limit)

	w, _ = f.do(t, http.MethodGet, "/api/invoices?client_id=nobody", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	for _, target := range []string{"/api/invoices", "/api/invoices?client_id=client-1&limit=abc"} {
		w, _ = f.do(t, http.MethodGet, target, "", admin)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}

	w, _ = f.do(t, http.MethodGet, "/api/invoices?invoice_id=missing", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostInvoices(t *testing.T) {
	f := newFixture(t)
	admin := map[string]string{APIKeyHeader: "admin-key"}

	w, body := f.do(t, http.MethodPost, "/api/invoices", `{"action":"generate","orderId":"order-1"}`, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inv-1", body["id"])

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{name: "InvalidAction", body: `{"action":"delete","orderId":"order-1"}`, wantCode: http.StatusBadRequest, wantMsg: "invalid action"},
		{name: "MissingOrderID", body: `{"action":"generate"}`, wantCode: http.StatusBadRequest, wantMsg: "orderId required"},
		{name: "UnknownOrder", body: `{"action":"generate","orderId":"nope"}`, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := f.do(t, http.MethodPost, "/api/invoices", tt.body, admin)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestPaymentCallback(t *testing.T) {
	f := newFixture(t)

	t.Run("Form", func(t *testing.T) {
		form := url.Values{
			"Ds_SignatureVersion":   {"HMAC_SHA256_V1"},
			"Ds_MerchantParameters": {"eyJEc19PcmRlciI6IjEyMzQifQ=="},
			"Ds_Signature":          {"c2ln"},
		}
		req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"orderId":"order-1","authorized":true}`, w.Body.String())
		assert.Equal(t, "eyJEc19PcmRlciI6IjEyMzQifQ==", f.payments.callback.MerchantParameters)
	})

	t.Run("JSON", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/api/payments/callback",
			`{"Ds_SignatureVersion":"HMAC_SHA256_V1","Ds_MerchantParameters":"e30=","Ds_Signature":"c2ln"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "c2ln", f.payments.callback.Signature)
	})

	t.Run("MissingFields", func(t *testing.T) {
		w, _ := f.do(t, http.MethodPost, "/api/payments/callback", `{"Ds_SignatureVersion":"HMAC_SHA256_V1"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("BadSignature", func(t *testing.T) {
		f.payments.callbackErr = payment.ErrInvalidSignature
		defer func() { f.payments.callbackErr = nil }()
		w, _ := f.do(t, http.MethodPost, "/api/payments/callback",
			`{"Ds_SignatureVersion":"HMAC_SHA256_V1","Ds_MerchantParameters":"e30=","Ds_Signature":"bad"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("AmountMismatch", func(t *testing.T) {
		f.payments.callbackErr = payment.ErrAmountMismatch
		defer func() { f.payments.callbackErr = nil }()
		w, _ := f.do(t, http.MethodPost, "/api/payments/callback",
			`{"Ds_SignatureVersion":"HMAC_SHA256_V1","Ds_MerchantParameters":"e30=","Ds_Signature":"c2ln"}`, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
