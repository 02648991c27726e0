// Package handler exposes the shop over HTTP with JSON bodies.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/heating-shop/internal/domain/auth"
	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
	"github.com/xenking/heating-shop/internal/domain/payment"
)

// Catalog lists what can be bought and how it ships and is paid.
type Catalog interface {
	ListShippingMethods(ctx context.Context) ([]catalog.ShippingMethod, error)
	ListPaymentMethods(ctx context.Context) ([]catalog.PaymentMethod, error)
	VariantsByIDs(ctx context.Context, ids []string, role catalog.Role) ([]catalog.Variant, error)
}

// Summarizer prices carts.
type Summarizer interface {
	Summarize(ctx context.Context, cart checkout.Cart) (*checkout.Summary, error)
}

// Orders places and manages orders.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, id string, target order.Status) (*order.Order, error)
}

// Invoices reads and generates invoices.
type Invoices interface {
	Get(ctx context.Context, id string) (*invoice.Invoice, error)
	ListByClient(ctx context.Context, clientID string, limit int) ([]invoice.Invoice, error)
	Generate(ctx context.Context, orderID string) (*invoice.Invoice, error)
}

// Payments prepares payments and settles gateway callbacks.
type Payments interface {
	Prepare(ctx context.Context, o *order.Order, method catalog.PaymentMethod) (*payment.Instruction, error)
	HandleCallback(ctx context.Context, f payment.Form) (*payment.Notification, error)
}

// Authenticator validates back-office API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Deps are the services behind the handlers.
type Deps struct {
	Catalog  Catalog
	Coupons  coupon.Validator
	Checkout Summarizer
	Orders   Orders
	Invoices Invoices
	Payments Payments
	Auth     Authenticator
}

// Handler serves the /api routes.
type Handler struct {
	catalog  Catalog
	coupons  coupon.Validator
	checkout Summarizer
	orders   Orders
	invoices Invoices
	payments Payments
	auth     Authenticator
}

func New(d Deps) *Handler {
	return &Handler{
		catalog:  d.Catalog,
		coupons:  d.Coupons,
		checkout: d.Checkout,
		orders:   d.Orders,
		invoices: d.Invoices,
		payments: d.Payments,
		auth:     d.Auth,
	}
}

// API key scopes of the back-office routes.
const (
	ScopeOrdersRead    = "orders:read"
	ScopeOrdersWrite   = "orders:write"
	ScopeInvoicesRead  = "invoices:read"
	ScopeInvoicesWrite = "invoices:write"
)

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/shipping-methods", h.ListShippingMethods)
	mux.HandleFunc("GET /api/payment-methods", h.ListPaymentMethods)
	mux.HandleFunc("POST /api/coupons/validate", h.ValidateCoupon)
	mux.HandleFunc("POST /api/checkout/summary", h.CheckoutSummary)
	mux.HandleFunc("POST /api/orders", h.PlaceOrder)
	mux.HandleFunc("POST /api/payments/callback", h.PaymentCallback)

	mux.Handle("GET /api/orders/{id}", h.RequireAPIKey(ScopeOrdersRead, h.GetOrder))
	mux.Handle("PATCH /api/orders/{id}/status", h.RequireAPIKey(ScopeOrdersWrite, h.UpdateOrderStatus))
	mux.Handle("GET /api/invoices", h.RequireAPIKey(ScopeInvoicesRead, h.GetInvoices))
	mux.Handle("POST /api/invoices", h.RequireAPIKey(ScopeInvoicesWrite, h.PostInvoices))
}
