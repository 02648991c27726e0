package order

import (
	"context"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/heating-shop/internal/domain/audit"
	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/invoice"
)

const instrumentationName = "github.com/xenking/heating-shop/internal/domain/order"

// Catalog resolves what an order references.
type Catalog interface {
	VariantsByIDs(ctx context.Context, ids []string, role catalog.Role) ([]catalog.Variant, error)
	GetPaymentMethod(ctx context.Context, id string) (*catalog.PaymentMethod, error)
}

// Summarizer prices a cart.
type Summarizer interface {
	Summarize(ctx context.Context, cart checkout.Cart) (*checkout.Summary, error)
}

// CouponRedeemer consumes one use of a coupon.
type CouponRedeemer interface {
	Redeem(ctx context.Context, r coupon.Redemption) error
}

// InvoiceIssuer bills orders.
type InvoiceIssuer interface {
	Issue(ctx context.Context, req invoice.IssueRequest) (*invoice.Invoice, error)
	Generate(ctx context.Context, orderID string) (*invoice.Invoice, error)
	Cancel(ctx context.Context, orderID string) (*invoice.Invoice, error)
}

// ItemRequest is a requested line: a variant and how many of it.
type ItemRequest struct {
	VariantID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order. Prices are never
// taken from the caller.
type PlaceOrderRequest struct {
	ClientID         *string
	GuestEmail       string
	Role             catalog.Role
	Items            []ItemRequest
	ShippingMethodID string
	PaymentMethodID  string
	CouponCode       string
	ShippingAddress  Address
	BillingAddress   Address
	IdempotencyKey   string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order         *Order
	Invoice       *invoice.Invoice
	PaymentMethod catalog.PaymentMethod
	// Replayed is set when the idempotency key matched an earlier order.
	Replayed bool
}

// Service encapsulates order placement and lifecycle.
type Service struct {
	catalog   Catalog
	summaries Summarizer
	orders    Repository
	coupons   CouponRedeemer
	invoices  InvoiceIssuer

	uow         UnitOfWork
	notifier    Notifier
	idempotency IdempotencyStore
	audit       audit.Recorder
	now         func() time.Time

	tracer   trace.Tracer
	placed   metric.Int64Counter
	redeemed metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithUnitOfWork runs each placement and status change in one transaction.
// Without it a failed placement is rolled back by deleting the order.
func WithUnitOfWork(uow UnitOfWork) Option {
	return func(s *Service) { s.uow = uow }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithIdempotency(store IdempotencyStore) Option {
	return func(s *Service) { s.idempotency = store }
}

func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider records the shop.orders.placed and shop.coupons.redeemed
// counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		m := mp.Meter(instrumentationName)
		if c, err := m.Int64Counter("shop.orders.placed", metric.WithDescription("Orders placed")); err == nil {
			s.placed = c
		}
		if c, err := m.Int64Counter("shop.coupons.redeemed", metric.WithDescription("Coupons redeemed")); err == nil {
			s.redeemed = c
		}
	}
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cat Catalog,
	summaries Summarizer,
	orders Repository,
	coupons CouponRedeemer,
	invoices InvoiceIssuer,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:   cat,
		summaries: summaries,
		orders:    orders,
		coupons:   coupons,
		invoices:  invoices,
		audit:     audit.Nop,
		now:       time.Now,
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationName),
		placed:    metricnoop.Int64Counter{},
		redeemed:  metricnoop.Int64Counter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PlaceOrder validates the request, prices it from the catalog and creates
// the order, its items, the coupon redemption and the invoice atomically.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int("order.items", len(req.Items))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	// A retried key replays the first order even if the catalog changed since.
	keyed := s.idempotency != nil && req.IdempotencyKey != ""
	scope := idempotencyScope(req)
	if keyed {
		res, err := s.acquire(ctx, scope, req.IdempotencyKey)
		if err != nil || res != nil {
			return res, err
		}
	}

	res, err := s.priceAndPlace(ctx, req)
	if keyed {
		s.settle(ctx, scope, req.IdempotencyKey, res, err)
	}
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", res.Order.ID))
	s.placed.Add(ctx, 1)
	if s.notifier != nil {
		if err := s.notifier.OrderPlaced(ctx, res.Order); err != nil {
			zctx.From(ctx).Warn("Order placed notification failed",
				zap.String("order_id", res.Order.ID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

func (s *Service) priceAndPlace(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	priced, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.place(ctx, req, priced)
}

type pricedOrder struct {
	items   []Item
	summary *checkout.Summary
	payment catalog.PaymentMethod
}

func validateRequest(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range req.Items {
		if !ValidQuantity(item.Quantity) {
			return &InvalidQuantityError{VariantID: item.VariantID}
		}
	}
	if err := req.ShippingAddress.Validate("shippingAddress"); err != nil {
		return err
	}
	if err := req.BillingAddress.Validate("billingAddress"); err != nil {
		return err
	}
	if req.ShippingMethodID == "" {
		return &ValidationError{Field: "shippingMethodId", Reason: "required"}
	}
	if req.PaymentMethodID == "" {
		return &ValidationError{Field: "paymentMethodId", Reason: "required"}
	}

	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	switch {
	case req.ClientID != nil && req.GuestEmail != "":
		return &ValidationError{Field: "guestEmail", Reason: "must be empty for a registered client"}
	case req.ClientID == nil && req.GuestEmail == "":
		return &ValidationError{Field: "guestEmail", Reason: "required for guest checkout"}
	case req.ClientID == nil:
		addr, err := mail.ParseAddress(req.GuestEmail)
		if err != nil {
			return &ValidationError{Field: "guestEmail", Reason: "invalid email address"}
		}
		req.GuestEmail = addr.Address
	}
	return nil
}

// price resolves variants and the payment method concurrently, then builds
// the checkout summary from server-side prices.
func (s *Service) price(ctx context.Context, req PlaceOrderRequest) (*pricedOrder, error) {
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.VariantID
	}

	var (
		variants []catalog.Variant
		payment  *catalog.PaymentMethod
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		variants, err = s.catalog.VariantsByIDs(gctx, ids, req.Role)
		if err != nil {
			return errors.Wrap(err, "get variants")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		payment, err = s.catalog.GetPaymentMethod(gctx, req.PaymentMethodID)
		if err != nil {
			return errors.Wrap(err, "get payment method")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]catalog.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}

	cart := checkout.Cart{
		Items:            make([]checkout.LineItem, len(req.Items)),
		ShippingMethodID: req.ShippingMethodID,
		CouponCode:       req.CouponCode,
	}
	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		v, ok := byID[item.VariantID]
		if !ok {
			return nil, &VariantNotFoundError{VariantID: item.VariantID}
		}
		cart.Items[i] = checkout.LineItem{
			VariantID:  v.ID,
			ProductID:  v.ProductID,
			CategoryID: v.CategoryID,
			Quantity:   item.Quantity,
			UnitPrice:  v.Price,
		}
		items[i] = Item{
			VariantID: v.ID,
			SKU:       v.SKU,
			Name:      v.Name,
			Quantity:  item.Quantity,
			UnitPrice: v.Price,
		}
	}

	summary, err := s.summaries.Summarize(ctx, cart)
	if err != nil {
		return nil, errors.Wrap(err, "summarize")
	}
	return &pricedOrder{items: items, summary: summary, payment: *payment}, nil
}

func (s *Service) place(ctx context.Context, req PlaceOrderRequest, p *pricedOrder) (*PlaceOrderResult, error) {
	now := s.now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
		ClientID:         req.ClientID,
		GuestEmail:       req.GuestEmail,
		Status:           StatusPending,
		ShippingMethodID: req.ShippingMethodID,
		PaymentMethodID:  req.PaymentMethodID,
		ShippingAddress:  req.ShippingAddress,
		BillingAddress:   req.BillingAddress,
		IdempotencyKey:   req.IdempotencyKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for i := range p.items {
		p.items[i].ID = uuid.NewString()
		p.items[i].OrderID = o.ID
	}

	var inv *invoice.Invoice
	err := s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		err := s.fill(ctx, o, p)
		if err == nil {
			inv, err = s.invoices.Issue(ctx, invoice.IssueRequest{
				OrderID:  o.ID,
				ClientID: o.ClientID,
				Total:    o.GrandTotal,
			})
			if err != nil {
				err = errors.Wrap(err, "issue invoice")
			}
		}
		if err == nil {
			err = s.audit.Record(ctx, audit.Entry{
				Action:   "order.created",
				Entity:   "order",
				EntityID: o.ID,
				Params: map[string]string{
					"shipping_method_id": o.ShippingMethodID,
					"payment_method_id":  o.PaymentMethodID,
					"items":              strconv.Itoa(len(o.Items)),
					"guest_email":        o.GuestEmail,
					"coupon_code":        o.CouponCode,
				},
				CreatedAt: now,
			})
			if err != nil {
				err = errors.Wrap(err, "audit")
			}
		}
		if err != nil && s.uow == nil {
			s.compensate(ctx, o.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("invoice", inv.Code),
		zap.Int64("grand_total", o.GrandTotal),
		zap.String("coupon", o.CouponCode),
	)
	return &PlaceOrderResult{Order: o, Invoice: inv, PaymentMethod: p.payment}, nil
}

// fill stores the items, redeems the coupon and persists the totals. The
// total is recomputed from storage so it always equals the stored lines.
func (s *Service) fill(ctx context.Context, o *Order, p *pricedOrder) error {
	if err := s.orders.AddItems(ctx, o.ID, p.items); err != nil {
		return errors.Wrap(err, "add items")
	}
	o.Items = p.items

	total, err := s.orders.SumItems(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "sum items")
	}
	o.Total = total
	o.ShippingCost = p.summary.Shipping

	if c := p.summary.Coupon; c != nil {
		err := s.coupons.Redeem(ctx, coupon.Redemption{
			ID:         uuid.NewString(),
			CouponID:   c.ID,
			OrderID:    o.ID,
			ClientID:   o.ClientID,
			RedeemedAt: o.CreatedAt,
		})
		switch {
		case err == nil:
			o.CouponCode = c.Code
			o.Discount = p.summary.Discount
			s.redeemed.Add(ctx, 1)
		case errors.Is(err, coupon.ErrInvalidCoupon):
			zctx.From(ctx).Info("Coupon not redeemed, placing order without discount",
				zap.String("code", c.Code),
				zap.Error(err),
			)
		default:
			return errors.Wrap(err, "redeem coupon")
		}
	}

	o.GrandTotal = max(0, o.Total+o.ShippingCost-o.Discount)
	if err := s.orders.UpdateTotals(ctx, o); err != nil {
		return errors.Wrap(err, "update totals")
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, orderID string) {
	if err := s.orders.Delete(context.WithoutCancel(ctx), orderID); err != nil {
		zctx.From(ctx).Error("Failed to delete partially created order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (s *Service) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.uow == nil {
		return fn(ctx)
	}
	return s.uow.RunInTx(ctx, fn)
}

// idempotencyScope keys are unique per client, or per guest email.
func idempotencyScope(req PlaceOrderRequest) string {
	if req.ClientID != nil {
		return "client:" + *req.ClientID
	}
	return "guest:" + strings.ToLower(req.GuestEmail)
}

// acquire returns the earlier result for a completed key, ErrDuplicateRequest
// for a key in flight, or nil when the caller now holds the key.
func (s *Service) acquire(ctx context.Context, scope, key string) (*PlaceOrderResult, error) {
	if res, err := s.replay(ctx, scope, key); res != nil || err != nil {
		return res, err
	}
	locked, err := s.idempotency.TryLock(ctx, scope, key)
	if err != nil {
		return nil, errors.Wrap(err, "lock idempotency key")
	}
	if locked {
		return nil, nil
	}
	// The holder may have finished between Recall and TryLock.
	if res, err := s.replay(ctx, scope, key); res != nil || err != nil {
		return res, err
	}
	return nil, ErrDuplicateRequest
}

func (s *Service) replay(ctx context.Context, scope, key string) (*PlaceOrderResult, error) {
	orderID, ok, err := s.idempotency.Recall(ctx, scope, key)
	if err != nil {
		return nil, errors.Wrap(err, "recall idempotency key")
	}
	if !ok {
		return nil, nil
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get replayed order")
	}
	inv, err := s.invoices.Generate(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get replayed invoice")
	}
	method := catalog.PaymentMethod{ID: o.PaymentMethodID, Name: o.PaymentMethodID}
	switch payment, err := s.catalog.GetPaymentMethod(ctx, o.PaymentMethodID); {
	case err == nil:
		method = *payment
	case errors.Is(err, catalog.ErrPaymentMethodNotFound):
		// Withdrawn since the first request; the order reference still lets
		// the customer pay.
		zctx.From(ctx).Warn("Replayed order has an inactive payment method",
			zap.String("order_id", o.ID),
			zap.String("payment_method_id", o.PaymentMethodID),
		)
	default:
		return nil, errors.Wrap(err, "get payment method")
	}
	return &PlaceOrderResult{Order: o, Invoice: inv, PaymentMethod: method, Replayed: true}, nil
}

func (s *Service) settle(ctx context.Context, scope, key string, res *PlaceOrderResult, placeErr error) {
	lg := zctx.From(ctx)
	ctx = context.WithoutCancel(ctx)
	if placeErr != nil {
		if err := s.idempotency.Release(ctx, scope, key); err != nil {
			lg.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := s.idempotency.Remember(ctx, scope, key, res.Order.ID); err != nil {
		lg.Warn("Failed to remember idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// GetOrder returns the order with its items.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// UpdateStatus moves the order to target if the state machine allows it.
// Cancelling also voids the invoice unless it was already paid.
func (s *Service) UpdateStatus(ctx context.Context, id string, target Status) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", id),
			attribute.String("order.status", string(target)),
		),
	)
	defer span.End()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if !from.CanTransitionTo(target) {
		return nil, &TransitionError{From: from, To: target}
	}

	now := s.now().UTC()
	err = s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateStatusIf(ctx, id, from, target); err != nil {
			return err
		}
		if target == StatusCancelled {
			if err := s.cancelInvoice(ctx, id); err != nil {
				return err
			}
		}
		return s.audit.Record(ctx, audit.Entry{
			Action:   "order.status_changed",
			Entity:   "order",
			EntityID: id,
			Params: map[string]string{
				"from": string(from),
				"to":   string(target),
			},
			CreatedAt: now,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	o.Status = target
	o.UpdatedAt = now
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	if s.notifier != nil {
		if err := s.notifier.StatusChanged(ctx, o, from); err != nil {
			zctx.From(ctx).Warn("Status change notification failed",
				zap.String("order_id", id),
				zap.Error(err),
			)
		}
	}
	return o, nil
}

func (s *Service) cancelInvoice(ctx context.Context, orderID string) error {
	_, err := s.invoices.Cancel(ctx, orderID)
	switch {
	case err == nil, errors.Is(err, invoice.ErrNotFound):
		return nil
	case errors.Is(err, invoice.ErrConflict):
		zctx.From(ctx).Warn("Cancelled order has a paid invoice, refund required",
			zap.String("order_id", orderID),
		)
		return nil
	default:
		return errors.Wrap(err, "cancel invoice")
	}
}
