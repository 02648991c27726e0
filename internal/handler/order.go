package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/order"
)

// IdempotencyKeyHeader makes order placement safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

type placeOrderInput struct {
	summaryInput
	ClientID        string
	GuestEmail      string
	PaymentMethodID string
	ShippingAddress order.Address
	BillingAddress  order.Address
}

func (in *placeOrderInput) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "items":
			in.Items, err = decodeItems(d)
		case "shippingMethodId":
			in.ShippingMethodID, err = optStr(d)
		case "couponCode":
			in.CouponCode, err = optStr(d)
		case "role":
			in.Role, err = optStr(d)
		case "clientId":
			in.ClientID, err = optStr(d)
		case "guestEmail":
			in.GuestEmail, err = optStr(d)
		case "paymentMethodId":
			in.PaymentMethodID, err = optStr(d)
		case "shippingAddress":
			in.ShippingAddress, err = decodeAddress(d)
		case "billingAddress":
			in.BillingAddress, err = decodeAddress(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func (in *placeOrderInput) request(idempotencyKey string) order.PlaceOrderRequest {
	req := order.PlaceOrderRequest{
		GuestEmail:       in.GuestEmail,
		Role:             catalog.ParseRole(in.Role),
		Items:            make([]order.ItemRequest, len(in.Items)),
		ShippingMethodID: in.ShippingMethodID,
		PaymentMethodID:  in.PaymentMethodID,
		CouponCode:       in.CouponCode,
		ShippingAddress:  in.ShippingAddress,
		BillingAddress:   in.BillingAddress,
		IdempotencyKey:   idempotencyKey,
	}
	if in.ClientID != "" {
		req.ClientID = &in.ClientID
	}
	for i, it := range in.Items {
		req.Items[i] = order.ItemRequest{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return req
}

// PlaceOrder creates the order with its invoice and returns the payment
// step. A payment handoff failure leaves the order pending and is reported
// as 502.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in placeOrderInput
	if err := readJSON(w, r, in.decode); err != nil {
		mapError(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := h.orders.PlaceOrder(ctx, in.request(r.Header.Get(IdempotencyKeyHeader)))
	if err != nil {
		mapError(w, r, err)
		return
	}

	instruction, err := h.payments.Prepare(ctx, res.Order, res.PaymentMethod)
	if err != nil {
		zctx.From(ctx).Error("Payment handoff failed",
			zap.String("order_id", res.Order.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "payment provider unavailable, order "+res.Order.ConfirmationNumber()+" is pending")
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		if res.Invoice != nil {
			e.FieldStart("invoice")
			encodeInvoice(e, res.Invoice)
		}
		e.FieldStart("payment")
		encodeInstruction(e, instruction)
		e.ObjEnd()
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := readJSON(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "status" {
				return d.Skip()
			}
			var err error
			status, err = d.Str()
			return err
		})
	}); err != nil {
		mapError(w, r, err)
		return
	}
	target, err := order.ParseStatus(status)
	if err != nil {
		mapError(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), target)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}
