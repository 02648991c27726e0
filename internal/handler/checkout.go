package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/order"
)

type summaryInput struct {
	Items            []itemInput
	ShippingMethodID string
	CouponCode       string
	Role             string
}

func (in *summaryInput) decode(d *jx.Decoder) error {
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
		default:
			err = d.Skip()
		}
		return err
	})
}

// CheckoutSummary prices a cart with server-side role prices without
// placing an order.
func (h *Handler) CheckoutSummary(w http.ResponseWriter, r *http.Request) {
	var in summaryInput
	if err := readJSON(w, r, in.decode); err != nil {
		mapError(w, r, err)
		return
	}
	if len(in.Items) == 0 {
		mapError(w, r, order.ErrEmptyItems)
		return
	}
	if in.ShippingMethodID == "" {
		mapError(w, r, &order.ValidationError{Field: "shippingMethodId", Reason: "required"})
		return
	}

	ctx := r.Context()
	ids := make([]string, len(in.Items))
	for i, it := range in.Items {
		if !order.ValidQuantity(it.Quantity) {
			mapError(w, r, &order.InvalidQuantityError{VariantID: it.VariantID})
			return
		}
		ids[i] = it.VariantID
	}
	variants, err := h.catalog.VariantsByIDs(ctx, ids, catalog.ParseRole(in.Role))
	if err != nil {
		mapError(w, r, err)
		return
	}
	byID := make(map[string]catalog.Variant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}

	cart := checkout.Cart{
		Items:            make([]checkout.LineItem, len(in.Items)),
		ShippingMethodID: in.ShippingMethodID,
		CouponCode:       in.CouponCode,
	}
	for i, it := range in.Items {
		v, ok := byID[it.VariantID]
		if !ok {
			mapError(w, r, &order.VariantNotFoundError{VariantID: it.VariantID})
			return
		}
		cart.Items[i] = checkout.LineItem{
			VariantID:  v.ID,
			ProductID:  v.ProductID,
			CategoryID: v.CategoryID,
			Quantity:   it.Quantity,
			UnitPrice:  v.Price,
		}
	}

	summary, err := h.checkout.Summarize(ctx, cart)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeSummary(e, summary)
	})
}
