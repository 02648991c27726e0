package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/catalog"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
	"github.com/xenking/heating-shop/internal/domain/payment"
)

const maxBodyBytes = 1 << 20

// readJSON decodes the request body with fn. Any failure is a bad request.
func readJSON(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("unable to read request body")
	}
	if len(raw) == 0 {
		return badRequest("request body required")
	}
	if err := fn(jx.DecodeBytes(raw)); err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return re
		}
		return badRequest("invalid request body")
	}
	return nil
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

type itemInput struct {
	VariantID string
	Quantity  int
}

func decodeItems(d *jx.Decoder) ([]itemInput, error) {
	var items []itemInput
	err := d.Arr(func(d *jx.Decoder) error {
		var it itemInput
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "variantId":
				it.VariantID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	if d.Next() == jx.Null {
		return a, d.Null()
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var (
			dst *string
			err error
		)
		switch string(key) {
		case "fullName":
			dst = &a.FullName
		case "company":
			dst = &a.Company
		case "taxId":
			dst = &a.TaxID
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "postalCode":
			dst = &a.PostalCode
		case "province":
			dst = &a.Province
		case "country":
			dst = &a.Country
		case "phone":
			dst = &a.Phone
		default:
			return d.Skip()
		}
		*dst, err = optStr(d)
		return err
	})
	return a, err
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	for _, f := range []struct {
		key, value string
	}{
		{"fullName", a.FullName},
		{"company", a.Company},
		{"taxId", a.TaxID},
		{"line1", a.Line1},
		{"line2", a.Line2},
		{"city", a.City},
		{"postalCode", a.PostalCode},
		{"province", a.Province},
		{"country", a.Country},
		{"phone", a.Phone},
	} {
		if f.value == "" {
			continue
		}
		e.FieldStart(f.key)
		e.Str(f.value)
	}
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("confirmationNumber")
	e.Str(o.ConfirmationNumber())
	if o.ClientID != nil {
		e.FieldStart("clientId")
		e.Str(*o.ClientID)
	}
	if o.GuestEmail != "" {
		e.FieldStart("guestEmail")
		e.Str(o.GuestEmail)
	}
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("total")
	e.Int64(o.Total)
	e.FieldStart("shippingCost")
	e.Int64(o.ShippingCost)
	e.FieldStart("discount")
	e.Int64(o.Discount)
	e.FieldStart("grandTotal")
	e.Int64(o.GrandTotal)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("shippingMethodId")
	e.Str(o.ShippingMethodID)
	e.FieldStart("paymentMethodId")
	e.Str(o.PaymentMethodID)
	e.FieldStart("shippingAddress")
	encodeAddress(e, o.ShippingAddress)
	e.FieldStart("billingAddress")
	encodeAddress(e, o.BillingAddress)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("variantId")
		e.Str(it.VariantID)
		e.FieldStart("sku")
		e.Str(it.SKU)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		e.Int64(it.UnitPrice)
		e.FieldStart("lineTotal")
		e.Int64(it.LineTotal())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.ObjEnd()
}

func encodeInvoice(e *jx.Encoder, inv *invoice.Invoice) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(inv.ID)
	e.FieldStart("orderId")
	e.Str(inv.OrderID)
	if inv.ClientID != nil {
		e.FieldStart("clientId")
		e.Str(*inv.ClientID)
	}
	e.FieldStart("number")
	e.Int64(inv.Number)
	e.FieldStart("code")
	e.Str(inv.Code)
	e.FieldStart("seriesPrefix")
	e.Str(inv.Series.Prefix)
	e.FieldStart("seriesSuffix")
	e.Str(inv.Series.Suffix)
	e.FieldStart("total")
	e.Int64(inv.Total)
	e.FieldStart("taxBase")
	e.Int64(inv.TaxBase)
	e.FieldStart("taxAmount")
	e.Int64(inv.TaxAmount)
	e.FieldStart("taxRate")
	e.Str(inv.TaxRate.String())
	e.FieldStart("currency")
	e.Str(inv.Currency)
	e.FieldStart("status")
	e.Str(string(inv.Status))
	e.FieldStart("issuedAt")
	encodeTime(e, inv.IssuedAt)
	e.FieldStart("dueDate")
	encodeTime(e, inv.DueDate)
	e.ObjEnd()
}

func encodeShippingMethod(e *jx.Encoder, m catalog.ShippingMethod) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(m.ID)
	e.FieldStart("name")
	e.Str(m.Name)
	e.FieldStart("price")
	e.Int64(m.Price)
	if m.FreeOver != nil {
		e.FieldStart("freeOver")
		e.Int64(*m.FreeOver)
	}
	e.FieldStart("estimatedDays")
	e.Int(m.EstimatedDays)
	e.ObjEnd()
}

func encodePaymentMethod(e *jx.Encoder, m catalog.PaymentMethod) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(m.ID)
	e.FieldStart("name")
	e.Str(m.Name)
	e.FieldStart("kind")
	e.Str(string(m.Kind))
	if m.Instructions != "" {
		e.FieldStart("instructions")
		e.Str(m.Instructions)
	}
	e.ObjEnd()
}

func encodeCouponTerms(e *jx.Encoder, c *coupon.Coupon) {
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	e.Str(c.Value.String())
	e.FieldStart("scope")
	e.Str(string(c.Scope))
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
}

func encodeSummary(e *jx.Encoder, s *checkout.Summary) {
	e.ObjStart()
	e.FieldStart("subtotal")
	e.Int64(s.Subtotal)
	e.FieldStart("shipping")
	e.Int64(s.Shipping)
	e.FieldStart("discount")
	e.Int64(s.Discount)
	e.FieldStart("tax")
	e.Int64(s.Tax)
	e.FieldStart("includedVat")
	e.Int64(s.IncludedVAT)
	e.FieldStart("total")
	e.Int64(s.Total)
	e.FieldStart("shippingMethod")
	encodeShippingMethod(e, s.ShippingMethod)
	if s.Coupon != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		encodeCouponTerms(e, s.Coupon)
		e.ObjEnd()
	}
	e.ObjEnd()
}

func encodeForm(e *jx.Encoder, f payment.Form) {
	e.ObjStart()
	e.FieldStart("Ds_SignatureVersion")
	e.Str(f.SignatureVersion)
	e.FieldStart("Ds_MerchantParameters")
	e.Str(f.MerchantParameters)
	e.FieldStart("Ds_Signature")
	e.Str(f.Signature)
	e.ObjEnd()
}

func encodeInstruction(e *jx.Encoder, in *payment.Instruction) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(in.Kind))
	if r := in.Redirect; r != nil {
		e.FieldStart("redirect")
		e.ObjStart()
		e.FieldStart("url")
		e.Str(r.URL)
		e.FieldStart("fields")
		encodeForm(e, r.Fields)
		e.ObjEnd()
	}
	if m := in.Manual; m != nil {
		e.FieldStart("manual")
		e.ObjStart()
		if m.Instructions != "" {
			e.FieldStart("instructions")
			e.Str(m.Instructions)
		}
		if m.BankAccount != "" {
			e.FieldStart("bankAccount")
			e.Str(m.BankAccount)
			e.FieldStart("bankHolder")
			e.Str(m.BankHolder)
		}
		e.FieldStart("reference")
		e.Str(m.Reference)
		e.FieldStart("amount")
		e.Int64(m.Amount)
		e.ObjEnd()
	}
	e.ObjEnd()
}
