package handler

import (
	"mime"
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/payment"
)

// Gateway callback field names.
const (
	fieldSignatureVersion   = "Ds_SignatureVersion"
	fieldMerchantParameters = "Ds_MerchantParameters"
	fieldSignature          = "Ds_Signature"
)

func readCallbackForm(w http.ResponseWriter, r *http.Request) (payment.Form, error) {
	var f payment.Form
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := readJSON(w, r, func(d *jx.Decoder) error {
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case fieldSignatureVersion:
					f.SignatureVersion, err = d.Str()
				case fieldMerchantParameters:
					f.MerchantParameters, err = d.Str()
				case fieldSignature:
					f.Signature, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		})
		return f, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return f, badRequest("invalid form body")
	}
	f.SignatureVersion = r.PostForm.Get(fieldSignatureVersion)
	f.MerchantParameters = r.PostForm.Get(fieldMerchantParameters)
	f.Signature = r.PostForm.Get(fieldSignature)
	return f, nil
}

// PaymentCallback settles a card gateway notification. Declined payments
// are acknowledged too so the gateway stops retrying.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	f, err := readCallbackForm(w, r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	if f.MerchantParameters == "" || f.Signature == "" {
		mapError(w, r, badRequest("missing gateway fields"))
		return
	}

	n, err := h.payments.HandleCallback(r.Context(), f)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Str(n.OrderID)
		e.FieldStart("authorized")
		e.Bool(n.Authorized())
		e.ObjEnd()
	})
}
