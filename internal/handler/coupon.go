package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/coupon"
)

// ValidateCoupon checks a code without consuming it. Rejections are a 200
// with valid=false and the reason.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var code string
	if err := readJSON(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "code" {
				return d.Skip()
			}
			var err error
			code, err = optStr(d)
			return err
		})
	}); err != nil {
		mapError(w, r, err)
		return
	}
	if strings.TrimSpace(code) == "" {
		mapError(w, r, badRequest("code required"))
		return
	}

	c, err := h.coupons.Validate(r.Context(), code)
	if err != nil && !errors.Is(err, coupon.ErrInvalidCoupon) {
		mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(err == nil)
		if reason, ok := coupon.ReasonOf(err); ok {
			e.FieldStart("reason")
			e.Str(string(reason))
		}
		if c != nil {
			encodeCouponTerms(e, c)
		}
		e.ObjEnd()
	})
}
