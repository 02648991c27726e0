package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

func (h *Handler) ListShippingMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.catalog.ListShippingMethods(r.Context())
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, m := range methods {
			encodeShippingMethod(e, m)
		}
		e.ArrEnd()
	})
}

func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.catalog.ListPaymentMethods(r.Context())
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, m := range methods {
			encodePaymentMethod(e, m)
		}
		e.ArrEnd()
	})
}
