package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"
)

// GetInvoices returns one invoice by invoice_id, or the invoices of
// client_id, newest first.
func (h *Handler) GetInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if id := q.Get("invoice_id"); id != "" {
		inv, err := h.invoices.Get(ctx, id)
		if err != nil {
			mapError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			encodeInvoice(e, inv)
		})
		return
	}

	clientID := q.Get("client_id")
	if clientID == "" {
		mapError(w, r, badRequest("invoice_id or client_id required"))
		return
	}
	var limit int
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			mapError(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := h.invoices.ListByClient(ctx, clientID, limit)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			encodeInvoice(e, &list[i])
		}
		e.ArrEnd()
	})
}

const actionGenerate = "generate"

// PostInvoices runs an invoice action. Only "generate" exists: it returns
// the order's invoice, issuing it if needed.
func (h *Handler) PostInvoices(w http.ResponseWriter, r *http.Request) {
	var action, orderID string
	if err := readJSON(w, r, func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "action":
				action, err = optStr(d)
			case "orderId":
				orderID, err = optStr(d)
			default:
				err = d.Skip()
			}
			return err
		})
	}); err != nil {
		mapError(w, r, err)
		return
	}
	if action != actionGenerate {
		mapError(w, r, badRequest("invalid action"))
		return
	}
	if orderID == "" {
		mapError(w, r, badRequest("orderId required"))
		return
	}

	inv, err := h.invoices.Generate(r.Context(), orderID)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeInvoice(e, inv)
	})
}
