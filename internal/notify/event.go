// Package notify publishes order lifecycle events for downstream consumers
// such as the mailer.
package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/heating-shop/internal/domain/order"
)

// Routing keys of published events.
const (
	KeyOrderPlaced        = "order.placed"
	KeyOrderStatusChanged = "order.status_changed"
)

// Event is the message body of every published event.
type Event struct {
	Type           string
	OrderID        string
	Confirmation   string
	Status         order.Status
	PreviousStatus order.Status
	ClientID       *string
	GuestEmail     string
	GrandTotal     int64
	OccurredAt     time.Time
}

func newEvent(typ string, o *order.Order, prev order.Status, at time.Time) Event {
	return Event{
		Type:           typ,
		OrderID:        o.ID,
		Confirmation:   o.ConfirmationNumber(),
		Status:         o.Status,
		PreviousStatus: prev,
		ClientID:       o.ClientID,
		GuestEmail:     o.GuestEmail,
		GrandTotal:     o.GrandTotal,
		OccurredAt:     at,
	}
}

// Encode writes the event as a JSON object.
func (ev Event) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(ev.Type)
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("confirmation")
	e.Str(ev.Confirmation)
	e.FieldStart("status")
	e.Str(string(ev.Status))
	if ev.PreviousStatus != "" {
		e.FieldStart("previousStatus")
		e.Str(string(ev.PreviousStatus))
	}
	if ev.ClientID != nil {
		e.FieldStart("clientId")
		e.Str(*ev.ClientID)
	}
	if ev.GuestEmail != "" {
		e.FieldStart("guestEmail")
		e.Str(ev.GuestEmail)
	}
	e.FieldStart("grandTotal")
	e.Int64(ev.GrandTotal)
	e.FieldStart("occurredAt")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
