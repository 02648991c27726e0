package notify

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/order"
)

var _ order.Notifier = LogNotifier{}

// LogNotifier writes events to the request logger. It is used when no
// broker is configured.
type LogNotifier struct{}

func (LogNotifier) OrderPlaced(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Event",
		zap.String("type", KeyOrderPlaced),
		zap.String("order_id", o.ID),
		zap.String("confirmation", o.ConfirmationNumber()),
		zap.Int64("grand_total", o.GrandTotal),
	)
	return nil
}

func (LogNotifier) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	zctx.From(ctx).Info("Event",
		zap.String("type", KeyOrderStatusChanged),
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(o.Status)),
	)
	return nil
}
