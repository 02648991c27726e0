package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/heating-shop/internal/domain/order"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "shop.events"

var _ order.Notifier = (*RabbitPublisher)(nil)

// RabbitPublisher publishes persistent JSON events with publisher confirms.
type RabbitPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	now      func() time.Time
}

// NewRabbitPublisher declares the exchange once at startup and puts the
// channel in confirm mode.
func NewRabbitPublisher(ch *amqp.Channel, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &RabbitPublisher{ch: ch, exchange: exchange, now: time.Now}, nil
}

func (p *RabbitPublisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, KeyOrderPlaced, newEvent(KeyOrderPlaced, o, "", p.now()))
}

func (p *RabbitPublisher) StatusChanged(ctx context.Context, o *order.Order, from order.Status) error {
	return p.publish(ctx, KeyOrderStatusChanged, newEvent(KeyOrderStatusChanged, o, from, p.now()))
}

func (p *RabbitPublisher) publish(ctx context.Context, key string, ev Event) error {
	e := &jx.Encoder{}
	ev.Encode(e)

	p.mu.Lock()
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.OrderID + ":" + key + ":" + string(ev.Status),
			Timestamp:    ev.OccurredAt,
			Body:         e.Bytes(),
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm %s: %w", key, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", key)
	}
	return nil
}
