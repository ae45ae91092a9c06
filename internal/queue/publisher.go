package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher publishes events to RabbitMQ.  It dials per publish so that a
// broker outage never holds a connection hostage; events are rare compared
// to requests.  Events are published on the request path after commit, so
// each publish is bounded by a short timeout.  Errors are logged and returned
// so the caller can ignore them without interrupting the main request flow.
type Publisher struct {
	url     string
	logger  *zap.Logger
	timeout time.Duration
}

// DefaultPublishTimeout bounds dialing and publishing one event.
const DefaultPublishTimeout = 2 * time.Second

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, logger: logger, timeout: DefaultPublishTimeout}
}

// PublishReservationEvent publishes ev to the reservation queue.
func (p *Publisher) PublishReservationEvent(ctx context.Context, ev ReservationEvent) error {
	return p.publish(ctx, ReservationQueue, ev.Type, ev)
}

// PublishRefundEvent publishes ev to the refund queue.
func (p *Publisher) PublishRefundEvent(ctx context.Context, ev RefundEvent) error {
	return p.publish(ctx, RefundQueue, ev.Type, ev)
}

func (p *Publisher) publish(ctx context.Context, queueName, eventType string, payload any) error {
	log := p.logger.With(zap.String("queue", queueName), zap.String("type", eventType))
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(p.timeout),
	})
	if err != nil {
		log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal event failed", zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		log.Warn("rabbitmq publish failed", zap.Error(err))
		return err
	}
	return nil
}
