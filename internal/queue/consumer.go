package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer drains the reservation and refund queues and appends one
// human-readable line per event to a notification log that the studio's
// mailer picks up.
type Consumer struct {
	url     string
	logPath string
	logger  *zap.Logger
}

// NewConsumer returns a Consumer writing to logPath.
func NewConsumer(url, logPath string, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if logPath == "" {
		logPath = filepath.Join("logs", "notifications.log")
	}
	return &Consumer{url: url, logPath: logPath, logger: logger}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("notification consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("notification consumer: loop ended, reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("notification consumer: set QoS failed", zap.Error(err))
	}

	deliveries := make(chan amqp.Delivery)
	for _, name := range []string{ReservationQueue, RefundQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		go func(msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case deliveries <- d:
				case <-ctx.Done():
					return
				}
			}
		}(msgs)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errors.New("connection closed")
		case d := <-deliveries:
			if err := c.handle(d.RoutingKey, d.Body); err != nil {
				c.logger.Error("notification consumer: handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(queueName string, body []byte) error {
	line, err := FormatNotification(queueName, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatNotification renders one event body as a single log line.
func FormatNotification(queueName string, body []byte) (string, error) {
	switch queueName {
	case ReservationQueue:
		var ev ReservationEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		contact := ev.HolderEmail
		if contact == "" {
			contact = ev.HolderPhone
		}
		if contact == "" {
			contact = "user:" + ev.HolderUserID
		}
		line := fmt.Sprintf("[%s] %s | reservation_id=%d | session_id=%d | starts_at=%s | seats=%d | holder=%q | contact=%s",
			ev.OccurredAt, ev.Type, ev.ReservationID, ev.SessionID, ev.SessionStartsAt, ev.Quantity, ev.HolderName, contact)
		if ev.WaitlistPosition > 0 {
			line += fmt.Sprintf(" | waitlist_position=%d", ev.WaitlistPosition)
		}
		return line + "\n", nil
	case RefundQueue:
		var ev RefundEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] %s | %s_id=%d | gift_card_credited=%s | card_outstanding=%s | reason=%q\n",
			ev.OccurredAt, ev.Type, ev.EntityKind, ev.EntityID, ev.GiftCardCredited, ev.CardOutstanding, ev.Reason), nil
	}
	return "", fmt.Errorf("unknown queue %q", queueName)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
