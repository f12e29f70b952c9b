// Package broker wraps a RabbitMQ channel with the exchange/DLQ topology
// IROLE publishes its lifecycle events onto, adapted from the donor's
// shared broker package to this engine's own event names.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event exchange names. One direct exchange per event; consumers bind a
// queue of their own choosing to the exchange they care about.
const (
	EventCheckoutConfirmed = "checkout.confirmed"
	EventOrderPaid         = "order.paid"
	EventOrderFailed       = "order.failed"
	EventOrderCancelled    = "order.cancelled"
	EventSchedulerTick     = "scheduler.tick"
)

var allEvents = []string{
	EventCheckoutConfirmed,
	EventOrderPaid,
	EventOrderFailed,
	EventOrderCancelled,
	EventSchedulerTick,
}

// DLX is the dead-letter exchange every event queue is configured to
// route into once a delivery's retry count reaches MaxRetryCount.
const DLX = "irole.dlx"

// MaxRetryCount bounds how many times HandleRetry sees a message before
// it is handed to its dead-letter queue: it is republished at most
// MaxRetryCount-1 times.
const MaxRetryCount = 3

// Broker owns one AMQP channel and the topology declared on Connect.
type Broker struct {
	ch     *amqp.Channel
	conn   *amqp.Connection
	logger *slog.Logger
}

// Connect dials RabbitMQ, opens a channel, and declares the DLX/DLQ and
// event exchanges. The returned Broker's Close tears down the channel
// then the connection, in that order.
func Connect(user, pass, host, port string, logger *slog.Logger) (*Broker, error) {
	address := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &Broker{ch: ch, conn: conn, logger: logger}

	if err := b.declareDLQAndDLX(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := b.declareExchanges(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return b, nil
}

// Close shuts the channel down, then the connection.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// Channel exposes the underlying amqp.Channel for consumer setup.
func (b *Broker) Channel() *amqp.Channel { return b.ch }

// Publish marshals payload as JSON and publishes it to the named event
// exchange, injecting the caller's trace context into the message
// headers so a consumer can continue the same trace.
func (b *Broker) Publish(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}

	headers := InjectTraceContext(ctx)

	return b.ch.PublishWithContext(ctx, event, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		Headers:      headers,
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

func (b *Broker) declareDLQAndDLX() error {
	if err := b.ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx exchange: %w", err)
	}

	for _, event := range allEvents {
		dlq := event + ".dlq"
		if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq %s: %w", dlq, err)
		}
		if err := b.ch.QueueBind(dlq, event, DLX, false, nil); err != nil {
			return fmt.Errorf("bind dlq %s: %w", dlq, err)
		}
	}
	return nil
}

func (b *Broker) declareExchanges() error {
	for _, event := range allEvents {
		if err := b.ch.ExchangeDeclare(event, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", event, err)
		}
	}
	return nil
}

// HandleRetry increments the delivery's retry count header and either
// republishes it (with a linear backoff) or, once the incremented count
// reaches MaxRetryCount, nacks it without requeue so RabbitMQ routes it
// to its DLQ.
func (b *Broker) HandleRetry(d *amqp.Delivery) error {
	if d.Headers == nil {
		d.Headers = amqp.Table{}
	}

	retryCount, _ := d.Headers["x-retry-count"].(int64)
	retryCount++
	d.Headers["x-retry-count"] = retryCount

	if retryCount >= MaxRetryCount {
		b.logger.Warn("max retries reached, routing to dlq", "routing_key", d.RoutingKey, "retry_count", retryCount)
		return d.Nack(false, false)
	}

	time.Sleep(time.Second * time.Duration(retryCount))

	return b.ch.PublishWithContext(context.Background(), d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Headers:      d.Headers,
		Body:         d.Body,
		DeliveryMode: amqp.Persistent,
	})
}
