/**
 * @description
 * This package provides a simple producer for publishing messages to RabbitMQ.
 * It encapsulates the logic for connecting to RabbitMQ and publishing a message
 * to a specific exchange and routing key.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/noor/donation-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeDonationEvents is the durable topic exchange all donation events go to.
	ExchangeDonationEvents = "donations.events"
	// RoutingKeyReceiptRequested carries a domain.Receipt to the receipt consumer.
	RoutingKeyReceiptRequested = "donation.receipt.requested"
	// RoutingKeyPaymentPrefix is followed by the payment status, e.g. donation.payment.succeeded.
	RoutingKeyPaymentPrefix = "donation.payment."
)

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishReceiptRequested(ctx context.Context, receipt domain.Receipt) error
	PublishPaymentStatus(ctx context.Context, event domain.PaymentStatusEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	slog.Warn("publish skipped", "component", "rabbitmq_producer", "mode", "fallback", "exchange", exchange, "routing_key", routingKey)
	return nil
}

func (p *EventProducerFallback) PublishReceiptRequested(ctx context.Context, receipt domain.Receipt) error {
	return p.Publish(ctx, ExchangeDonationEvents, RoutingKeyReceiptRequested, receipt)
}

func (p *EventProducerFallback) PublishPaymentStatus(ctx context.Context, event domain.PaymentStatusEvent) error {
	return p.Publish(ctx, ExchangeDonationEvents, PaymentRoutingKey(event.Status), event)
}

func (p *EventProducerFallback) Close() {}

// PaymentRoutingKey is the routing key for a payment entering status.
func PaymentRoutingKey(status domain.PaymentStatus) string {
	return RoutingKeyPaymentPrefix + string(status)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

func declareExchange(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// reopen replaces a channel the broker closed after an error. Caller holds p.mu.
func (p *EventProducer) reopen(exchange string) error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return declareExchange(ch, exchange)
}

// Publish sends a persistent JSON message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		slog.Error("json marshal failed", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "err", err)
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := declareExchange(p.channel, exchange); err != nil {
		slog.Warn("exchange declare failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "err", err)
		if err := p.reopen(exchange); err != nil {
			return err
		}
	}

	err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	slog.Warn("publish failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "err", err)
	// One-shot retry on a fresh channel.
	if reopenErr := p.reopen(exchange); reopenErr != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// PublishReceiptRequested hands a receipt to the receipt consumer.
func (p *EventProducer) PublishReceiptRequested(ctx context.Context, receipt domain.Receipt) error {
	return p.Publish(ctx, ExchangeDonationEvents, RoutingKeyReceiptRequested, receipt)
}

// PublishPaymentStatus announces an applied ledger transition.
func (p *EventProducer) PublishPaymentStatus(ctx context.Context, event domain.PaymentStatusEvent) error {
	return p.Publish(ctx, ExchangeDonationEvents, PaymentRoutingKey(event.Status), event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
