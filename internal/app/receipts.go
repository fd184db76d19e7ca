package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/pkg/rabbitmq"
)

const defaultSendTimeout = 10 * time.Second

// ReceiptDispatcher hands off a receipt without blocking the caller.
type ReceiptDispatcher interface {
	SendReceipt(receipt domain.Receipt)
}

// ReceiptSender delivers a receipt synchronously (SMTP).
type ReceiptSender interface {
	SendReceipt(ctx context.Context, receipt domain.Receipt) error
}

// BrokerReceiptDispatcher publishes receipts for the ReceiptConsumer.
type BrokerReceiptDispatcher struct {
	producer rabbitmq.Publisher
	logger   *slog.Logger
}

func NewBrokerReceiptDispatcher(producer rabbitmq.Publisher, logger *slog.Logger) *BrokerReceiptDispatcher {
	return &BrokerReceiptDispatcher{producer: producer, logger: logger.With("component", "receipts", "mode", "broker")}
}

func (d *BrokerReceiptDispatcher) SendReceipt(receipt domain.Receipt) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := d.producer.PublishReceiptRequested(ctx, receipt); err != nil {
			receiptsTotal.WithLabelValues("broker", "error").Inc()
			d.logger.Error("receipt publish failed", "payment_id", receipt.PaymentID, "err", err)
			return
		}
		receiptsTotal.WithLabelValues("broker", "queued").Inc()
	}()
}

// DirectReceiptDispatcher sends receipts over SMTP in a detached goroutine.
type DirectReceiptDispatcher struct {
	sender  ReceiptSender
	timeout time.Duration
	logger  *slog.Logger
}

func NewDirectReceiptDispatcher(sender ReceiptSender, timeout time.Duration, logger *slog.Logger) *DirectReceiptDispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &DirectReceiptDispatcher{sender: sender, timeout: timeout, logger: logger.With("component", "receipts", "mode", "direct")}
}

func (d *DirectReceiptDispatcher) SendReceipt(receipt domain.Receipt) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sender.SendReceipt(ctx, receipt); err != nil {
			receiptsTotal.WithLabelValues("direct", "error").Inc()
			d.logger.Error("receipt email failed", "payment_id", receipt.PaymentID, "err", err)
			return
		}
		receiptsTotal.WithLabelValues("direct", "sent").Inc()
		d.logger.Info("receipt email sent", "payment_id", receipt.PaymentID)
	}()
}

// LogReceiptDispatcher only records that a receipt would have been sent.
type LogReceiptDispatcher struct {
	logger *slog.Logger
}

func NewLogReceiptDispatcher(logger *slog.Logger) *LogReceiptDispatcher {
	return &LogReceiptDispatcher{logger: logger.With("component", "receipts", "mode", "log")}
}

func (d *LogReceiptDispatcher) SendReceipt(receipt domain.Receipt) {
	receiptsTotal.WithLabelValues("log", "skipped").Inc()
	d.logger.Info("receipt delivery not configured", "payment_id", receipt.PaymentID, "amount_minor", receipt.AmountMinor, "currency", receipt.Currency)
}

// ReceiptConsumer sends receipts queued on the broker. A failed send is requeued.
type ReceiptConsumer struct {
	sender  ReceiptSender
	timeout time.Duration
	logger  *slog.Logger
}

func NewReceiptConsumer(sender ReceiptSender, timeout time.Duration, logger *slog.Logger) *ReceiptConsumer {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &ReceiptConsumer{sender: sender, timeout: timeout, logger: logger.With("component", "receipt_consumer")}
}

func (c *ReceiptConsumer) HandleMessage(ctx context.Context, body []byte) bool {
	var receipt domain.Receipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		c.logger.Error("failed to unmarshal receipt payload; dropping", "err", err)
		return true
	}
	if receipt.DonorEmail == "" {
		c.logger.Warn("receipt without recipient; dropping", "payment_id", receipt.PaymentID)
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.sender.SendReceipt(ctx, receipt); err != nil {
		receiptsTotal.WithLabelValues("consumer", "error").Inc()
		c.logger.Warn("receipt send failed; requeueing", "payment_id", receipt.PaymentID, "err", err)
		return false
	}
	receiptsTotal.WithLabelValues("consumer", "sent").Inc()
	c.logger.Info("receipt email sent", "payment_id", receipt.PaymentID)
	return true
}
