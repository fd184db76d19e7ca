package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/noor/donation-service/internal/domain"
)

const webhookTimeout = 15 * time.Second

// EventVerifier authenticates a webhook delivery and normalizes its event.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*domain.ProviderEvent, error)
}

// Ledger is the part of Service the webhook processor drives.
type Ledger interface {
	Apply(ctx context.Context, providerRef string, target domain.PaymentStatus, details domain.TransitionDetails) (Outcome, *domain.Payment, error)
	RecoverOrphan(ctx context.Context, event domain.ProviderEvent) (bool, error)
}

// WebhookProcessor turns provider deliveries into ledger transitions.
type WebhookProcessor struct {
	verifier EventVerifier
	ledger   Ledger
	logger   *slog.Logger
}

func NewWebhookProcessor(verifier EventVerifier, ledger Ledger, logger *slog.Logger) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{
		verifier: verifier,
		ledger:   ledger,
		logger:   logger.With("component", "webhook"),
	}
}

// Ingest verifies and applies one delivery. The returned status is what the provider
// should see: 400 for authenticity failures, 500 when redelivery is wanted, 200 otherwise.
func (p *WebhookProcessor) Ingest(ctx context.Context, raw []byte, signature string) (bool, int) {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	if p.verifier == nil {
		p.logger.Error("webhook received but no signing secret is configured", "security_event", true)
		webhooksTotal.WithLabelValues("rejected").Inc()
		return false, http.StatusBadRequest
	}
	event, err := p.verifier.VerifyEvent(raw, signature)
	if err != nil {
		p.logger.Warn("webhook verification failed", "security_event", true, "err", err)
		webhooksTotal.WithLabelValues("rejected").Inc()
		return false, http.StatusBadRequest
	}

	target, ok := event.Kind.TargetStatus()
	if !ok {
		p.logger.Debug("unhandled event type acknowledged", "event_id", event.ID, "type", event.RawType)
		webhooksTotal.WithLabelValues("unhandled").Inc()
		return true, http.StatusOK
	}

	details := domain.TransitionDetails{
		ReceiptURL:   event.ReceiptURL,
		ErrorMessage: event.ErrorMessage,
		OccurredAt:   event.OccurredAt,
	}
	outcome, _, err := p.ledger.Apply(ctx, event.ProviderRef, target, details)
	if err != nil {
		return p.failed(event, target, err)
	}

	if outcome == OutcomeNotFound {
		recovered, err := p.ledger.RecoverOrphan(ctx, *event)
		if err != nil {
			return p.failed(event, target, err)
		}
		if !recovered {
			p.logger.Warn("no local payment for provider reference", "event_id", event.ID, "provider_ref", event.ProviderRef, "type", event.RawType)
			webhooksTotal.WithLabelValues(string(OutcomeNotFound)).Inc()
			return true, http.StatusOK
		}
		outcome, _, err = p.ledger.Apply(ctx, event.ProviderRef, target, details)
		if err != nil {
			return p.failed(event, target, err)
		}
	}

	webhooksTotal.WithLabelValues(string(outcome)).Inc()
	return true, http.StatusOK
}

func (p *WebhookProcessor) failed(event *domain.ProviderEvent, target domain.PaymentStatus, err error) (bool, int) {
	attrs := []any{"event_id", event.ID, "provider_ref", event.ProviderRef, "target", target, "err", err}
	if target == domain.StatusSucceeded {
		// The charge already settled at the provider.
		attrs = append(attrs, "alert", true)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		attrs = append(attrs, "timeout", true)
	}
	p.logger.Error("webhook could not be applied; provider will redeliver", attrs...)
	webhooksTotal.WithLabelValues("error").Inc()
	return false, http.StatusInternalServerError
}
