/**
 * @description
 * This package provides the adapter for the Stripe payments API. It creates payment
 * intents for donations and turns signed webhook deliveries into provider-neutral
 * `domain.ProviderEvent` values that the ledger understands.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v74: the official Stripe SDK (client, webhook).
 * - internal/domain: for the normalized event type.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noor/donation-service/internal/domain"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
)

var (
	// ErrInvalidSignature is returned when a webhook delivery fails signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// IntentRequest is the data needed to create a payment intent.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the subset of the Stripe payment intent the ledger keeps.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Client is a client for the Stripe payment intents API.
type Client struct {
	api     *client.API
	timeout time.Duration
}

// NewClient creates a new Stripe API client. Every call is bounded by timeout.
func NewClient(secretKey string, timeout time.Duration) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{api: api, timeout: timeout}
}

// CreateIntent creates a payment intent with automatic payment methods enabled.
func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// WebhookVerifier authenticates Stripe webhook deliveries.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the endpoint's signing secret.
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// VerifyEvent checks the Stripe-Signature header against the raw body and normalizes the event.
// Events of types the ledger does not track come back with Kind == domain.EventUnknown.
func (v *WebhookVerifier) VerifyEvent(payload []byte, signature string) (*domain.ProviderEvent, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: signing secret not configured", ErrInvalidSignature)
	}
	if err := webhook.ValidatePayload(payload, signature, v.secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return NormalizeEvent(event)
}

var eventKinds = map[string]domain.EventKind{
	"payment_intent.processing":     domain.EventPaymentProcessing,
	"payment_intent.succeeded":      domain.EventPaymentSucceeded,
	"payment_intent.payment_failed": domain.EventPaymentFailed,
	"payment_intent.canceled":       domain.EventPaymentCanceled,
	"charge.refunded":               domain.EventPaymentRefunded,
}

// NormalizeEvent maps a Stripe event onto the provider-neutral event.
func NormalizeEvent(event stripe.Event) (*domain.ProviderEvent, error) {
	out := &domain.ProviderEvent{
		ID:      event.ID,
		RawType: string(event.Type),
		Kind:    eventKinds[string(event.Type)],
	}
	if event.Created > 0 {
		out.OccurredAt = time.Unix(event.Created, 0).UTC()
	} else {
		out.OccurredAt = time.Now().UTC()
	}
	if out.Kind == domain.EventUnknown {
		return out, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, event.ID)
	}

	if out.Kind == domain.EventPaymentRefunded {
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("%w: decode charge: %v", ErrMalformedEvent, err)
		}
		if charge.PaymentIntent != nil {
			out.ProviderRef = charge.PaymentIntent.ID
		}
		out.AmountMinor = charge.Amount
		out.Currency = strings.ToUpper(string(charge.Currency))
		out.ReceiptURL = charge.ReceiptURL
		out.Metadata = charge.Metadata
	} else {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: decode payment intent: %v", ErrMalformedEvent, err)
		}
		out.ProviderRef = pi.ID
		out.AmountMinor = pi.Amount
		out.Currency = strings.ToUpper(string(pi.Currency))
		out.Metadata = pi.Metadata
		if pi.LatestCharge != nil {
			out.ReceiptURL = pi.LatestCharge.ReceiptURL
		}
		switch {
		case pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "":
			out.ErrorMessage = pi.LastPaymentError.Msg
		case pi.CancellationReason != "":
			out.ErrorMessage = string(pi.CancellationReason)
		}
	}

	if out.ProviderRef == "" {
		return nil, fmt.Errorf("%w: %s carries no payment intent id", ErrMalformedEvent, event.ID)
	}
	// Metadata written at intent creation wins over the envelope amount for orphan recovery.
	if raw, ok := out.Metadata["amount_minor"]; ok {
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil && amount > 0 {
			out.AmountMinor = amount
		}
	}
	return out, nil
}
