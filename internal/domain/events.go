package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the provider event type after normalization.
type EventKind string

const (
	EventUnknown           EventKind = ""
	EventPaymentProcessing EventKind = "payment.processing"
	EventPaymentSucceeded  EventKind = "payment.succeeded"
	EventPaymentFailed     EventKind = "payment.failed"
	EventPaymentCanceled   EventKind = "payment.canceled"
	EventPaymentRefunded   EventKind = "payment.refunded"
)

// TargetStatus maps an event kind to the payment status it drives.
func (k EventKind) TargetStatus() (PaymentStatus, bool) {
	switch k {
	case EventPaymentProcessing:
		return StatusProcessing, true
	case EventPaymentSucceeded:
		return StatusSucceeded, true
	case EventPaymentFailed:
		return StatusFailed, true
	case EventPaymentCanceled:
		return StatusCanceled, true
	case EventPaymentRefunded:
		return StatusRefunded, true
	}
	return "", false
}

// ProviderEvent is a verified webhook event, reduced to the fields the ledger needs.
type ProviderEvent struct {
	ID           string            `json:"id"`
	RawType      string            `json:"raw_type"`
	Kind         EventKind         `json:"kind"`
	ProviderRef  string            `json:"provider_ref"`
	AmountMinor  int64             `json:"amount_minor"`
	Currency     string            `json:"currency"`
	ReceiptURL   string            `json:"receipt_url"`
	ErrorMessage string            `json:"error_message"`
	Metadata     map[string]string `json:"metadata"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// PaymentStatusEvent is published to the broker after a ledger transition was applied.
type PaymentStatusEvent struct {
	PaymentID   uuid.UUID     `json:"payment_id"`
	ProviderRef string        `json:"provider_ref"`
	CampaignID  uuid.UUID     `json:"campaign_id"`
	Status      PaymentStatus `json:"status"`
	AmountMinor int64         `json:"amount_minor"`
	Currency    Currency      `json:"currency"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// Receipt is the payload handed to the receipt dispatcher and carried on the broker.
type Receipt struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	DonorEmail      string    `json:"donor_email"`
	DonorName       string    `json:"donor_name"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        Currency  `json:"currency"`
	CampaignTitleEN string    `json:"campaign_title_en"`
	CampaignTitleAR string    `json:"campaign_title_ar"`
}
