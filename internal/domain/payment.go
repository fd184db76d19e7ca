/**
 * @description
 * This file defines the core domain models for the donation-service ledger.
 * These structs represent the campaign and payment records, the DTOs accepted by the
 * intent endpoint, and the values exchanged with the payment provider.
 *
 * @notes
 * - Payment amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Campaign aggregates are decimal major-unit amounts (see campaign.go).
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code accepted for donations.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencySAR Currency = "SAR"
	CurrencyAED Currency = "AED"
)

// SupportedCurrencies lists every currency a donation may be charged in.
var SupportedCurrencies = []Currency{CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencySAR, CurrencyAED}

// ParseCurrency normalizes a client supplied code. Empty input defaults to USD.
func ParseCurrency(raw string) (Currency, bool) {
	code := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if code == "" {
		return CurrencyUSD, true
	}
	for _, c := range SupportedCurrencies {
		if c == code {
			return c, true
		}
	}
	return "", false
}

// PaymentMethod identifies how a payment was collected.
type PaymentMethod string

const (
	MethodProviderCard PaymentMethod = "provider_card"
	MethodPaypal       PaymentMethod = "paypal"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// DonorInfo is the contact data captured with a donation.
type DonorInfo struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Anonymous bool   `json:"anonymous"`
}

// DisplayName returns the name shown on public views.
func (d DonorInfo) DisplayName() string {
	if d.Anonymous || strings.TrimSpace(d.Name) == "" {
		return "Anonymous"
	}
	return d.Name
}

// Payment is one attempted charge. It maps directly to the `donation_payments` table.
type Payment struct {
	ID           uuid.UUID         `json:"id"`
	ProviderRef  string            `json:"provider_ref"`
	CampaignID   uuid.UUID         `json:"campaign_id"`
	DonorID      *uuid.UUID        `json:"donor_id,omitempty"`
	AmountMinor  int64             `json:"amount_minor_units"`
	Currency     Currency          `json:"currency"`
	Method       PaymentMethod     `json:"method"`
	Status       PaymentStatus     `json:"status"`
	DonorInfo    DonorInfo         `json:"donor_info"`
	ReceiptURL   *string           `json:"receipt_url,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Simulated    bool              `json:"simulated"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	RefundedAt   *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// MajorAmount converts the stored minor units to the major-unit decimal used by campaign totals.
func (p Payment) MajorAmount() decimal.Decimal {
	return MinorToMajor(p.AmountMinor)
}

// MinorToMajor converts cents to a two-place decimal. Every supported currency has two minor digits.
func MinorToMajor(amountMinor int64) decimal.Decimal {
	return decimal.New(amountMinor, -2)
}

// CreateIntentRequest is the DTO for POST /donations/intent.
type CreateIntentRequest struct {
	CampaignID  uuid.UUID  `json:"campaignId"`
	AmountMinor int64      `json:"amountMinorUnits"`
	Currency    string     `json:"currency"`
	DonorInfo   DonorInfo  `json:"donorInfo"`
	DonorID     *uuid.UUID `json:"-"`
}

// IntentResult is returned to the client after an intent has been created.
type IntentResult struct {
	PaymentID    uuid.UUID `json:"paymentId"`
	ClientSecret string    `json:"clientSecret"`
	ProviderRef  string    `json:"providerRef"`
	AmountMinor  int64     `json:"amountMinorUnits"`
	Currency     Currency  `json:"currency"`
	Simulated    bool      `json:"simulated"`
}

// TransitionDetails carries the event payload fields applied with a status change.
type TransitionDetails struct {
	ReceiptURL   string
	ErrorMessage string
	OccurredAt   time.Time
}

// DonationSummary is the anonymized view of a recent succeeded donation.
type DonationSummary struct {
	Amount    string    `json:"amount"`
	Currency  Currency  `json:"currency"`
	DonorName string    `json:"donorName"`
	Date      time.Time `json:"date"`
}

// DonationHistoryItem is one row in a donor's history, joined with its campaign.
type DonationHistoryItem struct {
	Payment
	CampaignSlug  string        `json:"campaign_slug"`
	CampaignTitle LocalizedText `json:"campaign_title"`
	CoverImage    string        `json:"cover_image"`
}
