/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the donation ledger. By defining an interface,
 * we decouple the ledger logic from the specific database implementation
 * (PostgreSQL in production, the in-memory store for local runs and tests).
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid, github.com/shopspring/decimal: identifiers and money.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrCampaignNotFound   = errors.New("campaign not found")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrTransitionRejected = errors.New("payment status transition rejected")
	ErrInvalidTransition  = errors.New("target status has no legal predecessor")
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// Campaign methods
	FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	FindCampaignBySlug(ctx context.Context, slug string) (*domain.Campaign, error)
	ListActiveCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error)
	// UpsertCampaign creates or updates a campaign's descriptive fields keyed by slug.
	// It never touches collected_amount or donor_count of an existing row.
	UpsertCampaign(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error)

	// Payment methods
	// UpsertPendingPayment inserts a pending payment keyed by provider ref. A second call with
	// the same provider ref returns the existing row and created=false.
	UpsertPendingPayment(ctx context.Context, payment *domain.Payment) (stored *domain.Payment, created bool, err error)
	FindPaymentByProviderRef(ctx context.Context, providerRef string) (*domain.Payment, error)
	// TransitionPayment moves the payment to target only if its current status is a legal
	// predecessor, and applies the matching campaign aggregate change atomically with it.
	// ErrTransitionRejected is returned together with the unchanged payment when the guard fails.
	TransitionPayment(ctx context.Context, providerRef string, target domain.PaymentStatus, details domain.TransitionDetails) (*domain.Payment, error)
	ListRecentSucceededPayments(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Payment, error)
	ListDonorHistory(ctx context.Context, donorID uuid.UUID) ([]domain.DonationHistoryItem, error)

	// Reconciliation methods
	ComputeCampaignTotals(ctx context.Context) ([]domain.CampaignTotals, error)
	// RepairCampaignAggregates recomputes one campaign's aggregates from its succeeded
	// payments and stores them in the same write, so a concurrent transition is never lost.
	RepairCampaignAggregates(ctx context.Context, campaignID uuid.UUID) (collected decimal.Decimal, donorCount int64, err error)
}

// aggregateDelta is the campaign change implied by entering target.
func aggregateDelta(target domain.PaymentStatus) (sign int, ok bool) {
	switch target {
	case domain.StatusSucceeded:
		return 1, true
	case domain.StatusRefunded:
		return -1, true
	}
	return 0, false
}
