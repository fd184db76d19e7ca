package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
)

// Outcome is the result of applying a provider event to the ledger.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeNotFound Outcome = "not_found"
)

const publishTimeout = 5 * time.Second

// Apply moves the payment identified by providerRef to target. Duplicate, stale and
// illegal transitions are reported as OutcomeIgnored and change nothing.
func (s *Service) Apply(ctx context.Context, providerRef string, target domain.PaymentStatus, details domain.TransitionDetails) (Outcome, *domain.Payment, error) {
	payment, err := s.repo.TransitionPayment(ctx, providerRef, target, details)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTransitionRejected):
		transitionsTotal.WithLabelValues(string(target), string(OutcomeIgnored)).Inc()
		if payment == nil {
			return OutcomeIgnored, nil, nil
		}
		s.logger.Info("duplicate or stale event ignored", "provider_ref", providerRef, "target", target, "current", payment.Status)
		return OutcomeIgnored, payment, nil
	case errors.Is(err, store.ErrPaymentNotFound):
		transitionsTotal.WithLabelValues(string(target), string(OutcomeNotFound)).Inc()
		return OutcomeNotFound, nil, nil
	default:
		transitionsTotal.WithLabelValues(string(target), "error").Inc()
		return "", nil, fmt.Errorf("apply %s to %s: %w", target, providerRef, err)
	}

	transitionsTotal.WithLabelValues(string(target), string(OutcomeApplied)).Inc()
	s.logger.Info("payment transition applied", "payment_id", payment.ID, "provider_ref", providerRef, "status", payment.Status, "amount_minor", payment.AmountMinor)
	s.afterTransition(ctx, payment)
	return OutcomeApplied, payment, nil
}

// afterTransition runs the best-effort side effects of an applied transition.
// Failures here are logged and never reach the caller.
func (s *Service) afterTransition(ctx context.Context, payment *domain.Payment) {
	var campaign *domain.Campaign
	if payment.Status == domain.StatusSucceeded || payment.Status == domain.StatusRefunded {
		c, err := s.repo.FindCampaignByID(ctx, payment.CampaignID)
		if err != nil {
			s.logger.Warn("campaign lookup after transition failed", "campaign_id", payment.CampaignID, "err", err)
		} else {
			campaign = c
			s.invalidateCampaign(c.Slug)
		}
	}

	if payment.Status == domain.StatusSucceeded {
		receipt := domain.Receipt{
			PaymentID:   payment.ID,
			DonorEmail:  payment.DonorInfo.Email,
			DonorName:   payment.DonorInfo.Name,
			AmountMinor: payment.AmountMinor,
			Currency:    payment.Currency,
		}
		if campaign != nil {
			receipt.CampaignTitleEN = campaign.Title.EN
			receipt.CampaignTitleAR = campaign.Title.AR
		}
		if strings.TrimSpace(receipt.DonorEmail) != "" {
			s.receipts.SendReceipt(receipt)
		}
	}

	event := domain.PaymentStatusEvent{
		PaymentID:   payment.ID,
		ProviderRef: payment.ProviderRef,
		CampaignID:  payment.CampaignID,
		Status:      payment.Status,
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		OccurredAt:  payment.UpdatedAt,
	}
	producer := s.eventProducer
	logger := s.logger
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := producer.PublishPaymentStatus(pubCtx, event); err != nil {
			logger.Warn("payment status event publish failed", "payment_id", event.PaymentID, "status", event.Status, "err", err)
		}
	}()
}

// RecoverOrphan records a pending payment for a provider intent that has no local row,
// using the metadata written at intent creation. It returns false when the metadata
// is insufficient to identify the campaign and amount.
func (s *Service) RecoverOrphan(ctx context.Context, event domain.ProviderEvent) (bool, error) {
	campaignID, err := uuid.Parse(event.Metadata["campaign_id"])
	if err != nil {
		return false, nil
	}
	amount := event.AmountMinor
	if amount <= 0 {
		return false, nil
	}
	currency, ok := domain.ParseCurrency(event.Currency)
	if !ok {
		currency, ok = domain.ParseCurrency(event.Metadata["currency"])
		if !ok {
			return false, nil
		}
	}

	anonymous, _ := strconv.ParseBool(event.Metadata["anonymous"])
	donorName := event.Metadata["donor_name"]
	if anonymous || donorName == "Anonymous" {
		donorName = ""
	}
	payment := &domain.Payment{
		ID:          uuid.New(),
		ProviderRef: event.ProviderRef,
		CampaignID:  campaignID,
		AmountMinor: amount,
		Currency:    currency,
		Method:      domain.MethodProviderCard,
		DonorInfo: domain.DonorInfo{
			Name:      donorName,
			Email:     event.Metadata["donor_email"],
			Anonymous: anonymous,
		},
		Metadata: event.Metadata,
	}
	if donorID, err := uuid.Parse(event.Metadata["donor_id"]); err == nil {
		payment.DonorID = &donorID
	}

	stored, created, err := s.repo.UpsertPendingPayment(ctx, payment)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("recover orphan %s: %w", event.ProviderRef, err)
	}
	if created {
		orphansRecovered.Inc()
		s.logger.Warn("recovered payment from webhook metadata", "payment_id", stored.ID, "provider_ref", stored.ProviderRef, "campaign_id", campaignID)
	}
	return true, nil
}
