/**
 * @description
 * This file contains the core business logic for the donation-service. The `Service`
 * struct orchestrates the payment intent lifecycle, coordinating between the ledger
 * repository, the payment provider, the receipt dispatcher and the message broker.
 *
 * Key features:
 * - Creates provider payment intents and persists the matching pending payment with an
 *   idempotent upsert keyed by the provider reference.
 * - Falls back to a clearly flagged simulation mode only when no provider is configured.
 * - Serves the read side of the ledger (campaign listing, detail, donor history).
 *
 * @dependencies
 * - context, errors, fmt, log/slog, time: Standard Go libraries.
 * - github.com/Yiling-J/theine-go: campaign detail cache.
 * - github.com/go-ozzo/ozzo-validation/v4: request validation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/stripeclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
	"github.com/noor/donation-service/pkg/rabbitmq"
	"github.com/noor/donation-service/pkg/stripeclient"
)

const (
	DefaultMinimumAmountMinor = 100
	DefaultPersistAttempts    = 3
	recentDonationsLimit      = 10
	campaignDetailTTL         = 15 * time.Second
	campaignDetailLoads       = 3
)

var (
	ErrInvalidAmount       = errors.New("invalid donation amount")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidDonorInfo    = errors.New("invalid donor info")
	ErrCampaignUnavailable = errors.New("campaign not found or inactive")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPersistenceFailed   = errors.New("payment could not be recorded")
)

// IntentProvider creates remote payment intents.
type IntentProvider interface {
	CreateIntent(ctx context.Context, req stripeclient.IntentRequest) (*stripeclient.Intent, error)
}

// Options tunes the Service. Zero values fall back to defaults.
type Options struct {
	MinimumAmountMinor int64
	PersistAttempts    int
	PersistBackoff     time.Duration
}

// CampaignDetail is a campaign with its progress and latest anonymized donations.
type CampaignDetail struct {
	domain.Campaign
	Progress        int64                    `json:"progress"`
	RecentDonations []domain.DonationSummary `json:"recentDonations"`
}

// Service provides the core business logic for donations.
type Service struct {
	repo           store.Repository
	provider       IntentProvider
	receipts       ReceiptDispatcher
	eventProducer  rabbitmq.Publisher
	logger         *slog.Logger
	minAmount      int64
	attempts       int
	backoff        time.Duration
	campaignDetail *theine.LoadingCache[string, *CampaignDetail]

	// detailGen counts invalidations per slug so a load can tell it raced one.
	detailMu  sync.Mutex
	detailGen map[string]uint64
}

// NewService creates a new donation service instance. A nil provider puts intent
// creation in simulation mode.
func NewService(repo store.Repository, provider IntentProvider, receipts ReceiptDispatcher, producer rabbitmq.Publisher, logger *slog.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if receipts == nil {
		receipts = NewLogReceiptDispatcher(logger)
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	s := &Service{
		repo:          repo,
		provider:      provider,
		receipts:      receipts,
		eventProducer: producer,
		logger:        logger.With("component", "ledger"),
		minAmount:     opts.MinimumAmountMinor,
		attempts:      opts.PersistAttempts,
		backoff:       opts.PersistBackoff,
		detailGen:     make(map[string]uint64),
	}
	if s.minAmount <= 0 {
		s.minAmount = DefaultMinimumAmountMinor
	}
	if s.attempts <= 0 {
		s.attempts = DefaultPersistAttempts
	}
	if s.backoff <= 0 {
		s.backoff = 200 * time.Millisecond
	}

	cache, err := theine.NewBuilder[string, *CampaignDetail](1000).BuildWithLoader(func(ctx context.Context, slug string) (theine.Loaded[*CampaignDetail], error) {
		detail, err := s.loadFreshCampaignDetail(ctx, slug)
		if err != nil {
			return theine.Loaded[*CampaignDetail]{}, err
		}
		return theine.Loaded[*CampaignDetail]{
			Value: detail,
			Cost:  1,
			TTL:   campaignDetailTTL,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not build campaign detail cache: %w", err)
	}
	s.campaignDetail = cache
	return s, nil
}

// SimulationMode reports whether intents are fabricated locally.
func (s *Service) SimulationMode() bool {
	return s.provider == nil
}

func (s *Service) validateIntentRequest(req *domain.CreateIntentRequest) (domain.Currency, error) {
	if req.AmountMinor < s.minAmount {
		return "", fmt.Errorf("%w: minimum is %d minor units", ErrInvalidAmount, s.minAmount)
	}
	currency, ok := domain.ParseCurrency(req.Currency)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, req.Currency)
	}
	req.DonorInfo.Name = strings.TrimSpace(req.DonorInfo.Name)
	req.DonorInfo.Email = strings.TrimSpace(req.DonorInfo.Email)
	err := validation.ValidateStruct(&req.DonorInfo,
		validation.Field(&req.DonorInfo.Name, validation.Length(0, 120)),
		validation.Field(&req.DonorInfo.Email, is.EmailFormat, validation.Length(0, 254)),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDonorInfo, err)
	}
	return currency, nil
}

// CreateIntent validates the request, creates the remote intent, then records the pending payment.
func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.IntentResult, error) {
	currency, err := s.validateIntentRequest(&req)
	if err != nil {
		return nil, err
	}

	campaign, err := s.repo.FindCampaignByID(ctx, req.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return nil, ErrCampaignUnavailable
		}
		return nil, fmt.Errorf("failed to find campaign: %w", err)
	}
	if !campaign.Active {
		return nil, ErrCampaignUnavailable
	}

	metadata := map[string]string{
		"campaign_id":   campaign.ID.String(),
		"campaign_slug": campaign.Slug,
		"donor_name":    req.DonorInfo.DisplayName(),
		"donor_email":   req.DonorInfo.Email,
		"anonymous":     strconv.FormatBool(req.DonorInfo.Anonymous),
		"amount_minor":  strconv.FormatInt(req.AmountMinor, 10),
		"currency":      string(currency),
	}
	if req.DonorID != nil {
		metadata["donor_id"] = req.DonorID.String()
	}

	var providerRef, clientSecret string
	simulated := s.SimulationMode()
	if simulated {
		providerRef = "sim_pi_" + uuid.NewString()
		clientSecret = "sim_secret_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		s.logger.Warn("provider not configured; issuing simulated intent", "campaign_id", campaign.ID, "provider_ref", providerRef)
	} else {
		intent, err := s.provider.CreateIntent(ctx, stripeclient.IntentRequest{
			AmountMinor:    req.AmountMinor,
			Currency:       string(currency),
			Description:    "Donation to " + campaign.Title.EN,
			ReceiptEmail:   req.DonorInfo.Email,
			Metadata:       metadata,
			IdempotencyKey: "intent-" + uuid.NewString(),
		})
		if err != nil {
			intentsCreated.WithLabelValues("provider_error").Inc()
			s.logger.Error("provider intent creation failed", "campaign_id", campaign.ID, "err", err)
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		providerRef = intent.ID
		clientSecret = intent.ClientSecret
	}

	payment := &domain.Payment{
		ID:          uuid.New(),
		ProviderRef: providerRef,
		CampaignID:  campaign.ID,
		DonorID:     req.DonorID,
		AmountMinor: req.AmountMinor,
		Currency:    currency,
		Method:      domain.MethodProviderCard,
		DonorInfo:   req.DonorInfo,
		Simulated:   simulated,
		Metadata:    metadata,
	}
	stored, err := s.persistPending(ctx, payment)
	if err != nil {
		intentsCreated.WithLabelValues("persist_error").Inc()
		return nil, err
	}

	intentsCreated.WithLabelValues(intentMode(simulated)).Inc()
	s.logger.Info("payment intent created", "payment_id", stored.ID, "provider_ref", providerRef, "campaign_id", campaign.ID, "amount_minor", req.AmountMinor, "currency", currency, "simulated", simulated)
	return &domain.IntentResult{
		PaymentID:    stored.ID,
		ClientSecret: clientSecret,
		ProviderRef:  providerRef,
		AmountMinor:  stored.AmountMinor,
		Currency:     stored.Currency,
		Simulated:    simulated,
	}, nil
}

// persistPending retries the idempotent upsert. The remote intent already exists, so a
// final failure is logged loudly and left for the first webhook to recover.
func (s *Service) persistPending(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	var lastErr error
retry:
	for attempt := 1; attempt <= s.attempts; attempt++ {
		stored, _, err := s.repo.UpsertPendingPayment(ctx, payment)
		if err == nil {
			return stored, nil
		}
		lastErr = err
		s.logger.Warn("pending payment upsert failed", "provider_ref", payment.ProviderRef, "attempt", attempt, "err", err)
		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	s.logger.Error("remote intent has no local payment record", "provider_ref", payment.ProviderRef, "campaign_id", payment.CampaignID, "amount_minor", payment.AmountMinor, "alert", true, "err", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, lastErr)
}

func intentMode(simulated bool) string {
	if simulated {
		return "simulation"
	}
	return "provider"
}

// ListCampaigns returns the active campaigns for the public listing.
func (s *Service) ListCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	return s.repo.ListActiveCampaigns(ctx, filter)
}

// GetCampaignDetail returns an active campaign by slug with its recent donations.
func (s *Service) GetCampaignDetail(ctx context.Context, slug string) (*CampaignDetail, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, store.ErrCampaignNotFound
	}
	return s.campaignDetail.Get(ctx, slug)
}

// loadFreshCampaignDetail reloads when a transition invalidated the slug while the
// repository was being read, since the cache would otherwise store the older view
// for a full TTL. An invalidation landing after the last check still can.
func (s *Service) loadFreshCampaignDetail(ctx context.Context, slug string) (*CampaignDetail, error) {
	var (
		detail *CampaignDetail
		err    error
	)
	for i := 0; i < campaignDetailLoads; i++ {
		gen := s.detailGeneration(slug)
		detail, err = s.loadCampaignDetail(ctx, slug)
		if err != nil || s.detailGeneration(slug) == gen {
			return detail, err
		}
	}
	s.logger.Debug("campaign detail kept changing during load", "slug", slug)
	return detail, err
}

func (s *Service) detailGeneration(slug string) uint64 {
	s.detailMu.Lock()
	defer s.detailMu.Unlock()
	return s.detailGen[slug]
}

func (s *Service) loadCampaignDetail(ctx context.Context, slug string) (*CampaignDetail, error) {
	campaign, err := s.repo.FindCampaignBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !campaign.Active {
		return nil, store.ErrCampaignNotFound
	}
	payments, err := s.repo.ListRecentSucceededPayments(ctx, campaign.ID, recentDonationsLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent donations: %w", err)
	}
	recent := make([]domain.DonationSummary, 0, len(payments))
	for _, p := range payments {
		recent = append(recent, domain.DonationSummary{
			Amount:    p.MajorAmount().StringFixed(2),
			Currency:  p.Currency,
			DonorName: p.DonorInfo.DisplayName(),
			Date:      p.CreatedAt,
		})
	}
	return &CampaignDetail{
		Campaign:        *campaign,
		Progress:        campaign.Progress(),
		RecentDonations: recent,
	}, nil
}

func (s *Service) invalidateCampaign(slug string) {
	if slug == "" {
		return
	}
	s.detailMu.Lock()
	s.detailGen[slug]++
	s.detailMu.Unlock()
	s.campaignDetail.Delete(slug)
}

// DonationHistory returns the donor's succeeded and refunded payments, newest first.
func (s *Service) DonationHistory(ctx context.Context, donorID uuid.UUID) ([]domain.DonationHistoryItem, error) {
	return s.repo.ListDonorHistory(ctx, donorID)
}
