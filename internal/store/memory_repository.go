package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryRepository is a mutex-guarded Repository used when no database is configured.
// A single lock makes each transition and its aggregate change one atomic step.
type MemoryRepository struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*domain.Campaign
	payments  map[string]*domain.Payment
	now       func() time.Time
}

// NewMemoryRepository creates an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		payments:  make(map[string]*domain.Payment),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) FindCampaignByID(_ context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) FindCampaignBySlug(_ context.Context, slug string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, c := range m.campaigns {
		if c.Slug == slug {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCampaignNotFound
}

func (m *MemoryRepository) ListActiveCampaigns(_ context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	category := strings.TrimSpace(filter.Category)
	out := []domain.Campaign{}
	for _, c := range m.campaigns {
		if !c.Active {
			continue
		}
		if category != "" && c.Category != category {
			continue
		}
		if filter.FeaturedOnly && !c.Featured {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Featured != out[j].Featured {
			return out[i].Featured
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryRepository) UpsertCampaign(_ context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, existing := range m.campaigns {
		if existing.Slug != campaign.Slug {
			continue
		}
		existing.Title = campaign.Title
		existing.Description = campaign.Description
		existing.GoalAmount = campaign.GoalAmount
		existing.Currency = campaign.Currency
		existing.CoverImage = campaign.CoverImage
		existing.Category = campaign.Category
		existing.Active = campaign.Active
		existing.Featured = campaign.Featured
		existing.Deadline = campaign.Deadline
		existing.Beneficiaries = campaign.Beneficiaries
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	stored := *campaign
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CollectedAmount = decimal.Zero
	stored.DonorCount = 0
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.campaigns[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

func (m *MemoryRepository) UpsertPendingPayment(_ context.Context, payment *domain.Payment) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.payments[payment.ProviderRef]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if _, ok := m.campaigns[payment.CampaignID]; !ok {
		return nil, false, fmt.Errorf("insert payment %s: %w", payment.ProviderRef, ErrCampaignNotFound)
	}

	now := m.now()
	stored := *payment
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Method == "" {
		stored.Method = domain.MethodProviderCard
	}
	stored.Status = domain.StatusPending
	stored.Metadata = copyMetadata(payment.Metadata)
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.payments[stored.ProviderRef] = &stored
	cp := stored
	return &cp, true, nil
}

func (m *MemoryRepository) FindPaymentByProviderRef(_ context.Context, providerRef string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[providerRef]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) TransitionPayment(_ context.Context, providerRef string, target domain.PaymentStatus, details domain.TransitionDetails) (*domain.Payment, error) {
	if len(domain.Predecessors(target)) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, target)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[providerRef]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	next, ok := domain.Transition(p.Status, target)
	if !ok {
		cp := *p
		return &cp, ErrTransitionRejected
	}

	campaign, hasCampaign := m.campaigns[p.CampaignID]
	sign, moves := aggregateDelta(target)
	if moves && !hasCampaign {
		return nil, fmt.Errorf("update campaign aggregates for %s: %w", p.CampaignID, ErrCampaignNotFound)
	}

	occurredAt := details.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.now()
	}
	p.Status = next
	switch next {
	case domain.StatusSucceeded:
		p.CompletedAt = &occurredAt
	case domain.StatusRefunded:
		p.RefundedAt = &occurredAt
	case domain.StatusFailed, domain.StatusCanceled:
		if details.ErrorMessage != "" {
			msg := details.ErrorMessage
			p.ErrorMessage = &msg
		}
	}
	if details.ReceiptURL != "" {
		url := details.ReceiptURL
		p.ReceiptURL = &url
	}
	p.UpdatedAt = m.now()

	if moves {
		amount := p.MajorAmount()
		if sign > 0 {
			campaign.CollectedAmount = campaign.CollectedAmount.Add(amount)
			campaign.DonorCount++
		} else {
			campaign.CollectedAmount = decimal.Max(campaign.CollectedAmount.Sub(amount), decimal.Zero)
			if campaign.DonorCount > 0 {
				campaign.DonorCount--
			}
		}
		campaign.UpdatedAt = m.now()
	}

	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) ListRecentSucceededPayments(_ context.Context, campaignID uuid.UUID, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Payment{}
	for _, p := range m.payments {
		if p.CampaignID == campaignID && p.Status == domain.StatusSucceeded {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListDonorHistory(_ context.Context, donorID uuid.UUID) ([]domain.DonationHistoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.DonationHistoryItem{}
	for _, p := range m.payments {
		if p.DonorID == nil || *p.DonorID != donorID {
			continue
		}
		if p.Status != domain.StatusSucceeded && p.Status != domain.StatusRefunded {
			continue
		}
		item := domain.DonationHistoryItem{Payment: *p}
		if c, ok := m.campaigns[p.CampaignID]; ok {
			item.CampaignSlug = c.Slug
			item.CampaignTitle = c.Title
			item.CoverImage = c.CoverImage
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) ComputeCampaignTotals(_ context.Context) ([]domain.CampaignTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCampaign := make(map[uuid.UUID]*domain.CampaignTotals, len(m.campaigns))
	out := make([]*domain.CampaignTotals, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		t := &domain.CampaignTotals{
			CampaignID:    c.ID,
			Slug:          c.Slug,
			StoredAmount:  c.CollectedAmount,
			StoredDonors:  c.DonorCount,
			DerivedAmount: decimal.Zero,
		}
		byCampaign[c.ID] = t
		out = append(out, t)
	}
	for _, p := range m.payments {
		if p.Status != domain.StatusSucceeded {
			continue
		}
		if t, ok := byCampaign[p.CampaignID]; ok {
			t.DerivedAmount = t.DerivedAmount.Add(p.MajorAmount())
			t.DerivedDonors++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	totals := make([]domain.CampaignTotals, len(out))
	for i, t := range out {
		totals[i] = *t
	}
	return totals, nil
}

// RepairCampaignAggregates recomputes the campaign's totals under the store lock.
func (m *MemoryRepository) RepairCampaignAggregates(_ context.Context, campaignID uuid.UUID) (decimal.Decimal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return decimal.Zero, 0, ErrCampaignNotFound
	}
	collected := decimal.Zero
	var donors int64
	for _, p := range m.payments {
		if p.CampaignID == campaignID && p.Status == domain.StatusSucceeded {
			collected = collected.Add(p.MajorAmount())
			donors++
		}
	}
	c.CollectedAmount = collected
	c.DonorCount = donors
	c.UpdatedAt = m.now()
	return collected, donors, nil
}

// OverwriteCampaignAggregates sets a campaign's stored aggregates directly. It exists to
// stage drifted fixtures for local runs and tests; the ledger never calls it.
func (m *MemoryRepository) OverwriteCampaignAggregates(_ context.Context, campaignID uuid.UUID, collected decimal.Decimal, donorCount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return ErrCampaignNotFound
	}
	c.CollectedAmount = collected
	c.DonorCount = donorCount
	c.UpdatedAt = m.now()
	return nil
}

func copyMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
