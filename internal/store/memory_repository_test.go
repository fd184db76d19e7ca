package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/shopspring/decimal"
)

func seedCampaign(t *testing.T, repo *MemoryRepository, slug string) *domain.Campaign {
	t.Helper()
	c, err := repo.UpsertCampaign(context.Background(), &domain.Campaign{
		Slug:       slug,
		Title:      domain.LocalizedText{EN: "Water Wells", AR: "آبار المياه"},
		GoalAmount: decimal.NewFromInt(10000),
		Currency:   domain.CurrencyUSD,
		Category:   "water",
		Active:     true,
	})
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func seedPayment(t *testing.T, repo *MemoryRepository, campaignID uuid.UUID, ref string, amount int64) *domain.Payment {
	t.Helper()
	p, created, err := repo.UpsertPendingPayment(context.Background(), &domain.Payment{
		ProviderRef: ref,
		CampaignID:  campaignID,
		AmountMinor: amount,
		Currency:    domain.CurrencyUSD,
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	if !created {
		t.Fatalf("expected payment %s to be created", ref)
	}
	return p
}

func TestMemoryUpsertPendingPaymentIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	first := seedPayment(t, repo, c.ID, "pi_1", 2500)

	second, created, err := repo.UpsertPendingPayment(context.Background(), &domain.Payment{
		ProviderRef: "pi_1",
		CampaignID:  c.ID,
		AmountMinor: 9999,
		Currency:    domain.CurrencyEUR,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("expected existing row to be returned")
	}
	if second.ID != first.ID || second.AmountMinor != 2500 {
		t.Fatalf("expected original payment, got %+v", second)
	}
}

func TestMemoryUpsertPendingPaymentRequiresCampaign(t *testing.T) {
	repo := NewMemoryRepository()
	_, _, err := repo.UpsertPendingPayment(context.Background(), &domain.Payment{
		ProviderRef: "pi_missing",
		CampaignID:  uuid.New(),
		AmountMinor: 100,
	})
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestMemoryTransitionSucceededIncrementsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)

	p, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{ReceiptURL: "https://r/1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != domain.StatusSucceeded || p.CompletedAt == nil {
		t.Fatalf("expected succeeded with completion time, got %+v", p)
	}
	if p.ReceiptURL == nil || *p.ReceiptURL != "https://r/1" {
		t.Fatalf("expected receipt url to be stored")
	}

	_, err = repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{})
	if !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected duplicate to be rejected, got %v", err)
	}

	got, _ := repo.FindCampaignByID(ctx, c.ID)
	if !got.CollectedAmount.Equal(decimal.RequireFromString("25.00")) || got.DonorCount != 1 {
		t.Fatalf("expected 25.00 from 1 donor, got %s from %d", got.CollectedAmount, got.DonorCount)
	}
}

func TestMemoryTransitionRefundReversesSuccess(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)

	if _, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{}); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	p, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusRefunded, domain.TransitionDetails{})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if p.RefundedAt == nil {
		t.Fatalf("expected refunded_at to be set")
	}
	got, _ := repo.FindCampaignByID(ctx, c.ID)
	if !got.CollectedAmount.IsZero() || got.DonorCount != 0 {
		t.Fatalf("expected aggregates back at zero, got %s / %d", got.CollectedAmount, got.DonorCount)
	}
}

func TestMemoryTransitionRejectsIllegalMoves(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)

	if _, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusRefunded, domain.TransitionDetails{}); !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected refund of pending to be rejected, got %v", err)
	}
	if _, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusFailed, domain.TransitionDetails{ErrorMessage: "card declined"}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	p, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{})
	if !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected success after failure to be rejected, got %v", err)
	}
	if p.Status != domain.StatusFailed || p.ErrorMessage == nil || *p.ErrorMessage != "card declined" {
		t.Fatalf("expected unchanged failed payment, got %+v", p)
	}
	if _, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusPending, domain.TransitionDetails{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending target to be invalid, got %v", err)
	}
	if _, err := repo.TransitionPayment(ctx, "pi_unknown", domain.StatusSucceeded, domain.TransitionDetails{}); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestMemoryConcurrentSuccessAppliesOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{}); err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", applied)
	}
	got, _ := repo.FindCampaignByID(ctx, c.ID)
	if got.DonorCount != 1 {
		t.Fatalf("expected donor count 1, got %d", got.DonorCount)
	}
}

func TestMemoryAggregatesMatchDerivedTotals(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")

	for i := 0; i < 6; i++ {
		ref := fmt.Sprintf("pi_%d", i)
		seedPayment(t, repo, c.ID, ref, int64(1000+i*150))
		switch i % 3 {
		case 0:
			repo.TransitionPayment(ctx, ref, domain.StatusSucceeded, domain.TransitionDetails{})
		case 1:
			repo.TransitionPayment(ctx, ref, domain.StatusSucceeded, domain.TransitionDetails{})
			repo.TransitionPayment(ctx, ref, domain.StatusRefunded, domain.TransitionDetails{})
		case 2:
			repo.TransitionPayment(ctx, ref, domain.StatusCanceled, domain.TransitionDetails{})
		}
	}

	totals, err := repo.ComputeCampaignTotals(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected one campaign, got %d", len(totals))
	}
	if totals[0].Drifted() {
		t.Fatalf("expected no drift, got %+v", totals[0])
	}
	if totals[0].DerivedDonors != 2 {
		t.Fatalf("expected 2 succeeded donors, got %d", totals[0].DerivedDonors)
	}
}

func TestMemoryOverwriteCampaignAggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")

	if err := repo.OverwriteCampaignAggregates(ctx, c.ID, decimal.RequireFromString("12.50"), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	totals, _ := repo.ComputeCampaignTotals(ctx)
	if !totals[0].Drifted() {
		t.Fatalf("expected drift after overwrite")
	}
	if err := repo.OverwriteCampaignAggregates(ctx, uuid.New(), decimal.Zero, 0); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestMemoryRepairCampaignAggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)
	seedPayment(t, repo, c.ID, "pi_2", 1000)
	repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{})

	if err := repo.OverwriteCampaignAggregates(ctx, c.ID, decimal.RequireFromString("12.50"), 3); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	collected, donors, err := repo.RepairCampaignAggregates(ctx, c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !collected.Equal(decimal.RequireFromString("25")) || donors != 1 {
		t.Fatalf("expected 25 from 1 donor, got %s from %d", collected, donors)
	}
	totals, _ := repo.ComputeCampaignTotals(ctx)
	if totals[0].Drifted() {
		t.Fatalf("expected no drift after repair, got %+v", totals[0])
	}
	if _, _, err := repo.RepairCampaignAggregates(ctx, uuid.New()); !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
}

func TestMemoryUpsertCampaignKeepsAggregates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	c := seedCampaign(t, repo, "water-wells")
	seedPayment(t, repo, c.ID, "pi_1", 2500)
	repo.TransitionPayment(ctx, "pi_1", domain.StatusSucceeded, domain.TransitionDetails{})

	updated, err := repo.UpsertCampaign(ctx, &domain.Campaign{
		Slug:            "water-wells",
		Title:           domain.LocalizedText{EN: "Clean Water"},
		CollectedAmount: decimal.NewFromInt(999),
		Active:          true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != c.ID || updated.Title.EN != "Clean Water" {
		t.Fatalf("expected same campaign with new title, got %+v", updated)
	}
	if !updated.CollectedAmount.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("expected aggregates untouched, got %s", updated.CollectedAmount)
	}
}

func TestMemoryListingsAndHistory(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	c := seedCampaign(t, repo, "water-wells")
	repo.UpsertCampaign(ctx, &domain.Campaign{Slug: "orphan-care", Category: "orphans", Active: true, Featured: true})
	repo.UpsertCampaign(ctx, &domain.Campaign{Slug: "closed", Category: "water", Active: false})

	listed, _ := repo.ListActiveCampaigns(ctx, domain.CampaignFilter{})
	if len(listed) != 2 || listed[0].Slug != "orphan-care" {
		t.Fatalf("expected featured campaign first among 2 active, got %+v", listed)
	}
	water, _ := repo.ListActiveCampaigns(ctx, domain.CampaignFilter{Category: "water"})
	if len(water) != 1 || water[0].Slug != "water-wells" {
		t.Fatalf("expected only active water campaign, got %+v", water)
	}

	donor := uuid.New()
	for i, ref := range []string{"pi_a", "pi_b", "pi_c"} {
		_, _, err := repo.UpsertPendingPayment(ctx, &domain.Payment{
			ProviderRef: ref,
			CampaignID:  c.ID,
			DonorID:     &donor,
			AmountMinor: int64(500 * (i + 1)),
			Currency:    domain.CurrencyUSD,
		})
		if err != nil {
			t.Fatalf("seed payment: %v", err)
		}
	}
	repo.TransitionPayment(ctx, "pi_a", domain.StatusSucceeded, domain.TransitionDetails{})
	repo.TransitionPayment(ctx, "pi_b", domain.StatusSucceeded, domain.TransitionDetails{})

	recent, _ := repo.ListRecentSucceededPayments(ctx, c.ID, 1)
	if len(recent) != 1 || recent[0].ProviderRef != "pi_b" {
		t.Fatalf("expected newest succeeded payment, got %+v", recent)
	}

	history, _ := repo.ListDonorHistory(ctx, donor)
	if len(history) != 2 {
		t.Fatalf("expected pending payment excluded from history, got %d items", len(history))
	}
	if history[0].CampaignSlug != "water-wells" {
		t.Fatalf("expected campaign join, got %+v", history[0])
	}

	bySlug, err := repo.FindCampaignBySlug(ctx, " Closed ")
	if err != nil || bySlug.Active {
		t.Fatalf("expected inactive campaign by slug, got %+v, %v", bySlug, err)
	}
}
