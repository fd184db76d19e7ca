package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
	"github.com/shopspring/decimal"
)

func TestReconcilerDetectsAndRepairsDrift(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryRepository()
	campaign := seedWaterWells(t, repo)
	svc := newTestService(t, repo, nil, nil)

	for _, amount := range []int64{2500, 1000} {
		result, err := svc.CreateIntent(ctx, domain.CreateIntentRequest{CampaignID: campaign.ID, AmountMinor: amount})
		if err != nil {
			t.Fatalf("create intent: %v", err)
		}
		svc.Apply(ctx, result.ProviderRef, domain.StatusSucceeded, domain.TransitionDetails{})
	}

	reconciler := NewReconciler(repo, discardLogger())
	report, err := reconciler.Run(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Checked != 1 || len(report.Drifted) != 0 {
		t.Fatalf("expected a clean ledger, got %+v", report)
	}

	if err := repo.OverwriteCampaignAggregates(ctx, campaign.ID, decimal.RequireFromString("99.99"), 7); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	report, err = reconciler.Run(ctx, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Drifted) != 1 || report.Repaired != 0 {
		t.Fatalf("expected drift reported without repair, got %+v", report)
	}
	assertAggregates(t, repo, "water-wells", "99.99", 7)

	report, err = reconciler.Run(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("expected one repaired campaign, got %+v", report)
	}
	assertAggregates(t, repo, "water-wells", "35.00", 2)
}

// lateSuccessRepository lands a success for pendingRef right before the repair write,
// as a webhook racing the reconciliation job would.
type lateSuccessRepository struct {
	store.Repository
	svc        *Service
	pendingRef string
}

func (r *lateSuccessRepository) RepairCampaignAggregates(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, int64, error) {
	if r.pendingRef != "" {
		ref := r.pendingRef
		r.pendingRef = ""
		r.svc.Apply(ctx, ref, domain.StatusSucceeded, domain.TransitionDetails{})
	}
	return r.Repository.RepairCampaignAggregates(ctx, campaignID)
}

func TestReconcilerRepairKeepsConcurrentSuccess(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryRepository()
	campaign := seedWaterWells(t, mem)
	svc := newTestService(t, mem, nil, nil)

	first, err := svc.CreateIntent(ctx, domain.CreateIntentRequest{CampaignID: campaign.ID, AmountMinor: 2500})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	svc.Apply(ctx, first.ProviderRef, domain.StatusSucceeded, domain.TransitionDetails{})
	second, err := svc.CreateIntent(ctx, domain.CreateIntentRequest{CampaignID: campaign.ID, AmountMinor: 1000})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if err := mem.OverwriteCampaignAggregates(ctx, campaign.ID, decimal.RequireFromString("99.99"), 7); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	repo := &lateSuccessRepository{Repository: mem, svc: svc, pendingRef: second.ProviderRef}
	report, err := NewReconciler(repo, discardLogger()).Run(ctx, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Repaired != 1 {
		t.Fatalf("expected one repaired campaign, got %+v", report)
	}
	assertStatus(t, mem, second.ProviderRef, domain.StatusSucceeded)
	assertAggregates(t, mem, "water-wells", "35.00", 2)

	totals, _ := mem.ComputeCampaignTotals(ctx)
	if totals[0].Drifted() {
		t.Fatalf("expected no drift after repair, got %+v", totals[0])
	}
}
