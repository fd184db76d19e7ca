package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
)

// ReconcileReport summarizes one recomputation of campaign aggregates.
type ReconcileReport struct {
	Checked  int                     `json:"checked"`
	Drifted  []domain.CampaignTotals `json:"drifted"`
	Repaired int                     `json:"repaired"`
}

// Reconciler recomputes campaign aggregates from the payment history.
type Reconciler struct {
	repo   store.Repository
	logger *slog.Logger
}

func NewReconciler(repo store.Repository, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, logger: logger.With("component", "reconciler")}
}

// Run compares stored and derived aggregates for every campaign. With repair set,
// drifted campaigns are recomputed by the store inside the write, so transitions that
// land after the comparison are kept.
func (r *Reconciler) Run(ctx context.Context, repair bool) (*ReconcileReport, error) {
	totals, err := r.repo.ComputeCampaignTotals(ctx)
	if err != nil {
		reconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("compute campaign totals: %w", err)
	}

	report := &ReconcileReport{Checked: len(totals), Drifted: []domain.CampaignTotals{}}
	for _, t := range totals {
		drift := t.StoredAmount.Sub(t.DerivedAmount).Shift(2).IntPart()
		campaignDrift.WithLabelValues(t.Slug).Set(float64(drift))
		if !t.Drifted() {
			continue
		}
		report.Drifted = append(report.Drifted, t)
		r.logger.Error("campaign aggregates drifted from payment history",
			"campaign_id", t.CampaignID,
			"slug", t.Slug,
			"stored_amount", t.StoredAmount.StringFixed(2),
			"derived_amount", t.DerivedAmount.StringFixed(2),
			"stored_donors", t.StoredDonors,
			"derived_donors", t.DerivedDonors,
			"alert", true,
		)
		if !repair {
			continue
		}
		collected, donors, err := r.repo.RepairCampaignAggregates(ctx, t.CampaignID)
		if err != nil {
			reconcileRuns.WithLabelValues("error").Inc()
			return report, fmt.Errorf("repair campaign %s: %w", t.Slug, err)
		}
		campaignDrift.WithLabelValues(t.Slug).Set(0)
		report.Repaired++
		r.logger.Info("campaign aggregates repaired", "slug", t.Slug, "collected_amount", collected.StringFixed(2), "donor_count", donors)
	}

	reconcileRuns.WithLabelValues("ok").Inc()
	r.logger.Info("reconciliation finished", "checked", report.Checked, "drifted", len(report.Drifted), "repaired", report.Repaired)
	return report, nil
}
