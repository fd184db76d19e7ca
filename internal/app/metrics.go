package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "intents_total",
		Help:      "Payment intent creation attempts by result.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "transitions_total",
		Help:      "Ledger transitions by target status and outcome.",
	}, []string{"target", "outcome"})

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "webhooks_total",
		Help:      "Webhook deliveries by result.",
	}, []string{"result"})

	orphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "orphans_recovered_total",
		Help:      "Payments recreated from webhook metadata.",
	})

	receiptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "receipts_total",
		Help:      "Receipt dispatches by mode and result.",
	}, []string{"mode", "result"})

	campaignDrift = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "donations",
		Name:      "campaign_drift_minor",
		Help:      "Stored minus derived collected amount per campaign, in minor units.",
	}, []string{"campaign"})

	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donations",
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation runs by result.",
	}, []string{"result"})
)
