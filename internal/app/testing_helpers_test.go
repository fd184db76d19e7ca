package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
	"github.com/noor/donation-service/pkg/stripeclient"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	calls  int
	last   stripeclient.IntentRequest
	intent *stripeclient.Intent
	err    error
}

func (p *stubProvider) CreateIntent(_ context.Context, req stripeclient.IntentRequest) (*stripeclient.Intent, error) {
	p.calls++
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return p.intent, nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	receipts []domain.Receipt
}

func (d *recordingDispatcher) SendReceipt(receipt domain.Receipt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receipts = append(d.receipts, receipt)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.receipts)
}

// flakyRepository fails the first failUpserts pending upserts.
type flakyRepository struct {
	store.Repository
	failUpserts int
	upserts     int
}

func (r *flakyRepository) UpsertPendingPayment(ctx context.Context, payment *domain.Payment) (*domain.Payment, bool, error) {
	r.upserts++
	if r.upserts <= r.failUpserts {
		return nil, false, errors.New("connection reset by peer")
	}
	return r.Repository.UpsertPendingPayment(ctx, payment)
}

// brokenTransitions fails every transition with an infrastructure error.
type brokenTransitions struct {
	store.Repository
}

func (r *brokenTransitions) TransitionPayment(context.Context, string, domain.PaymentStatus, domain.TransitionDetails) (*domain.Payment, error) {
	return nil, errors.New("database is unavailable")
}

// stubVerifier accepts deliveries signed "valid" whose body is a JSON ProviderEvent.
type stubVerifier struct{}

func (stubVerifier) VerifyEvent(payload []byte, signature string) (*domain.ProviderEvent, error) {
	if signature != "valid" {
		return nil, stripeclient.ErrInvalidSignature
	}
	var event domain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func seedWaterWells(t *testing.T, repo store.Repository) *domain.Campaign {
	t.Helper()
	c, err := repo.UpsertCampaign(context.Background(), &domain.Campaign{
		Slug:        "water-wells",
		Title:       domain.LocalizedText{EN: "Water Wells", AR: "آبار المياه"},
		Description: domain.LocalizedText{EN: "Dig wells", AR: "حفر الآبار"},
		GoalAmount:  decimal.NewFromInt(5000),
		Currency:    domain.CurrencyUSD,
		Category:    "water",
		Active:      true,
	})
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return c
}

func newTestService(t *testing.T, repo store.Repository, provider IntentProvider, receipts ReceiptDispatcher) *Service {
	t.Helper()
	svc, err := NewService(repo, provider, receipts, nil, discardLogger(), Options{PersistBackoff: 1})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
