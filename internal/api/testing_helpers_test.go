package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/noor/donation-service/internal/app"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
	"github.com/shopspring/decimal"
)

const testJWTSecret = "test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubVerifier struct{}

func (stubVerifier) VerifyEvent(payload []byte, signature string) (*domain.ProviderEvent, error) {
	if signature != "valid" {
		return nil, errors.New("signature mismatch")
	}
	var event domain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

type stubLimiter struct {
	decision app.LimitDecision
	err      error
	clients  []string
}

func (l *stubLimiter) AllowIntent(_ context.Context, clientIP string) (app.LimitDecision, error) {
	l.clients = append(l.clients, clientIP)
	return l.decision, l.err
}

type testServer struct {
	handler http.Handler
	service *app.Service
	repo    *store.MemoryRepository
}

func newTestServer(t *testing.T, limiter app.IntentLimiter) *testServer {
	t.Helper()
	return newTestServerWithOptions(t, limiter, RouterOptions{AllowedOrigins: []string{"*"}})
}

func newTestServerWithOptions(t *testing.T, limiter app.IntentLimiter, opts RouterOptions) *testServer {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := discardLogger()
	svc, err := app.NewService(repo, nil, nil, nil, logger, app.Options{PersistBackoff: 1})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	webhooks := app.NewWebhookProcessor(stubVerifier{}, svc, logger)
	handlers := NewDonationHandlers(svc, webhooks, limiter, logger)
	auth := NewAuthenticator(testJWTSecret, logger)
	return &testServer{
		handler: DonationRoutes(handlers, auth, opts, logger),
		service: svc,
		repo:    repo,
	}
}

func (s *testServer) seed(t *testing.T, campaign domain.Campaign) *domain.Campaign {
	t.Helper()
	if campaign.GoalAmount.IsZero() {
		campaign.GoalAmount = decimal.NewFromInt(5000)
	}
	if campaign.Currency == "" {
		campaign.Currency = domain.CurrencyUSD
	}
	stored, err := s.repo.UpsertCampaign(context.Background(), &campaign)
	if err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return stored
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}
