/**
 * @description
 * This file contains the HTTP handlers for the donation-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the ledger.
 *
 * @dependencies
 * - encoding/json, log/slog, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/noor/donation-service/internal/app"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
)

const (
	maxIntentBodyBytes  = 64 << 10
	maxWebhookBodyBytes = 1 << 20
)

// DonationHandlers holds the services the handlers use.
type DonationHandlers struct {
	service  *app.Service
	webhooks *app.WebhookProcessor
	limiter  app.IntentLimiter
	logger   *slog.Logger
}

// NewDonationHandlers creates a new instance of DonationHandlers. A nil limiter
// disables intent rate limiting.
func NewDonationHandlers(service *app.Service, webhooks *app.WebhookProcessor, limiter app.IntentLimiter, logger *slog.Logger) *DonationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &DonationHandlers{
		service:  service,
		webhooks: webhooks,
		limiter:  limiter,
		logger:   logger.With("component", "api"),
	}
}

type intentResponse struct {
	*domain.IntentResult
	Mode string `json:"mode,omitempty"`
}

type listResponse struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Data    interface{} `json:"data"`
}

type itemResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

// HealthHandler reports liveness and whether intents are simulated.
func (h *DonationHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	mode := "provider"
	if h.service.SimulationMode() {
		mode = "simulation"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "mode": mode})
}

// CreateIntentHandler handles POST /donations/intent.
func (h *DonationHandlers) CreateIntentHandler(w http.ResponseWriter, r *http.Request) {
	if !h.allowIntent(w, r) {
		return
	}

	var req domain.CreateIntentRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntentBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		h.logger.Warn("intent request rejected", "reason", "invalid_json", "err", err)
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON donation intent")
		return
	}
	if donorID, ok := DonorIDFromContext(r.Context()); ok {
		req.DonorID = &donorID
	}

	result, err := h.service.CreateIntent(r.Context(), req)
	if err != nil {
		status, code := intentErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("intent creation failed", "campaign_id", req.CampaignID, "status", status, "err", err)
			writeError(w, status, code, "The donation could not be started, please try again")
			return
		}
		h.logger.Info("intent request rejected", "campaign_id", req.CampaignID, "reason", code, "err", err)
		writeError(w, status, code, err.Error())
		return
	}

	response := intentResponse{IntentResult: result}
	if result.Simulated {
		response.Mode = "simulation"
	}
	writeJSON(w, http.StatusCreated, response)
}

func intentErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, app.ErrUnsupportedCurrency):
		return http.StatusBadRequest, "unsupported_currency"
	case errors.Is(err, app.ErrInvalidDonorInfo):
		return http.StatusBadRequest, "invalid_donor_info"
	case errors.Is(err, app.ErrCampaignUnavailable):
		return http.StatusNotFound, "campaign_unavailable"
	case errors.Is(err, app.ErrProviderUnavailable):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, app.ErrPersistenceFailed):
		return http.StatusServiceUnavailable, "persistence_failed"
	}
	return http.StatusInternalServerError, "internal_error"
}

// allowIntent applies the per-client intent limit. Limiter failures let the request through.
func (h *DonationHandlers) allowIntent(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	ip := clientIP(r)
	decision, err := h.limiter.AllowIntent(r.Context(), ip)
	if err != nil {
		h.logger.Warn("rate limiter unavailable; allowing request", "client_ip", ip, "err", err)
		return true
	}
	if !decision.Allowed {
		h.logger.Info("intent request rejected", "reason", "rate_limited", "client_ip", ip, "attempts", decision.Attempts)
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many donation attempts, please wait and try again")
		return false
	}
	return true
}

// clientIP is the peer address, or the forwarded client when RealIP ran in front.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WebhookHandler passes the raw provider delivery to the webhook processor.
func (h *DonationHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("webhook body unreadable", "err", err)
		writeError(w, http.StatusBadRequest, "invalid_request", "Webhook body could not be read")
		return
	}

	received, status := h.webhooks.Ingest(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if status != http.StatusOK {
		writeError(w, status, "webhook_rejected", http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": received})
}

// ListProjectsHandler handles GET /donations/projects?category=&featured=true.
func (h *DonationHandlers) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.CampaignFilter{
		Category:     strings.ToLower(strings.TrimSpace(query.Get("category"))),
		FeaturedOnly: query.Get("featured") == "true",
	}
	if filter.Category != "" && !slices.Contains(domain.CampaignCategories, filter.Category) {
		writeError(w, http.StatusBadRequest, "invalid_request", "Unknown campaign category")
		return
	}

	campaigns, err := h.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list campaigns", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Unable to load campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(campaigns), Data: campaigns})
}

// GetProjectHandler handles GET /donations/projects/{slug}.
func (h *DonationHandlers) GetProjectHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	detail, err := h.service.GetCampaignDetail(r.Context(), slug)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			writeError(w, http.StatusNotFound, "campaign_unavailable", "Campaign not found")
			return
		}
		h.logger.Error("failed to load campaign", "slug", slug, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Unable to load campaign")
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{Success: true, Data: detail})
}

// HistoryHandler handles GET /donations/history for the authenticated donor.
func (h *DonationHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	donorID, ok := DonorIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "A valid donor token is required")
		return
	}

	items, err := h.service.DonationHistory(r.Context(), donorID)
	if err != nil {
		h.logger.Error("failed to load donation history", "donor_id", donorID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Unable to load donation history")
		return
	}
	if items == nil {
		items = []domain.DonationHistoryItem{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(items), Data: items})
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}
