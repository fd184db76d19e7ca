/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the campaign and payment tables, including the guarded
 * status update that backs webhook idempotency and the store-level aggregate
 * increment/decrement that keeps campaign totals free of lost updates.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/noor/donation-service/internal/domain"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

const paymentColumns = `
	id, provider_ref, campaign_id, donor_id, amount_minor, currency, method, status,
	donor_name, donor_email, donor_anonymous, receipt_url, error_message, simulated,
	metadata, completed_at, refunded_at, created_at, updated_at`

const campaignColumns = `
	id, slug, title, description, goal_amount, collected_amount, donor_count, currency,
	cover_image, category, active, featured, deadline, beneficiaries, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the ledger tables and indexes if they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// FindCampaignByID retrieves a campaign by its ID.
func (r *PostgresRepository) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM donation_campaigns WHERE id = $1`
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// FindCampaignBySlug retrieves a campaign by its slug, regardless of its active flag.
func (r *PostgresRepository) FindCampaignBySlug(ctx context.Context, slug string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM donation_campaigns WHERE slug = lower(btrim($1))`
	campaign, err := scanCampaign(r.db.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}
	return campaign, nil
}

// ListActiveCampaigns lists active campaigns, featured first and newest first.
func (r *PostgresRepository) ListActiveCampaigns(ctx context.Context, filter domain.CampaignFilter) ([]domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM donation_campaigns
		WHERE active = TRUE
		  AND ($1 = '' OR category = $1)
		  AND (NOT $2 OR featured = TRUE)
		ORDER BY featured DESC, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, strings.TrimSpace(filter.Category), filter.FeaturedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []domain.Campaign{}
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *campaign)
	}
	return campaigns, rows.Err()
}

// UpsertCampaign inserts a campaign or refreshes the descriptive fields of an existing one.
func (r *PostgresRepository) UpsertCampaign(ctx context.Context, campaign *domain.Campaign) (*domain.Campaign, error) {
	title, err := json.Marshal(campaign.Title)
	if err != nil {
		return nil, fmt.Errorf("encode title: %w", err)
	}
	description, err := json.Marshal(campaign.Description)
	if err != nil {
		return nil, fmt.Errorf("encode description: %w", err)
	}
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}

	query := `
		INSERT INTO donation_campaigns (
			id, slug, title, description, goal_amount, currency, cover_image,
			category, active, featured, deadline, beneficiaries
		)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			goal_amount = EXCLUDED.goal_amount,
			currency = EXCLUDED.currency,
			cover_image = EXCLUDED.cover_image,
			category = EXCLUDED.category,
			active = EXCLUDED.active,
			featured = EXCLUDED.featured,
			deadline = EXCLUDED.deadline,
			beneficiaries = EXCLUDED.beneficiaries,
			updated_at = NOW()
		RETURNING ` + campaignColumns
	return scanCampaign(r.db.QueryRow(ctx, query,
		campaign.ID,
		campaign.Slug,
		string(title),
		string(description),
		campaign.GoalAmount.StringFixed(2),
		string(campaign.Currency),
		campaign.CoverImage,
		campaign.Category,
		campaign.Active,
		campaign.Featured,
		campaign.Deadline,
		campaign.Beneficiaries,
	))
}

// UpsertPendingPayment inserts a pending payment keyed by provider ref.
func (r *PostgresRepository) UpsertPendingPayment(ctx context.Context, payment *domain.Payment) (*domain.Payment, bool, error) {
	metadata, err := json.Marshal(payment.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("encode metadata: %w", err)
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	method := payment.Method
	if method == "" {
		method = domain.MethodProviderCard
	}

	query := `
		INSERT INTO donation_payments (
			id, provider_ref, campaign_id, donor_id, amount_minor, currency, method, status,
			donor_name, donor_email, donor_anonymous, simulated, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, $10, $11, $12::jsonb)
		ON CONFLICT (provider_ref) DO NOTHING
		RETURNING ` + paymentColumns
	stored, err := scanPayment(r.db.QueryRow(ctx, query,
		payment.ID,
		payment.ProviderRef,
		payment.CampaignID,
		payment.DonorID,
		payment.AmountMinor,
		string(payment.Currency),
		string(method),
		payment.DonorInfo.Name,
		payment.DonorInfo.Email,
		payment.DonorInfo.Anonymous,
		payment.Simulated,
		string(metadata),
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, false, fmt.Errorf("insert payment %s: %w", payment.ProviderRef, ErrCampaignNotFound)
		}
		return nil, false, err
	}

	existing, err := r.FindPaymentByProviderRef(ctx, payment.ProviderRef)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindPaymentByProviderRef retrieves a payment using the provider's intent identifier.
func (r *PostgresRepository) FindPaymentByProviderRef(ctx context.Context, providerRef string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM donation_payments WHERE provider_ref = $1`
	payment, err := scanPayment(r.db.QueryRow(ctx, query, providerRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// TransitionPayment performs the guarded status write and the campaign aggregate change
// in one database transaction.
func (r *PostgresRepository) TransitionPayment(ctx context.Context, providerRef string, target domain.PaymentStatus, details domain.TransitionDetails) (*domain.Payment, error) {
	from := domain.Predecessors(target)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransition, target)
	}
	allowed := make([]string, len(from))
	for i, status := range from {
		allowed[i] = string(status)
	}
	occurredAt := details.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The WHERE clause is the idempotency guard: duplicate or stale events match zero rows.
	updateQuery := `
		UPDATE donation_payments
		SET status = $2::text,
			completed_at = CASE WHEN $2::text = 'succeeded' THEN $3::timestamptz ELSE completed_at END,
			refunded_at = CASE WHEN $2::text = 'refunded' THEN $3::timestamptz ELSE refunded_at END,
			receipt_url = COALESCE(NULLIF($4::text, ''), receipt_url),
			error_message = CASE WHEN $2::text IN ('failed', 'canceled') THEN COALESCE(NULLIF($5::text, ''), error_message) ELSE error_message END,
			updated_at = NOW()
		WHERE provider_ref = $1 AND status = ANY($6::text[])
		RETURNING ` + paymentColumns
	payment, err := scanPayment(tx.QueryRow(ctx, updateQuery,
		providerRef,
		string(target),
		occurredAt,
		details.ReceiptURL,
		details.ErrorMessage,
		allowed,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("guarded status update: %w", err)
		}
		current, findErr := r.FindPaymentByProviderRef(ctx, providerRef)
		if findErr != nil {
			return nil, findErr
		}
		return current, ErrTransitionRejected
	}

	if sign, ok := aggregateDelta(target); ok {
		var aggregateQuery string
		if sign > 0 {
			aggregateQuery = `
				UPDATE donation_campaigns
				SET collected_amount = collected_amount + ($2::bigint)::numeric / 100,
					donor_count = donor_count + 1,
					updated_at = NOW()
				WHERE id = $1`
		} else {
			aggregateQuery = `
				UPDATE donation_campaigns
				SET collected_amount = GREATEST(collected_amount - ($2::bigint)::numeric / 100, 0),
					donor_count = GREATEST(donor_count - 1, 0),
					updated_at = NOW()
				WHERE id = $1`
		}
		tag, err := tx.Exec(ctx, aggregateQuery, payment.CampaignID, payment.AmountMinor)
		if err != nil {
			return nil, fmt.Errorf("update campaign aggregates: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("update campaign aggregates for %s: %w", payment.CampaignID, ErrCampaignNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return payment, nil
}

// ListRecentSucceededPayments returns the newest succeeded payments for a campaign.
func (r *PostgresRepository) ListRecentSucceededPayments(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM donation_payments
		WHERE campaign_id = $1 AND status = 'succeeded'
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// ListDonorHistory returns a donor's succeeded and refunded payments with their campaigns.
func (r *PostgresRepository) ListDonorHistory(ctx context.Context, donorID uuid.UUID) ([]domain.DonationHistoryItem, error) {
	query := `
		SELECT p.id, p.provider_ref, p.campaign_id, p.donor_id, p.amount_minor, p.currency, p.method, p.status,
			p.donor_name, p.donor_email, p.donor_anonymous, p.receipt_url, p.error_message, p.simulated,
			p.metadata, p.completed_at, p.refunded_at, p.created_at, p.updated_at,
			c.slug, c.title, c.cover_image
		FROM donation_payments p
		JOIN donation_campaigns c ON c.id = p.campaign_id
		WHERE p.donor_id = $1 AND p.status IN ('succeeded', 'refunded')
		ORDER BY p.created_at DESC
	`
	rows, err := r.db.Query(ctx, query, donorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.DonationHistoryItem{}
	for rows.Next() {
		var item domain.DonationHistoryItem
		var raw paymentRow
		var rawTitle []byte
		dest := append(raw.targets(), &item.CampaignSlug, &rawTitle, &item.CoverImage)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		payment, err := raw.finish()
		if err != nil {
			return nil, err
		}
		item.Payment = payment
		if err := json.Unmarshal(rawTitle, &item.CampaignTitle); err != nil {
			return nil, fmt.Errorf("decode campaign title: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ComputeCampaignTotals recomputes every campaign's aggregates from its succeeded payments.
func (r *PostgresRepository) ComputeCampaignTotals(ctx context.Context) ([]domain.CampaignTotals, error) {
	query := `
		SELECT c.id, c.slug, c.collected_amount, c.donor_count,
			COALESCE(SUM(p.amount_minor) FILTER (WHERE p.status = 'succeeded'), 0),
			COUNT(p.id) FILTER (WHERE p.status = 'succeeded')
		FROM donation_campaigns c
		LEFT JOIN donation_payments p ON p.campaign_id = c.id
		GROUP BY c.id, c.slug, c.collected_amount, c.donor_count
		ORDER BY c.slug
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []domain.CampaignTotals{}
	for rows.Next() {
		var t domain.CampaignTotals
		var derivedMinor int64
		if err := rows.Scan(&t.CampaignID, &t.Slug, &t.StoredAmount, &t.StoredDonors, &derivedMinor, &t.DerivedDonors); err != nil {
			return nil, err
		}
		t.DerivedAmount = domain.MinorToMajor(derivedMinor)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// RepairCampaignAggregates locks the campaign row, then recomputes and stores its totals.
// A transition that commits before the lock is granted is counted by the sum; one that
// commits later applies its own increment on top of the repaired value.
func (r *PostgresRepository) RepairCampaignAggregates(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM donation_campaigns WHERE id = $1 FOR UPDATE`, campaignID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, 0, ErrCampaignNotFound
		}
		return decimal.Zero, 0, err
	}

	query := `
		UPDATE donation_campaigns
		SET collected_amount = d.collected, donor_count = d.donors, updated_at = NOW()
		FROM (
			SELECT COALESCE(SUM(amount_minor), 0)::numeric / 100 AS collected, COUNT(*) AS donors
			FROM donation_payments
			WHERE campaign_id = $1 AND status = 'succeeded'
		) d
		WHERE id = $1
		RETURNING collected_amount, donor_count
	`
	var collected decimal.Decimal
	var donors int64
	if err := tx.QueryRow(ctx, query, campaignID).Scan(&collected, &donors); err != nil {
		return decimal.Zero, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, 0, err
	}
	return collected, donors, nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	var rawTitle, rawDescription []byte
	var currency string
	err := row.Scan(
		&c.ID,
		&c.Slug,
		&rawTitle,
		&rawDescription,
		&c.GoalAmount,
		&c.CollectedAmount,
		&c.DonorCount,
		&currency,
		&c.CoverImage,
		&c.Category,
		&c.Active,
		&c.Featured,
		&c.Deadline,
		&c.Beneficiaries,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Currency = domain.Currency(currency)
	if err := json.Unmarshal(rawTitle, &c.Title); err != nil {
		return nil, fmt.Errorf("decode campaign title: %w", err)
	}
	if err := json.Unmarshal(rawDescription, &c.Description); err != nil {
		return nil, fmt.Errorf("decode campaign description: %w", err)
	}
	return &c, nil
}

// paymentRow holds the columns that need conversion after Scan.
type paymentRow struct {
	payment  domain.Payment
	currency string
	method   string
	status   string
	metadata []byte
}

func (r *paymentRow) targets() []any {
	p := &r.payment
	return []any{
		&p.ID,
		&p.ProviderRef,
		&p.CampaignID,
		&p.DonorID,
		&p.AmountMinor,
		&r.currency,
		&r.method,
		&r.status,
		&p.DonorInfo.Name,
		&p.DonorInfo.Email,
		&p.DonorInfo.Anonymous,
		&p.ReceiptURL,
		&p.ErrorMessage,
		&p.Simulated,
		&r.metadata,
		&p.CompletedAt,
		&p.RefundedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
}

func (r *paymentRow) finish() (domain.Payment, error) {
	p := r.payment
	p.Currency = domain.Currency(r.currency)
	p.Method = domain.PaymentMethod(r.method)
	p.Status = domain.PaymentStatus(r.status)
	if len(r.metadata) > 0 {
		if err := json.Unmarshal(r.metadata, &p.Metadata); err != nil {
			return p, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var raw paymentRow
	if err := row.Scan(raw.targets()...); err != nil {
		return nil, err
	}
	p, err := raw.finish()
	if err != nil {
		return nil, err
	}
	return &p, nil
}
