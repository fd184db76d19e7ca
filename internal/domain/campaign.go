package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocalizedText holds a string in each supported locale.
type LocalizedText struct {
	EN string `json:"en" yaml:"en"`
	AR string `json:"ar" yaml:"ar"`
	UR string `json:"ur,omitempty" yaml:"ur"`
	FR string `json:"fr,omitempty" yaml:"fr"`
}

// CampaignCategories are the categories a campaign may be filed under.
var CampaignCategories = []string{"emergency", "education", "healthcare", "water", "food", "orphans", "masjid", "general"}

// Campaign is a named fundraising target. CollectedAmount and DonorCount are derived
// from the payment history and only change through ledger transitions or reconciliation.
type Campaign struct {
	ID              uuid.UUID       `json:"id"`
	Slug            string          `json:"slug"`
	Title           LocalizedText   `json:"title"`
	Description     LocalizedText   `json:"description"`
	GoalAmount      decimal.Decimal `json:"goalAmount"`
	CollectedAmount decimal.Decimal `json:"collectedAmount"`
	DonorCount      int64           `json:"donorCount"`
	Currency        Currency        `json:"currency"`
	CoverImage      string          `json:"coverImage"`
	Category        string          `json:"category"`
	Active          bool            `json:"active"`
	Featured        bool            `json:"featured"`
	Deadline        *time.Time      `json:"deadline,omitempty"`
	Beneficiaries   int             `json:"beneficiaries"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Progress is the percentage of the goal reached, capped at 100.
func (c Campaign) Progress() int64 {
	if c.GoalAmount.IsZero() {
		return 0
	}
	pct := c.CollectedAmount.Div(c.GoalAmount).Mul(decimal.NewFromInt(100)).Round(0)
	if pct.GreaterThan(decimal.NewFromInt(100)) {
		return 100
	}
	return pct.IntPart()
}

// CampaignFilter narrows the public campaign listing.
type CampaignFilter struct {
	Category     string
	FeaturedOnly bool
}

// CampaignTotals is a recomputation of a campaign's aggregates from its payments.
type CampaignTotals struct {
	CampaignID    uuid.UUID
	Slug          string
	StoredAmount  decimal.Decimal
	StoredDonors  int64
	DerivedAmount decimal.Decimal
	DerivedDonors int64
}

// Drifted reports whether the stored aggregates diverge from the derived ones.
func (t CampaignTotals) Drifted() bool {
	return !t.StoredAmount.Equal(t.DerivedAmount) || t.StoredDonors != t.DerivedDonors
}
