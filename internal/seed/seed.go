// Package seed loads campaign definitions from YAML and writes them to the ledger.
package seed

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gosimple/slug"
	"github.com/noor/donation-service/internal/domain"
	"github.com/noor/donation-service/internal/store"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type File struct {
	Campaigns []CampaignSpec `yaml:"campaigns"`
}

// CampaignSpec is one campaign entry of a seed file. Goal is in major units.
type CampaignSpec struct {
	Slug          string               `yaml:"slug"`
	Title         domain.LocalizedText `yaml:"title"`
	Description   domain.LocalizedText `yaml:"description"`
	Goal          string               `yaml:"goal"`
	Currency      string               `yaml:"currency"`
	CoverImage    string               `yaml:"cover_image"`
	Category      string               `yaml:"category"`
	Active        *bool                `yaml:"active"`
	Featured      bool                 `yaml:"featured"`
	Deadline      string               `yaml:"deadline"`
	Beneficiaries int                  `yaml:"beneficiaries"`
}

func categories() []interface{} {
	out := make([]interface{}, 0, len(domain.CampaignCategories))
	for _, c := range domain.CampaignCategories {
		out = append(out, c)
	}
	return out
}

// Campaign validates the entry and converts it. An empty slug is derived from the English title.
func (s CampaignSpec) Campaign() (*domain.Campaign, error) {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Goal, validation.Required),
		validation.Field(&s.Category, validation.Required, validation.In(categories()...)),
		validation.Field(&s.Title, validation.By(requireEnglishAndArabic)),
		validation.Field(&s.Description, validation.By(requireEnglishAndArabic)),
	)
	if err != nil {
		return nil, err
	}

	raw := s.Slug
	if strings.TrimSpace(raw) == "" {
		raw = s.Title.EN
	}
	normalized := slug.Make(raw)
	if normalized == "" {
		return nil, fmt.Errorf("slug: cannot be derived from %q", raw)
	}

	goal, err := decimal.NewFromString(strings.TrimSpace(s.Goal))
	if err != nil || !goal.IsPositive() {
		return nil, fmt.Errorf("goal: must be a positive amount, got %q", s.Goal)
	}
	currency, ok := domain.ParseCurrency(s.Currency)
	if !ok {
		return nil, fmt.Errorf("currency: %q is not supported", s.Currency)
	}

	campaign := &domain.Campaign{
		Slug:          normalized,
		Title:         s.Title,
		Description:   s.Description,
		GoalAmount:    goal.Round(2),
		Currency:      currency,
		CoverImage:    s.CoverImage,
		Category:      s.Category,
		Active:        s.Active == nil || *s.Active,
		Featured:      s.Featured,
		Beneficiaries: s.Beneficiaries,
	}
	if s.Deadline != "" {
		deadline, err := time.Parse("2006-01-02", s.Deadline)
		if err != nil {
			return nil, fmt.Errorf("deadline: %w", err)
		}
		campaign.Deadline = &deadline
	}
	return campaign, nil
}

func requireEnglishAndArabic(value interface{}) error {
	text, _ := value.(domain.LocalizedText)
	if strings.TrimSpace(text.EN) == "" || strings.TrimSpace(text.AR) == "" {
		return fmt.Errorf("en and ar are required")
	}
	return nil
}

// Load parses and validates a seed file. Slugs must be unique after normalization.
func Load(r io.Reader) ([]domain.Campaign, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(file.Campaigns))
	campaigns := make([]domain.Campaign, 0, len(file.Campaigns))
	for i, entry := range file.Campaigns {
		campaign, err := entry.Campaign()
		if err != nil {
			return nil, fmt.Errorf("campaign %d: %w", i+1, err)
		}
		if seen[campaign.Slug] {
			return nil, fmt.Errorf("campaign %d: duplicate slug %q", i+1, campaign.Slug)
		}
		seen[campaign.Slug] = true
		campaigns = append(campaigns, *campaign)
	}
	return campaigns, nil
}

// Apply upserts every campaign. Existing aggregates are left untouched.
func Apply(ctx context.Context, repo store.Repository, campaigns []domain.Campaign) ([]domain.Campaign, error) {
	stored := make([]domain.Campaign, 0, len(campaigns))
	for i := range campaigns {
		c, err := repo.UpsertCampaign(ctx, &campaigns[i])
		if err != nil {
			return stored, fmt.Errorf("upsert campaign %s: %w", campaigns[i].Slug, err)
		}
		stored = append(stored, *c)
	}
	return stored, nil
}
