package model

import "time"

// QualityTier is the discrete classification derived from a lead's score.
type QualityTier string

const (
	TierHot         QualityTier = "hot"
	TierWarm        QualityTier = "warm"
	TierCold        QualityTier = "cold"
	TierUnqualified QualityTier = "unqualified"
)

// LeadStatus is the outreach lifecycle of a lead. Leads are never deleted
// by the engine; the status carries the soft lifecycle.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
)

// PersonalizationMode records how a lead's outreach content was produced.
type PersonalizationMode string

const (
	PersonalizationAI       PersonalizationMode = "ai"
	PersonalizationTemplate PersonalizationMode = "template"
	PersonalizationFallback PersonalizationMode = "fallback"
)

// EnrichmentField is one source-tagged value in a lead's enrichment payload.
type EnrichmentField struct {
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lead is a discovered prospect record.
type Lead struct {
	ID          string `json:"id" db:"id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	ExecutionID string `json:"execution_id" db:"execution_id"`

	Name     string `json:"name" db:"name"`
	Company  string `json:"company" db:"company"`
	Email    string `json:"email,omitempty" db:"email"`
	Phone    string `json:"phone,omitempty" db:"phone"`
	Website  string `json:"website,omitempty" db:"website"`
	Location string `json:"location,omitempty" db:"location"`
	Industry string `json:"industry,omitempty" db:"industry"`

	Rating      float64 `json:"rating,omitempty" db:"rating"`
	ReviewCount int     `json:"review_count,omitempty" db:"review_count"`

	Score   float64     `json:"score" db:"score"`
	Quality QualityTier `json:"quality" db:"quality"`
	Status  LeadStatus  `json:"status" db:"status"`

	// Enrichment is the source-tagged payload merged from capability sources.
	Enrichment map[string]EnrichmentField `json:"enrichment,omitempty" db:"enrichment"`
	// ManualFields names attributes a user has edited by hand; the engine
	// never overwrites these during enrichment merges.
	ManualFields map[string]bool `json:"manual_fields,omitempty" db:"manual_fields"`

	Personalization PersonalizationMode `json:"personalization,omitempty" db:"personalization"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EnrichedValue returns the enrichment value for key, falling back to "".
func (l *Lead) EnrichedValue(key string) string {
	if l.Enrichment == nil {
		return ""
	}
	return l.Enrichment[key].Value
}
