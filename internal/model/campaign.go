package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// CriteriaEditable reports whether targeting criteria may be modified in
// this status. Active campaigns reject criteria edits.
func (s CampaignStatus) CriteriaEditable() bool {
	return s == CampaignStatusDraft || s == CampaignStatusPaused
}

// DedupScope selects how widely duplicate candidates are rejected.
type DedupScope string

const (
	// DedupScopeCampaign rejects duplicates only within the same campaign.
	DedupScopeCampaign DedupScope = "campaign"
	// DedupScopeGlobal rejects duplicates across all campaigns.
	DedupScopeGlobal DedupScope = "global"
)

// TargetingCriteria describes what businesses a campaign is after.
type TargetingCriteria struct {
	BusinessType    string   `json:"business_type,omitempty" db:"business_type"`
	Industry        string   `json:"industry,omitempty" db:"industry"`
	Location        string   `json:"location" db:"location"`
	RadiusKM        int      `json:"radius_km,omitempty" db:"radius_km"`
	Keywords        string   `json:"keywords,omitempty" db:"keywords"`
	MinEmployees    int      `json:"min_employees,omitempty" db:"min_employees"`
	MaxEmployees    int      `json:"max_employees,omitempty" db:"max_employees"`
	MinRating       float64  `json:"min_rating,omitempty" db:"min_rating"`
	MinReviews      int      `json:"min_reviews,omitempty" db:"min_reviews"`
	ExcludedTypes   []string `json:"excluded_types,omitempty" db:"excluded_types"`
	TargetLeadCount int      `json:"target_lead_count" db:"target_lead_count"`
}

// Validate checks the criteria before a search is allowed to start.
// Warnings are advisory; errors block execution.
func (tc TargetingCriteria) Validate() (warnings []string, err error) {
	if tc.Location == "" {
		return nil, eris.New("criteria: location is required")
	}
	if tc.TargetLeadCount <= 0 {
		return nil, eris.New("criteria: target lead count must be greater than 0")
	}
	if tc.RadiusKM < 0 {
		return nil, eris.New("criteria: radius cannot be negative")
	}
	if tc.RadiusKM > 50 {
		warnings = append(warnings, "radius greater than 50km may return limited results")
	}
	if tc.MinEmployees > 0 && tc.MaxEmployees > 0 && tc.MinEmployees > tc.MaxEmployees {
		return nil, eris.New("criteria: minimum employees cannot exceed maximum employees")
	}
	return warnings, nil
}

// CampaignStats accumulates outcomes across all executions of a campaign.
type CampaignStats struct {
	LeadsCreated      int64   `json:"leads_created" db:"leads_created"`
	EmailsSent        int64   `json:"emails_sent" db:"emails_sent"`
	EmailsDelivered   int64   `json:"emails_delivered" db:"emails_delivered"`
	EmailsOpened      int64   `json:"emails_opened" db:"emails_opened"`
	EmailsClicked     int64   `json:"emails_clicked" db:"emails_clicked"`
	ResponsesReceived int64   `json:"responses_received" db:"responses_received"`
}

// ResponseRate returns responses per delivered email as a percentage.
func (cs CampaignStats) ResponseRate() float64 {
	if cs.EmailsDelivered == 0 {
		return 0
	}
	return float64(cs.ResponsesReceived) / float64(cs.EmailsDelivered) * 100
}

// Add accumulates another stats delta into this one.
func (cs *CampaignStats) Add(d CampaignStats) {
	cs.LeadsCreated += d.LeadsCreated
	cs.EmailsSent += d.EmailsSent
	cs.EmailsDelivered += d.EmailsDelivered
	cs.EmailsOpened += d.EmailsOpened
	cs.EmailsClicked += d.EmailsClicked
	cs.ResponsesReceived += d.ResponsesReceived
}

// Campaign is a user-defined lead generation effort.
type Campaign struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	Owner             string            `json:"owner" db:"owner"`
	Status            CampaignStatus    `json:"status" db:"status"`
	Criteria          TargetingCriteria `json:"criteria" db:"criteria"`
	TemplateID        string            `json:"template_id" db:"template_id"`
	ProfileID         string            `json:"profile_id" db:"profile_id"`
	AIPersonalization bool              `json:"ai_personalization" db:"ai_personalization"`
	BudgetUSD         float64           `json:"budget_usd" db:"budget_usd"`
	DedupScope        DedupScope        `json:"dedup_scope" db:"dedup_scope"`
	Stats             CampaignStats     `json:"stats" db:"stats"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// Validate checks that a campaign is runnable.
func (c *Campaign) Validate() error {
	if c.TemplateID == "" {
		return eris.New("campaign: template reference is required")
	}
	if c.ProfileID == "" {
		return eris.New("campaign: company profile reference is required")
	}
	if _, err := c.Criteria.Validate(); err != nil {
		return err
	}
	return nil
}
