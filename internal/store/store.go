// Package store persists campaigns, executions, leads, and dedup keys.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ErrNotFound is wrapped by every lookup that matches no record, so callers
// can distinguish missing records from infrastructure failures.
var ErrNotFound = eris.New("not found")

// CampaignFilter specifies criteria for listing campaigns.
type CampaignFilter struct {
	Status model.CampaignStatus `json:"status,omitempty"`
	Owner  string               `json:"owner,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CampaignID  string            `json:"campaign_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Quality     model.QualityTier `json:"quality,omitempty"`
	Status      model.LeadStatus  `json:"status,omitempty"`
	MinScore    float64           `json:"min_score,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// EngagementKind labels an asynchronous delivery event applied to an
// execution's counters.
type EngagementKind string

const (
	EngagementDelivered EngagementKind = "delivered"
	EngagementOpened    EngagementKind = "opened"
	EngagementClicked   EngagementKind = "clicked"
	EngagementResponse  EngagementKind = "response"
)

// Store defines the persistence interface for the campaign engine.
//
// Execution counters are checkpointed as a blob by the orchestrator, except
// the four engagement counters (delivered/opened/clicked/responses), which
// are dedicated columns incremented by the event consumer — engagement
// events arrive after the run loop has moved on, or after the execution has
// finished entirely. Reads overlay the columns onto the blob.
type Store interface {
	// Campaigns
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error
	UpdateCampaignCriteria(ctx context.Context, id string, criteria model.TargetingCriteria) error
	AddCampaignStats(ctx context.Context, id string, delta model.CampaignStats) error

	// Executions. CreateExecution fails with a conflict when the campaign
	// already has a queued or running execution.
	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ActiveExecution(ctx context.Context, campaignID string) (*model.Execution, error)
	ListExecutions(ctx context.Context, campaignID string, limit int) ([]model.Execution, error)
	StartExecution(ctx context.Context, id string, at time.Time) error
	CheckpointExecution(ctx context.Context, id string, counters model.Counters, usage model.UsageStats) error
	FinishExecution(ctx context.Context, id string, status model.ExecutionStatus, reason, errDetail string, at time.Time) error
	AppendExecutionLog(ctx context.Context, id string, entry string) error
	IncrementEngagement(ctx context.Context, executionID string, kind EngagementKind) error

	// Leads
	InsertLeads(ctx context.Context, leads []model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, l *model.Lead) error
	UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error

	// Dedup keys (satisfies dedup.KeyStore)
	InsertDedupKey(ctx context.Context, campaignID, key string) (bool, error)
	HasDedupKey(ctx context.Context, key, excludeCampaignID string) (bool, error)

	// Templates and profiles
	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	RecordTemplateUsage(ctx context.Context, id string, sent int64, at time.Time) error
	RecordTemplateResponse(ctx context.Context, id string) error
	CreateProfile(ctx context.Context, p *model.CompanyProfile) error
	GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
