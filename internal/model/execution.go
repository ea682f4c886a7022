package model

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionStatus is the lifecycle state of one campaign run.
type ExecutionStatus string

const (
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Active reports whether the execution still occupies the campaign's slot.
// At most one active execution is allowed per campaign.
func (s ExecutionStatus) Active() bool {
	return s == ExecutionStatusQueued || s == ExecutionStatusRunning
}

// Terminal reports whether the status is immutable.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionType records how the run was triggered.
type ExecutionType string

const (
	ExecutionTypeManual    ExecutionType = "manual"
	ExecutionTypeScheduled ExecutionType = "scheduled"
	ExecutionTypeAutomatic ExecutionType = "automatic"
)

// FailureReason labels why an execution reached Failed.
const (
	FailureBudgetExceeded = "BudgetExceeded"
	FailureProviderError  = "ProviderError"
	FailureValidation     = "ValidationError"
)

// Counters holds the per-run statistics checkpointed after every batch.
type Counters struct {
	TargetLeads    int64 `json:"target_leads" db:"target_leads"`
	CandidatesSeen int64 `json:"candidates_seen" db:"candidates_seen"`
	AcceptedLeads  int64 `json:"accepted_leads" db:"accepted_leads"`
	DuplicateLeads int64 `json:"duplicate_leads" db:"duplicate_leads"`
	ProcessedLeads int64 `json:"processed_leads" db:"processed_leads"`
	LeadsFailed    int64 `json:"leads_failed" db:"leads_failed"`

	EmailsSent        int64 `json:"emails_sent" db:"emails_sent"`
	EmailsFailed      int64 `json:"emails_failed" db:"emails_failed"`
	EmailsDelivered   int64 `json:"emails_delivered" db:"emails_delivered"`
	EmailsOpened      int64 `json:"emails_opened" db:"emails_opened"`
	EmailsClicked     int64 `json:"emails_clicked" db:"emails_clicked"`
	ResponsesReceived int64 `json:"responses_received" db:"responses_received"`

	AIRequests int64   `json:"ai_requests" db:"ai_requests"`
	AITokens   int64   `json:"ai_tokens" db:"ai_tokens"`
	AICostUSD  float64 `json:"ai_cost_usd" db:"ai_cost_usd"`

	PersonalizedOK       int64 `json:"personalized_ok" db:"personalized_ok"`
	PersonalizedFallback int64 `json:"personalized_fallback" db:"personalized_fallback"`
}

// ProgressPct returns processed/target as a percentage, capped at 100.
func (c Counters) ProgressPct() float64 {
	if c.TargetLeads <= 0 {
		return 0
	}
	pct := float64(c.ProcessedLeads) / float64(c.TargetLeads) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// PersonalizationSuccessRate returns the fraction of leads whose outreach
// content came from a successful personalization pass, as a percentage.
func (c Counters) PersonalizationSuccessRate() float64 {
	total := c.PersonalizedOK + c.PersonalizedFallback
	if total == 0 {
		return 0
	}
	return float64(c.PersonalizedOK) / float64(total) * 100
}

// UsageStats is the per-execution cost ledger entry.
type UsageStats struct {
	DiscoveryCalls  int64   `json:"discovery_calls" db:"discovery_calls"`
	EnrichmentCalls int64   `json:"enrichment_calls" db:"enrichment_calls"`
	AIRequests      int64   `json:"ai_requests" db:"ai_requests"`
	AITokens        int64   `json:"ai_tokens" db:"ai_tokens"`
	EmailsSent      int64   `json:"emails_sent" db:"emails_sent"`
	CostUSD         float64 `json:"cost_usd" db:"cost_usd"`
}

// Execution is one run of a campaign's pipeline.
type Execution struct {
	ID          string          `json:"id" db:"id"`
	CampaignID  string          `json:"campaign_id" db:"campaign_id"`
	Type        ExecutionType   `json:"type" db:"type"`
	Status      ExecutionStatus `json:"status" db:"status"`
	Counters    Counters        `json:"counters" db:"counters"`
	Usage       UsageStats      `json:"usage" db:"usage"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ErrorDetail string          `json:"error_detail,omitempty" db:"error_detail"`
	Reason      string          `json:"reason,omitempty" db:"reason"`
	Log         string          `json:"log,omitempty" db:"log"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Duration returns the wall-clock run time, or zero if not finished.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// LogEntry formats a single execution log line.
func LogEntry(at time.Time, msg string) string {
	return fmt.Sprintf("[%s] %s\n", at.UTC().Format(time.RFC3339), strings.TrimSpace(msg))
}
