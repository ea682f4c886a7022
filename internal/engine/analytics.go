package engine

import (
	"context"
	"time"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ExecutionSummary is the derived analytics view of one execution,
// computed from checkpointed counters and post-send engagement events.
type ExecutionSummary struct {
	ExecutionID string                `json:"execution_id"`
	CampaignID  string                `json:"campaign_id"`
	Status      model.ExecutionStatus `json:"status"`
	Duration    time.Duration         `json:"duration"`
	ProgressPct float64               `json:"progress_pct"`

	Counters model.Counters   `json:"counters"`
	Usage    model.UsageStats `json:"usage"`

	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	ResponseRate float64 `json:"response_rate"`

	PersonalizationSuccessRate float64 `json:"personalization_success_rate"`
	CostPerLeadUSD             float64 `json:"cost_per_lead_usd"`
}

// Summarize builds the analytics summary for an execution.
func (e *Engine) Summarize(ctx context.Context, executionID string) (*ExecutionSummary, error) {
	exec, err := e.deps.Store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return summarize(exec), nil
}

func summarize(exec *model.Execution) *ExecutionSummary {
	c := exec.Counters
	s := &ExecutionSummary{
		ExecutionID:                exec.ID,
		CampaignID:                 exec.CampaignID,
		Status:                     exec.Status,
		Duration:                   exec.Duration(),
		ProgressPct:                c.ProgressPct(),
		Counters:                   c,
		Usage:                      exec.Usage,
		DeliveryRate:               pct(c.EmailsDelivered, c.EmailsSent),
		OpenRate:                   pct(c.EmailsOpened, c.EmailsDelivered),
		ClickRate:                  pct(c.EmailsClicked, c.EmailsDelivered),
		ResponseRate:               pct(c.ResponsesReceived, c.EmailsDelivered),
		PersonalizationSuccessRate: c.PersonalizationSuccessRate(),
	}
	if c.AcceptedLeads > 0 {
		s.CostPerLeadUSD = exec.Usage.CostUSD / float64(c.AcceptedLeads)
	}
	return s
}

func pct(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
