// Package engine drives campaign executions: it sequences discovery,
// dedup, enrichment, scoring, personalization, and dispatch in bounded
// batches with checkpointed progress.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/outreach"
	"github.com/sells-group/outreach-engine/internal/personalize"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/usage"
)

// CandidateSource yields discovery candidates batch by batch.
type CandidateSource interface {
	Next(ctx context.Context, n int) ([]discovery.Candidate, error)
	Exhausted() bool
}

// LeadEnricher augments a lead in place.
type LeadEnricher interface {
	Enrich(ctx context.Context, lead *model.Lead) error
}

// LeadScorer computes the composite score and tier for a lead.
type LeadScorer interface {
	Score(lead *model.Lead) (float64, model.QualityTier)
}

// ContentPersonalizer produces the outreach content for a lead.
type ContentPersonalizer interface {
	Personalize(ctx context.Context, lead *model.Lead, tmpl *model.Template, profile *model.CompanyProfile, useAI bool) (*personalize.Content, error)
}

// MessageDispatcher delivers one message, retrying transient failures.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, msg outreach.Message) (string, error)
}

// Deps wires the engine to its collaborators. The factory functions build
// per-execution stage instances bound to that execution's usage ledger.
type Deps struct {
	Store  store.Store
	Rates  usage.Rates
	Scorer LeadScorer

	NewSource       func(q discovery.Query, meter discovery.Meter) CandidateSource
	NewEnricher     func(meter enrich.Meter) LeadEnricher
	NewPersonalizer func(meter personalize.Meter) ContentPersonalizer
	NewDispatcher   func(meter outreach.Meter) MessageDispatcher

	BatchSize        int
	Workers          int
	PageSize         int
	DefaultBudgetUSD float64
	GlobalDedup      bool
}

// Engine starts, stops, and reports on campaign executions. At most one
// execution runs per campaign, enforced by an in-process lease backed by
// the store's single-active constraint.
type Engine struct {
	deps Deps
	log  *zap.Logger

	mu     sync.Mutex
	leases map[string]*runState // campaign ID → active run
	byExec map[string]*runState // execution ID → active run
}

type runState struct {
	campaignID  string
	executionID string
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates an Engine.
func New(deps Deps) *Engine {
	if deps.BatchSize <= 0 {
		deps.BatchSize = 20
	}
	if deps.Workers <= 0 {
		deps.Workers = 8
	}
	if deps.PageSize <= 0 {
		deps.PageSize = deps.BatchSize
	}
	return &Engine{
		deps:   deps,
		log:    zap.L().With(zap.String("component", "engine")),
		leases: make(map[string]*runState),
		byExec: make(map[string]*runState),
	}
}

// Start validates the campaign and launches an execution. It returns the
// execution ID immediately; the pipeline runs in the background until a
// stop condition is reached. A campaign with an execution already queued
// or running yields a ConflictError; bad configuration yields a
// ValidationError.
func (e *Engine) Start(ctx context.Context, campaignID string, execType model.ExecutionType) (string, error) {
	campaign, err := e.deps.Store.GetCampaign(ctx, campaignID)
	if err != nil {
		return "", err
	}
	if campaign.Status == model.CampaignStatusCompleted || campaign.Status == model.CampaignStatusCancelled {
		return "", resilience.NewValidationError(eris.Errorf("campaign %s is %s and cannot be started", campaignID, campaign.Status))
	}
	if err := campaign.Validate(); err != nil {
		return "", resilience.NewValidationError(err)
	}

	tmpl, err := e.deps.Store.GetTemplate(ctx, campaign.TemplateID)
	if err != nil {
		return "", resilience.NewValidationError(err)
	}
	profile, err := e.deps.Store.GetProfile(ctx, campaign.ProfileID)
	if err != nil {
		return "", resilience.NewValidationError(err)
	}

	e.mu.Lock()
	if held, ok := e.leases[campaignID]; ok {
		e.mu.Unlock()
		return "", &resilience.ConflictError{CampaignID: campaignID, ExecutionID: held.executionID}
	}

	exec := &model.Execution{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Type:       execType,
		Status:     model.ExecutionStatusQueued,
		Counters: model.Counters{
			TargetLeads: int64(campaign.Criteria.TargetLeadCount),
		},
	}
	// The store's partial unique index is the cross-process guard; the
	// in-process lease just short-circuits the common case.
	if err := e.deps.Store.CreateExecution(ctx, exec); err != nil {
		e.mu.Unlock()
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rs := &runState{
		campaignID:  campaignID,
		executionID: exec.ID,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	e.leases[campaignID] = rs
	e.byExec[exec.ID] = rs
	e.mu.Unlock()

	if campaign.Status.CriteriaEditable() {
		if err := e.deps.Store.UpdateCampaignStatus(ctx, campaignID, model.CampaignStatusActive); err != nil {
			e.log.Warn("failed to activate campaign", zap.String("campaign_id", campaignID), zap.Error(err))
		}
		campaign.Status = model.CampaignStatusActive
	}

	go func() {
		defer e.release(rs)
		e.run(runCtx, campaign, exec, tmpl, profile)
	}()

	e.log.Info("execution started",
		zap.String("campaign_id", campaignID),
		zap.String("execution_id", exec.ID),
		zap.String("type", string(execType)),
	)
	return exec.ID, nil
}

// Stop requests cooperative cancellation of a running execution. It
// returns true when the request was accepted; in-flight work completes
// before the execution transitions to Cancelled.
func (e *Engine) Stop(ctx context.Context, executionID string) (bool, error) {
	e.mu.Lock()
	rs, ok := e.byExec[executionID]
	e.mu.Unlock()
	if ok {
		rs.cancel()
		e.log.Info("cancellation requested", zap.String("execution_id", executionID))
		return true, nil
	}

	// Not ours: report whether there is anything left to cancel.
	exec, err := e.deps.Store.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}
	if exec.Status.Terminal() {
		return false, nil
	}
	return false, eris.Errorf("execution %s is %s but not controlled by this process", executionID, exec.Status)
}

// Status reports the last checkpointed state of an execution. It never
// waits on in-flight pipeline work.
type Status struct {
	Status      model.ExecutionStatus `json:"status"`
	ProgressPct float64               `json:"progress_pct"`
	Counters    model.Counters        `json:"counters"`
	Usage       model.UsageStats      `json:"usage"`
	Reason      string                `json:"reason,omitempty"`
	ErrorDetail string                `json:"error_detail,omitempty"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// Status returns the checkpointed snapshot of an execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*Status, error) {
	exec, err := e.deps.Store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Status:      exec.Status,
		ProgressPct: exec.Counters.ProgressPct(),
		Counters:    exec.Counters,
		Usage:       exec.Usage,
		Reason:      exec.Reason,
		ErrorDetail: exec.ErrorDetail,
		StartedAt:   exec.StartedAt,
		CompletedAt: exec.CompletedAt,
	}, nil
}

// Wait blocks until the execution's run loop has drained, for tests and
// for graceful shutdown.
func (e *Engine) Wait(executionID string) {
	e.mu.Lock()
	rs, ok := e.byExec[executionID]
	e.mu.Unlock()
	if ok {
		<-rs.done
	}
}

func (e *Engine) release(rs *runState) {
	e.mu.Lock()
	delete(e.leases, rs.campaignID)
	delete(e.byExec, rs.executionID)
	e.mu.Unlock()
	close(rs.done)
}
