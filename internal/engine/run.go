package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-engine/internal/dedup"
	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/outreach"
	"github.com/sells-group/outreach-engine/internal/scoring"
	"github.com/sells-group/outreach-engine/internal/usage"
)

// runCounters is the shared per-execution tally. Workers update it with
// atomics; the batch loop snapshots it for checkpoints.
type runCounters struct {
	target int64

	candidatesSeen atomic.Int64
	accepted       atomic.Int64
	duplicates     atomic.Int64
	processed      atomic.Int64
	failed         atomic.Int64

	emailsSent   atomic.Int64
	emailsFailed atomic.Int64

	aiRequests  atomic.Int64
	aiTokens    atomic.Int64
	aiCostMicro atomic.Int64 // micro-dollars, so it fits an integer atomic

	personalizedOK       atomic.Int64
	personalizedFallback atomic.Int64
}

func (c *runCounters) snapshot() model.Counters {
	return model.Counters{
		TargetLeads:          c.target,
		CandidatesSeen:       c.candidatesSeen.Load(),
		AcceptedLeads:        c.accepted.Load(),
		DuplicateLeads:       c.duplicates.Load(),
		ProcessedLeads:       c.processed.Load(),
		LeadsFailed:          c.failed.Load(),
		EmailsSent:           c.emailsSent.Load(),
		EmailsFailed:         c.emailsFailed.Load(),
		AIRequests:           c.aiRequests.Load(),
		AITokens:             c.aiTokens.Load(),
		AICostUSD:            float64(c.aiCostMicro.Load()) / 1e6,
		PersonalizedOK:       c.personalizedOK.Load(),
		PersonalizedFallback: c.personalizedFallback.Load(),
	}
}

// aiMeter feeds AI token usage into both the budget ledger and the
// execution counters.
type aiMeter struct {
	ledger *usage.Ledger
	c      *runCounters
	rates  usage.Rates
}

func (m *aiMeter) RecordAI(in, out int64) {
	m.ledger.RecordAI(in, out)
	m.c.aiRequests.Add(1)
	m.c.aiTokens.Add(in + out)
	m.c.aiCostMicro.Add(int64(m.rates.AICost(in, out) * 1e6))
}

// run drives one execution through repeated discover→dedup→process batches
// until a stop condition is reached. ctx is cancelled by Stop; in-flight
// batch work drains before the execution transitions to Cancelled.
func (e *Engine) run(ctx context.Context, campaign *model.Campaign, exec *model.Execution, tmpl *model.Template, profile *model.CompanyProfile) {
	// Store writes must survive cooperative cancellation: the final
	// checkpoint and status transition happen after ctx is already done.
	storeCtx := context.WithoutCancel(ctx)

	log := e.log.With(
		zap.String("campaign_id", campaign.ID),
		zap.String("execution_id", exec.ID),
	)
	note := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Info(msg)
		if err := e.deps.Store.AppendExecutionLog(storeCtx, exec.ID, model.LogEntry(time.Now(), msg)); err != nil {
			log.Warn("failed to append execution log", zap.Error(err))
		}
	}

	budget := campaign.BudgetUSD
	if budget <= 0 {
		budget = e.deps.DefaultBudgetUSD
	}
	global := e.deps.GlobalDedup
	if campaign.DedupScope != "" {
		global = campaign.DedupScope == model.DedupScopeGlobal
	}

	counters := &runCounters{target: int64(campaign.Criteria.TargetLeadCount)}
	ledger := usage.NewLedger(e.deps.Rates, budget)
	source := e.deps.NewSource(discovery.QueryFromCriteria(campaign.Criteria, e.deps.PageSize), ledger)
	enricher := e.deps.NewEnricher(ledger)
	personalizer := e.deps.NewPersonalizer(&aiMeter{ledger: ledger, c: counters, rates: e.deps.Rates})
	dispatcher := e.deps.NewDispatcher(ledger)
	index := dedup.NewIndex(e.deps.Store, campaign.ID, global)

	if err := e.deps.Store.StartExecution(storeCtx, exec.ID, time.Now()); err != nil {
		log.Error("failed to mark execution running", zap.Error(err))
		e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
			model.ExecutionStatusFailed, model.FailureProviderError, err.Error(), note)
		return
	}
	note("execution started: target %d leads, budget $%.2f, batch size %d, %d workers",
		counters.target, budget, e.deps.BatchSize, e.deps.Workers)

	batch := 0
	for {
		if ctx.Err() != nil {
			note("cancellation requested, stopping after %d processed leads", counters.processed.Load())
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusCancelled, "", "", note)
			return
		}

		remaining := counters.target - counters.processed.Load()
		if remaining <= 0 {
			note("target reached: %d leads processed", counters.processed.Load())
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusCompleted, "", "", note)
			return
		}
		if source.Exhausted() {
			note("discovery exhausted at %d of %d leads", counters.processed.Load(), counters.target)
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusCompleted, "", "", note)
			return
		}

		want := min(int(remaining), e.deps.BatchSize)
		if projected := ledger.ProjectBatch(want); ledger.WouldExceed(projected) {
			note("budget exhausted: spent $%.4f of $%.2f, next batch projected $%.4f",
				ledger.CostUSD(), budget, projected)
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusFailed, model.FailureBudgetExceeded,
				fmt.Sprintf("projected batch cost $%.4f would exceed budget $%.2f", projected, budget), note)
			return
		}

		candidates, err := source.Next(ctx, want)
		if err != nil {
			if ctx.Err() != nil {
				note("cancellation requested during discovery")
				e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
					model.ExecutionStatusCancelled, "", "", note)
				return
			}
			note("discovery failed: %v", err)
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusFailed, model.FailureProviderError, err.Error(), note)
			return
		}
		if len(candidates) == 0 {
			note("discovery exhausted at %d of %d leads", counters.processed.Load(), counters.target)
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusCompleted, "", "", note)
			return
		}
		counters.candidatesSeen.Add(int64(len(candidates)))

		leads, err := e.acceptBatch(storeCtx, index, counters, campaign.ID, exec.ID, candidates)
		if err != nil {
			note("dedup lookup failed: %v", err)
			e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
				model.ExecutionStatusFailed, model.FailureProviderError, err.Error(), note)
			return
		}

		// In-flight leads run to completion even when Stop fires mid-batch;
		// the cancel check at the top of the loop is the only exit.
		workCtx := context.WithoutCancel(ctx)
		var g errgroup.Group
		g.SetLimit(e.deps.Workers)
		for i := range leads {
			lead := &leads[i]
			g.Go(func() error {
				e.processLead(workCtx, lead, campaign, tmpl, profile, enricher, personalizer, dispatcher, counters)
				return nil
			})
		}
		_ = g.Wait() // workers record failures in counters instead of returning them

		if len(leads) > 0 {
			if err := e.deps.Store.InsertLeads(storeCtx, leads); err != nil {
				note("failed to persist batch leads: %v", err)
				e.finish(storeCtx, campaign, exec, tmpl, counters, ledger,
					model.ExecutionStatusFailed, model.FailureProviderError, err.Error(), note)
				return
			}
		}

		if err := e.deps.Store.CheckpointExecution(storeCtx, exec.ID, counters.snapshot(), ledger.Snapshot()); err != nil {
			log.Warn("checkpoint failed", zap.Error(err))
		}

		batch++
		note("batch %d: %d candidates, %d duplicates, %d accepted, %d sent, %d failed, $%.4f spent",
			batch, len(candidates), counters.duplicates.Load(), counters.accepted.Load(),
			counters.emailsSent.Load(), counters.failed.Load(), ledger.CostUSD())
	}
}

// acceptBatch filters candidates through the dedup index and materializes
// the survivors as new leads.
func (e *Engine) acceptBatch(ctx context.Context, index *dedup.Index, counters *runCounters, campaignID, executionID string, candidates []discovery.Candidate) ([]model.Lead, error) {
	leads := make([]model.Lead, 0, len(candidates))
	now := time.Now()
	for _, cand := range candidates {
		key := dedup.Key(cand.Email, cand.Company, cand.Location)
		ok, err := index.Accept(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			counters.duplicates.Add(1)
			continue
		}
		counters.accepted.Add(1)
		leads = append(leads, model.Lead{
			ID:          uuid.New().String(),
			CampaignID:  campaignID,
			ExecutionID: executionID,
			Name:        cand.Company,
			Company:     cand.Company,
			Email:       cand.Email,
			Phone:       cand.Phone,
			Website:     cand.Website,
			Location:    cand.Location,
			Industry:    cand.Industry,
			Rating:      cand.Rating,
			ReviewCount: cand.ReviewCount,
			Status:      model.LeadStatusNew,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return leads, nil
}

// processLead runs one lead through enrich→score→personalize→dispatch.
// Stage failures are isolated: an enrichment miss still scores, an AI miss
// falls back to template content, and only a send that exhausts its
// retries counts the lead as failed.
func (e *Engine) processLead(ctx context.Context, lead *model.Lead, campaign *model.Campaign, tmpl *model.Template, profile *model.CompanyProfile, enricher LeadEnricher, personalizer ContentPersonalizer, dispatcher MessageDispatcher, counters *runCounters) {
	defer counters.processed.Add(1)

	log := e.log.With(zap.String("lead_id", lead.ID), zap.String("company", lead.Company))

	if err := enricher.Enrich(ctx, lead); err != nil {
		log.Warn("enrichment failed, scoring with discovery data only", zap.Error(err))
	}

	lead.Score, lead.Quality = e.deps.Scorer.Score(lead)
	lead.UpdatedAt = time.Now()

	content, err := personalizer.Personalize(ctx, lead, tmpl, profile, campaign.AIPersonalization)
	if err != nil {
		log.Warn("personalization failed", zap.Error(err))
		counters.failed.Add(1)
		return
	}
	if content.Mode == model.PersonalizationFallback {
		counters.personalizedFallback.Add(1)
	} else {
		counters.personalizedOK.Add(1)
	}
	lead.Personalization = content.Mode
	if len(content.Unresolved) > 0 {
		log.Debug("unresolved template variables", zap.Strings("variables", content.Unresolved))
	}

	if !scoring.ValidEmail(lead.Email) {
		log.Debug("no deliverable address, skipping send")
		return
	}

	_, err = dispatcher.Dispatch(ctx, outreach.Message{
		LeadID:    lead.ID,
		To:        lead.Email,
		ToName:    lead.Name,
		FromName:  profile.FromName,
		FromEmail: profile.FromEmail,
		ReplyTo:   profile.ReplyTo,
		Subject:   content.Subject,
		Body:      content.Body,
	})
	if err != nil {
		log.Warn("send failed after retries", zap.Error(err))
		counters.emailsFailed.Add(1)
		counters.failed.Add(1)
		return
	}
	counters.emailsSent.Add(1)
	lead.Status = model.LeadStatusContacted
	lead.UpdatedAt = time.Now()
}

// finish writes the final checkpoint, transitions the execution to its
// terminal status, and rolls the run's outcomes into the campaign and
// template aggregates.
func (e *Engine) finish(ctx context.Context, campaign *model.Campaign, exec *model.Execution, tmpl *model.Template, counters *runCounters, ledger *usage.Ledger, status model.ExecutionStatus, reason, errDetail string, note func(string, ...any)) {
	now := time.Now()
	snap := counters.snapshot()

	if err := e.deps.Store.CheckpointExecution(ctx, exec.ID, snap, ledger.Snapshot()); err != nil {
		e.log.Warn("final checkpoint failed", zap.String("execution_id", exec.ID), zap.Error(err))
	}
	if err := e.deps.Store.FinishExecution(ctx, exec.ID, status, reason, errDetail, now); err != nil {
		e.log.Error("failed to finalize execution", zap.String("execution_id", exec.ID), zap.Error(err))
	}

	if snap.AcceptedLeads > 0 || snap.EmailsSent > 0 {
		delta := model.CampaignStats{
			LeadsCreated: snap.AcceptedLeads,
			EmailsSent:   snap.EmailsSent,
		}
		if err := e.deps.Store.AddCampaignStats(ctx, campaign.ID, delta); err != nil {
			e.log.Warn("failed to roll up campaign stats", zap.String("campaign_id", campaign.ID), zap.Error(err))
		}
	}
	if snap.EmailsSent > 0 {
		if err := e.deps.Store.RecordTemplateUsage(ctx, tmpl.ID, snap.EmailsSent, now); err != nil {
			e.log.Warn("failed to record template usage", zap.String("template_id", tmpl.ID), zap.Error(err))
		}
	}

	note("execution %s: %d candidates, %d accepted, %d duplicates, %d processed (%d failed), %d emails sent, $%.4f spent",
		status, snap.CandidatesSeen, snap.AcceptedLeads, snap.DuplicateLeads,
		snap.ProcessedLeads, snap.LeadsFailed, snap.EmailsSent, ledger.CostUSD())
}
