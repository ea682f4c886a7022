package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/outreach"
	"github.com/sells-group/outreach-engine/internal/personalize"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/usage"
)

// fakeSource serves a fixed candidate list. With block set, Next parks
// until the context is cancelled, to test cooperative stop.
type fakeSource struct {
	mu         sync.Mutex
	candidates []discovery.Candidate
	pos        int
	block      bool
	err        error
}

func (s *fakeSource) Next(ctx context.Context, n int) ([]discovery.Candidate, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.candidates) {
		return nil, nil
	}
	end := min(s.pos+n, len(s.candidates))
	batch := s.candidates[s.pos:end]
	s.pos = end
	return batch, nil
}

func (s *fakeSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.block && s.err == nil && s.pos >= len(s.candidates)
}

type fakeEnricher struct {
	err   error
	calls atomic.Int64
}

func (f *fakeEnricher) Enrich(_ context.Context, lead *model.Lead) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	if lead.Enrichment == nil {
		lead.Enrichment = map[string]model.EnrichmentField{}
	}
	lead.Enrichment["employee_count"] = model.EnrichmentField{Value: "12", Source: "test"}
	return nil
}

type fakeScorer struct{}

func (fakeScorer) Score(_ *model.Lead) (float64, model.QualityTier) {
	return 70, model.TierWarm
}

type fakePersonalizer struct {
	err  error
	mode model.PersonalizationMode
}

func (f *fakePersonalizer) Personalize(_ context.Context, lead *model.Lead, tmpl *model.Template, _ *model.CompanyProfile, _ bool) (*personalize.Content, error) {
	if f.err != nil {
		return nil, f.err
	}
	mode := f.mode
	if mode == "" {
		mode = model.PersonalizationTemplate
	}
	return &personalize.Content{
		Subject: tmpl.Subject,
		Body:    "Hello " + lead.Company,
		Mode:    mode,
	}, nil
}

type fakeDispatcher struct {
	err  error
	sent atomic.Int64
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg outreach.Message) (string, error) {
	if f.err != nil {
		return "", &resilience.SendFailure{LeadID: msg.LeadID, Attempts: 4, Err: f.err}
	}
	f.sent.Add(1)
	return "msg-" + msg.LeadID, nil
}

// testEnv bundles an engine over a real SQLite store with fake stages.
type testEnv struct {
	store        *store.SQLiteStore
	engine       *Engine
	source       *fakeSource
	enricher     *fakeEnricher
	personalizer *fakePersonalizer
	dispatcher   *fakeDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:        s,
		source:       &fakeSource{},
		enricher:     &fakeEnricher{},
		personalizer: &fakePersonalizer{},
		dispatcher:   &fakeDispatcher{},
	}
	env.engine = New(Deps{
		Store:  s,
		Rates:  usage.DefaultRates(),
		Scorer: fakeScorer{},
		NewSource: func(_ discovery.Query, _ discovery.Meter) CandidateSource {
			return env.source
		},
		NewEnricher:     func(_ enrich.Meter) LeadEnricher { return env.enricher },
		NewPersonalizer: func(_ personalize.Meter) ContentPersonalizer { return env.personalizer },
		NewDispatcher:   func(_ outreach.Meter) MessageDispatcher { return env.dispatcher },
		BatchSize:       20,
		Workers:         4,
	})
	return env
}

func (env *testEnv) seedCampaign(t *testing.T, mutate func(*model.Campaign)) string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, env.store.CreateTemplate(ctx, &model.Template{
		ID: "t1", Name: "intro", Subject: "Quick question", Body: "Hi {{name}}",
	}))
	require.NoError(t, env.store.CreateProfile(ctx, &model.CompanyProfile{
		ID: "p1", Name: "Sells Group", FromName: "Ann Lee", FromEmail: "ann@sells.example",
	}))

	campaign := &model.Campaign{
		ID:         "c1",
		Name:       "Denver plumbers",
		TemplateID: "t1",
		ProfileID:  "p1",
		BudgetUSD:  100,
		Criteria: model.TargetingCriteria{
			BusinessType:    "plumber",
			Location:        "Denver, CO",
			RadiusKM:        25,
			TargetLeadCount: 50,
		},
	}
	if mutate != nil {
		mutate(campaign)
	}
	require.NoError(t, env.store.CreateCampaign(ctx, campaign))
	return campaign.ID
}

// uniqueCandidates builds n candidates with distinct emails starting at
// index offset.
func uniqueCandidates(offset, n int) []discovery.Candidate {
	out := make([]discovery.Candidate, n)
	for i := range out {
		idx := offset + i
		out[i] = discovery.Candidate{
			Company:  fmt.Sprintf("Biz %03d", idx),
			Email:    fmt.Sprintf("owner%03d@biz.example", idx),
			Location: "Denver, CO",
			Source:   "places",
		}
	}
	return out
}

func (env *testEnv) runToCompletion(t *testing.T, campaignID string) *model.Execution {
	t.Helper()
	ctx := context.Background()

	execID, err := env.engine.Start(ctx, campaignID, model.ExecutionTypeManual)
	require.NoError(t, err)
	env.engine.Wait(execID)

	exec, err := env.store.GetExecution(ctx, execID)
	require.NoError(t, err)
	return exec
}

func TestRunReachesTarget(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)

	// 55 usable candidates with 5 in-run duplicates mixed into the first
	// batch, plus a tail the run should never touch.
	candidates := uniqueCandidates(0, 15)
	for i := range 5 {
		dup := candidates[i]
		dup.Company = "Renamed " + dup.Company
		candidates = append(candidates, dup)
	}
	candidates = append(candidates, uniqueCandidates(15, 45)...)
	env.source.candidates = candidates

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)

	c := exec.Counters
	assert.Equal(t, int64(50), c.TargetLeads)
	assert.Equal(t, int64(55), c.CandidatesSeen)
	assert.Equal(t, int64(5), c.DuplicateLeads)
	assert.Equal(t, int64(50), c.AcceptedLeads)
	assert.Equal(t, int64(50), c.ProcessedLeads)
	assert.Equal(t, int64(0), c.LeadsFailed)
	assert.Equal(t, int64(50), c.EmailsSent)
	assert.Equal(t, int64(50), c.PersonalizedOK)
	assert.Contains(t, exec.Log, "target reached")

	ctx := context.Background()
	leads, err := env.store.ListLeads(ctx, store.LeadFilter{CampaignID: campaignID})
	require.NoError(t, err)
	assert.Len(t, leads, 50)
	assert.Equal(t, model.LeadStatusContacted, leads[0].Status)
	assert.Equal(t, model.TierWarm, leads[0].Quality)

	campaign, err := env.store.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusActive, campaign.Status, "draft activates on start")
	assert.Equal(t, int64(50), campaign.Stats.LeadsCreated)
	assert.Equal(t, int64(50), campaign.Stats.EmailsSent)

	tmpl, err := env.store.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tmpl.UsageCount)
	assert.Equal(t, int64(50), tmpl.TotalSent)
}

func TestRunDiscoveryExhausted(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 12)

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(12), exec.Counters.ProcessedLeads)
	assert.Equal(t, int64(12), exec.Counters.EmailsSent)
	assert.Contains(t, exec.Log, "discovery exhausted")
}

func TestRunBudgetExceeded(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, func(c *model.Campaign) { c.BudgetUSD = 0.01 })
	env.source.candidates = uniqueCandidates(0, 40)

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, model.FailureBudgetExceeded, exec.Reason)
	assert.Contains(t, exec.ErrorDetail, "exceed budget")
	assert.Zero(t, exec.Counters.ProcessedLeads, "budget gate fires before the batch runs")
}

func TestRunProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.err = resilience.NewPermanentError("places", eris.New("key revoked"))

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusFailed, exec.Status)
	assert.Equal(t, model.FailureProviderError, exec.Reason)
	assert.Contains(t, exec.ErrorDetail, "key revoked")
}

func TestRunSendFailuresCounted(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 10)
	env.dispatcher.err = eris.New("gateway down")

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)

	c := exec.Counters
	assert.Equal(t, int64(10), c.ProcessedLeads)
	assert.Equal(t, int64(10), c.EmailsFailed)
	assert.Equal(t, int64(10), c.LeadsFailed)
	assert.Zero(t, c.EmailsSent)
}

func TestRunSkipsSendWithoutEmail(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	candidates := uniqueCandidates(0, 5)
	for i := range candidates {
		candidates[i].Email = ""
	}
	env.source.candidates = candidates

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(5), exec.Counters.ProcessedLeads)
	assert.Zero(t, exec.Counters.EmailsSent)
	assert.Zero(t, exec.Counters.LeadsFailed, "an unreachable lead is processed, not failed")

	leads, err := env.store.ListLeads(context.Background(), store.LeadFilter{CampaignID: campaignID})
	require.NoError(t, err)
	require.Len(t, leads, 5)
	assert.Equal(t, model.LeadStatusNew, leads[0].Status)
}

func TestRunEnrichmentFailureStillScores(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 5)
	env.enricher.err = eris.New("all sources down")

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(5), exec.Counters.EmailsSent)

	leads, err := env.store.ListLeads(context.Background(), store.LeadFilter{CampaignID: campaignID})
	require.NoError(t, err)
	assert.Equal(t, 70.0, leads[0].Score)
}

func TestRunPersonalizationFailureFailsLead(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 5)
	env.personalizer.err = eris.New("renderer broken")

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, int64(5), exec.Counters.LeadsFailed)
	assert.Zero(t, exec.Counters.EmailsSent)
}

func TestRunFallbackModeCounted(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 5)
	env.personalizer.mode = model.PersonalizationFallback

	exec := env.runToCompletion(t, campaignID)
	assert.Equal(t, int64(5), exec.Counters.PersonalizedFallback)
	assert.Zero(t, exec.Counters.PersonalizedOK)
	assert.Equal(t, int64(5), exec.Counters.EmailsSent, "fallback content still ships")
}

func TestStartValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Start(ctx, "missing", model.ExecutionTypeManual)
	assert.True(t, eris.Is(err, store.ErrNotFound))

	campaignID := env.seedCampaign(t, func(c *model.Campaign) { c.TemplateID = "" })
	_, err = env.engine.Start(ctx, campaignID, model.ExecutionTypeManual)
	assert.True(t, resilience.IsValidation(err))
}

func TestStartRejectsFinishedCampaign(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	require.NoError(t, env.store.UpdateCampaignStatus(context.Background(), campaignID, model.CampaignStatusCompleted))

	_, err := env.engine.Start(context.Background(), campaignID, model.ExecutionTypeManual)
	assert.True(t, resilience.IsValidation(err))
}

func TestStartConflictAndStop(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.block = true
	ctx := context.Background()

	execID, err := env.engine.Start(ctx, campaignID, model.ExecutionTypeManual)
	require.NoError(t, err)

	_, err = env.engine.Start(ctx, campaignID, model.ExecutionTypeManual)
	require.Error(t, err)
	var conflict *resilience.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, execID, conflict.ExecutionID)

	accepted, err := env.engine.Stop(ctx, execID)
	require.NoError(t, err)
	assert.True(t, accepted)
	env.engine.Wait(execID)

	exec, err := env.store.GetExecution(ctx, execID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCancelled, exec.Status)

	// The campaign's slot is free again.
	env.source.block = false
	env.source.candidates = uniqueCandidates(0, 3)
	exec2 := env.runToCompletion(t, campaignID)
	assert.Equal(t, model.ExecutionStatusCompleted, exec2.Status)
}

func TestStopUnknownExecution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Stop(ctx, "missing")
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestStopTerminalExecution(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 3)
	exec := env.runToCompletion(t, campaignID)

	accepted, err := env.engine.Stop(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.False(t, accepted, "nothing left to cancel")
}

func TestEngineStatus(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	env.source.candidates = uniqueCandidates(0, 10)
	exec := env.runToCompletion(t, campaignID)

	status, err := env.engine.Status(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, status.Status)
	assert.Equal(t, int64(10), status.Counters.ProcessedLeads)
	assert.Equal(t, 20.0, status.ProgressPct)
	require.NotNil(t, status.CompletedAt)
}

func TestScoreLead(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	ctx := context.Background()

	require.NoError(t, env.store.InsertLeads(ctx, []model.Lead{
		{ID: "l1", CampaignID: campaignID, Company: "Acme", Quality: model.TierUnqualified},
	}))

	lead, err := env.engine.ScoreLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, lead.Score)
	assert.Equal(t, model.TierWarm, lead.Quality)

	stored, err := env.store.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, stored.Score)

	_, err = env.engine.ScoreLead(ctx, "missing")
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestEnrichLead(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	ctx := context.Background()

	require.NoError(t, env.store.InsertLeads(ctx, []model.Lead{
		{ID: "l1", CampaignID: campaignID, Company: "Acme", Location: "Denver, CO"},
	}))

	lead, fields, err := env.engine.EnrichLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []string{"employee_count"}, fields)
	assert.Equal(t, 70.0, lead.Score)

	stored, err := env.store.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "12", stored.Enrichment["employee_count"].Value)
}

func TestSummarize(t *testing.T) {
	env := newTestEnv(t)
	campaignID := env.seedCampaign(t, nil)
	ctx := context.Background()

	require.NoError(t, env.store.CreateExecution(ctx, &model.Execution{ID: "e1", CampaignID: campaignID}))
	require.NoError(t, env.store.CheckpointExecution(ctx, "e1", model.Counters{
		TargetLeads:    50,
		AcceptedLeads:  40,
		ProcessedLeads: 40,
		EmailsSent:     40,
		PersonalizedOK: 36,
	}, model.UsageStats{CostUSD: 2.0}))
	for range 20 {
		require.NoError(t, env.store.IncrementEngagement(ctx, "e1", store.EngagementDelivered))
	}
	for range 5 {
		require.NoError(t, env.store.IncrementEngagement(ctx, "e1", store.EngagementOpened))
	}
	require.NoError(t, env.store.IncrementEngagement(ctx, "e1", store.EngagementResponse))
	require.NoError(t, env.store.FinishExecution(ctx, "e1", model.ExecutionStatusCompleted, "", "", time.Now()))

	summary, err := env.engine.Summarize(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, summary.DeliveryRate)
	assert.Equal(t, 25.0, summary.OpenRate)
	assert.Equal(t, 5.0, summary.ResponseRate)
	assert.Equal(t, 100.0, summary.PersonalizationSuccessRate)
	assert.Equal(t, 80.0, summary.ProgressPct)
	assert.InDelta(t, 0.05, summary.CostPerLeadUSD, 1e-9)
}
