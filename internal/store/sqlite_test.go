package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testCampaign(id string) *model.Campaign {
	return &model.Campaign{
		ID:         id,
		Name:       "Denver plumbers",
		Owner:      "ann",
		TemplateID: "tmpl-1",
		ProfileID:  "prof-1",
		BudgetUSD:  25,
		Criteria: model.TargetingCriteria{
			BusinessType:    "plumber",
			Location:        "Denver, CO",
			RadiusKM:        25,
			TargetLeadCount: 50,
		},
	}
}

func TestSQLiteCampaignCRUD(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testCampaign("c1")
	require.NoError(t, s.CreateCampaign(ctx, c))
	assert.Equal(t, model.CampaignStatusDraft, c.Status, "status defaulted on create")
	assert.Equal(t, model.DedupScopeGlobal, c.DedupScope)

	got, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Denver plumbers", got.Name)
	assert.Equal(t, 25.0, got.BudgetUSD)
	assert.Equal(t, "plumber", got.Criteria.BusinessType)
	assert.Equal(t, 50, got.Criteria.TargetLeadCount)

	require.NoError(t, s.UpdateCampaignStatus(ctx, "c1", model.CampaignStatusPaused))
	got, err = s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusPaused, got.Status)

	criteria := got.Criteria
	criteria.TargetLeadCount = 75
	require.NoError(t, s.UpdateCampaignCriteria(ctx, "c1", criteria))
	got, err = s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 75, got.Criteria.TargetLeadCount)
}

func TestSQLiteCriteriaLockedWhileActive(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))
	require.NoError(t, s.UpdateCampaignStatus(ctx, "c1", model.CampaignStatusActive))

	criteria := testCampaign("c1").Criteria
	criteria.Location = "Boston, MA"
	criteria.TargetLeadCount = 99

	err := s.UpdateCampaignCriteria(ctx, "c1", criteria)
	require.Error(t, err)
	assert.True(t, resilience.IsValidation(err))

	got, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Denver, CO", got.Criteria.Location, "criteria unchanged after rejected edit")
	assert.Equal(t, 50, got.Criteria.TargetLeadCount)

	require.NoError(t, s.UpdateCampaignStatus(ctx, "c1", model.CampaignStatusCompleted))
	err = s.UpdateCampaignCriteria(ctx, "c1", criteria)
	assert.True(t, resilience.IsValidation(err), "terminal campaigns also reject edits")
}

func TestSQLiteCampaignNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.GetCampaign(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))

	err = s.UpdateCampaignStatus(ctx, "missing", model.CampaignStatusActive)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteListCampaigns(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.CreateCampaign(ctx, testCampaign(id)))
	}
	other := testCampaign("c4")
	other.Owner = "bob"
	require.NoError(t, s.CreateCampaign(ctx, other))
	require.NoError(t, s.UpdateCampaignStatus(ctx, "c2", model.CampaignStatusActive))

	all, err := s.ListCampaigns(ctx, CampaignFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	active, err := s.ListCampaigns(ctx, CampaignFilter{Status: model.CampaignStatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c2", active[0].ID)

	bobs, err := s.ListCampaigns(ctx, CampaignFilter{Owner: "bob"})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "c4", bobs[0].ID)

	limited, err := s.ListCampaigns(ctx, CampaignFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteAddCampaignStats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))
	require.NoError(t, s.AddCampaignStats(ctx, "c1", model.CampaignStats{LeadsCreated: 10, EmailsSent: 8}))
	require.NoError(t, s.AddCampaignStats(ctx, "c1", model.CampaignStats{LeadsCreated: 5, ResponsesReceived: 1}))

	got, err := s.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Stats.LeadsCreated)
	assert.Equal(t, int64(8), got.Stats.EmailsSent)
	assert.Equal(t, int64(1), got.Stats.ResponsesReceived)
}

func TestSQLiteExecutionLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))

	exec := &model.Execution{ID: "e1", CampaignID: "c1", Type: model.ExecutionTypeManual}
	require.NoError(t, s.CreateExecution(ctx, exec))
	assert.Equal(t, model.ExecutionStatusQueued, exec.Status)

	started := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.StartExecution(ctx, "e1", started))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	counters := model.Counters{TargetLeads: 50, ProcessedLeads: 20, EmailsSent: 15}
	usage := model.UsageStats{DiscoveryCalls: 2, EmailsSent: 15, CostUSD: 1.25}
	require.NoError(t, s.CheckpointExecution(ctx, "e1", counters, usage))

	got, err = s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Counters.ProcessedLeads)
	assert.Equal(t, 1.25, got.Usage.CostUSD)

	require.NoError(t, s.AppendExecutionLog(ctx, "e1", "[t] batch 1 complete\n"))
	require.NoError(t, s.AppendExecutionLog(ctx, "e1", "[t] batch 2 complete\n"))
	got, err = s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Contains(t, got.Log, "batch 1 complete")
	assert.Contains(t, got.Log, "batch 2 complete")

	finished := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.FinishExecution(ctx, "e1", model.ExecutionStatusCompleted, "", "", finished))

	got, err = s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Terminal executions are not finishable twice.
	err = s.FinishExecution(ctx, "e1", model.ExecutionStatusFailed, model.FailureProviderError, "boom", finished)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteSingleActiveExecution(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))
	require.NoError(t, s.CreateExecution(ctx, &model.Execution{ID: "e1", CampaignID: "c1"}))

	err := s.CreateExecution(ctx, &model.Execution{ID: "e2", CampaignID: "c1"})
	require.Error(t, err)
	var conflict *resilience.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "c1", conflict.CampaignID)
	assert.Equal(t, "e1", conflict.ExecutionID)

	active, err := s.ActiveExecution(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "e1", active.ID)

	// Finishing frees the campaign's slot.
	require.NoError(t, s.FinishExecution(ctx, "e1", model.ExecutionStatusCancelled, "", "", time.Now()))
	require.NoError(t, s.CreateExecution(ctx, &model.Execution{ID: "e2", CampaignID: "c1"}))

	active, err = s.ActiveExecution(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "e2", active.ID)
}

func TestSQLiteEngagementOverlay(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))
	require.NoError(t, s.CreateExecution(ctx, &model.Execution{ID: "e1", CampaignID: "c1"}))

	// The checkpoint blob carries zeroes for engagement; the columns win.
	require.NoError(t, s.CheckpointExecution(ctx, "e1", model.Counters{EmailsSent: 10}, model.UsageStats{}))

	require.NoError(t, s.IncrementEngagement(ctx, "e1", EngagementDelivered))
	require.NoError(t, s.IncrementEngagement(ctx, "e1", EngagementDelivered))
	require.NoError(t, s.IncrementEngagement(ctx, "e1", EngagementOpened))
	require.NoError(t, s.IncrementEngagement(ctx, "e1", EngagementResponse))

	got, err := s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Counters.EmailsSent)
	assert.Equal(t, int64(2), got.Counters.EmailsDelivered)
	assert.Equal(t, int64(1), got.Counters.EmailsOpened)
	assert.Equal(t, int64(1), got.Counters.ResponsesReceived)

	// A later checkpoint does not clobber the engagement columns.
	require.NoError(t, s.CheckpointExecution(ctx, "e1", model.Counters{EmailsSent: 20}, model.UsageStats{}))
	got, err = s.GetExecution(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Counters.EmailsSent)
	assert.Equal(t, int64(2), got.Counters.EmailsDelivered)

	err = s.IncrementEngagement(ctx, "e1", EngagementKind("bounced"))
	assert.Error(t, err)
}

func TestSQLiteListExecutions(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.CreateExecution(ctx, &model.Execution{ID: id, CampaignID: "c1"}))
		require.NoError(t, s.FinishExecution(ctx, id, model.ExecutionStatusCompleted, "", "", time.Now()))
	}

	execs, err := s.ListExecutions(ctx, "c1", 2)
	require.NoError(t, err)
	assert.Len(t, execs, 2)
}

func TestSQLiteLeads(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, testCampaign("c1")))

	leads := []model.Lead{
		{
			ID: "l1", CampaignID: "c1", ExecutionID: "e1",
			Company: "Acme Plumbing", Email: "joe@acme.example",
			Score: 82, Quality: model.TierHot, Status: model.LeadStatusContacted,
			Enrichment: map[string]model.EnrichmentField{
				"employee_count": {Value: "35", Source: "company-info"},
			},
		},
		{
			ID: "l2", CampaignID: "c1", ExecutionID: "e1",
			Company: "Bolt Plumbing", Score: 40, Quality: model.TierCold, Status: model.LeadStatusNew,
		},
	}
	require.NoError(t, s.InsertLeads(ctx, leads))

	got, err := s.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", got.Company)
	assert.Equal(t, "35", got.Enrichment["employee_count"].Value)

	// Upsert path: reinserting an existing id updates scoring fields.
	leads[0].Score = 90
	leads[0].Quality = model.TierHot
	require.NoError(t, s.InsertLeads(ctx, leads[:1]))
	got, err = s.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, got.Score)

	hot, err := s.ListLeads(ctx, LeadFilter{CampaignID: "c1", Quality: model.TierHot})
	require.NoError(t, err)
	require.Len(t, hot, 1)
	assert.Equal(t, "l1", hot[0].ID)

	scored, err := s.ListLeads(ctx, LeadFilter{CampaignID: "c1", MinScore: 50})
	require.NoError(t, err)
	require.Len(t, scored, 1)

	all, err := s.ListLeads(ctx, LeadFilter{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "l1", all[0].ID, "ordered by score descending")

	got.Phone = "+13035550100"
	got.Status = model.LeadStatusQualified
	require.NoError(t, s.UpdateLead(ctx, got))
	got, err = s.GetLead(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "+13035550100", got.Phone)
	assert.Equal(t, model.LeadStatusQualified, got.Status)

	require.NoError(t, s.UpdateLeadStatus(ctx, "l2", model.LeadStatusContacted))
	got, err = s.GetLead(ctx, "l2")
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)

	_, err = s.GetLead(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteDedupKeys(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := s.InsertDedupKey(ctx, "c1", "email:joe@acme.example")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertDedupKey(ctx, "c1", "email:joe@acme.example")
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate within the campaign")

	inserted, err = s.InsertDedupKey(ctx, "c2", "email:joe@acme.example")
	require.NoError(t, err)
	assert.True(t, inserted, "same key under another campaign")

	has, err := s.HasDedupKey(ctx, "email:joe@acme.example", "c1")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasDedupKey(ctx, "email:other@acme.example", "c1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLiteTemplates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	tmpl := &model.Template{ID: "t1", Name: "intro", Subject: "Hi {{name}}", Body: "body"}
	require.NoError(t, s.CreateTemplate(ctx, tmpl))

	used := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RecordTemplateUsage(ctx, "t1", 15, used))
	require.NoError(t, s.RecordTemplateResponse(ctx, "t1"))
	require.NoError(t, s.RecordTemplateResponse(ctx, "t1"))

	got, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, int64(15), got.TotalSent)
	assert.Equal(t, int64(2), got.TotalResponses)
	require.NotNil(t, got.LastUsed)

	_, err = s.GetTemplate(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLiteProfiles(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.CompanyProfile{
		ID: "p1", Name: "Sells Group", FromName: "Ann Lee",
		FromEmail: "ann@sells.example", ReplyTo: "replies@sells.example",
	}
	require.NoError(t, s.CreateProfile(ctx, p))

	got, err := s.GetProfile(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", got.FromName)
	assert.Equal(t, "replies@sells.example", got.ReplyTo)

	_, err = s.GetProfile(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}
