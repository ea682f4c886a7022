package crmsync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/pkg/salesforce"
)

type fakeSalesforce struct {
	results []salesforce.CollectionResult
	err     error

	object   string
	external string
	records  []map[string]any
}

func (f *fakeSalesforce) Query(_ context.Context, _ string, _ any) error { return nil }

func (f *fakeSalesforce) InsertCollection(_ context.Context, _ string, _ []map[string]any) ([]salesforce.CollectionResult, error) {
	return nil, eris.New("unexpected insert")
}

func (f *fakeSalesforce) UpsertCollection(_ context.Context, sObjectName, externalIDField string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	f.object = sObjectName
	f.external = externalIDField
	f.records = records
	if f.err != nil {
		return nil, f.err
	}
	if f.results != nil {
		return f.results, nil
	}
	results := make([]salesforce.CollectionResult, len(records))
	for i := range results {
		results[i] = salesforce.CollectionResult{ID: "sf-1", Success: true}
	}
	return results, nil
}

func newTestSyncer(t *testing.T, sf *fakeSalesforce) (*Syncer, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "crm.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return New(sf, s), s
}

func seedCampaignLeads(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.CreateCampaign(ctx, &model.Campaign{
		ID: "c1", Name: "test", TemplateID: "t1", ProfileID: "p1",
		Criteria: model.TargetingCriteria{
			BusinessType: "plumber", Location: "Denver, CO", TargetLeadCount: 10,
		},
	}))
	require.NoError(t, s.InsertLeads(ctx, []model.Lead{
		{
			ID: "l1", CampaignID: "c1", Company: "Acme Plumbing", Name: "Joe Smith",
			Email: "joe@acme.example", Phone: "+13035550100",
			Quality: model.TierHot, Status: model.LeadStatusQualified,
			Enrichment: map[string]model.EnrichmentField{
				"description": {Value: "Family-run plumbing outfit", Source: "company-info"},
			},
		},
		{
			ID: "l2", CampaignID: "c1", Company: "Bolt Plumbing",
			Quality: model.TierWarm, Status: model.LeadStatusConverted,
		},
		{
			ID: "l3", CampaignID: "c1", Company: "Pipe Dreams",
			Quality: model.TierCold, Status: model.LeadStatusContacted,
		},
	}))
}

func TestSyncCampaign(t *testing.T) {
	sf := &fakeSalesforce{}
	syncer, s := newTestSyncer(t, sf)
	seedCampaignLeads(t, s)

	result, err := syncer.SyncCampaign(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Candidates, "only qualified and converted leads sync")
	assert.Equal(t, 2, result.Synced)
	assert.Zero(t, result.Failed)

	assert.Equal(t, "Lead", sf.object)
	assert.Equal(t, "Engine_Lead_Id__c", sf.external)
	require.Len(t, sf.records, 2)

	byID := map[string]map[string]any{}
	for _, rec := range sf.records {
		byID[rec["Engine_Lead_Id__c"].(string)] = rec
	}

	acme := byID["l1"]
	require.NotNil(t, acme)
	assert.Equal(t, "Acme Plumbing", acme["Company"])
	assert.Equal(t, "Joe Smith", acme["LastName"])
	assert.Equal(t, "Working - Contacted", acme["Status"])
	assert.Equal(t, "Outreach Engine", acme["LeadSource"])
	assert.Equal(t, "Hot", acme["Rating"])
	assert.Equal(t, "joe@acme.example", acme["Email"])
	assert.Equal(t, "Family-run plumbing outfit", acme["Description"])

	bolt := byID["l2"]
	require.NotNil(t, bolt)
	assert.Equal(t, "Bolt Plumbing", bolt["LastName"], "company stands in when no contact name")
	assert.Equal(t, "Closed - Converted", bolt["Status"])
	assert.Equal(t, "Warm", bolt["Rating"])
	_, hasEmail := bolt["Email"]
	assert.False(t, hasEmail, "empty optional fields are omitted")
}

func TestSyncCampaignPartialFailure(t *testing.T) {
	sf := &fakeSalesforce{results: []salesforce.CollectionResult{
		{ID: "sf-1", Success: true},
		{Success: false, Errors: []string{"REQUIRED_FIELD_MISSING: LastName"}},
	}}
	syncer, s := newTestSyncer(t, sf)
	seedCampaignLeads(t, s)

	result, err := syncer.SyncCampaign(context.Background(), "c1")
	require.NoError(t, err, "per-record rejections never fail the pass")
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
}

func TestSyncCampaignAPIError(t *testing.T) {
	sf := &fakeSalesforce{err: eris.New("invalid session")}
	syncer, s := newTestSyncer(t, sf)
	seedCampaignLeads(t, s)

	_, err := syncer.SyncCampaign(context.Background(), "c1")
	assert.Error(t, err)
}

func TestSyncCampaignNoCandidates(t *testing.T) {
	sf := &fakeSalesforce{}
	syncer, s := newTestSyncer(t, sf)
	require.NoError(t, s.CreateCampaign(context.Background(), &model.Campaign{
		ID: "empty", Name: "test", TemplateID: "t1", ProfileID: "p1",
		Criteria: model.TargetingCriteria{
			BusinessType: "plumber", Location: "Denver, CO", TargetLeadCount: 10,
		},
	}))

	result, err := syncer.SyncCampaign(context.Background(), "empty")
	require.NoError(t, err)
	assert.Zero(t, result.Candidates)
	assert.Nil(t, sf.records, "no API call without candidates")
}
