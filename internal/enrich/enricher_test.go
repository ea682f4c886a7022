package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
)

type fakeSource struct {
	name   string
	fields map[string]string
	err    error
	calls  int
}

func (s *fakeSource) Name() string               { return s.name }
func (s *fakeSource) Capabilities() []Capability { return []Capability{CapabilityCompanyInfo} }
func (s *fakeSource) Lookup(_ context.Context, _ *model.Lead) (*Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Fields: s.fields}, nil
}

type enrichMeter struct{ calls int64 }

func (m *enrichMeter) RecordEnrichment(calls int64) { m.calls += calls }

func enrichLead() *model.Lead {
	return &model.Lead{
		ID:       "lead-1",
		Company:  "Acme Plumbing",
		Location: "Denver, CO",
	}
}

func TestEnrichMergesSources(t *testing.T) {
	companyInfo := &fakeSource{name: "company-info", fields: map[string]string{
		"website":        "https://acme.example",
		"employee_count": "35",
	}}
	contacts := &fakeSource{name: "contacts", fields: map[string]string{
		"email": "joe@acme.example",
		"name":  "Joe Smith",
	}}
	meter := &enrichMeter{}
	e := New([]Source{companyInfo, contacts}, WithMeter(meter))

	lead := enrichLead()
	require.NoError(t, e.Enrich(context.Background(), lead))

	assert.Equal(t, "https://acme.example", lead.Website)
	assert.Equal(t, "joe@acme.example", lead.Email)
	assert.Equal(t, "Joe Smith", lead.Name)
	require.Contains(t, lead.Enrichment, "employee_count")
	assert.Equal(t, "35", lead.Enrichment["employee_count"].Value)
	assert.Equal(t, "company-info", lead.Enrichment["employee_count"].Source)
	assert.Equal(t, int64(2), meter.calls)
}

func TestEnrichCoreFieldsFillGapsOnly(t *testing.T) {
	src := &fakeSource{name: "src", fields: map[string]string{
		"email":   "found@acme.example",
		"website": "https://found.example",
	}}
	e := New([]Source{src})

	lead := enrichLead()
	lead.Email = "existing@acme.example"
	require.NoError(t, e.Enrich(context.Background(), lead))

	assert.Equal(t, "existing@acme.example", lead.Email, "existing core value kept")
	assert.Equal(t, "https://found.example", lead.Website, "empty core value filled")
}

func TestEnrichPayloadOverwritesAcrossSources(t *testing.T) {
	first := &fakeSource{name: "first", fields: map[string]string{"description": "old"}}
	second := &fakeSource{name: "second", fields: map[string]string{"description": "new"}}
	e := New([]Source{first, second})

	lead := enrichLead()
	require.NoError(t, e.Enrich(context.Background(), lead))

	assert.Equal(t, "new", lead.Enrichment["description"].Value)
	assert.Equal(t, "second", lead.Enrichment["description"].Source)
}

func TestEnrichRespectsManualFields(t *testing.T) {
	src := &fakeSource{name: "src", fields: map[string]string{
		"email":       "found@acme.example",
		"description": "machine text",
	}}
	e := New([]Source{src})

	lead := enrichLead()
	lead.ManualFields = map[string]bool{"email": true, "description": true}
	require.NoError(t, e.Enrich(context.Background(), lead))

	assert.Empty(t, lead.Email)
	assert.NotContains(t, lead.Enrichment, "description")
}

func TestEnrichFailingSourceIsolated(t *testing.T) {
	broken := &fakeSource{name: "broken", err: eris.New("provider down")}
	working := &fakeSource{name: "working", fields: map[string]string{"email": "joe@acme.example"}}
	e := New([]Source{broken, working})

	lead := enrichLead()
	require.NoError(t, e.Enrich(context.Background(), lead), "a failing source never fails the lead")
	assert.Equal(t, "joe@acme.example", lead.Email)
}

func TestEnrichCompanyCacheHit(t *testing.T) {
	src := &fakeSource{name: "src", fields: map[string]string{"employee_count": "35"}}
	e := New([]Source{src})

	first := enrichLead()
	require.NoError(t, e.Enrich(context.Background(), first))

	second := enrichLead()
	second.ID = "lead-2"
	require.NoError(t, e.Enrich(context.Background(), second))

	assert.Equal(t, 1, src.calls, "same company served from cache")
	assert.Equal(t, "35", second.Enrichment["employee_count"].Value)
}

func TestEnrichCacheExpiry(t *testing.T) {
	src := &fakeSource{name: "src", fields: map[string]string{"employee_count": "35"}}
	e := New([]Source{src}, WithCacheTTL(-time.Second))

	require.NoError(t, e.Enrich(context.Background(), enrichLead()))
	require.NoError(t, e.Enrich(context.Background(), enrichLead()))
	assert.Equal(t, 2, src.calls)
}

func TestEnrichBreakerOpensAfterFailures(t *testing.T) {
	broken := &fakeSource{name: "broken", err: eris.New("provider down")}
	e := New([]Source{broken}, WithBreakerConfig(resilience.CircuitConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}))

	for i := range 5 {
		lead := enrichLead()
		lead.Company = lead.Company + string(rune('a'+i)) // distinct cache keys
		require.NoError(t, e.Enrich(context.Background(), lead))
	}

	assert.Equal(t, 2, broken.calls, "breaker stops calls after the threshold")
}

func TestEnrichCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &fakeSource{name: "src", fields: map[string]string{"email": "x@y.example"}}
	e := New([]Source{src})

	err := e.Enrich(ctx, enrichLead())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.calls)
}

func TestCleanPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(303) 555-0100", "3035550100"},
		{"1-303-555-0100", "+13035550100"},
		{"+1 303 555 0100", "+13035550100"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanPhone(tt.in), tt.in)
	}
}
