package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedgerAccumulates(t *testing.T) {
	l := NewLedger(DefaultRates(), 100)

	l.RecordDiscovery(2)
	l.RecordEnrichment(6)
	l.RecordAI(800, 300)
	l.RecordSend()

	stats := l.Snapshot()
	assert.Equal(t, int64(2), stats.DiscoveryCalls)
	assert.Equal(t, int64(6), stats.EnrichmentCalls)
	assert.Equal(t, int64(1), stats.AIRequests)
	assert.Equal(t, int64(1100), stats.AITokens)
	assert.Equal(t, int64(1), stats.EmailsSent)

	want := 2*0.032 + 6*0.01 + DefaultRates().AICost(800, 300) + 0.001
	assert.InDelta(t, want, stats.CostUSD, 1e-9)
	assert.InDelta(t, want, l.CostUSD(), 1e-9)
}

func TestAICost(t *testing.T) {
	r := DefaultRates()
	assert.InDelta(t, 0.0, r.AICost(0, 0), 1e-12)
	// 1M input tokens at $0.80, 1M output at $4.00.
	assert.InDelta(t, 4.80, r.AICost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.80/1000+4.0/1000, r.AICost(1000, 1000), 1e-9)
}

func TestWouldExceed(t *testing.T) {
	tests := []struct {
		name      string
		budget    float64
		spent     int64 // sends at $0.001 each
		projected float64
		want      bool
	}{
		{"well under budget", 1.0, 0, 0.5, false},
		{"exactly at budget allowed", 1.0, 0, 1.0, false},
		{"crossing budget", 1.0, 0, 1.001, true},
		{"prior spend counts", 1.0, 600, 0.5, true},
		{"zero budget disables enforcement", 0, 0, 1e9, false},
		{"negative budget disables enforcement", -1, 0, 1e9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(DefaultRates(), tt.budget)
			for range tt.spent {
				l.RecordSend()
			}
			assert.Equal(t, tt.want, l.WouldExceed(tt.projected))
		})
	}
}

func TestProjectBatch(t *testing.T) {
	r := DefaultRates()
	l := NewLedger(r, 0)

	perLead := 3*r.EnrichmentPerCall + r.AICost(800, 300) + r.EmailPerSend
	assert.InDelta(t, r.DiscoveryPerCall, l.ProjectBatch(0), 1e-9)
	assert.InDelta(t, r.DiscoveryPerCall+20*perLead, l.ProjectBatch(20), 1e-9)
}

func TestLedgerConcurrent(t *testing.T) {
	l := NewLedger(DefaultRates(), 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				l.RecordDiscovery(1)
				l.RecordEnrichment(1)
				l.RecordAI(10, 10)
				l.RecordSend()
			}
		}()
	}
	wg.Wait()

	stats := l.Snapshot()
	assert.Equal(t, int64(800), stats.DiscoveryCalls)
	assert.Equal(t, int64(800), stats.EnrichmentCalls)
	assert.Equal(t, int64(800), stats.AIRequests)
	assert.Equal(t, int64(800), stats.EmailsSent)
}
