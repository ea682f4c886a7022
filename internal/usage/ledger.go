// Package usage meters external API consumption and enforces the per
// execution budget cap.
package usage

import (
	"sync"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Rates holds the per-unit cost estimates used by the ledger.
type Rates struct {
	DiscoveryPerCall  float64 `yaml:"discovery_per_call" mapstructure:"discovery_per_call"`
	EnrichmentPerCall float64 `yaml:"enrichment_per_call" mapstructure:"enrichment_per_call"`
	EmailPerSend      float64 `yaml:"email_per_send" mapstructure:"email_per_send"`
	AIInputPerMTok    float64 `yaml:"ai_input_per_mtok" mapstructure:"ai_input_per_mtok"`
	AIOutputPerMTok   float64 `yaml:"ai_output_per_mtok" mapstructure:"ai_output_per_mtok"`
}

// DefaultRates returns the default cost estimates.
func DefaultRates() Rates {
	return Rates{
		DiscoveryPerCall:  0.032,
		EnrichmentPerCall: 0.01,
		EmailPerSend:      0.001,
		AIInputPerMTok:    0.80,
		AIOutputPerMTok:   4.00,
	}
}

// AICost computes the estimated cost of one AI call.
func (r Rates) AICost(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)/1e6)*r.AIInputPerMTok +
		(float64(outputTokens)/1e6)*r.AIOutputPerMTok
}

// Ledger accumulates API calls, tokens, and estimated cost for one
// execution. All methods are safe for concurrent use by the worker pool.
type Ledger struct {
	rates     Rates
	budgetUSD float64

	mu    sync.Mutex
	stats model.UsageStats
}

// NewLedger creates a ledger with the given rates and budget cap. A budget
// of 0 disables enforcement.
func NewLedger(rates Rates, budgetUSD float64) *Ledger {
	return &Ledger{rates: rates, budgetUSD: budgetUSD}
}

// RecordDiscovery meters one discovery provider call.
func (l *Ledger) RecordDiscovery(calls int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.DiscoveryCalls += calls
	l.stats.CostUSD += float64(calls) * l.rates.DiscoveryPerCall
}

// RecordEnrichment meters enrichment source calls.
func (l *Ledger) RecordEnrichment(calls int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.EnrichmentCalls += calls
	l.stats.CostUSD += float64(calls) * l.rates.EnrichmentPerCall
}

// RecordAI meters one AI request with its token usage.
func (l *Ledger) RecordAI(inputTokens, outputTokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.AIRequests++
	l.stats.AITokens += inputTokens + outputTokens
	l.stats.CostUSD += l.rates.AICost(inputTokens, outputTokens)
}

// RecordSend meters one delivered email.
func (l *Ledger) RecordSend() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.EmailsSent++
	l.stats.CostUSD += l.rates.EmailPerSend
}

// Snapshot returns a copy of the accumulated stats.
func (l *Ledger) Snapshot() model.UsageStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// CostUSD returns the accumulated estimated cost.
func (l *Ledger) CostUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.CostUSD
}

// BudgetUSD returns the configured budget cap (0 = unlimited).
func (l *Ledger) BudgetUSD() float64 { return l.budgetUSD }

// WouldExceed reports whether spending projectedUSD more would cross the
// budget cap. Consulted by the orchestrator before each batch.
func (l *Ledger) WouldExceed(projectedUSD float64) bool {
	if l.budgetUSD <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.CostUSD+projectedUSD > l.budgetUSD
}

// ProjectBatch estimates the cost of processing n leads through a full
// batch: one discovery page, per-lead enrichment (three capability calls),
// one AI request of typical size, and one send.
func (l *Ledger) ProjectBatch(n int) float64 {
	perLead := 3*l.rates.EnrichmentPerCall + l.rates.AICost(800, 300) + l.rates.EmailPerSend
	return l.rates.DiscoveryPerCall + float64(n)*perLead
}
