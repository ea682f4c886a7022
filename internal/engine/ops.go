package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

// ScoreLead recomputes and persists the score of a single lead outside any
// execution, returning the updated record.
func (e *Engine) ScoreLead(ctx context.Context, leadID string) (*model.Lead, error) {
	lead, err := e.deps.Store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	lead.Score, lead.Quality = e.deps.Scorer.Score(lead)
	lead.UpdatedAt = time.Now()
	if err := e.deps.Store.UpdateLead(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// EnrichLead runs the enrichment sources for a single lead on demand,
// rescores it, and persists the result. It returns the updated lead and
// the enrichment keys now populated. Unmetered: on-demand enrichment is
// not charged against any execution budget.
func (e *Engine) EnrichLead(ctx context.Context, leadID string) (*model.Lead, []string, error) {
	lead, err := e.deps.Store.GetLead(ctx, leadID)
	if err != nil {
		return nil, nil, err
	}

	enricher := e.deps.NewEnricher(nil)
	if err := enricher.Enrich(ctx, lead); err != nil {
		return nil, nil, err
	}

	lead.Score, lead.Quality = e.deps.Scorer.Score(lead)
	lead.UpdatedAt = time.Now()
	if err := e.deps.Store.UpdateLead(ctx, lead); err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(lead.Enrichment))
	for key := range lead.Enrichment {
		keys = append(keys, key)
	}
	e.log.Info("lead enriched on demand",
		zap.String("lead_id", leadID),
		zap.Int("fields", len(keys)),
		zap.Float64("score", lead.Score),
	)
	return lead, keys, nil
}
