package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/dedup"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
)

// Meter receives one count per source API call. Satisfied by the usage
// ledger.
type Meter interface {
	RecordEnrichment(calls int64)
}

// Enricher runs every registered source against a lead and merges the
// results. Each source sits behind its own circuit breaker so a
// misbehaving provider stops receiving calls without affecting the rest.
type Enricher struct {
	sources  []Source
	breakers map[string]*resilience.CircuitBreaker
	cache    *companyCache
	meter    Meter
	log      *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithMeter registers a usage meter for source calls.
func WithMeter(m Meter) Option {
	return func(e *Enricher) { e.meter = m }
}

// WithCacheTTL overrides the company cache TTL (default 1h).
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Enricher) { e.cache.ttl = ttl }
}

// WithBreakerConfig overrides the per-source circuit breaker config.
func WithBreakerConfig(cfg resilience.CircuitConfig) Option {
	return func(e *Enricher) {
		for _, src := range e.sources {
			e.breakers[src.Name()] = resilience.NewCircuitBreaker(cfg)
		}
	}
}

// New creates an enricher over the given sources.
func New(sources []Source, opts ...Option) *Enricher {
	e := &Enricher{
		sources:  sources,
		breakers: make(map[string]*resilience.CircuitBreaker, len(sources)),
		cache:    newCompanyCache(time.Hour),
		log:      zap.L().With(zap.String("component", "enrich")),
	}
	for _, src := range sources {
		name := src.Name()
		e.breakers[name] = resilience.NewCircuitBreaker(resilience.CircuitConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				e.log.Warn("enrichment source circuit state change",
					zap.String("source", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich merges source data into the lead in place. Source failures are
// logged and skipped; only context cancellation aborts. Fields the user has
// edited by hand are never overwritten.
func (e *Enricher) Enrich(ctx context.Context, lead *model.Lead) error {
	cacheKey := dedup.CompanyKey(lead.Company, lead.Location)
	if fields, ok := e.cache.get(cacheKey); ok {
		for source, f := range fields {
			merge(lead, source, f)
		}
		return nil
	}

	collected := make(map[string]map[string]string)
	for _, src := range e.sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := src.Name()
		var result *Result
		err := e.breakers[name].Execute(ctx, func(ctx context.Context) error {
			if e.meter != nil {
				e.meter.RecordEnrichment(1)
			}
			var lerr error
			result, lerr = src.Lookup(ctx, lead)
			return lerr
		})
		if err != nil {
			e.log.Warn("enrichment source failed",
				zap.String("source", name),
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			continue
		}
		if result == nil || len(result.Fields) == 0 {
			continue
		}

		merge(lead, name, result.Fields)
		collected[name] = result.Fields
	}

	if cacheKey != "" && len(collected) > 0 {
		e.cache.set(cacheKey, collected)
	}
	return nil
}

// merge applies one source's fields to the lead. Core contact fields only
// fill gaps; payload fields overwrite earlier sources unless marked manual.
func merge(lead *model.Lead, source string, fields map[string]string) {
	now := time.Now().UTC()
	for key, value := range fields {
		value = strings.TrimSpace(value)
		if value == "" || lead.ManualFields[key] {
			continue
		}

		switch key {
		case FieldEmail:
			if lead.Email == "" {
				lead.Email = value
			}
		case FieldPhone:
			if lead.Phone == "" {
				lead.Phone = CleanPhone(value)
			}
		case FieldWebsite:
			if lead.Website == "" {
				lead.Website = value
			}
		case FieldIndustry:
			if lead.Industry == "" {
				lead.Industry = value
			}
		case FieldName:
			if lead.Name == "" {
				lead.Name = value
			}
		default:
			if lead.Enrichment == nil {
				lead.Enrichment = make(map[string]model.EnrichmentField)
			}
			lead.Enrichment[key] = model.EnrichmentField{
				Value:     value,
				Source:    source,
				UpdatedAt: now,
			}
		}
	}
}

// CleanPhone strips formatting from a phone number, keeping digits and a
// leading plus. A bare 11-digit number starting with 1 is normalized to
// +1 form.
func CleanPhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		return "+" + digits
	}
	return digits
}

// companyCache holds merged source results per normalized company key so
// repeated candidates from the same company cost one provider pass.
type companyCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	fields  map[string]map[string]string
	expires time.Time
}

func newCompanyCache(ttl time.Duration) *companyCache {
	return &companyCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *companyCache) get(key string) (map[string]map[string]string, bool) {
	if key == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.fields, true
}

func (c *companyCache) set(key string, fields map[string]map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{fields: fields, expires: time.Now().Add(c.ttl)}
}
