package main

import (
	"context"
	"time"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/discovery"
	"github.com/sells-group/outreach-engine/internal/engine"
	"github.com/sells-group/outreach-engine/internal/enrich"
	"github.com/sells-group/outreach-engine/internal/outreach"
	"github.com/sells-group/outreach-engine/internal/personalize"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/scoring"
	"github.com/sells-group/outreach-engine/internal/store"
	"github.com/sells-group/outreach-engine/internal/usage"
	"github.com/sells-group/outreach-engine/pkg/aiclient"
	"github.com/sells-group/outreach-engine/pkg/enrichsrc"
	"github.com/sells-group/outreach-engine/pkg/mailgate"
	"github.com/sells-group/outreach-engine/pkg/places"
	sfpkg "github.com/sells-group/outreach-engine/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initScorer() (*scoring.Scorer, error) {
	policy := scoring.DefaultPolicy()
	if cfg.Scoring.PolicyPath != "" {
		p, err := scoring.LoadPolicy(cfg.Scoring.PolicyPath)
		if err != nil {
			return nil, err
		}
		policy = p
	}
	return scoring.New(policy), nil
}

// initEngine builds the orchestrator with per-execution stage factories
// bound to the configured providers.
func initEngine(st store.Store) (*engine.Engine, error) {
	scorer, err := initScorer()
	if err != nil {
		return nil, err
	}

	if cfg.Discovery.Provider != "places" {
		return nil, eris.Errorf("unsupported discovery provider: %s", cfg.Discovery.Provider)
	}
	placesClient := places.NewClient(cfg.Discovery.Key,
		places.WithBaseURL(cfg.Discovery.BaseURL),
		places.WithRateLimit(cfg.Discovery.RateLimit),
	)
	provider := discovery.NewPlacesProvider(placesClient)

	discoveryRetry := resilience.DefaultRetryConfig()
	if cfg.Discovery.RetryAttempts > 0 {
		discoveryRetry.MaxAttempts = cfg.Discovery.RetryAttempts
	}
	discoveryRetry.OnRetry = resilience.RetryLogger("discovery", "search")

	sources := enrich.DefaultSources(
		enrichClient(cfg.Enrichment.CompanyInfoKey, cfg.Enrichment.CompanyInfoBaseURL),
		enrichClient(cfg.Enrichment.SocialKey, cfg.Enrichment.SocialBaseURL),
		enrichClient(cfg.Enrichment.ContactKey, cfg.Enrichment.ContactBaseURL),
	)
	breaker := resilience.CircuitConfig{
		FailureThreshold: cfg.Enrichment.CircuitThreshold,
		ResetTimeout:     time.Duration(cfg.Enrichment.CircuitResetSeconds) * time.Second,
	}
	cacheTTL := time.Duration(cfg.Enrichment.CacheTTLMinutes) * time.Minute

	var ai aiclient.Client
	if cfg.AI.Key != "" {
		ai = aiclient.NewClient(cfg.AI.Key)
	}

	mailClient := mailgate.NewClient(cfg.Mail.Key, mailgate.WithBaseURL(cfg.Mail.BaseURL))

	deps := engine.Deps{
		Store:  st,
		Rates:  rates(),
		Scorer: scorer,

		NewSource: func(q discovery.Query, m discovery.Meter) engine.CandidateSource {
			return discovery.NewStream(provider, q,
				discovery.WithRetryConfig(discoveryRetry),
				discovery.WithMeter(m),
			)
		},
		NewEnricher: func(m enrich.Meter) engine.LeadEnricher {
			opts := []enrich.Option{
				enrich.WithCacheTTL(cacheTTL),
				enrich.WithBreakerConfig(breaker),
			}
			if m != nil {
				opts = append(opts, enrich.WithMeter(m))
			}
			return enrich.New(sources, opts...)
		},
		NewPersonalizer: func(m personalize.Meter) engine.ContentPersonalizer {
			opts := []personalize.Option{
				personalize.WithMaxTokens(int64(cfg.AI.MaxTokens)),
			}
			if m != nil {
				opts = append(opts, personalize.WithMeter(m))
			}
			return personalize.New(ai, cfg.AI.Model, opts...)
		},
		NewDispatcher: func(m outreach.Meter) engine.MessageDispatcher {
			var opts []outreach.Option
			if m != nil {
				opts = append(opts, outreach.WithMeter(m))
			}
			return outreach.New(outreach.NewGatewaySender(mailClient),
				cfg.Engine.SendRatePerMinute, cfg.Engine.MaxSendRetries, opts...)
		},

		BatchSize:        cfg.Engine.BatchSize,
		Workers:          cfg.Engine.Workers,
		PageSize:         cfg.Discovery.PageSize,
		DefaultBudgetUSD: cfg.Engine.DefaultBudgetUSD,
		GlobalDedup:      cfg.Dedup.Scope != "campaign",
	}
	return engine.New(deps), nil
}

func enrichClient(key, baseURL string) *enrichsrc.Client {
	var opts []enrichsrc.Option
	if baseURL != "" {
		opts = append(opts, enrichsrc.WithBaseURL(baseURL))
	}
	return enrichsrc.NewClient(key, opts...)
}

func rates() usage.Rates {
	r := usage.Rates{
		DiscoveryPerCall:  cfg.Pricing.DiscoveryPerCall,
		EnrichmentPerCall: cfg.Pricing.EnrichmentPerCall,
		EmailPerSend:      cfg.Pricing.EmailPerSend,
		AIInputPerMTok:    cfg.Pricing.AIInputPerMTok,
		AIOutputPerMTok:   cfg.Pricing.AIOutputPerMTok,
	}
	if r == (usage.Rates{}) {
		r = usage.DefaultRates()
	}
	return r
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ConsumerKey == "" {
		return nil, eris.New("salesforce consumer key is required (OUTREACH_SALESFORCE_CONSUMER_KEY)")
	}

	sf, err := gosf.Init(gosf.Creds{
		Domain:         cfg.Salesforce.Domain,
		Username:       cfg.Salesforce.Username,
		Password:       cfg.Salesforce.Password,
		SecurityToken:  cfg.Salesforce.SecurityToken,
		ConsumerKey:    cfg.Salesforce.ConsumerKey,
		ConsumerSecret: cfg.Salesforce.ConsumerSecret,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf), nil
}
