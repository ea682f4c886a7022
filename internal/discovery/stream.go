package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

// Meter receives one count per provider API call. Satisfied by the usage
// ledger.
type Meter interface {
	RecordDiscovery(calls int64)
}

// Stream pulls candidates lazily from a Provider, page by page, retrying
// transient provider errors. It is consumed by a single goroutine (the
// orchestrator's batch loop).
type Stream struct {
	provider Provider
	query    Query
	retry    resilience.RetryConfig
	meter    Meter
	log      *zap.Logger

	cursor    string
	exhausted bool
	buf       []Candidate
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithRetryConfig overrides the default retry policy for provider calls.
func WithRetryConfig(cfg resilience.RetryConfig) StreamOption {
	return func(s *Stream) { s.retry = cfg }
}

// WithMeter registers a usage meter for provider calls.
func WithMeter(m Meter) StreamOption {
	return func(s *Stream) { s.meter = m }
}

// NewStream creates a stream over the provider for one execution.
func NewStream(p Provider, query Query, opts ...StreamOption) *Stream {
	s := &Stream{
		provider: p,
		query:    query,
		retry:    resilience.DefaultRetryConfig(),
		log:      zap.L().With(zap.String("component", "discovery")),
	}
	s.retry.OnRetry = resilience.RetryLogger("discovery", "search")
	for _, o := range opts {
		o(s)
	}
	return s
}

// Next returns up to n candidates, pulling provider pages as needed. A nil
// slice means the provider is exhausted. Transient provider errors are
// retried; errors that survive the retry policy are returned to the caller.
func (s *Stream) Next(ctx context.Context, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}

	for len(s.buf) < n && !s.exhausted {
		page, err := s.fetchPage(ctx)
		if err != nil {
			return nil, err
		}

		s.buf = append(s.buf, page.Candidates...)
		s.cursor = page.NextCursor
		if s.cursor == "" {
			s.exhausted = true
		}
	}

	if len(s.buf) == 0 {
		return nil, nil
	}
	if n > len(s.buf) {
		n = len(s.buf)
	}
	batch := s.buf[:n]
	s.buf = s.buf[n:]
	return batch, nil
}

// Exhausted reports whether the provider has no more results.
func (s *Stream) Exhausted() bool {
	return s.exhausted && len(s.buf) == 0
}

func (s *Stream) fetchPage(ctx context.Context) (*Page, error) {
	return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*Page, error) {
		if s.meter != nil {
			s.meter.RecordDiscovery(1)
		}
		page, err := s.provider.Search(ctx, s.query, s.cursor)
		if err != nil {
			return nil, err
		}
		s.log.Debug("provider page fetched",
			zap.Int("candidates", len(page.Candidates)),
			zap.Bool("has_next", page.NextCursor != ""),
		)
		return page, nil
	})
}
