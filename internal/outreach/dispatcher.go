// Package outreach delivers personalized email through a rate-limited,
// retrying dispatcher.
package outreach

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/mailgate"
)

// Message is one outbound email bound to a lead.
type Message struct {
	LeadID    string
	To        string
	ToName    string
	FromName  string
	FromEmail string
	ReplyTo   string
	Subject   string
	Body      string
}

// Sender submits a message to the delivery provider and returns the
// provider message ID.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Meter receives one count per accepted send. Satisfied by the usage
// ledger.
type Meter interface {
	RecordSend()
}

// Dispatcher paces sends through a token bucket shared by all workers of
// an execution and retries transient provider failures. A message that
// exhausts its retries yields a SendFailure, which the caller counts
// without failing the execution.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	meter   Meter
	log     *zap.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMeter registers a usage meter for accepted sends.
func WithMeter(m Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

// WithRetryConfig overrides the send retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(d *Dispatcher) { d.retry = cfg }
}

// New creates a Dispatcher. ratePerMinute caps provider throughput;
// maxRetries is the number of retries after the first attempt.
func New(sender Sender, ratePerMinute float64, maxRetries int, opts ...Option) *Dispatcher {
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	if maxRetries < 0 {
		maxRetries = 3
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = maxRetries + 1
	retry.OnRetry = resilience.RetryLogger("mailgate", "send")

	d := &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), 1),
		retry:   retry,
		meter:   nil,
		log:     zap.L().With(zap.String("component", "outreach")),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch sends one message. Returns the provider message ID on success;
// a *resilience.SendFailure when retries are exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (string, error) {
	start := time.Now()
	attempts := 0

	id, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (string, error) {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
		attempts++
		return d.sender.Send(ctx, msg)
	})
	if err != nil {
		return "", &resilience.SendFailure{LeadID: msg.LeadID, Attempts: attempts, Err: err}
	}

	if d.meter != nil {
		d.meter.RecordSend()
	}
	d.log.Debug("message accepted",
		zap.String("lead_id", msg.LeadID),
		zap.String("message_id", id),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", time.Since(start)),
	)
	return id, nil
}

// GatewaySender adapts the mailgate client to the Sender contract,
// classifying gateway status codes into the retry taxonomy.
type GatewaySender struct {
	client mailgate.Client
}

// NewGatewaySender wraps a mailgate client.
func NewGatewaySender(client mailgate.Client) *GatewaySender {
	return &GatewaySender{client: client}
}

func (s *GatewaySender) Send(ctx context.Context, msg Message) (string, error) {
	resp, err := s.client.Send(ctx, mailgate.SendRequest{
		FromName:  msg.FromName,
		FromEmail: msg.FromEmail,
		ReplyTo:   msg.ReplyTo,
		To:        msg.To,
		ToName:    msg.ToName,
		Subject:   msg.Subject,
		Body:      msg.Body,
		TrackID:   msg.LeadID,
	})
	if err != nil {
		var se *mailgate.StatusError
		if errors.As(err, &se) {
			return "", resilience.ClassifyHTTPStatus("mailgate", se.Code, err)
		}
		return "", err
	}
	return resp.MessageID, nil
}
