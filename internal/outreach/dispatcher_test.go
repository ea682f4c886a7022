package outreach

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/mailgate"
)

type fakeSender struct {
	failures int // errors to return before succeeding
	err      error
	calls    int
	last     Message
}

func (s *fakeSender) Send(_ context.Context, msg Message) (string, error) {
	s.calls++
	s.last = msg
	if s.calls <= s.failures {
		return "", s.err
	}
	return "msg-123", nil
}

type sendMeter struct{ sends int }

func (m *sendMeter) RecordSend() { m.sends++ }

func fastRetry(maxAttempts int) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.InitialBackoff = time.Microsecond
	cfg.MaxBackoff = time.Millisecond
	cfg.JitterFraction = 0
	return cfg
}

func testMessage() Message {
	return Message{
		LeadID:    "lead-1",
		To:        "joe@acme.example",
		ToName:    "Joe Smith",
		FromEmail: "ann@sells.example",
		Subject:   "hello",
		Body:      "body",
	}
}

func TestDispatchSuccess(t *testing.T) {
	sender := &fakeSender{}
	meter := &sendMeter{}
	d := New(sender, 6000, 3, WithMeter(meter), WithRetryConfig(fastRetry(4)))

	id, err := d.Dispatch(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, "msg-123", id)
	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, 1, meter.sends)
	assert.Equal(t, "joe@acme.example", sender.last.To)
}

func TestDispatchRetriesTransient(t *testing.T) {
	sender := &fakeSender{
		failures: 2,
		err:      resilience.NewTransientError(eris.New("gateway busy"), 503),
	}
	meter := &sendMeter{}
	d := New(sender, 6000, 3, WithMeter(meter), WithRetryConfig(fastRetry(4)))

	id, err := d.Dispatch(context.Background(), testMessage())
	require.NoError(t, err)

	assert.Equal(t, "msg-123", id)
	assert.Equal(t, 3, sender.calls)
	assert.Equal(t, 1, meter.sends, "one accepted send regardless of retries")
}

func TestDispatchExhaustsRetries(t *testing.T) {
	sender := &fakeSender{
		failures: 100,
		err:      resilience.NewTransientError(eris.New("gateway busy"), 503),
	}
	meter := &sendMeter{}
	d := New(sender, 6000, 3, WithMeter(meter), WithRetryConfig(fastRetry(4)))

	_, err := d.Dispatch(context.Background(), testMessage())
	require.Error(t, err)

	var failure *resilience.SendFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "lead-1", failure.LeadID)
	assert.Equal(t, 4, failure.Attempts)
	assert.Equal(t, 4, sender.calls)
	assert.Zero(t, meter.sends)
}

func TestDispatchPermanentErrorNoRetry(t *testing.T) {
	sender := &fakeSender{
		failures: 100,
		err:      resilience.NewPermanentError("mailgate", eris.New("key revoked")),
	}
	d := New(sender, 6000, 3, WithRetryConfig(fastRetry(4)))

	_, err := d.Dispatch(context.Background(), testMessage())
	require.Error(t, err)

	var failure *resilience.SendFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Attempts, "permanent errors are not retried")
	assert.Equal(t, 1, sender.calls)
}

func TestDispatchCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := &fakeSender{}
	d := New(sender, 6000, 3, WithRetryConfig(fastRetry(4)))

	_, err := d.Dispatch(ctx, testMessage())
	require.Error(t, err)
	assert.Zero(t, sender.calls, "limiter wait aborts before the first send")
}

type fakeGateway struct {
	resp *mailgate.SendResponse
	err  error
	last mailgate.SendRequest
}

func (g *fakeGateway) Send(_ context.Context, req mailgate.SendRequest) (*mailgate.SendResponse, error) {
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func TestGatewaySenderClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
		permanent bool
	}{
		{"rate limited", 429, true, false},
		{"server error", 502, true, false},
		{"unauthorized", 401, false, true},
		{"bad request passes through", 400, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{err: &mailgate.StatusError{Code: tt.code, Message: "nope"}}
			s := NewGatewaySender(gw)

			_, err := s.Send(context.Background(), testMessage())
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, tt.permanent, resilience.IsPermanent(err))
		})
	}
}

func TestGatewaySenderMapsFields(t *testing.T) {
	gw := &fakeGateway{resp: &mailgate.SendResponse{MessageID: "gw-9"}}
	s := NewGatewaySender(gw)

	msg := testMessage()
	msg.ReplyTo = "replies@sells.example"

	id, err := s.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "gw-9", id)
	assert.Equal(t, "joe@acme.example", gw.last.To)
	assert.Equal(t, "replies@sells.example", gw.last.ReplyTo)
	assert.Equal(t, "lead-1", gw.last.TrackID, "lead id rides along for engagement correlation")
}
