package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("boom"), false},
		{"transient wrapper", NewTransientError(eris.New("overloaded"), 503), true},
		{"wrapped transient", eris.Wrap(NewTransientError(eris.New("overloaded"), 503), "outer"), true},
		{"permanent wrapper", NewPermanentError("provider", eris.New("denied")), false},
		{"connection reset string", eris.New("read tcp: connection reset by peer"), true},
		{"io timeout string", eris.New("dial tcp: i/o timeout"), true},
		{"no such host string", eris.New("lookup api.example.com: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := eris.New("request failed")

	tests := []struct {
		name      string
		status    int
		transient bool
		permanent bool
	}{
		{"rate limited", 429, true, false},
		{"server error", 500, true, false},
		{"unauthorized", 401, false, true},
		{"payment required", 402, false, true},
		{"forbidden", 403, false, true},
		{"not found passes through", 404, false, false},
		{"bad request passes through", 400, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyHTTPStatus("provider", tt.status, base)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	conflict := &ConflictError{CampaignID: "c1", ExecutionID: "e1"}
	validation := NewValidationError(eris.New("bad criteria"))
	budget := &BudgetExceededError{BudgetUSD: 25, ProjectedUSD: 26.5}
	permanent := NewPermanentError("places", eris.New("quota"))

	assert.True(t, IsConflict(conflict))
	assert.False(t, IsConflict(validation))

	assert.True(t, IsValidation(validation))
	assert.True(t, IsBudgetExceeded(budget))
	assert.True(t, IsPermanent(permanent))

	assert.True(t, IsFatal(validation))
	assert.True(t, IsFatal(budget))
	assert.True(t, IsFatal(permanent))
	assert.False(t, IsFatal(NewTransientError(eris.New("overloaded"), 503)))
	assert.False(t, IsFatal(conflict))
}

func TestErrorMessages(t *testing.T) {
	conflict := &ConflictError{CampaignID: "c1", ExecutionID: "e1"}
	assert.Contains(t, conflict.Error(), "c1")
	assert.Contains(t, conflict.Error(), "e1")

	budget := &BudgetExceededError{BudgetUSD: 25, ProjectedUSD: 26.5}
	assert.Contains(t, budget.Error(), "$26.5")
	assert.Contains(t, budget.Error(), "$25.00")

	send := &SendFailure{LeadID: "l1", Attempts: 4, Err: eris.New("gateway down")}
	assert.Contains(t, send.Error(), "l1")
	assert.Contains(t, send.Error(), "4 attempts")
}
