package model

import "time"

// Template is an outreach template with personalization instructions and
// usage counters maintained by the dispatcher and the event consumer.
type Template struct {
	ID           string `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Subject      string `json:"subject" db:"subject"`
	Body         string `json:"body" db:"body"`
	Instructions string `json:"instructions,omitempty" db:"instructions"`

	UsageCount     int64      `json:"usage_count" db:"usage_count"`
	TotalSent      int64      `json:"total_sent" db:"total_sent"`
	TotalResponses int64      `json:"total_responses" db:"total_responses"`
	LastUsed       *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// SuccessRate returns responses per sent email as a percentage.
func (t *Template) SuccessRate() float64 {
	if t.TotalSent == 0 {
		return 0
	}
	return float64(t.TotalResponses) / float64(t.TotalSent) * 100
}

// CompanyProfile describes the sending organization referenced by a campaign,
// used as context for the AI personalization pass.
type CompanyProfile struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	Signature   string `json:"signature,omitempty" db:"signature"`
	FromName    string `json:"from_name" db:"from_name"`
	FromEmail   string `json:"from_email" db:"from_email"`
	ReplyTo     string `json:"reply_to,omitempty" db:"reply_to"`
}
