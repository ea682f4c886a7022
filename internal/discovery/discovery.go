// Package discovery finds candidate businesses matching a campaign's
// targeting criteria through a paged provider.
package discovery

import (
	"context"
)

// Candidate is a raw business returned by a discovery provider, before
// dedup and enrichment.
type Candidate struct {
	Company     string  `json:"company"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Website     string  `json:"website,omitempty"`
	Location    string  `json:"location,omitempty"`
	Industry    string  `json:"industry,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	ReviewCount int     `json:"review_count,omitempty"`
	Source      string  `json:"source"`
}

// Page is one provider result page. An empty NextCursor means the provider
// has no more results for the criteria.
type Page struct {
	Candidates []Candidate
	NextCursor string
}

// Provider searches for businesses matching criteria. Implementations map
// a vendor API onto the paged contract.
type Provider interface {
	Search(ctx context.Context, query Query, cursor string) (*Page, error)
}

// Query is the provider-facing slice of the targeting criteria.
type Query struct {
	BusinessType  string
	Industry      string
	Location      string
	RadiusKM      int
	Keywords      string
	MinRating     float64
	MinReviews    int
	ExcludedTypes []string
	PageSize      int
}
