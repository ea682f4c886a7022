package discovery

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/places"
)

// PlacesProvider adapts the Places text search API to the Provider contract.
type PlacesProvider struct {
	client places.Client
}

// NewPlacesProvider wraps a places client.
func NewPlacesProvider(client places.Client) *PlacesProvider {
	return &PlacesProvider{client: client}
}

// QueryFromCriteria maps campaign targeting criteria onto a provider query.
func QueryFromCriteria(c model.TargetingCriteria, pageSize int) Query {
	return Query{
		BusinessType:  c.BusinessType,
		Industry:      c.Industry,
		Location:      c.Location,
		RadiusKM:      c.RadiusKM,
		Keywords:      c.Keywords,
		MinRating:     c.MinRating,
		MinReviews:    c.MinReviews,
		ExcludedTypes: c.ExcludedTypes,
		PageSize:      pageSize,
	}
}

// Search runs one page of text search and filters results against the
// criteria the API cannot express (review counts, excluded types).
func (p *PlacesProvider) Search(ctx context.Context, query Query, cursor string) (*Page, error) {
	resp, err := p.client.TextSearch(ctx, places.TextSearchRequest{
		TextQuery: buildTextQuery(query),
		PageSize:  query.PageSize,
		PageToken: cursor,
		MinRating: query.MinRating,
	})
	if err != nil {
		var se *places.StatusError
		if errors.As(err, &se) {
			return nil, resilience.ClassifyHTTPStatus("places", se.Code, err)
		}
		return nil, err
	}

	page := &Page{NextCursor: resp.NextPageToken}
	for _, pl := range resp.Places {
		if !matches(pl, query) {
			continue
		}
		page.Candidates = append(page.Candidates, Candidate{
			Company:     pl.DisplayName.Text,
			Phone:       pl.NationalPhoneNumber,
			Website:     pl.WebsiteURI,
			Location:    pl.FormattedAddress,
			Industry:    industryFromType(pl.PrimaryType),
			Rating:      pl.Rating,
			ReviewCount: pl.UserRatingCount,
			Source:      "places",
		})
	}
	return page, nil
}

// buildTextQuery assembles the free-text query the way a human would type
// it: "coffee shop wholesale in Portland, OR".
func buildTextQuery(q Query) string {
	parts := make([]string, 0, 4)
	if q.BusinessType != "" {
		parts = append(parts, q.BusinessType)
	}
	if q.Industry != "" && !strings.EqualFold(q.Industry, q.BusinessType) {
		parts = append(parts, q.Industry)
	}
	if q.Keywords != "" {
		parts = append(parts, q.Keywords)
	}
	if q.Location != "" {
		parts = append(parts, "in "+q.Location)
	}
	return strings.Join(parts, " ")
}

func matches(pl places.Place, q Query) bool {
	if pl.DisplayName.Text == "" {
		return false
	}
	if q.MinRating > 0 && pl.Rating < q.MinRating {
		return false
	}
	if q.MinReviews > 0 && pl.UserRatingCount < q.MinReviews {
		return false
	}
	for _, excluded := range q.ExcludedTypes {
		for _, t := range pl.Types {
			if strings.EqualFold(t, excluded) {
				return false
			}
		}
	}
	return true
}

// industryFromType converts an API type like "coffee_shop" to a readable
// industry label.
func industryFromType(t string) string {
	if t == "" {
		return ""
	}
	return strings.ReplaceAll(t, "_", " ")
}
