package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/places"
)

type fakePlaces struct {
	resp *places.TextSearchResponse
	err  error
	last places.TextSearchRequest
}

func (f *fakePlaces) TextSearch(_ context.Context, req places.TextSearchRequest) (*places.TextSearchResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func place(name string, rating float64, reviews int, types ...string) places.Place {
	return places.Place{
		DisplayName:     places.DisplayName{Text: name},
		Rating:          rating,
		UserRatingCount: reviews,
		Types:           types,
	}
}

func TestQueryFromCriteria(t *testing.T) {
	c := model.TargetingCriteria{
		BusinessType:    "plumber",
		Location:        "Denver, CO",
		RadiusKM:        25,
		Keywords:        "emergency",
		MinRating:       4.0,
		MinReviews:      10,
		ExcludedTypes:   []string{"hardware_store"},
		TargetLeadCount: 50,
	}

	q := QueryFromCriteria(c, 20)
	assert.Equal(t, "plumber", q.BusinessType)
	assert.Equal(t, "Denver, CO", q.Location)
	assert.Equal(t, 4.0, q.MinRating)
	assert.Equal(t, []string{"hardware_store"}, q.ExcludedTypes)
	assert.Equal(t, 20, q.PageSize)
}

func TestBuildTextQuery(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{
			name:  "type and location",
			query: Query{BusinessType: "plumber", Location: "Denver, CO"},
			want:  "plumber in Denver, CO",
		},
		{
			name:  "industry differing from type",
			query: Query{BusinessType: "contractor", Industry: "roofing", Location: "Austin, TX"},
			want:  "contractor roofing in Austin, TX",
		},
		{
			name:  "industry equal to type collapses",
			query: Query{BusinessType: "Plumber", Industry: "plumber", Location: "Austin, TX"},
			want:  "Plumber in Austin, TX",
		},
		{
			name:  "keywords included",
			query: Query{BusinessType: "plumber", Keywords: "emergency 24h", Location: "Denver, CO"},
			want:  "plumber emergency 24h in Denver, CO",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildTextQuery(tt.query))
		})
	}
}

func TestPlacesProviderSearch(t *testing.T) {
	client := &fakePlaces{resp: &places.TextSearchResponse{
		Places: []places.Place{
			{
				DisplayName:         places.DisplayName{Text: "Acme Plumbing"},
				FormattedAddress:    "1 Main St, Denver, CO",
				NationalPhoneNumber: "(303) 555-0100",
				WebsiteURI:          "https://acme.example",
				PrimaryType:         "plumbing_contractor",
				Rating:              4.5,
				UserRatingCount:     120,
			},
		},
		NextPageToken: "tok-2",
	}}
	p := NewPlacesProvider(client)

	page, err := p.Search(context.Background(), Query{BusinessType: "plumber", Location: "Denver, CO", PageSize: 20}, "tok-1")
	require.NoError(t, err)

	assert.Equal(t, "tok-2", page.NextCursor)
	require.Len(t, page.Candidates, 1)
	got := page.Candidates[0]
	assert.Equal(t, "Acme Plumbing", got.Company)
	assert.Equal(t, "(303) 555-0100", got.Phone)
	assert.Equal(t, "plumbing contractor", got.Industry)
	assert.Equal(t, 120, got.ReviewCount)
	assert.Equal(t, "places", got.Source)

	assert.Equal(t, "tok-1", client.last.PageToken)
	assert.Equal(t, 20, client.last.PageSize)
}

func TestPlacesProviderFilters(t *testing.T) {
	client := &fakePlaces{resp: &places.TextSearchResponse{
		Places: []places.Place{
			place("Keeper", 4.5, 80),
			place("", 4.5, 80),
			place("Low Rating", 3.0, 80),
			place("Few Reviews", 4.5, 2),
			place("Excluded", 4.5, 80, "hardware_store", "store"),
		},
	}}
	p := NewPlacesProvider(client)

	page, err := p.Search(context.Background(), Query{
		MinRating:     4.0,
		MinReviews:    10,
		ExcludedTypes: []string{"Hardware_Store"},
	}, "")
	require.NoError(t, err)

	require.Len(t, page.Candidates, 1)
	assert.Equal(t, "Keeper", page.Candidates[0].Company)
}

func TestPlacesProviderClassifiesStatus(t *testing.T) {
	client := &fakePlaces{err: &places.StatusError{Code: 429, Body: "quota"}}
	p := NewPlacesProvider(client)

	_, err := p.Search(context.Background(), Query{}, "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	client.err = &places.StatusError{Code: 403, Body: "key invalid"}
	_, err = p.Search(context.Background(), Query{}, "")
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}
