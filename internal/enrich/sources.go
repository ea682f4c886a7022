package enrich

import (
	"context"
	"errors"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/pkg/enrichsrc"
)

// DefaultSources returns the standard capability set. Each capability may
// use its own API client; passing the same client for all three is fine.
func DefaultSources(company, social, contact *enrichsrc.Client) []Source {
	return []Source{
		&companyInfoSource{client: company},
		&socialProfileSource{client: social},
		&contactDiscoverySource{client: contact},
	}
}

type companyInfoSource struct {
	client *enrichsrc.Client
}

func (s *companyInfoSource) Name() string { return "company-info" }

func (s *companyInfoSource) Capabilities() []Capability {
	return []Capability{CapabilityCompanyInfo}
}

func (s *companyInfoSource) Lookup(ctx context.Context, lead *model.Lead) (*Result, error) {
	info, err := s.client.LookupCompany(ctx, lead.Company, lead.Website, lead.Location)
	if err != nil {
		return nil, classify("company-info", err)
	}
	return &Result{Fields: map[string]string{
		"description":    info.Description,
		"employee_count": info.EmployeeCount,
		"founded":        info.Founded,
		"revenue_range":  info.RevenueRange,
		FieldIndustry:    info.Industry,
		FieldWebsite:     info.Website,
	}}, nil
}

type socialProfileSource struct {
	client *enrichsrc.Client
}

func (s *socialProfileSource) Name() string { return "social-profile" }

func (s *socialProfileSource) Capabilities() []Capability {
	return []Capability{CapabilitySocialProfile}
}

func (s *socialProfileSource) Lookup(ctx context.Context, lead *model.Lead) (*Result, error) {
	profile, err := s.client.LookupSocial(ctx, lead.Company, lead.Website)
	if err != nil {
		return nil, classify("social-profile", err)
	}
	return &Result{Fields: map[string]string{
		"linkedin_url": profile.LinkedInURL,
		"twitter_url":  profile.TwitterURL,
		"facebook_url": profile.FacebookURL,
	}}, nil
}

type contactDiscoverySource struct {
	client *enrichsrc.Client
}

func (s *contactDiscoverySource) Name() string { return "contact-discovery" }

func (s *contactDiscoverySource) Capabilities() []Capability {
	return []Capability{CapabilityContactDiscovery}
}

func (s *contactDiscoverySource) Lookup(ctx context.Context, lead *model.Lead) (*Result, error) {
	contacts, err := s.client.DiscoverContacts(ctx, lead.Company, lead.Website)
	if err != nil {
		return nil, classify("contact-discovery", err)
	}
	if len(contacts) == 0 {
		return &Result{}, nil
	}

	best := contacts[0]
	return &Result{Fields: map[string]string{
		FieldName:       best.Name,
		FieldEmail:      best.Email,
		FieldPhone:      best.Phone,
		"contact_title": best.Title,
	}}, nil
}

// classify maps API status errors onto the transient/permanent taxonomy so
// the circuit breakers and logs see the right failure class.
func classify(source string, err error) error {
	var se *enrichsrc.StatusError
	if errors.As(err, &se) {
		return resilience.ClassifyHTTPStatus(source, se.Code, err)
	}
	return err
}
