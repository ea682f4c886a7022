// Package enrich augments leads with data from capability sources.
package enrich

import (
	"context"

	"github.com/sells-group/outreach-engine/internal/model"
)

// Capability labels what kind of data a source provides.
type Capability string

const (
	CapabilityCompanyInfo      Capability = "company-info"
	CapabilitySocialProfile    Capability = "social-profile"
	CapabilityContactDiscovery Capability = "contact-discovery"
)

// Core field keys a source may return. These update the lead record itself;
// every other key lands in the enrichment payload.
const (
	FieldEmail    = "email"
	FieldPhone    = "phone"
	FieldWebsite  = "website"
	FieldIndustry = "industry"
	FieldName     = "name"
)

// Result is the field set one source produced for a lead.
type Result struct {
	Fields map[string]string
}

// Source is one external enrichment provider. Lookup failures are isolated
// per source; a failing source never blocks the others.
type Source interface {
	Name() string
	Capabilities() []Capability
	Lookup(ctx context.Context, lead *model.Lead) (*Result, error)
}
