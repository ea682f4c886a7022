// Package scoring computes the composite lead score and quality tier.
package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights are the relative contributions of each sub-metric to the
// composite score. They should sum to 1.0.
type Weights struct {
	Completeness   float64 `yaml:"completeness"`
	CompanyProfile float64 `yaml:"company_profile"`
	ContactQuality float64 `yaml:"contact_quality"`
	Engagement     float64 `yaml:"engagement"`
}

// Thresholds are the minimum scores for each quality tier. Anything below
// Cold is Unqualified.
type Thresholds struct {
	Hot  float64 `yaml:"hot"`
	Warm float64 `yaml:"warm"`
	Cold float64 `yaml:"cold"`
}

// Policy bundles the configurable scoring parameters.
type Policy struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`
}

// DefaultPolicy returns the standard scoring policy: completeness 40%,
// company profile 30%, contact quality 20%, engagement 10%; tiers at
// 75/50/25.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			Completeness:   0.40,
			CompanyProfile: 0.30,
			ContactQuality: 0.20,
			Engagement:     0.10,
		},
		Thresholds: Thresholds{
			Hot:  75,
			Warm: 50,
			Cold: 25,
		},
	}
}

// LoadPolicy reads a scoring policy from a yaml file. Zero-valued fields
// fall back to the defaults so a partial file only overrides what it names.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "scoring: read policy %s", path)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return p, eris.Wrapf(err, "scoring: parse policy %s", path)
	}

	if override.Weights != (Weights{}) {
		p.Weights = override.Weights
	}
	if override.Thresholds != (Thresholds{}) {
		p.Thresholds = override.Thresholds
	}

	if err := p.Validate(); err != nil {
		return DefaultPolicy(), err
	}
	return p, nil
}

// Validate checks a policy for internal consistency.
func (p Policy) Validate() error {
	sum := p.Weights.Completeness + p.Weights.CompanyProfile + p.Weights.ContactQuality + p.Weights.Engagement
	if sum < 0.99 || sum > 1.01 {
		return eris.Errorf("scoring: weights sum to %.3f, want 1.0", sum)
	}
	if p.Thresholds.Hot <= p.Thresholds.Warm || p.Thresholds.Warm <= p.Thresholds.Cold {
		return eris.New("scoring: tier thresholds must be strictly decreasing")
	}
	return nil
}
