package scoring

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
)

// expectedFields are the contact attributes counted toward data completeness.
var expectedFields = []func(*model.Lead) string{
	func(l *model.Lead) string { return l.Name },
	func(l *model.Lead) string { return l.Company },
	func(l *model.Lead) string { return l.Email },
	func(l *model.Lead) string { return l.Phone },
	func(l *model.Lead) string { return l.Website },
	func(l *model.Lead) string { return l.Location },
	func(l *model.Lead) string { return l.Industry },
}

// profileKeys are the enrichment payload keys counted toward company
// profile quality.
var profileKeys = []string{
	"description", "employee_count", "founded", "linkedin_url",
	"twitter_url", "revenue_range",
}

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// Scorer maps lead attributes to a deterministic score in [0,100] and a
// quality tier. Identical inputs always yield identical outputs.
type Scorer struct {
	policy Policy
}

// New creates a Scorer with the given policy.
func New(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score computes the composite score and tier for a lead. The lead is not
// mutated; callers assign the returned values.
func (s *Scorer) Score(lead *model.Lead) (float64, model.QualityTier) {
	w := s.policy.Weights
	raw := w.Completeness*completeness(lead) +
		w.CompanyProfile*profileQuality(lead) +
		w.ContactQuality*contactQuality(lead) +
		w.Engagement*engagementPotential(lead)

	score := clamp(raw*100, 0, 100)
	return score, s.Tier(score)
}

// Tier maps a score to its quality tier under the policy thresholds.
func (s *Scorer) Tier(score float64) model.QualityTier {
	t := s.policy.Thresholds
	switch {
	case score >= t.Hot:
		return model.TierHot
	case score >= t.Warm:
		return model.TierWarm
	case score >= t.Cold:
		return model.TierCold
	default:
		return model.TierUnqualified
	}
}

// completeness is the fraction of expected contact fields populated.
func completeness(lead *model.Lead) float64 {
	populated := 0
	for _, get := range expectedFields {
		if strings.TrimSpace(get(lead)) != "" {
			populated++
		}
	}
	return float64(populated) / float64(len(expectedFields))
}

// profileQuality measures the richness of the enrichment payload.
func profileQuality(lead *model.Lead) float64 {
	if len(lead.Enrichment) == 0 {
		return 0
	}
	populated := 0
	for _, key := range profileKeys {
		if lead.EnrichedValue(key) != "" {
			populated++
		}
	}
	return float64(populated) / float64(len(profileKeys))
}

// contactQuality rewards a valid email (0.6) and a valid phone (0.4).
func contactQuality(lead *model.Lead) float64 {
	q := 0.0
	if ValidEmail(lead.Email) {
		q += 0.6
	}
	if ValidPhone(lead.Phone) {
		q += 0.4
	}
	return q
}

// engagementPotential is a heuristic from industry and size signals.
func engagementPotential(lead *model.Lead) float64 {
	q := 0.0
	if lead.Rating >= 4.0 {
		q += 0.3
	} else if lead.Rating >= 3.0 {
		q += 0.15
	}
	if lead.ReviewCount >= 50 {
		q += 0.3
	} else if lead.ReviewCount >= 10 {
		q += 0.15
	}
	if strings.TrimSpace(lead.Industry) != "" {
		q += 0.2
	}
	if n, err := strconv.Atoi(lead.EnrichedValue("employee_count")); err == nil && n >= 10 {
		q += 0.2
	}
	return clamp(q, 0, 1)
}

// ValidEmail reports whether the address has a plausible mailbox shape.
func ValidEmail(email string) bool {
	return emailRe.MatchString(strings.TrimSpace(email))
}

// ValidPhone reports whether the number has at least 10 digits.
func ValidPhone(phone string) bool {
	digits := 0
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 10
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
