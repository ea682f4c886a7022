// Package personalize produces the outreach content for a lead: template
// variable substitution plus an optional AI adaptation pass.
package personalize

import (
	"regexp"
	"strings"

	"github.com/sells-group/outreach-engine/internal/model"
)

var varRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Render substitutes {{variable}} placeholders in text. Unresolved
// placeholders are left intact and their names returned so callers can
// count them.
func Render(text string, vars map[string]string) (string, []string) {
	var unresolved []string
	seen := make(map[string]bool)

	out := varRe.ReplaceAllStringFunc(text, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if !seen[name] {
			seen[name] = true
			unresolved = append(unresolved, name)
		}
		return match
	})
	return out, unresolved
}

// Vars builds the substitution map from a lead and the sending profile.
func Vars(lead *model.Lead, profile *model.CompanyProfile) map[string]string {
	vars := map[string]string{
		"name":      firstName(lead.Name),
		"full_name": lead.Name,
		"company":   lead.Company,
		"industry":  lead.Industry,
		"location":  lead.Location,
		"website":   lead.Website,
	}
	if profile != nil {
		vars["sender_name"] = profile.FromName
		vars["sender_company"] = profile.Name
		vars["signature"] = profile.Signature
	}
	for key, field := range lead.Enrichment {
		if _, taken := vars[key]; !taken {
			vars[key] = field.Value
		}
	}
	return vars
}

func firstName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}
