// Package dedup derives normalized lead identities and rejects duplicate
// candidates within a campaign or across all campaigns.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes lists common legal entity suffixes stripped during company
// name normalization.
var legalSuffixes = []string{
	" LLC", " L.L.C.", " L.L.C",
	" INC", " INC.", " INCORPORATED",
	" CORP", " CORP.", " CORPORATION",
	" LTD", " LTD.", " LIMITED",
	" LP", " L.P.", " L.P",
	" LLP", " L.L.P.", " L.L.P",
	" CO", " CO.",
	" PLC", " P.L.C.",
	" GMBH",
	" PLLC",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// stripMarks removes diacritic marks after NFD decomposition so "Café" and
// "Cafe" derive the same key.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Key returns the dedup key for a candidate identity. An email takes
// precedence; otherwise the key is a hash of the normalized company name
// plus location.
func Key(email, company, location string) string {
	if k := EmailKey(email); k != "" {
		return k
	}
	return CompanyKey(company, location)
}

// EmailKey normalizes an email address into a dedup key, or returns "" when
// the input does not look like an address.
func EmailKey(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	local, domain := email[:at], email[at+1:]
	if !strings.Contains(domain, ".") {
		return ""
	}
	return "email:" + local + "@" + domain
}

// CompanyKey hashes a normalized company name and location into a dedup key.
// Returns "" when the company name is empty after normalization.
func CompanyKey(company, location string) string {
	name := NormalizeCompanyName(company)
	if name == "" {
		return ""
	}
	loc := normalizeText(location)
	sum := sha256.Sum256([]byte(name + "|" + loc))
	return "company:" + hex.EncodeToString(sum[:16])
}

// NormalizeCompanyName standardizes a company name for matching by
// uppercasing, stripping diacritics, removing legal suffixes and
// punctuation, and collapsing whitespace.
func NormalizeCompanyName(name string) string {
	name = normalizeText(name)
	if name == "" {
		return ""
	}

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", "AND",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = strings.ToUpper(s)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
