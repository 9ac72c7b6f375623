package search

import "strings"

// legalSuffixes are Brazilian company type markers stripped from the legal
// name before searching: they add noise without narrowing results.
var legalSuffixes = []string{" LTDA", " S.A.", " S/A", " EIRELI", " ME", " EPP"}

// CleanLegalName strips company type suffixes from a razão social.
func CleanLegalName(legalName string) string {
	out := legalName
	for _, suf := range legalSuffixes {
		out = strings.ReplaceAll(out, suf, "")
	}
	return strings.TrimSpace(out)
}

// BuildQueries formulates at most two search queries: trade name + city, and
// the cleaned legal name + city when it differs from the trade name.
func BuildQueries(tradeName, legalName, city string) []string {
	tn := strings.TrimSpace(tradeName)
	city = strings.TrimSpace(city)

	var queries []string
	if tn != "" {
		queries = append(queries, strings.TrimSpace(tn+" "+city)+" site oficial")
	}

	if clean := CleanLegalName(legalName); clean != "" {
		if tn == "" || !strings.EqualFold(clean, tn) {
			queries = append(queries, strings.TrimSpace(clean+" "+city)+" site oficial")
		}
	}
	return queries
}
