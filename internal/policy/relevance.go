package policy

import (
	"regexp"
	"strings"
)

// Relevance decides which items count as funding or token-sale news.
type Relevance struct {
	// Keywords mark qualifying announcements. Matched case-insensitively
	// on word boundaries.
	Keywords []string

	// ExcludedTerms mark same-acronym items from unrelated domains (the
	// UK Information Commissioner's Office is "the ICO"). An item that
	// mentions one is dropped unless the user asked about it.
	ExcludedTerms []string
}

// DefaultRelevance returns the stock keyword and exclusion lists.
func DefaultRelevance() Relevance {
	return Relevance{
		Keywords: []string{
			"ico", "ido", "ieo", "tge", "token sale", "token generation event",
			"presale", "pre-sale", "private sale", "public sale", "launchpad",
			"funding", "funding round", "raises", "raised", "raising",
			"seed round", "pre-seed", "series a", "series b", "series c",
			"strategic round", "investment round", "backed by", "led by",
		},
		ExcludedTerms: []string{
			"Information Commissioner",
			"ico.org.uk",
		},
	}
}

// Qualifies reports whether text (a headline or snippet) announces a
// funding round or token sale. query is the user's request; mentioning an
// excluded term there lifts the exclusion.
func (r Relevance) Qualifies(text, query string) bool {
	if !matchAny(r.Keywords, text) {
		return false
	}
	if r.Excluded(text) && !r.MentionsExcluded(query) {
		return false
	}
	return true
}

// Excluded reports whether text mentions an excluded term.
func (r Relevance) Excluded(text string) bool {
	return containsFold(r.ExcludedTerms, text)
}

// MentionsExcluded reports whether the user explicitly asked about an
// excluded domain.
func (r Relevance) MentionsExcluded(query string) bool {
	return query != "" && containsFold(r.ExcludedTerms, query)
}

func containsFold(terms []string, text string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func matchAny(keywords []string, text string) bool {
	if len(keywords) == 0 {
		return false
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)s?\b`)
	return re.MatchString(text)
}
