package policy

import (
	"regexp"
	"strings"
)

var relativeTimeRe = regexp.MustCompile(`\b(` +
	`today|tonight|yesterday|tomorrow|recent|recently|latest|lately|currently|upcoming|` +
	`this (week|month|year|quarter|weekend|spring|summer|autumn|fall|winter|` +
	`january|february|march|april|may|june|july|august|september|october|november|december)|` +
	`(last|past|next|previous|coming) (few )?(\d+ )?(days?|weeks?|months?|years?|quarters?)|` +
	`so far this|year to date|ytd` +
	`)\b`)

// MentionsRelativeTime reports whether text refers to a time relative to
// now ("this January", "last week", "recent"). Such questions are grounded
// with current_time before any search.
func MentionsRelativeTime(text string) bool {
	return relativeTimeRe.MatchString(strings.ToLower(text))
}
