package policy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Table))

	// urlRe finds URLs inside tool observations, which are JSON text.
	urlRe = regexp.MustCompile(`https?://[^\s"'<>\\\x60]+`)
)

// AnswerLinks returns every link in a Markdown answer, in order of
// appearance, without duplicates. Bare URLs count as links.
func AnswerLinks(answer string) []string {
	src := []byte(answer)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var links []string
	seen := map[string]bool{}
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		seen[u] = true
		links = append(links, u)
	}

	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Link:
			add(string(v.Destination))
		case *ast.AutoLink:
			add(string(v.URL(src)))
		}
		return ast.WalkContinue, nil
	})
	return links
}

// ObservedURLs extracts every URL mentioned in tool observations.
func ObservedURLs(observations ...string) map[string]bool {
	out := map[string]bool{}
	for _, obs := range observations {
		for _, u := range urlRe.FindAllString(obs, -1) {
			out[NormalizeURL(u)] = true
		}
	}
	return out
}

// SourceList returns the distinct URLs in observations in order of first
// appearance.
func SourceList(observations ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, obs := range observations {
		for _, u := range urlRe.FindAllString(obs, -1) {
			if n := NormalizeURL(u); !seen[n] {
				seen[n] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// UnsourcedLinks returns the links in answer that do not appear in seen
// (a set of normalized URLs, as built by ObservedURLs).
func (v Verification) UnsourcedLinks(answer string, seen map[string]bool) []string {
	if !v.RequireSources {
		return nil
	}
	var out []string
	for _, link := range AnswerLinks(answer) {
		if !seen[NormalizeURL(link)] {
			out = append(out, link)
		}
	}
	return out
}

// NormalizeURL lower-cases scheme and host, drops the fragment, and trims
// a trailing slash and trailing punctuation, so trivially different
// spellings of a source compare equal.
func NormalizeURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,;:!?)]}")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
