package policy

import (
	"fmt"
	"strings"
)

// Format is how the agent lays out research items.
type Format string

const (
	FormatNumbered Format = "numbered"
	FormatTable    Format = "table"
)

// Unknown fills any item field the sources did not provide.
const Unknown = "Unknown"

// Output is the answer layout rule.
type Output struct {
	Format Format
}

// Item is one research finding in the output contract.
type Item struct {
	Project   string
	EventType string
	Amount    string
	Date      string // YYYY-MM-DD
	Investors []string
	SourceURL string
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return Unknown
	}
	return s
}

func (it Item) investors() string {
	var names []string
	for _, n := range it.Investors {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return Unknown
	}
	return strings.Join(names, ", ")
}

// FormatItems renders items per o.Format. Every field falls back to
// "Unknown"; each item carries exactly one source URL.
func (o Output) FormatItems(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	if o.Format == FormatTable {
		return formatTable(items)
	}
	return formatNumbered(items)
}

func formatNumbered(items []Item) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. **%s** (%s)\n", i+1, orUnknown(it.Project), orUnknown(it.EventType))
		fmt.Fprintf(&b, "   - Amount: %s\n", orUnknown(it.Amount))
		fmt.Fprintf(&b, "   - Date: %s\n", orUnknown(it.Date))
		fmt.Fprintf(&b, "   - Investors: %s\n", it.investors())
		fmt.Fprintf(&b, "   - Source: %s\n", orUnknown(it.SourceURL))
	}
	return b.String()
}

func formatTable(items []Item) string {
	cell := func(s string) string { return strings.ReplaceAll(s, "|", `\|`) }

	var b strings.Builder
	b.WriteString("| # | Project | Event | Amount | Date | Investors | Source |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	for i, it := range items {
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s |\n",
			i+1,
			cell(orUnknown(it.Project)),
			cell(orUnknown(it.EventType)),
			cell(orUnknown(it.Amount)),
			cell(orUnknown(it.Date)),
			cell(it.investors()),
			cell(orUnknown(it.SourceURL)),
		)
	}
	return b.String()
}
