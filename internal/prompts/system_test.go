package prompts

import (
	"strings"
	"testing"

	"github.com/web3scout/scout/internal/policy"
)

func TestSystemPrompt_RendersPolicyValues(t *testing.T) {
	p := policy.Default()
	p.Recency = policy.Recency{DefaultDays: 14, WidenedDays: 60, MinResults: 4}
	p.Clarify.MaxCandidates = 2

	got, err := SystemPrompt(p, []string{"current_time", "web_search"})
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}

	for _, want := range []string{
		"last 14 days",
		"widen it to 60 days",
		"fewer than 4 qualifying",
		"at most 2 candidates",
		"- current_time",
		"- web_search",
		"Information Commissioner or ico.org.uk",
		"1. **ExampleChain** (Seed round)",
		"## Verification",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSystemPrompt_TableFormatAndNoSources(t *testing.T) {
	p := policy.Default()
	p.Output.Format = policy.FormatTable
	p.Verification.RequireSources = false

	got, err := SystemPrompt(p, nil)
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if !strings.Contains(got, "| 1 | ExampleChain |") {
		t.Error("table format example not rendered")
	}
	if strings.Contains(got, "## Verification") {
		t.Error("verification section should be omitted when sources are not required")
	}
	if !strings.Contains(got, "none for this message") {
		t.Error("empty tool list should say no tools are available")
	}
}

func TestBudgetFallback(t *testing.T) {
	got := BudgetFallback([]string{"https://a.example", "https://b.example"})
	if !strings.Contains(got, "1. https://a.example") || !strings.Contains(got, "2. https://b.example") {
		t.Errorf("fallback = %q", got)
	}
	if got := BudgetFallback(nil); !strings.Contains(got, "No sources") {
		t.Errorf("empty fallback = %q", got)
	}
}
