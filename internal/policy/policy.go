// Package policy holds the research rules the agent follows, as named
// values that are tested on their own and rendered into the system prompt
// by package prompts.
//
// Some rules are enforced in code (the recency window applied by the news
// tool, the small-talk fast path, link verification); the rest are
// instructions to the model. Both read from the same [Policy] so the two
// never disagree.
package policy

// Policy is the complete rule set for one agent.
type Policy struct {
	Recency      Recency
	Relevance    Relevance
	Clarify      Clarify
	Output       Output
	Verification Verification
}

// Clarify bounds ambiguity handling: the agent asks exactly one question
// and lists at most MaxCandidates possible matches.
type Clarify struct {
	MaxCandidates int
}

// Verification controls source discipline for factual claims.
type Verification struct {
	// RequireSources makes the agent flag links in its answer that no
	// tool returned during the turn.
	RequireSources bool
}

// Default returns the stock policy.
func Default() Policy {
	return Policy{
		Recency:      DefaultRecency(),
		Relevance:    DefaultRelevance(),
		Clarify:      Clarify{MaxCandidates: 3},
		Output:       Output{Format: FormatNumbered},
		Verification: Verification{RequireSources: true},
	}
}
