package prompts

import (
	"fmt"
	"strings"
)

// EmptyResponseNudge is the prompt injected when the model returns no
// content and no tool call. It gives the model one more chance to produce
// a user-visible response.
const EmptyResponseNudge = "You did not provide a response to the user. Answer now, using the tool results above."

// EmptyResponseFallback is the user-facing message returned when the
// model fails to produce content even after being nudged.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// BudgetExhausted is sent, with tools withdrawn, when the loop has used
// all its iterations.
const BudgetExhausted = "You have reached the tool-call limit for this question. Do not call any more tools. " +
	"Give the best answer you can from the results gathered so far, and say plainly what you could not find or verify."

// BudgetFallback is returned when even the final tool-less call fails. It
// lists the sources gathered so the user has something to follow up.
func BudgetFallback(sources []string) string {
	var sb strings.Builder
	sb.WriteString("I ran out of research steps before I could finish an answer.")
	if len(sources) == 0 {
		sb.WriteString(" No sources were retrieved. Please try a narrower question.")
		return sb.String()
	}
	sb.WriteString(" These sources were found and may help:\n")
	for i, s := range sources {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, s)
	}
	return sb.String()
}

// ModelUnavailableMessage is the generic text callers see when the model
// provider cannot be reached.
const ModelUnavailableMessage = "The language model is temporarily unavailable. Please try again shortly."
