package agent

import (
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/memory"
)

// historyToLLM converts persisted history into model context. Tool result
// messages get the tool name of their invocation so providers that
// correlate by name can match them.
func historyToLLM(history []memory.Message) []llm.Message {
	names := make(map[string]string)
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		msg := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if tc := m.ToolCall; tc != nil {
			msg.ToolCalls = []llm.ToolCall{{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}}
			names[tc.ID] = tc.Name
		}
		if m.Role == memory.RoleTool {
			msg.ToolName = names[m.ToolCallID]
		}
		out = append(out, msg)
	}
	return out
}

func toolCallMessage(call llm.ToolCall) memory.Message {
	return memory.Message{
		Role:     memory.RoleAssistant,
		ToolCall: &memory.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments},
	}
}

func toolResultMessage(callID, observation string) memory.Message {
	return memory.Message{Role: memory.RoleTool, ToolCallID: callID, Content: observation}
}
