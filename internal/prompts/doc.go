// Package prompts contains the LLM prompt text used by Scout.
//
// Prompt text is Go code rather than config files because it is program
// logic: the system prompt is a text/template rendered from
// policy.Policy, and the fixed nudges and fallbacks are constants the
// agent and its tests refer to by name.
//
// Convention: each prompt category gets its own file (system.go,
// agent.go) with an exported function or constant.
package prompts
