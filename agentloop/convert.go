package agentloop

import "github.com/conversant-ai/agentcore/model"

// ConvertToLLMFn shapes the context slice actually sent to the provider.
// MUST be idempotent and pure (spec §4.3): calling it twice on its own
// output must be a no-op, and it must not mutate its argument.
type ConvertToLLMFn func([]model.Message) []model.Message

// TransformContextFn runs before ConvertToLLMFn and may inject, reorder, or
// drop messages (e.g. reminder injection — see the reminder package). A nil
// TransformContextFn is the identity.
type TransformContextFn func([]model.Message) []model.Message

// DefaultConvertToLLM filters context down to User, Assistant, and
// ToolResult messages; Custom messages are never sent to a provider (spec
// §4.3: "the default convert_to_llm filters to User|Assistant|ToolResult
// only").
func DefaultConvertToLLM(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser, model.RoleAssistant, model.RoleToolResult:
			out = append(out, m)
		}
	}
	return out
}

// shapeContext clones messages, applies transform (if any), then convert.
// The clone ensures neither hook can observe or mutate the loop's own
// backing array.
func shapeContext(messages []model.Message, transform TransformContextFn, convert ConvertToLLMFn) []model.Message {
	cloned := append([]model.Message(nil), messages...)
	if transform != nil {
		cloned = transform(cloned)
	}
	if convert == nil {
		convert = DefaultConvertToLLM
	}
	return convert(cloned)
}
