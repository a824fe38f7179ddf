// Package provider defines the normalized assistant event stream (spec §4.2)
// that every vendor adapter produces, plus the StreamFn seam the AgentLoop
// calls. Concrete adapters live in the provider/anthropic, provider/
// openairesponses, provider/openaicodex, provider/geminicli and
// provider/bedrock subpackages; they all share this event vocabulary, and all
// but provider/bedrock (which decodes AWS SDK event types) decode through the
// sse.Parser primitive, so the rest of the runtime is generic over "which
// LLM."
package provider

import "github.com/conversant-ai/agentcore/model"

// EventKind discriminates the normalized assistant event stream's variants.
type EventKind string

const (
	KindStart          EventKind = "start"
	KindTextStart      EventKind = "text_start"
	KindTextDelta      EventKind = "text_delta"
	KindTextEnd        EventKind = "text_end"
	KindThinkingStart  EventKind = "thinking_start"
	KindThinkingDelta  EventKind = "thinking_delta"
	KindThinkingEnd    EventKind = "thinking_end"
	KindToolCallStart  EventKind = "tool_call_start"
	KindToolCallDelta  EventKind = "tool_call_delta"
	KindToolCallEnd    EventKind = "tool_call_end"
	KindDone           EventKind = "done"
	KindError          EventKind = "error"
)

// Event is the single concrete type carrying every normalized assistant
// event variant; Kind selects which fields are meaningful. This mirrors the
// tagged-union convention used for Message and session entries: one Go type,
// an external discriminator, rather than an interface-per-variant — chosen
// here (unlike model.Block) because adapters construct and consume these at
// high frequency in tight per-chunk loops, where an interface allocation per
// delta would be wasteful.
type Event struct {
	Kind EventKind

	// ContentIndex is the 0-based position of the content block this event
	// concerns; set for all block-scoped events (Start/Delta/End variants).
	ContentIndex int

	// Partial is a snapshot of the message-so-far. The adapters in this module
	// set it only on Start events; their Delta events carry no Partial. It MAY
	// alias shared memory but MUST appear immutable to
	// listeners (spec §4.2 rule 6) — adapters must not mutate a Partial they
	// have already handed to a caller.
	Partial *model.Message

	// Delta carries the incremental text for Text/ThinkingDelta events, or
	// the incremental raw JSON fragment for ToolCallDelta events.
	Delta string

	// Message is set on Done (adapters may also set it on Error): the final
	// assistant message as decoded, before the AgentLoop applies
	// model.ResolveStopReason.
	Message *model.Message

	// ErrorMessage is set on Error (and mirrored into Message.ErrorMessage).
	ErrorMessage string
}

// StreamFn is the capability the AgentLoop invokes to drive one assistant
// turn. Implementations are the provider adapters in this module's
// subpackages. A StreamFn MUST NOT panic for an ordinary transport failure —
// it converts such failures into a terminal Error event — but injected
// implementations that do panic are allowed to propagate (spec §4.3 Failure
// semantics); the AgentLoop does not recover.
type StreamFn func(model string, context []model.Message, emit func(Event)) error
