package model

import "time"

// Role discriminates the four Message variants (spec §3).
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
	RoleCustom     Role = "custom"
)

// Message is a single entry in the flat conversation list the AgentLoop
// operates over. Exactly one of the role-specific field groups below is
// populated, selected by Role; this mirrors the source's tagged union while
// keeping a single concrete Go type so []Message stays a plain slice.
type Message struct {
	Role Role

	// Content holds the ordered content blocks for User and Assistant
	// messages, and the result content for ToolResult messages.
	Content []Block

	// Timestamp is when this message was produced.
	Timestamp time.Time

	// --- Assistant-only fields ---

	Usage        Usage
	StopReason   StopReason
	API          string // e.g. "messages", "responses"
	Provider     string // e.g. "anthropic", "openai", "openai-codex", "gemini-cli"
	Model        string
	ErrorMessage string

	// --- ToolResult-only fields ---

	ToolCallID string
	ToolName   string
	Details    any
	IsError    bool

	// --- Custom-only fields ---

	CustomRole string
	Text       string
}

// NewUserText constructs a User message with a single TextBlock, per the
// "Empty prompt text" boundary case (spec §8): empty text is a valid message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Content: []Block{TextBlock{Text: text}}, Timestamp: now()}
}

// NewUserBlocks constructs a User message from explicit content blocks.
func NewUserBlocks(blocks []Block) Message {
	return Message{Role: RoleUser, Content: blocks, Timestamp: now()}
}

// NewToolResult constructs a ToolResult message, the synthetic reply the
// AgentLoop appends after dispatching a tool call (spec §4.3).
func NewToolResult(toolCallID, toolName string, content []Block, details any, isError bool) Message {
	return Message{
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Details:    details,
		IsError:    isError,
		Timestamp:  now(),
	}
}

// NewCustom constructs a Custom message: an opaque, extension-injected
// message that the default ConvertToLLM never forwards to a provider.
func NewCustom(role, text string) Message {
	return Message{Role: RoleCustom, CustomRole: role, Text: text, Timestamp: now()}
}

// IsAssistant reports whether m is an Assistant message.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// Text concatenates all TextBlock content in m, ignoring other block kinds.
// Used for simple assertions ("final assistant text equals ..."), for
// log/debug rendering, and by the bedrock, geminicli and openairesponses
// request encoders when they flatten a message's text onto the wire.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCalls returns every ToolCallBlock in m's content, in production order.
func (m Message) ToolCalls() []ToolCallBlock {
	var calls []ToolCallBlock
	for _, b := range m.Content {
		if tc, ok := b.(ToolCallBlock); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// now is a seam so tests can substitute a fixed clock; production code calls
// time.Now directly through this indirection.
var now = time.Now
