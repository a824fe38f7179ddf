// Package model defines the provider-agnostic content block, message, tool
// and usage types shared by every provider adapter, the AgentLoop, and the
// session log. It models the wire formats of four distinct vendor streaming
// grammars as one normalized shape so the rest of the runtime is generic
// over "which LLM."
package model

import (
	"encoding/json"
	"fmt"
)

// Block is the marker interface implemented by every content block variant:
// Text, Thinking, ToolCall, Image. A Message's Content is a []Block.
type Block interface {
	isBlock()
	// Signature returns the opaque vendor round-trip token attached to this
	// block, or "" if none was carried. Adapters MUST echo a non-empty
	// signature back verbatim on a subsequent request that replays this block.
	Signature() string
}

// TextBlock is plain assistant- or user-visible text.
type TextBlock struct {
	Text string
	Sig  string
}

// ThinkingBlock is provider-issued reasoning content. Anthropic uses Sig as a
// short opaque signature; the OpenAI Responses/Codex decoder stores the
// reasoning item's id in Sig, not the raw reasoning item JSON.
type ThinkingBlock struct {
	Text string
	Sig  string
}

// ToolCallBlock declares a single tool invocation requested by the model.
// Arguments is the raw JSON object the model produced; during streaming it
// may be a best-effort partial parse (see ToolCallDelta accumulation rules),
// finalized to authoritative JSON at the block's End event.
type ToolCallBlock struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Sig       string
}

// ImageBlock carries an inline image, base64-decoded to raw bytes at parse
// time and re-encoded by adapters that need base64 on the wire.
type ImageBlock struct {
	MIME string
	Data []byte
	Sig  string
}

func (TextBlock) isBlock()     {}
func (ThinkingBlock) isBlock() {}
func (ToolCallBlock) isBlock() {}
func (ImageBlock) isBlock()    {}

func (b TextBlock) Signature() string     { return b.Sig }
func (b ThinkingBlock) Signature() string { return b.Sig }
func (b ToolCallBlock) Signature() string { return b.Sig }
func (b ImageBlock) Signature() string    { return b.Sig }

// blockWire is the tagged-union wire shape for a content block. Unknown
// fields are never populated by this struct's own (de)serialization.
// UnmarshalBlock rejects unknown block types, so a session entry containing
// one fails to parse and is skipped on read; only entries of an unrecognized
// entry type are carried through verbatim (see session.Entry.IsUnknown).
type blockWire struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Signature string          `json:"signature,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	MIME      string          `json:"mime,omitempty"`
	Data      string          `json:"data,omitempty"` // base64
}

// MarshalBlock renders a Block to its camelCase wire shape per spec §6.1.
func MarshalBlock(b Block) ([]byte, error) {
	switch v := b.(type) {
	case TextBlock:
		return json.Marshal(blockWire{Type: "text", Text: v.Text, Signature: v.Sig})
	case ThinkingBlock:
		return json.Marshal(blockWire{Type: "thinking", Text: v.Text, Signature: v.Sig})
	case ToolCallBlock:
		return json.Marshal(blockWire{Type: "tool_call", ID: v.ID, Name: v.Name, Arguments: v.Arguments, Signature: v.Sig})
	case ImageBlock:
		return json.Marshal(blockWire{Type: "image", MIME: v.MIME, Data: encodeBase64(v.Data), Signature: v.Sig})
	default:
		return nil, fmt.Errorf("model: unknown block type %T", b)
	}
}

// UnmarshalBlock parses a wire content block into a concrete Block.
func UnmarshalBlock(data []byte) (Block, error) {
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case "text":
		return TextBlock{Text: w.Text, Sig: w.Signature}, nil
	case "thinking":
		return ThinkingBlock{Text: w.Text, Sig: w.Signature}, nil
	case "tool_call":
		return ToolCallBlock{ID: w.ID, Name: w.Name, Arguments: w.Arguments, Sig: w.Signature}, nil
	case "image":
		raw, err := decodeBase64(w.Data)
		if err != nil {
			return nil, fmt.Errorf("model: decode image block: %w", err)
		}
		return ImageBlock{MIME: w.MIME, Data: raw, Sig: w.Signature}, nil
	default:
		return nil, fmt.Errorf("model: unknown block type %q", w.Type)
	}
}
