package anthropic

import (
	"encoding/json"
	"sync/atomic"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/sse"
	"github.com/conversant-ai/agentcore/telemetry"
)

// decoder holds the per-block accumulator state for one Messages streaming
// response, mirroring goadesign-goa-ai/features/model/anthropic/stream.go's
// anthropicChunkProcessor — but driven off raw JSON decoded from sse.Parser
// events instead of the vendor SDK's ssestream.Stream, per spec §9's
// instruction to unify every adapter onto the one shared SSE primitive.
type decoder struct {
	parser *sse.Parser
	abort  *atomic.Bool
	model  string

	blocks []model.Block
	tools  map[int]*toolBuffer
	think  map[int]*thinkingBuffer

	stopReason   model.StopReason
	usage        model.Usage
	errorMessage string
	done         bool

	// metrics is optional (nil is a valid no-instrumentation default); set
	// via Adapter.Stream from the Adapter's telemetry.Bundle.
	metrics telemetry.Metrics
}

// decodeErrorCounter is the name of the counter incremented each time a
// malformed SSE payload is dropped (SPEC_FULL.md §A.2).
const decodeErrorCounter = "provider.decode_errors"

type toolBuffer struct {
	id        string
	name      string
	fragments []byte
}

func (t *toolBuffer) finalInput() json.RawMessage {
	if len(t.fragments) == 0 {
		return json.RawMessage("{}")
	}
	var probe any
	if err := json.Unmarshal(t.fragments, &probe); err != nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(t.fragments)
}

type thinkingBuffer struct {
	text string
	sig  string
}

func newDecoder(modelID string, abort *atomic.Bool) *decoder {
	return &decoder{
		parser: &sse.Parser{},
		abort:  abort,
		model:  modelID,
		tools:  make(map[int]*toolBuffer),
		think:  make(map[int]*thinkingBuffer),
	}
}

// anthropic wire event shapes (only the fields this adapter reads).
type wireEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      *wireMessage    `json:"message"`
	ContentBlock *wireBlockStart `json:"content_block"`
	Delta        *wireDelta      `json:"delta"`
	Usage        *wireUsage      `json:"usage"`
}

type wireMessage struct {
	Usage *wireUsage `json:"usage"`
}

type wireBlockStart struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	Thinking    string `json:"thinking"`
	Signature   string `json:"signature"`
	StopReason  string `json:"stop_reason"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

// handleSSE maps one decoded sse.Event to normalized provider.Events,
// following the vendor event table in spec §4.2: message_start,
// content_block_start/delta/stop, message_delta, message_stop.
func (d *decoder) handleSSE(ev sse.Event, emit func(provider.Event)) {
	if sse.IsDone(ev) {
		return
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(ev.Data), &w); err != nil {
		if d.metrics != nil {
			d.metrics.IncCounter(decodeErrorCounter, 1, "provider", "anthropic")
		}
		return
	}

	switch w.Type {
	case "message_start":
		if w.Message != nil && w.Message.Usage != nil {
			d.applyUsage(w.Message.Usage)
		}
		emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant, Provider: "anthropic", Model: d.model}})

	case "content_block_start":
		if w.ContentBlock == nil {
			return
		}
		switch w.ContentBlock.Type {
		case "tool_use":
			d.tools[w.Index] = &toolBuffer{id: w.ContentBlock.ID, name: w.ContentBlock.Name}
			emit(provider.Event{Kind: provider.KindToolCallStart, ContentIndex: w.Index})
		case "thinking", "redacted_thinking":
			d.think[w.Index] = &thinkingBuffer{}
			emit(provider.Event{Kind: provider.KindThinkingStart, ContentIndex: w.Index})
		case "text":
			d.blocks = append(d.blocks, model.TextBlock{})
			emit(provider.Event{Kind: provider.KindTextStart, ContentIndex: w.Index})
		}

	case "content_block_delta":
		if w.Delta == nil {
			return
		}
		switch w.Delta.Type {
		case "text_delta":
			// Blocks arrive one after another, so the open text block is the
			// last one appended at its content_block_start.
			if n := len(d.blocks); n > 0 {
				if tb, ok := d.blocks[n-1].(model.TextBlock); ok {
					tb.Text += w.Delta.Text
					d.blocks[n-1] = tb
				}
			}
			emit(provider.Event{Kind: provider.KindTextDelta, ContentIndex: w.Index, Delta: w.Delta.Text})
		case "input_json_delta":
			if tb, ok := d.tools[w.Index]; ok {
				tb.fragments = append(tb.fragments, w.Delta.PartialJSON...)
			}
			emit(provider.Event{Kind: provider.KindToolCallDelta, ContentIndex: w.Index, Delta: w.Delta.PartialJSON})
		case "thinking_delta":
			if tb, ok := d.think[w.Index]; ok {
				tb.text += w.Delta.Thinking
			}
			emit(provider.Event{Kind: provider.KindThinkingDelta, ContentIndex: w.Index, Delta: w.Delta.Thinking})
		case "signature_delta":
			if tb, ok := d.think[w.Index]; ok {
				tb.sig += w.Delta.Signature
			}
		}

	case "content_block_stop":
		d.finalizeBlock(w.Index, emit)

	case "message_delta":
		if w.Delta != nil && w.Delta.StopReason != "" {
			d.stopReason = mapStopReason(w.Delta.StopReason)
		}
		if w.Usage != nil {
			d.applyUsage(w.Usage)
		}

	case "message_stop":
		d.finish(emit)
	}
}

func (d *decoder) finalizeBlock(index int, emit func(provider.Event)) {
	if tb, ok := d.tools[index]; ok {
		block := model.ToolCallBlock{ID: tb.id, Name: tb.name, Arguments: tb.finalInput()}
		d.blocks = append(d.blocks, block)
		delete(d.tools, index)
		emit(provider.Event{Kind: provider.KindToolCallEnd, ContentIndex: index})
		return
	}
	if tb, ok := d.think[index]; ok {
		d.blocks = append(d.blocks, model.ThinkingBlock{Text: tb.text, Sig: tb.sig})
		delete(d.think, index)
		emit(provider.Event{Kind: provider.KindThinkingEnd, ContentIndex: index})
		return
	}
	emit(provider.Event{Kind: provider.KindTextEnd, ContentIndex: index})
}

// mapStopReason translates Anthropic's stop_reason vocabulary onto the
// normalized enum; resolution (tool-call upgrade) happens once, downstream,
// in model.ResolveStopReason — this adapter never calls it itself.
func mapStopReason(raw string) model.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return model.StopStop
	case "max_tokens":
		return model.StopLength
	case "tool_use":
		return model.StopToolUse
	case "refusal":
		return model.StopError
	default:
		return model.StopStop
	}
}

func (d *decoder) applyUsage(u *wireUsage) {
	d.usage.Input += u.InputTokens
	d.usage.Output += u.OutputTokens
	d.usage.CacheRead += u.CacheReadInputTokens
	d.usage.CacheWrite += u.CacheCreationInputTokens
	d.usage.Total = d.usage.Input + d.usage.Output + d.usage.CacheRead + d.usage.CacheWrite
}

func (d *decoder) finish(emit func(provider.Event)) {
	if d.done {
		return
	}
	d.done = true
	final := model.Message{
		Role:       model.RoleAssistant,
		Content:    d.blocks,
		Usage:      d.usage,
		StopReason: d.stopReason,
		Provider:   "anthropic",
		Model:      d.model,
	}
	if final.StopReason == "" {
		final.StopReason = model.StopStreaming
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}

// emitAborted finalizes the in-flight message with whatever content has
// accumulated so far, tagged aborted — called when Stream observes the
// shared abort flag set between chunk reads (spec §5).
func (d *decoder) emitAborted(emit func(provider.Event)) {
	if d.done {
		return
	}
	d.done = true
	final := model.Message{
		Role:       model.RoleAssistant,
		Content:    d.blocks,
		Usage:      d.usage,
		StopReason: model.StopAborted,
		Provider:   "anthropic",
		Model:      d.model,
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}
