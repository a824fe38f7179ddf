package bedrock

import (
	"encoding/json"
	"fmt"
	"strings"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
)

// decoder accumulates per-content-index state across one ConverseStream
// response, mirroring stream.go's chunkProcessor but emitting this module's
// normalized provider.Event vocabulary instead of a goa-ai-specific Chunk
// type. sanToCanon translates a tool_use block's sanitized provider name
// back to the canonical tool name callers registered (spec §C.1).
type decoder struct {
	model      string
	sanToCanon map[string]string

	blocks []model.Block
	tools  map[int]*toolBuffer
	think  map[int]*reasoningBuffer

	// index tracks the content-block index assigned to each Bedrock
	// ContentBlockIndex as blocks are opened, since Bedrock's indices are
	// dense per-message but this adapter appends finalized blocks to
	// d.blocks in arrival order.
	index map[int]int

	usage      model.Usage
	stopReason model.StopReason
	done       bool
}

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

type reasoningBuffer struct {
	text      strings.Builder
	redacted  []byte
	signature string
}

func newDecoder(modelID string, sanToCanon map[string]string) *decoder {
	return &decoder{
		model:      modelID,
		sanToCanon: sanToCanon,
		tools:      make(map[int]*toolBuffer),
		think:      make(map[int]*reasoningBuffer),
		index:      make(map[int]int),
	}
}

// handle translates one typed Bedrock stream event into normalized
// provider.Events, following the same six event kinds stream.go switches
// on: MessageStart, ContentBlockStart/Delta/Stop, MessageStop, Metadata.
func (d *decoder) handle(event brtypes.ConverseStreamOutput, emit func(provider.Event)) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		start := ev.Value.Start
		toolUse, ok := start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		if toolUse.Value.ToolUseId == nil || *toolUse.Value.ToolUseId == "" {
			return fmt.Errorf("bedrock stream: tool use block missing tool_use_id")
		}
		if toolUse.Value.Name == nil || *toolUse.Value.Name == "" {
			return fmt.Errorf("bedrock stream: tool use block %q missing name", *toolUse.Value.ToolUseId)
		}
		canonical, ok := d.sanToCanon[*toolUse.Value.Name]
		if !ok {
			canonical = *toolUse.Value.Name
		}
		d.tools[idx] = &toolBuffer{id: *toolUse.Value.ToolUseId, name: canonical}
		out := len(d.blocks)
		d.index[idx] = out
		d.blocks = append(d.blocks, model.ToolCallBlock{ID: *toolUse.Value.ToolUseId, Name: canonical, Arguments: json.RawMessage("{}")})
		emit(provider.Event{Kind: provider.KindToolCallStart, ContentIndex: out})
		return nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		return d.handleDelta(idx, ev.Value.Delta, emit)

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		d.finalizeBlock(idx, emit)
		return nil

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		if ev.Value.StopReason != "" {
			d.stopReason = mapStopReason(string(ev.Value.StopReason))
		}
		d.finish(emit)
		return nil

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			d.usage = model.Usage{
				Input:      int32Value(ev.Value.Usage.InputTokens),
				Output:     int32Value(ev.Value.Usage.OutputTokens),
				Total:      int32Value(ev.Value.Usage.TotalTokens),
				CacheRead:  int32Value(ev.Value.Usage.CacheReadInputTokens),
				CacheWrite: int32Value(ev.Value.Usage.CacheWriteInputTokens),
			}
		}
		return nil
	}
	return nil
}

func (d *decoder) handleDelta(idx int, delta brtypes.ContentBlockDelta, emit func(provider.Event)) error {
	switch v := delta.(type) {
	case *brtypes.ContentBlockDeltaMemberText:
		if v.Value == "" {
			return nil
		}
		out, known := d.index[idx]
		if !known {
			out = len(d.blocks)
			d.index[idx] = out
			d.blocks = append(d.blocks, model.TextBlock{})
			emit(provider.Event{Kind: provider.KindTextStart, ContentIndex: out})
		}
		tb, _ := d.blocks[out].(model.TextBlock)
		tb.Text += v.Value
		d.blocks[out] = tb
		emit(provider.Event{Kind: provider.KindTextDelta, ContentIndex: out, Delta: v.Value})
		return nil

	case *brtypes.ContentBlockDeltaMemberToolUse:
		tb := d.tools[idx]
		if tb == nil || v.Value.Input == nil {
			return nil
		}
		fragment := *v.Value.Input
		tb.fragments = append(tb.fragments, fragment...)
		out := d.index[idx]
		emit(provider.Event{Kind: provider.KindToolCallDelta, ContentIndex: out, Delta: fragment})
		return nil

	case *brtypes.ContentBlockDeltaMemberReasoningContent:
		rb := d.think[idx]
		if rb == nil {
			rb = &reasoningBuffer{}
			d.think[idx] = rb
			out := len(d.blocks)
			d.index[idx] = out
			d.blocks = append(d.blocks, model.ThinkingBlock{})
			emit(provider.Event{Kind: provider.KindThinkingStart, ContentIndex: out})
		}
		out := d.index[idx]
		switch rv := v.Value.(type) {
		case *brtypes.ReasoningContentBlockDeltaMemberText:
			if rv.Value == "" {
				return nil
			}
			rb.text.WriteString(rv.Value)
			d.blocks[out] = model.ThinkingBlock{Text: rb.text.String(), Sig: rb.signature}
			emit(provider.Event{Kind: provider.KindThinkingDelta, ContentIndex: out, Delta: rv.Value})
		case *brtypes.ReasoningContentBlockDeltaMemberRedactedContent:
			rb.redacted = append(rb.redacted, rv.Value...)
		case *brtypes.ReasoningContentBlockDeltaMemberSignature:
			if rv.Value != "" {
				rb.signature = rv.Value
				d.blocks[out] = model.ThinkingBlock{Text: rb.text.String(), Sig: rb.signature}
			}
		}
		return nil
	}
	return nil
}

func (d *decoder) finalizeBlock(idx int, emit func(provider.Event)) {
	out, known := d.index[idx]
	if !known {
		return
	}
	if tb := d.tools[idx]; tb != nil {
		block, _ := d.blocks[out].(model.ToolCallBlock)
		block.Arguments = tb.finalInput()
		d.blocks[out] = block
		delete(d.tools, idx)
		emit(provider.Event{Kind: provider.KindToolCallEnd, ContentIndex: out})
		return
	}
	if _, ok := d.think[idx]; ok {
		delete(d.think, idx)
		emit(provider.Event{Kind: provider.KindThinkingEnd, ContentIndex: out})
		return
	}
	emit(provider.Event{Kind: provider.KindTextEnd, ContentIndex: out})
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock: content block index missing")
	}
	return int(*idx), nil
}

func int32Value(ptr *int32) int {
	if ptr == nil {
		return 0
	}
	return int(*ptr)
}

// mapStopReason translates Bedrock's ConversationRole-adjacent StopReason
// vocabulary onto the normalized enum; as with every other adapter, the
// tool-call upgrade step is left to model.ResolveStopReason downstream.
func mapStopReason(raw string) model.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return model.StopStop
	case "max_tokens":
		return model.StopLength
	case "tool_use":
		return model.StopToolUse
	case "content_filtered", "guardrail_intervened":
		return model.StopError
	default:
		return model.StopStop
	}
}

func (d *decoder) finish(emit func(provider.Event)) {
	if d.done {
		return
	}
	d.done = true
	reason := d.stopReason
	if reason == "" {
		reason = model.StopStreaming
	}
	final := model.Message{
		Role: model.RoleAssistant, Content: d.blocks, Usage: d.usage,
		StopReason: reason, Provider: "bedrock", Model: d.model,
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}

func (d *decoder) emitAborted(emit func(provider.Event)) {
	if d.done {
		return
	}
	d.done = true
	final := model.Message{
		Role: model.RoleAssistant, Content: d.blocks, Usage: d.usage,
		StopReason: model.StopAborted, Provider: "bedrock", Model: d.model,
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}
