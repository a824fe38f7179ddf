package openairesponses

import (
	"encoding/json"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/sse"
	"github.com/conversant-ai/agentcore/telemetry"
)

// decodeErrorCounter is the name of the counter incremented each time a
// malformed SSE payload is dropped (SPEC_FULL.md §A.2).
const decodeErrorCounter = "provider.decode_errors"

// decoder accumulates per-output-item state across the Responses API's
// event stream (spec §4.2's event table: response.output_item.added/done,
// response.output_text.delta, response.reasoning_summary_text.delta,
// response.function_call_arguments.delta, response.completed), built on the
// shared sse.Parser rather than the SDK's own streaming client.
type decoder struct {
	parser   *sse.Parser
	model    string
	provider string

	blocks []model.Block
	calls  map[int64]*callAccum

	usage model.Usage
	done  bool

	// metrics is optional (nil is a valid no-instrumentation default); set
	// via Adapter.Stream from the Adapter's telemetry.Bundle.
	metrics telemetry.Metrics
}

type callAccum struct {
	name   string
	callID string
	itemID string
	args   []byte
	kind   string // "function" or "thinking" (reasoning item)
	text   string
}

func newDecoder(modelID, providerLabel string) *decoder {
	if providerLabel == "" {
		providerLabel = "openai"
	}
	return &decoder{parser: &sse.Parser{}, model: modelID, provider: providerLabel, calls: make(map[int64]*callAccum)}
}

type wireEvent struct {
	Type      string        `json:"type"`
	OutputIdx int64         `json:"output_index"`
	Delta     string        `json:"delta"`
	Text      string        `json:"text"`
	Item      *wireItem     `json:"item"`
	Response  *wireResponse `json:"response"`
	Arguments string        `json:"arguments"`
	ItemID    string        `json:"item_id"`
}

type wireItem struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireResponse struct {
	Status string     `json:"status"`
	Usage  *wireUsage `json:"usage"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (d *decoder) handleSSE(ev sse.Event, emit func(provider.Event)) {
	if sse.IsDone(ev) {
		return
	}
	var w wireEvent
	if err := json.Unmarshal([]byte(ev.Data), &w); err != nil {
		if d.metrics != nil {
			d.metrics.IncCounter(decodeErrorCounter, 1, "provider", d.provider)
		}
		return
	}

	switch w.Type {
	case "response.created":
		emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant, Provider: d.provider, API: "responses", Model: d.model}})

	case "response.output_text.delta":
		emit(provider.Event{Kind: provider.KindTextDelta, ContentIndex: int(w.OutputIdx), Delta: w.Delta})

	case "response.output_text.done":
		emit(provider.Event{Kind: provider.KindTextEnd, ContentIndex: int(w.OutputIdx)})
		d.blocks = append(d.blocks, model.TextBlock{Text: w.Text, Sig: w.ItemID})

	case "response.reasoning_summary_text.delta":
		ca := d.callFor(w.OutputIdx)
		ca.kind = "thinking"
		ca.text += w.Delta
		emit(provider.Event{Kind: provider.KindThinkingDelta, ContentIndex: int(w.OutputIdx), Delta: w.Delta})

	case "response.output_item.added":
		if w.Item == nil {
			return
		}
		ca := d.callFor(w.OutputIdx)
		ca.itemID = w.Item.ID
		switch w.Item.Type {
		case "function_call":
			ca.kind = "function"
			ca.name = w.Item.Name
			ca.callID = w.Item.CallID
			emit(provider.Event{Kind: provider.KindToolCallStart, ContentIndex: int(w.OutputIdx)})
		case "reasoning":
			ca.kind = "thinking"
			emit(provider.Event{Kind: provider.KindThinkingStart, ContentIndex: int(w.OutputIdx)})
		case "message":
			emit(provider.Event{Kind: provider.KindTextStart, ContentIndex: int(w.OutputIdx)})
		}

	case "response.function_call_arguments.delta":
		ca := d.callFor(w.OutputIdx)
		ca.args = append(ca.args, w.Delta...)
		emit(provider.Event{Kind: provider.KindToolCallDelta, ContentIndex: int(w.OutputIdx), Delta: w.Delta})

	case "response.output_item.done":
		d.finalizeItem(w.OutputIdx, emit)

	case "response.completed", "response.incomplete", "response.failed":
		if w.Response != nil && w.Response.Usage != nil {
			d.usage = model.Usage{
				Input: w.Response.Usage.InputTokens, Output: w.Response.Usage.OutputTokens,
				Total: w.Response.Usage.TotalTokens,
			}
		}
		d.finish(emit, w.Type, w.Response)
	}
}

func (d *decoder) callFor(idx int64) *callAccum {
	ca, ok := d.calls[idx]
	if !ok {
		ca = &callAccum{}
		d.calls[idx] = ca
	}
	return ca
}

func (d *decoder) finalizeItem(idx int64, emit func(provider.Event)) {
	ca, ok := d.calls[idx]
	if !ok {
		return
	}
	delete(d.calls, idx)
	switch ca.kind {
	case "function":
		args := ca.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		d.blocks = append(d.blocks, model.ToolCallBlock{
			ID:        joinCallID(ca.callID, ca.itemID),
			Name:      ca.name,
			Arguments: json.RawMessage(args),
		})
		emit(provider.Event{Kind: provider.KindToolCallEnd, ContentIndex: int(idx)})
	case "thinking":
		d.blocks = append(d.blocks, model.ThinkingBlock{Text: ca.text, Sig: ca.itemID})
		emit(provider.Event{Kind: provider.KindThinkingEnd, ContentIndex: int(idx)})
	}
}

func (d *decoder) finish(emit func(provider.Event), eventType string, resp *wireResponse) {
	if d.done {
		return
	}
	d.done = true
	stopReason := model.StopStreaming
	switch {
	case eventType == "response.failed":
		stopReason = model.StopError
	case resp != nil && resp.Status == "incomplete":
		stopReason = model.StopLength
	case resp != nil:
		stopReason = model.StopStop
	}
	final := model.Message{
		Role: model.RoleAssistant, Content: d.blocks, Usage: d.usage,
		StopReason: stopReason, Provider: d.provider, API: "responses", Model: d.model,
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
		StopReason: model.StopAborted, Provider: d.provider, API: "responses", Model: d.model,
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}
