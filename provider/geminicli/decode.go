package geminicli

import (
	"encoding/json"
	"sync/atomic"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/sse"
	"github.com/conversant-ai/agentcore/telemetry"
)

// decodeErrorCounter is the name of the counter incremented each time a
// malformed SSE payload is dropped (SPEC_FULL.md §A.2).
const decodeErrorCounter = "provider.decode_errors"

// decoder implements the candidate-part state machine from
// original_source/src/api/google_gemini_cli.rs's stream_google_gemini_cli:
// unlike Anthropic/OpenAI, Gemini's wire shape has no explicit block
// start/stop events — each streamed chunk carries the full part, and block
// transitions (text ↔ thinking ↔ tool-call) are inferred from which part
// kind appears next, closing whatever block was open before opening the new
// one.
type decoder struct {
	parser  *sse.Parser
	model   string
	counter *atomic.Uint64

	blocks        []model.Block
	textIdx       int
	textOpen      bool
	textBuf       string
	thinkIdx      int
	thinkOpen     bool
	thinkBuf      string
	thinkSig      string
	seenToolCalls map[string]bool

	usage model.Usage
	done  bool

	// metrics is optional (nil is a valid no-instrumentation default); set
	// via Adapter.Stream from the Adapter's telemetry.Bundle.
	metrics telemetry.Metrics
}

func newDecoder(modelID string, counter *atomic.Uint64) *decoder {
	return &decoder{parser: &sse.Parser{}, model: modelID, counter: counter, seenToolCalls: make(map[string]bool)}
}

type wireResponse struct {
	Response *wireCandidateResponse `json:"response"`
}

type wireCandidateResponse struct {
	Candidates    []wireCandidate `json:"candidates"`
	UsageMetadata *wireUsage      `json:"usageMetadata"`
}

type wireCandidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
}

type wireContent struct {
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text             string          `json:"text"`
	Thought          bool            `json:"thought"`
	ThoughtSignature string          `json:"thoughtSignature"`
	FunctionCall     *wireFuncCall   `json:"functionCall"`
}

type wireFuncCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type wireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (d *decoder) handleSSE(ev sse.Event, emit func(provider.Event)) {
	if sse.IsDone(ev) {
		return
	}
	var w wireResponse
	if err := json.Unmarshal([]byte(ev.Data), &w); err != nil {
		if d.metrics != nil {
			d.metrics.IncCounter(decodeErrorCounter, 1, "provider", "gemini-cli")
		}
		return
	}
	if w.Response == nil {
		return
	}
	if !d.started() {
		emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant, Provider: "gemini-cli", Model: d.model}})
	}

	var finish string
	for _, c := range w.Response.Candidates {
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
		for _, p := range c.Content.Parts {
			d.handlePart(p, emit)
		}
	}
	if w.Response.UsageMetadata != nil {
		u := w.Response.UsageMetadata
		d.usage = model.Usage{Input: u.PromptTokenCount, Output: u.CandidatesTokenCount, Total: u.TotalTokenCount}
	}
	if finish != "" {
		d.closeOpenBlocks(emit)
		d.finish(emit, finish)
	}
}

// started reports whether KindStart has already been emitted; approximated
// by whether any block bookkeeping has begun, since this adapter has no
// separate "message start" wire event to key off of.
func (d *decoder) started() bool {
	return d.textOpen || d.thinkOpen || len(d.blocks) > 0
}

func (d *decoder) handlePart(p wirePart, emit func(provider.Event)) {
	if p.FunctionCall != nil {
		d.closeOpenBlocks(emit)
		id := p.FunctionCall.ID
		if id == "" || d.seenToolCalls[id] {
			id = newToolCallID(d.counter, p.FunctionCall.Name)
		}
		d.seenToolCalls[id] = true
		idx := len(d.blocks)
		args := p.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		d.blocks = append(d.blocks, model.ToolCallBlock{ID: id, Name: p.FunctionCall.Name, Arguments: args, Sig: p.ThoughtSignature})
		emit(provider.Event{Kind: provider.KindToolCallStart, ContentIndex: idx})
		emit(provider.Event{Kind: provider.KindToolCallDelta, ContentIndex: idx, Delta: string(args)})
		emit(provider.Event{Kind: provider.KindToolCallEnd, ContentIndex: idx})
		return
	}
	if p.Text == "" {
		return
	}
	if p.Thought {
		if !d.thinkOpen {
			d.closeText(emit)
			d.thinkIdx = len(d.blocks)
			d.blocks = append(d.blocks, model.ThinkingBlock{})
			d.thinkOpen = true
			emit(provider.Event{Kind: provider.KindThinkingStart, ContentIndex: d.thinkIdx})
		}
		d.thinkBuf += p.Text
		if p.ThoughtSignature != "" {
			d.thinkSig = p.ThoughtSignature
		}
		d.blocks[d.thinkIdx] = model.ThinkingBlock{Text: d.thinkBuf, Sig: d.thinkSig}
		emit(provider.Event{Kind: provider.KindThinkingDelta, ContentIndex: d.thinkIdx, Delta: p.Text})
		return
	}
	if !d.textOpen {
		d.closeThinking(emit)
		d.textIdx = len(d.blocks)
		d.blocks = append(d.blocks, model.TextBlock{})
		d.textOpen = true
		emit(provider.Event{Kind: provider.KindTextStart, ContentIndex: d.textIdx})
	}
	d.textBuf += p.Text
	d.blocks[d.textIdx] = model.TextBlock{Text: d.textBuf}
	emit(provider.Event{Kind: provider.KindTextDelta, ContentIndex: d.textIdx, Delta: p.Text})
}

func (d *decoder) closeText(emit func(provider.Event)) {
	if d.textOpen {
		emit(provider.Event{Kind: provider.KindTextEnd, ContentIndex: d.textIdx})
		d.textOpen = false
	}
}

func (d *decoder) closeThinking(emit func(provider.Event)) {
	if d.thinkOpen {
		emit(provider.Event{Kind: provider.KindThinkingEnd, ContentIndex: d.thinkIdx})
		d.thinkOpen = false
	}
}

func (d *decoder) closeOpenBlocks(emit func(provider.Event)) {
	d.closeText(emit)
	d.closeThinking(emit)
}

// mapFinishReason maps Gemini's finishReason vocabulary onto the normalized
// enum; as with every other adapter, the tool-call upgrade step itself is
// left to model.ResolveStopReason downstream.
func mapFinishReason(raw string) model.StopReason {
	switch raw {
	case "STOP":
		return model.StopStop
	case "MAX_TOKENS":
		return model.StopLength
	case "SAFETY", "RECITATION", "OTHER", "BLOCKLIST", "PROHIBITED_CONTENT":
		return model.StopError
	default:
		return model.StopStop
	}
}

func (d *decoder) finish(emit func(provider.Event), finishReason string) {
	if d.done {
		return
	}
	d.done = true
	final := model.Message{
		Role: model.RoleAssistant, Content: d.blocks, Usage: d.usage,
		StopReason: mapFinishReason(finishReason), Provider: "gemini-cli", Model: d.model,
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
		StopReason: model.StopAborted, Provider: "gemini-cli", Model: d.model,
	}
	emit(provider.Event{Kind: provider.KindDone, Message: &final})
}
