package openairesponses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
)

func feedLine(d *decoder, data string, emit func(provider.Event)) {
	for _, ev := range d.parser.Feed([]byte("data: " + data + "\n\n")) {
		d.handleSSE(ev, emit)
	}
}

func TestDecoderHandlesTextOutputItem(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"response.created"}`, emit)
	feedLine(d, `{"type":"response.output_item.added","output_index":0,"item":{"type":"message"}}`, emit)
	feedLine(d, `{"type":"response.output_text.delta","output_index":0,"delta":"hi"}`, emit)
	feedLine(d, `{"type":"response.output_text.done","output_index":0,"text":"hi"}`, emit)
	feedLine(d, `{"type":"response.completed","response":{"status":"completed","usage":{"input_tokens":3,"output_tokens":1,"total_tokens":4}}}`, emit)

	require.True(t, d.done)
	last := events[len(events)-1]
	assert.Equal(t, provider.KindDone, last.Kind)
	assert.Equal(t, model.StopStop, last.Message.StopReason)
	assert.Equal(t, "hi", last.Message.Text())
	assert.Equal(t, 4, last.Message.Usage.Total)
	assert.Equal(t, "openai", last.Message.Provider)
}

func TestDecoderAccumulatesFunctionCallArguments(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"search"}}`, emit)
	feedLine(d, `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"q\":"}`, emit)
	feedLine(d, `{"type":"response.function_call_arguments.delta","output_index":0,"delta":"\"x\"}"}`, emit)
	feedLine(d, `{"type":"response.output_item.done","output_index":0}`, emit)
	feedLine(d, `{"type":"response.completed","response":{"status":"completed"}}`, emit)

	require.Len(t, d.blocks, 1)
	tc, ok := d.blocks[0].(model.ToolCallBlock)
	require.True(t, ok)
	assert.Equal(t, "call_1|item_1", tc.ID)
	assert.JSONEq(t, `{"q":"x"}`, string(tc.Arguments))
}

func TestDecoderReasoningSummaryAccumulatesThinking(t *testing.T) {
	d := newDecoder("o3-mini", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"response.output_item.added","output_index":0,"item":{"type":"reasoning","id":"item_r"}}`, emit)
	feedLine(d, `{"type":"response.reasoning_summary_text.delta","output_index":0,"delta":"thinking..."}`, emit)
	feedLine(d, `{"type":"response.output_item.done","output_index":0}`, emit)
	feedLine(d, `{"type":"response.completed","response":{"status":"completed"}}`, emit)

	require.Len(t, d.blocks, 1)
	tb, ok := d.blocks[0].(model.ThinkingBlock)
	require.True(t, ok)
	assert.Equal(t, "thinking...", tb.Text)
	assert.Equal(t, "item_r", tb.Sig)
}

func TestDecoderIncompleteStatusMapsToLength(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	feedLine(d, `{"type":"response.incomplete","response":{"status":"incomplete"}}`, emit)
	last := events[len(events)-1]
	assert.Equal(t, model.StopLength, last.Message.StopReason)
}

func TestDecoderFailedEventMapsToError(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	feedLine(d, `{"type":"response.failed","response":{"status":"failed"}}`, emit)
	last := events[len(events)-1]
	assert.Equal(t, model.StopError, last.Message.StopReason)
}

func TestDecoderFinishIsIdempotent(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	feedLine(d, `{"type":"response.completed","response":{"status":"completed"}}`, emit)
	feedLine(d, `{"type":"response.completed","response":{"status":"completed"}}`, emit)
	doneCount := 0
	for _, e := range events {
		if e.Kind == provider.KindDone {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
}

func TestNewDecoderDefaultsProviderLabel(t *testing.T) {
	d := newDecoder("gpt-4o", "")
	assert.Equal(t, "openai", d.provider)
	d2 := newDecoder("gpt-4o", "openai-codex")
	assert.Equal(t, "openai-codex", d2.provider)
}
