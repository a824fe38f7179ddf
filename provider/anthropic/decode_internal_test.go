package anthropic

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

func TestDecoderHandlesTextTurn(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"message_start","message":{"usage":{"input_tokens":10}}}`, emit)
	feedLine(d, `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`, emit)
	feedLine(d, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`, emit)
	feedLine(d, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`, emit)
	feedLine(d, `{"type":"content_block_stop","index":0}`, emit)
	feedLine(d, `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`, emit)
	feedLine(d, `{"type":"message_stop"}`, emit)

	require.True(t, d.done)
	last := events[len(events)-1]
	require.Equal(t, provider.KindDone, last.Kind)
	assert.Equal(t, model.StopStop, last.Message.StopReason)
	assert.Equal(t, "hi there", last.Message.Text())
	assert.Equal(t, 10, last.Message.Usage.Input)
	assert.Equal(t, 5, last.Message.Usage.Output)
}

func TestDecoderAccumulatesToolCallArguments(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"message_start","message":{"usage":{}}}`, emit)
	feedLine(d, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"search"}}`, emit)
	feedLine(d, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`, emit)
	feedLine(d, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"x\"}"}}`, emit)
	feedLine(d, `{"type":"content_block_stop","index":0}`, emit)
	feedLine(d, `{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`, emit)
	feedLine(d, `{"type":"message_stop"}`, emit)

	require.Len(t, d.blocks, 1)
	tc, ok := d.blocks[0].(model.ToolCallBlock)
	require.True(t, ok)
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "search", tc.Name)
	assert.JSONEq(t, `{"q":"x"}`, string(tc.Arguments))

	last := events[len(events)-1]
	assert.Equal(t, model.StopToolUse, last.Message.StopReason)
}

func TestDecoderFinishIsIdempotentOnMessageStop(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }

	feedLine(d, `{"type":"message_stop"}`, emit)
	feedLine(d, `{"type":"message_stop"}`, emit)
	// finish is idempotent; only the first message_stop should emit a Done event.
	doneCount := 0
	for _, e := range events {
		if e.Kind == provider.KindDone {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
}

func TestDecoderDefaultsToStreamingStopReasonWhenUnset(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	feedLine(d, `{"type":"message_stop"}`, emit)
	last := events[len(events)-1]
	assert.Equal(t, model.StopStreaming, last.Message.StopReason)
}

func TestDecoderIgnoresMalformedJSON(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	for _, ev := range d.parser.Feed([]byte("data: {not json\n\n")) {
		d.handleSSE(ev, emit)
	}
	assert.Empty(t, events)
	assert.False(t, d.done)
}

func TestDecoderIgnoresDoneSentinel(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	for _, ev := range d.parser.Feed([]byte("data: [DONE]\n\n")) {
		d.handleSSE(ev, emit)
	}
	assert.Empty(t, events)
}

func TestDecoderEmitAbortedTagsAbortedStopReason(t *testing.T) {
	d := newDecoder("claude-x", nil)
	var events []provider.Event
	emit := func(e provider.Event) { events = append(events, e) }
	feedLine(d, `{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`, emit)
	feedLine(d, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`, emit)
	d.emitAborted(emit)

	require.True(t, d.done)
	last := events[len(events)-1]
	assert.Equal(t, model.StopAborted, last.Message.StopReason)
}

func TestMapStopReasonTranslatesVendorVocabulary(t *testing.T) {
	assert.Equal(t, model.StopStop, mapStopReason("end_turn"))
	assert.Equal(t, model.StopStop, mapStopReason("stop_sequence"))
	assert.Equal(t, model.StopLength, mapStopReason("max_tokens"))
	assert.Equal(t, model.StopToolUse, mapStopReason("tool_use"))
	assert.Equal(t, model.StopError, mapStopReason("refusal"))
	assert.Equal(t, model.StopStop, mapStopReason("unknown_future_value"))
}

func TestIsContextOverflowMatchesKnownSubstrings(t *testing.T) {
	msg := model.Message{StopReason: model.StopError, ErrorMessage: "Error: prompt IS TOO LONG for model"}
	assert.True(t, IsContextOverflow(msg, 0))
}

func TestIsContextOverflowFalseForUnrelatedError(t *testing.T) {
	msg := model.Message{StopReason: model.StopError, ErrorMessage: "rate limited"}
	assert.False(t, IsContextOverflow(msg, 0))
}

func TestIsContextOverflowByUsageAgainstWindow(t *testing.T) {
	msg := model.Message{StopReason: model.StopStop, Usage: model.Usage{Input: 9000, CacheRead: 1500}}
	assert.True(t, IsContextOverflow(msg, 10000))
	assert.False(t, IsContextOverflow(msg, 20000))
}

func TestIsContextOverflowFalseWithoutWindow(t *testing.T) {
	msg := model.Message{StopReason: model.StopStop, Usage: model.Usage{Input: 999999}}
	assert.False(t, IsContextOverflow(msg, 0))
}
