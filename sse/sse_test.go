package sse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversant-ai/agentcore/sse"
)

func TestParserSingleEvent(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("event: message_start\ndata: {\"x\":1}\n\n"))
	require := assertLen(t, events, 1)
	assert.Equal(t, "message_start", require[0].Name)
	assert.Equal(t, `{"x":1}`, require[0].Data)
}

func TestParserMultilineData(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("data: line one\ndata: line two\n\n"))
	got := assertLen(t, events, 1)
	assert.Equal(t, "line one\nline two", got[0].Data)
}

func TestParserSplitAcrossFeedCalls(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("event: delta\ndata: partial"))
	assert.Empty(t, events)
	events = p.Feed([]byte(" continues\n\n"))
	got := assertLen(t, events, 1)
	assert.Equal(t, "partial continues", got[0].Data)
}

func TestParserMultipleEventsInOneChunk(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("data: one\n\ndata: two\n\ndata: three\n\n"))
	got := assertLen(t, events, 3)
	assert.Equal(t, "one", got[0].Data)
	assert.Equal(t, "two", got[1].Data)
	assert.Equal(t, "three", got[2].Data)
}

func TestParserCRLFNormalized(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("event: x\r\ndata: y\r\n\r\n"))
	got := assertLen(t, events, 1)
	assert.Equal(t, "y", got[0].Data)
	assert.Equal(t, "x", got[0].Name)
}

func TestParserEventWithNoDataIsDiscarded(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("event: ping\n\n"))
	assert.Empty(t, events)
}

func TestParserLastEventNameWins(t *testing.T) {
	var p sse.Parser
	events := p.Feed([]byte("event: first\nevent: second\ndata: x\n\n"))
	got := assertLen(t, events, 1)
	assert.Equal(t, "second", got[0].Name)
}

func TestIsDone(t *testing.T) {
	assert.True(t, sse.IsDone(sse.Event{Data: "[DONE]"}))
	assert.False(t, sse.IsDone(sse.Event{Data: "nope"}))
}

func assertLen(t *testing.T, events []sse.Event, n int) []sse.Event {
	t.Helper()
	if len(events) != n {
		t.Fatalf("expected %d events, got %d: %+v", n, len(events), events)
	}
	return events
}
