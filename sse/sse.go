// Package sse implements the single shared Server-Sent Events decoder used
// by the HTTP provider adapters (provider/bedrock decodes AWS SDK event types
// instead). It is a pure byte-stream → discrete-event
// transducer with no knowledge of vendor semantics (spec §4.1, §9): CRLF is
// normalized to LF, events are delimited by a blank line, and `event:`/
// `data:` lines are accumulated per the usual SSE grammar. Each adapter owns
// its own Parser instance — there is no package-level state — so concurrent
// sessions never interfere with one another (spec §9, "no global state").
package sse

import "strings"

// Event is one decoded SSE event: an optional name and its concatenated data
// payload. The literal sentinel "[DONE]" is yielded like any other event;
// adapters are responsible for discarding it.
type Event struct {
	Name string
	Data string
}

// Parser accumulates bytes across Feed calls and yields complete events as
// soon as their terminating blank line arrives. The zero value is ready to
// use.
type Parser struct {
	buffer strings.Builder
	pos    int // unread is buffer.String()[pos:]; Feed keeps it at 0 by rebuilding the buffer from the unread tail
}

// Feed appends chunk to the internal buffer and returns every event that
// became complete as a result. Bytes that do not yet form a complete event
// (no trailing blank line) remain buffered for the next Feed call. Feed may
// return zero, one, or many events for a single call.
func (p *Parser) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	text := normalizeCRLF(string(chunk))
	p.buffer.WriteString(text)

	remaining := p.buffer.String()[p.pos:]
	var events []Event
	consumed := 0
	for {
		idx := strings.Index(remaining[consumed:], "\n\n")
		if idx < 0 {
			break
		}
		boundary := consumed + idx
		raw := remaining[consumed:boundary]
		consumed = boundary + 2
		if ev, ok := parseRawEvent(raw); ok {
			events = append(events, ev)
		}
	}

	if consumed > 0 {
		tail := remaining[consumed:]
		p.buffer.Reset()
		p.buffer.WriteString(tail)
		p.pos = 0
	}
	return events
}

// parseRawEvent parses the lines of a single blank-line-delimited event
// block. Per spec §4.1: the last `event:` line wins for the name; `data:`
// lines (with one optional leading space stripped) are concatenated with
// "\n". An event with no data lines at all yields ok=false — this matches
// the source's behavior of discarding events whose accumulated data is
// empty.
func parseRawEvent(raw string) (Event, bool) {
	var name string
	var dataLines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			if v := strings.TrimSpace(strings.TrimPrefix(line, "event:")); v != "" {
				name = v
			}
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(dataLines) == 0 {
		return Event{}, false
	}
	return Event{Name: name, Data: strings.Join(dataLines, "\n")}, true
}

func normalizeCRLF(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// IsDone reports whether ev is the vendor-agnostic terminator sentinel.
func IsDone(ev Event) bool {
	return ev.Data == "[DONE]"
}
