package sse_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conversant-ai/agentcore/sse"
)

// TestParserIsChunkBoundaryInvariant validates the chunk-boundary law spec
// §9 requires of the SSE decoder: splitting an arbitrary well-formed event
// stream into arbitrarily many Feed() calls must yield exactly the same
// sequence of decoded events as feeding the whole stream in a single call.
func TestParserIsChunkBoundaryInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	eventCountGen := gen.IntRange(1, 6)
	splitCountGen := gen.IntRange(1, 12)

	properties.Property("feed split at arbitrary byte boundaries == feed whole", prop.ForAll(
		func(n, splits int) bool {
			var whole string
			for i := 0; i < n; i++ {
				whole += "event: delta\ndata: chunk-" + itoa(i) + "\n\n"
			}

			var wholeParser sse.Parser
			want := wholeParser.Feed([]byte(whole))

			var splitParser sse.Parser
			var got []sse.Event
			chunkLen := len(whole)/splits + 1
			for start := 0; start < len(whole); start += chunkLen {
				end := start + chunkLen
				if end > len(whole) {
					end = len(whole)
				}
				got = append(got, splitParser.Feed([]byte(whole[start:end]))...)
			}

			if len(want) != len(got) {
				return false
			}
			for i := range want {
				if want[i] != got[i] {
					return false
				}
			}
			return true
		},
		eventCountGen, splitCountGen,
	))

	properties.TestingRun(t)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
