package model

// StopReason is the closed enum describing why an assistant response ended.
type StopReason string

const (
	// StopStreaming means the response is still in flight; a valid value for
	// an intermediate MessageUpdate partial but never for a final message
	// once post-stream resolution (§4.2) has run.
	StopStreaming StopReason = "streaming"
	// StopStop means the model ended its turn normally.
	StopStop StopReason = "stop"
	// StopLength means the model was truncated by a token/length limit.
	StopLength StopReason = "length"
	// StopToolUse means the model's turn ended because it requested one or
	// more tool calls.
	StopToolUse StopReason = "toolUse"
	// StopError means the adapter or transport failed; ErrorMessage is set.
	StopError StopReason = "error"
	// StopAborted means the caller's abort() flag preempted the stream.
	StopAborted StopReason = "aborted"
)

// ResolveStopReason applies the post-stream stop-reason resolution rule (spec §4.2):
// if still "streaming", promote to "toolUse" when any ToolCallBlock is
// present, else "stop"; if "stop" but tool calls are present, upgrade to
// "toolUse". This is the single source of truth — adapters must not
// re-apply it downstream (spec §9 open question 2).
func ResolveStopReason(reason StopReason, blocks []Block) StopReason {
	hasToolCall := false
	for _, b := range blocks {
		if _, ok := b.(ToolCallBlock); ok {
			hasToolCall = true
			break
		}
	}
	switch reason {
	case StopStreaming:
		if hasToolCall {
			return StopToolUse
		}
		return StopStop
	case StopStop:
		if hasToolCall {
			return StopToolUse
		}
		return StopStop
	default:
		return reason
	}
}
