// Package agentcore is the module root; it defines the closed error
// taxonomy shared by every component (spec §7). Within-turn model/tool
// failures are NOT part of this taxonomy — those surface as assistant
// messages with stop_reason=error (see model.StopError) and are handled by
// toolerrors.ToolError, not by Error here.
package agentcore

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error categories. It is a kind, not a concrete
// type: every Error shares one Go type and carries its Kind as data, so
// callers match with errors.Is against the sentinel Kind values below
// rather than type-asserting against a family of error structs.
type Kind string

const (
	// KindAlreadyStreaming: prompt/continue_prompt called while is_streaming.
	KindAlreadyStreaming Kind = "already_streaming"
	// KindEmptyContext: continue_prompt called with no messages.
	KindEmptyContext Kind = "empty_context"
	// KindLastMessageAssistant: continue_prompt called when the last message
	// is already an Assistant message.
	KindLastMessageAssistant Kind = "last_message_assistant"
	// KindInvalidBranchEntry: a branch/navigation operation referenced an
	// entry id that does not exist in the session.
	KindInvalidBranchEntry Kind = "invalid_branch_entry"
	// KindInvalidTreeTarget: navigate_tree was given a target that cannot be
	// resolved to a branch ancestor.
	KindInvalidTreeTarget Kind = "invalid_tree_target"
	// KindCompaction: prepare_compaction/apply_compaction failed.
	KindCompaction Kind = "compaction"
	// KindSession: a persistence operation failed, typically a filesystem error.
	KindSession Kind = "session"
	// KindLoop: an error wrapped from the AgentLoop itself (e.g. a failed
	// agent_loop_continue precondition not already covered by a more
	// specific Kind).
	KindLoop Kind = "loop"
)

// Error is the single concrete error type for the closed taxonomy. Message
// is a human-readable detail; Cause, when non-nil, supports errors.Is/As
// unwrapping to an underlying error (e.g. the *os.PathError behind a
// KindSession failure).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/As against Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, enabling
// errors.Is(err, agentcore.New(agentcore.KindAlreadyStreaming, "")) style
// checks; callers more commonly use the IsKind helper below instead.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// IsKind reports whether err is an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
