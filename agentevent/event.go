// Package agentevent defines the public, wire-serializable AgentEvent shape
// (spec §6.2) emitted by the AgentLoop and relayed by the Agent facade to
// external listeners.
package agentevent

import "github.com/conversant-ai/agentcore/model"

// Kind is the closed set of AgentEvent discriminators (spec §6.2).
type Kind string

const (
	KindAgentStart          Kind = "agent_start"
	KindAgentEnd            Kind = "agent_end"
	KindTurnStart           Kind = "turn_start"
	KindTurnEnd             Kind = "turn_end"
	KindMessageStart        Kind = "message_start"
	KindMessageUpdate       Kind = "message_update"
	KindMessageEnd          Kind = "message_end"
	KindToolExecutionStart  Kind = "tool_execution_start"
	KindToolExecutionUpdate Kind = "tool_execution_update"
	KindToolExecutionEnd    Kind = "tool_execution_end"
	KindApprovalRequest     Kind = "approval_request"
)

// Event is the single concrete type for every AgentEvent variant; Kind
// selects which of the remaining fields are meaningful, matching the
// flattened-tagged-union convention used throughout this module.
type Event struct {
	Kind Kind

	// message_start/update/end, turn_end (assistant message)
	Message *model.Message

	// tool_execution_*
	ToolCallID string
	ToolName   string
	Args       model.Block // ToolCallBlock carrying the invocation arguments
	Result     *model.ToolResult
	IsError    bool

	// agent_end (turn_end events leave it nil)
	Messages []model.Message

	// approval_request
	ApprovalRequest *ApprovalRequest
}

// ApprovalRequest describes a tool call awaiting an ApprovalGate decision.
type ApprovalRequest struct {
	ToolCallID string
	ToolName   string
	Args       model.Block
}
