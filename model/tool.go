package model

import "context"

// ToolResult is the outcome of a tool invocation, returned by Tool.Execute.
// A non-nil Err is surfaced to the model as an is_error tool result (spec
// §4.3 step 4) — it never aborts the AgentLoop.
type ToolResult struct {
	Content []Block
	Details any
}

// Tool is the capability contract a caller injects into an Agent (spec §3).
// Implementations are supplied by the embedding application; this module
// ships no concrete tools (file read/write/bash, etc. are explicitly out of
// scope — spec §1).
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns a JSON Schema describing the arguments object.
	InputSchema() any
	// Execute runs the tool. args is the raw JSON arguments object the model
	// produced. callID correlates the invocation with its ToolCallBlock.
	Execute(ctx context.Context, callID string, args []byte) (ToolResult, error)
}

// ToolDefinition is the provider-facing projection of a Tool: name,
// description, and input schema, with no execution capability. Provider
// adapters encode ToolDefinition into the vendor's tool-declaration schema.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// DefinitionOf projects a Tool down to its ToolDefinition.
func DefinitionOf(t Tool) ToolDefinition {
	return ToolDefinition{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()}
}
