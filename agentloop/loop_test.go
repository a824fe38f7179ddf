package agentloop_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/agentevent"
	"github.com/conversant-ai/agentcore/agentloop"
	"github.com/conversant-ai/agentcore/approval"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
)

type echoTool struct{ calls int }

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echoes its input" }
func (e *echoTool) InputSchema() any     { return nil }
func (e *echoTool) Execute(ctx context.Context, callID string, args []byte) (model.ToolResult, error) {
	e.calls++
	return model.ToolResult{Content: []model.Block{model.TextBlock{Text: "echoed"}}}, nil
}

// stubStream returns a fixed sequence of final assistant messages, one per
// call, cycling through calls of Run (tool dispatch triggers a second call).
func stubStream(messages ...model.Message) provider.StreamFn {
	i := 0
	return func(modelID string, ctx []model.Message, emit func(provider.Event)) error {
		msg := messages[i]
		if i < len(messages)-1 {
			i++
		}
		emit(provider.Event{Kind: provider.KindStart, Partial: &msg})
		emit(provider.Event{Kind: provider.KindDone, Message: &msg})
		return nil
	}
}

func collectEvents(events *[]agentevent.Event) func(agentevent.Event) {
	return func(ev agentevent.Event) { *events = append(*events, ev) }
}

func TestRunSimpleTurnNoTools(t *testing.T) {
	var events []agentevent.Event
	final := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop, Content: []model.Block{model.TextBlock{Text: "hello"}}}

	loop := agentloop.New(agentloop.Config{
		Stream: stubStream(final),
		Emit:   collectEvents(&events),
	}, nil, nil, nil)

	result, err := loop.Run(context.Background(), agentloop.RunInput{Prompts: []model.Message{model.NewUserText("hi")}})
	require.NoError(t, err)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, model.RoleUser, result.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, result.Messages[1].Role)
	assert.Equal(t, "hello", result.Messages[1].Text())

	var sawAgentEnd bool
	for _, ev := range events {
		if ev.Kind == agentevent.KindAgentEnd {
			sawAgentEnd = true
		}
	}
	assert.True(t, sawAgentEnd)
}

func TestRunContinueRequiresNonEmptyContext(t *testing.T) {
	loop := agentloop.New(agentloop.Config{Stream: stubStream(model.Message{Role: model.RoleAssistant, StopReason: model.StopStop})}, nil, nil, nil)
	_, err := loop.Run(context.Background(), agentloop.RunInput{Continue: true})
	assert.Error(t, err)
}

func TestRunContinueRejectsTrailingAssistantMessage(t *testing.T) {
	loop := agentloop.New(agentloop.Config{Stream: stubStream(model.Message{Role: model.RoleAssistant, StopReason: model.StopStop})}, nil, nil, nil)
	_, err := loop.Run(context.Background(), agentloop.RunInput{
		Continue: true,
		Context:  []model.Message{{Role: model.RoleAssistant, StopReason: model.StopStop}},
	})
	assert.Error(t, err)
}

func TestRunDispatchesToolCallsThenContinues(t *testing.T) {
	tool := &echoTool{}
	toolCallMsg := model.Message{
		Role: model.RoleAssistant, StopReason: model.StopToolUse,
		Content: []model.Block{model.ToolCallBlock{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
	}
	finalMsg := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop, Content: []model.Block{model.TextBlock{Text: "done"}}}

	loop := agentloop.New(agentloop.Config{
		Tools:  []model.Tool{tool},
		Stream: stubStream(toolCallMsg, finalMsg),
	}, nil, nil, nil)

	result, err := loop.Run(context.Background(), agentloop.RunInput{Prompts: []model.Message{model.NewUserText("use the tool")}})
	require.NoError(t, err)
	assert.Equal(t, 1, tool.calls)

	var roles []model.Role
	for _, m := range result.Messages {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleAssistant, model.RoleToolResult, model.RoleAssistant}, roles)
}

func TestRunUnknownToolProducesErrorResult(t *testing.T) {
	toolCallMsg := model.Message{
		Role: model.RoleAssistant, StopReason: model.StopToolUse,
		Content: []model.Block{model.ToolCallBlock{ID: "call_1", Name: "missing", Arguments: json.RawMessage(`{}`)}},
	}
	finalMsg := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop}

	loop := agentloop.New(agentloop.Config{Stream: stubStream(toolCallMsg, finalMsg)}, nil, nil, nil)
	result, err := loop.Run(context.Background(), agentloop.RunInput{Prompts: []model.Message{model.NewUserText("x")}})
	require.NoError(t, err)

	var toolResult *model.Message
	for i := range result.Messages {
		if result.Messages[i].Role == model.RoleToolResult {
			toolResult = &result.Messages[i]
		}
	}
	require.NotNil(t, toolResult)
	assert.True(t, toolResult.IsError)
}

func TestRunApprovalDenyShortCircuitsTool(t *testing.T) {
	tool := &echoTool{}
	toolCallMsg := model.Message{
		Role: model.RoleAssistant, StopReason: model.StopToolUse,
		Content: []model.Block{model.ToolCallBlock{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
	}
	finalMsg := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop}

	gate := approval.New(func(ctx context.Context, req approval.Request) (approval.Decision, error) {
		return approval.Deny, nil
	})

	loop := agentloop.New(agentloop.Config{
		Tools:    []model.Tool{tool},
		Stream:   stubStream(toolCallMsg, finalMsg),
		Approval: gate,
	}, nil, nil, nil)

	result, err := loop.Run(context.Background(), agentloop.RunInput{Prompts: []model.Message{model.NewUserText("x")}})
	require.NoError(t, err)
	assert.Equal(t, 0, tool.calls)

	var toolResult *model.Message
	for i := range result.Messages {
		if result.Messages[i].Role == model.RoleToolResult {
			toolResult = &result.Messages[i]
		}
	}
	require.NotNil(t, toolResult)
	assert.True(t, toolResult.IsError)
}
