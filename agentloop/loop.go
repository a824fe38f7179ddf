// Package agentloop implements the AgentLoop turn scheduler (spec §4.3): a
// single-threaded cooperative state machine that streams one assistant
// response per turn, dispatches any tool calls it requests, and drains the
// steering and follow-up queues to decide whether another turn follows.
package agentloop

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/codes"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/agentevent"
	"github.com/conversant-ai/agentcore/approval"
	"github.com/conversant-ai/agentcore/extensionbridge"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/reminder"
	"github.com/conversant-ai/agentcore/telemetry"
	"github.com/conversant-ai/agentcore/toolerrors"
	"github.com/conversant-ai/agentcore/toolschema"
)

// skippedToolMessage is the fixed content of a tool result synthesized when
// steering preemption skips a remaining tool call (spec §4.3 step 7).
const skippedToolMessage = "Skipped due to queued user message."

// deniedToolMessage is the fixed content of a tool result synthesized when
// the ApprovalGate returns Deny or Abort (spec §4.3 step 2).
const deniedToolMessage = "Tool execution denied"

// Config wires the injected callables an AgentLoop run needs (spec §4.3,
// §4.4): none of these may be shared-mutable closures over loop-internal
// state — each is a plain function or interface value supplied by the
// caller.
type Config struct {
	Model            string
	Tools            []model.Tool
	Stream           provider.StreamFn
	ConvertToLLM     ConvertToLLMFn
	TransformContext TransformContextFn
	Approval         *approval.Gate
	SteeringDrain    DrainPolicy
	FollowUpDrain    DrainPolicy
	Emit             func(agentevent.Event)

	// Telemetry, when its Tracer is non-nil, wraps each turn in an
	// "agentloop.turn" span and each tool call in an "agentloop.tool_call"
	// span (SPEC_FULL.md §A.2). A zero Bundle is safe — spans simply aren't
	// opened.
	Telemetry telemetry.Bundle

	// Bridge, when set, receives a "tool_call" hook event (spec §4.7) for
	// every dispatched tool call, after the ApprovalGate has already run
	// (spec §9 open question 4: "approval first, then bridge, to fail
	// fast"). BridgeContext supplies the caller context sent alongside each
	// event; a nil func sends the zero Context.
	Bridge        *extensionbridge.Bridge
	BridgeContext func() extensionbridge.Context

	// Reminder, when set, is consulted at run start and at the start of
	// every turn whose prefix carries a new user message (SPEC_FULL.md
	// §C.8): its Inject output is appended to a transient copy of that
	// turn's messages ahead of convert_to_llm.
	Reminder *reminder.Engine
}

// RunInput selects entry vs continue mode (spec §4.3 "Entry"/"Continue mode").
type RunInput struct {
	// Prompts, when Continue is false, are appended to Context and streamed
	// as this call's new user turn.
	Prompts []model.Message
	// Context is the full message history so far.
	Context []model.Message
	// Continue selects agent_loop_continue semantics: Context must be
	// non-empty and not end in an Assistant message.
	Continue bool
}

// RunResult is what a completed (or aborted) Run produced.
type RunResult struct {
	Messages []model.Message // every message appended during this call, in order
}

// Loop runs one agent_loop / agent_loop_continue call (spec §4.3). A Loop
// instance is single-use: construct a fresh one (via New) per call, sharing
// the same steering/follow-up Queues and abort flag across calls the way
// the Agent facade does.
type Loop struct {
	cfg      Config
	steering *Queue
	followUp *Queue
	abort    *atomic.Bool
}

// New constructs a Loop. steering, followUp, and abort are typically owned
// by the long-lived Agent facade and threaded through every Run call so
// that Steer/FollowUp/Abort calls made mid-turn are visible to this run.
func New(cfg Config, steering, followUp *Queue, abort *atomic.Bool) *Loop {
	if steering == nil {
		steering = NewQueue(cfg.SteeringDrain)
	}
	if followUp == nil {
		followUp = NewQueue(cfg.FollowUpDrain)
	}
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Loop{cfg: cfg, steering: steering, followUp: followUp, abort: abort}
}

func (l *Loop) emit(ev agentevent.Event) {
	if l.cfg.Emit != nil {
		l.cfg.Emit(ev)
	}
}

// Run executes the full state machine described in spec §4.3 and returns
// every message appended along the way.
func (l *Loop) Run(ctx context.Context, input RunInput) (RunResult, error) {
	messages := append([]model.Message(nil), input.Context...)
	var newMessages []model.Message

	if input.Continue {
		if len(messages) == 0 {
			return RunResult{}, agentcore.New(agentcore.KindEmptyContext, "agent_loop_continue requires a non-empty context")
		}
		if messages[len(messages)-1].IsAssistant() {
			return RunResult{}, agentcore.New(agentcore.KindLastMessageAssistant, "agent_loop_continue requires the last message not be an Assistant message")
		}
	} else {
		messages = append(messages, input.Prompts...)
	}

	l.emit(agentevent.Event{Kind: agentevent.KindAgentStart})
	l.emit(agentevent.Event{Kind: agentevent.KindTurnStart})
	if !input.Continue {
		for i := range input.Prompts {
			p := input.Prompts[i]
			l.emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: &p})
			l.emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &p})
			newMessages = append(newMessages, p)
		}
	}

	firstTurn := true
	newUserTurn := !input.Continue
	for {
		turnCtx := ctx
		var turnSpan telemetry.Span
		if l.cfg.Telemetry.Tracer != nil {
			turnCtx, turnSpan = l.cfg.Telemetry.Tracer.Start(ctx, "agentloop.turn")
		}

		assistantMsg, err := l.streamTurn(turnCtx, messages, firstTurn, newUserTurn)
		firstTurn = false
		if err != nil {
			if turnSpan != nil {
				turnSpan.RecordError(err)
				turnSpan.End()
			}
			return RunResult{Messages: newMessages}, err
		}
		messages = append(messages, assistantMsg)
		newMessages = append(newMessages, assistantMsg)

		if assistantMsg.StopReason == model.StopError || assistantMsg.StopReason == model.StopAborted {
			l.emit(agentevent.Event{Kind: agentevent.KindTurnEnd, Message: &assistantMsg})
			if turnSpan != nil {
				turnSpan.End()
			}
			break
		}

		toolCalls := assistantMsg.ToolCalls()
		var steerPrefix []model.Message
		if len(toolCalls) > 0 {
			steerPrefix = l.dispatchTools(turnCtx, toolCalls, &messages, &newMessages)
			if steerPrefix == nil {
				steerPrefix = l.steering.Drain() // point (ii): after tool dispatch, absent preemption
			}
		}
		l.emit(agentevent.Event{Kind: agentevent.KindTurnEnd, Message: &assistantMsg})
		if turnSpan != nil {
			turnSpan.End()
		}

		if len(steerPrefix) == 0 && len(toolCalls) == 0 {
			steerPrefix = l.steering.Drain() // point (i): turn prefix when no tools ran at all
		}
		if len(steerPrefix) > 0 {
			messages, newMessages = appendUserPrefix(messages, newMessages, steerPrefix, l.emit)
			l.emit(agentevent.Event{Kind: agentevent.KindTurnStart})
			newUserTurn = true
			continue
		}

		if len(toolCalls) > 0 {
			// Tool calls occurred with no steering preemption: another
			// assistant turn follows automatically to consume the results.
			l.emit(agentevent.Event{Kind: agentevent.KindTurnStart})
			newUserTurn = false
			continue
		}

		followMsgs := l.followUp.Drain()
		if len(followMsgs) > 0 {
			messages, newMessages = appendUserPrefix(messages, newMessages, followMsgs, l.emit)
			l.emit(agentevent.Event{Kind: agentevent.KindTurnStart})
			newUserTurn = true
			continue
		}
		break
	}

	l.emit(agentevent.Event{Kind: agentevent.KindAgentEnd, Messages: newMessages})
	return RunResult{Messages: newMessages}, nil
}

func appendUserPrefix(messages, newMessages []model.Message, prefix []model.Message, emit func(agentevent.Event)) ([]model.Message, []model.Message) {
	for i := range prefix {
		p := prefix[i]
		emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: &p})
		emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &p})
		messages = append(messages, p)
		newMessages = append(newMessages, p)
	}
	return messages, newMessages
}

// streamTurn shapes context, relays the adapter's event stream as
// MessageStart/MessageUpdate*/MessageEnd, and returns the finalized
// assistant message (spec §4.3 "Assistant streaming"). runStart and
// newUserTurn select which reminder.Attachment points (SPEC_FULL.md §C.8)
// are eligible to inject backstage guidance ahead of convert_to_llm.
func (l *Loop) streamTurn(ctx context.Context, messages []model.Message, runStart, newUserTurn bool) (model.Message, error) {
	turnMessages := messages
	if l.cfg.Reminder != nil {
		var injected []model.Message
		if runStart {
			injected = append(injected, l.cfg.Reminder.Inject(reminder.AttachmentRunStart)...)
		}
		if newUserTurn {
			injected = append(injected, l.cfg.Reminder.Inject(reminder.AttachmentUserTurn)...)
		}
		if len(injected) > 0 {
			turnMessages = append(append([]model.Message(nil), messages...), injected...)
		}
	}
	llmContext := shapeContext(turnMessages, l.cfg.TransformContext, l.cfg.ConvertToLLM)

	var final model.Message
	started := false

	handler := func(ev provider.Event) {
		switch ev.Kind {
		case provider.KindStart:
			started = true
			l.emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: ev.Partial})
		case provider.KindDone:
			final = *ev.Message
		case provider.KindError:
			final = model.Message{
				Role:         model.RoleAssistant,
				StopReason:   model.StopError,
				ErrorMessage: ev.ErrorMessage,
				Model:        l.cfg.Model,
			}
		default:
			if ev.Partial != nil {
				l.emit(agentevent.Event{Kind: agentevent.KindMessageUpdate, Message: ev.Partial})
			}
		}
	}

	if l.cfg.Stream == nil {
		return model.Message{}, agentcore.New(agentcore.KindLoop, "no StreamFn configured")
	}
	if err := l.cfg.Stream(l.cfg.Model, llmContext, handler); err != nil {
		return model.Message{}, err
	}
	if !started && final.Role == "" {
		return model.Message{}, agentcore.New(agentcore.KindLoop, "StreamFn produced no events")
	}
	final.StopReason = model.ResolveStopReason(final.StopReason, final.Content)
	if l.abort.Load() && final.StopReason != model.StopError {
		final.StopReason = model.StopAborted
	}
	l.emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &final})
	return final, nil
}

// dispatchTools executes toolCalls in order (spec §4.3 "Tool dispatch"). It
// returns the drained steering queue contents if preemption occurred
// mid-dispatch (nil otherwise, so the caller can distinguish "no steering"
// from "steering drained here").
func (l *Loop) dispatchTools(ctx context.Context, toolCalls []model.ToolCallBlock, messages, newMessages *[]model.Message) []model.Message {
	preempted := false
	var steerPrefix []model.Message

	for _, call := range toolCalls {
		if preempted {
			result := model.NewToolResult(call.ID, call.Name, []model.Block{model.TextBlock{Text: skippedToolMessage}}, nil, true)
			l.emit(agentevent.Event{Kind: agentevent.KindToolExecutionStart, ToolCallID: call.ID, ToolName: call.Name, Args: call})
			l.emit(agentevent.Event{Kind: agentevent.KindToolExecutionEnd, ToolCallID: call.ID, ToolName: call.Name, IsError: true})
			l.emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: &result})
			l.emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &result})
			*messages = append(*messages, result)
			*newMessages = append(*newMessages, result)
			continue
		}

		l.emit(agentevent.Event{Kind: agentevent.KindToolExecutionStart, ToolCallID: call.ID, ToolName: call.Name, Args: call})

		callCtx := ctx
		var span telemetry.Span
		if l.cfg.Telemetry.Tracer != nil {
			callCtx, span = l.cfg.Telemetry.Tracer.Start(ctx, "agentloop.tool_call")
		}
		content, isError := l.runOneTool(callCtx, call)
		if span != nil {
			if isError {
				span.SetStatus(codes.Error, "tool call failed")
			}
			span.End()
		}

		l.emit(agentevent.Event{Kind: agentevent.KindToolExecutionEnd, ToolCallID: call.ID, ToolName: call.Name, IsError: isError})
		result := model.NewToolResult(call.ID, call.Name, content, nil, isError)
		l.emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: &result})
		l.emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &result})
		*messages = append(*messages, result)
		*newMessages = append(*newMessages, result)

		if drained := l.steering.Drain(); len(drained) > 0 {
			preempted = true
			steerPrefix = drained
		}
	}
	if preempted {
		return steerPrefix
	}
	return nil
}

// runOneTool resolves and executes a single tool call, returning its result
// content and whether it represents a failure (spec §4.3 steps 2-5).
func (l *Loop) runOneTool(ctx context.Context, call model.ToolCallBlock) ([]model.Block, bool) {
	if l.cfg.Approval != nil {
		decision, err := l.cfg.Approval.Check(ctx, approval.Request{ToolCallID: call.ID, ToolName: call.Name})
		if err != nil || decision == approval.Deny || decision == approval.Abort {
			if decision == approval.Abort {
				l.abort.Store(true)
			}
			return []model.Block{model.TextBlock{Text: deniedToolMessage}}, true
		}
	}

	// Bridge hook fires after the ApprovalGate, never before (spec §9 open
	// question 4: "approval first, then bridge, to fail fast"). Emit
	// failures are logged-and-ignored here: the bridge is an observer of
	// dispatch, not a second gate.
	if l.cfg.Bridge != nil {
		bridgeCtx := extensionbridge.Context{}
		if l.cfg.BridgeContext != nil {
			bridgeCtx = l.cfg.BridgeContext()
		}
		if err := l.cfg.Bridge.ToolCallHook(bridgeCtx, call.ID, call.Name, call.Arguments); err != nil && l.cfg.Telemetry.Logger != nil {
			l.cfg.Telemetry.Logger.Warn(ctx, "extensionbridge tool_call hook failed", "tool", call.Name, "error", err)
		}
	}

	tool := findTool(l.cfg.Tools, call.Name)
	if tool == nil {
		return []model.Block{model.TextBlock{Text: "Tool " + call.Name + " not found"}}, true
	}

	if err := toolschema.Validate(call.Name, tool.InputSchema(), call.Arguments); err != nil {
		return []model.Block{model.TextBlock{Text: err.Error()}}, true
	}

	result, err := tool.Execute(ctx, call.ID, call.Arguments)
	if err != nil {
		msg := toolerrors.FromError(err).Error()
		return []model.Block{model.TextBlock{Text: msg}}, true
	}
	return result.Content, false
}

func findTool(tools []model.Tool, name string) model.Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
