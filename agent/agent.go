// Package agent implements the Agent facade (spec §4.4): the stateful,
// listener-fan-out wrapper around one agentloop.Loop run at a time. It is
// the type application code actually holds a reference to; SessionManager
// and compaction/approval wiring sit beside it, composed by AgentSession
// (not modeled as a separate type here — callers compose Agent +
// session.Manager + approval.Gate directly, matching spec §4's "Dependency
// order" note that AgentSession is just that composition).
package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/agentevent"
	"github.com/conversant-ai/agentcore/agentloop"
	"github.com/conversant-ai/agentcore/approval"
	"github.com/conversant-ai/agentcore/extensionbridge"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/reminder"
	"github.com/conversant-ai/agentcore/telemetry"
)

// State is the Agent's observable state vector (spec §4.4).
type State struct {
	SystemPrompt     string
	Model            string
	ThinkingLevel    string
	Tools            []model.Tool
	Messages         []model.Message
	IsStreaming      bool
	StreamMessage    *model.Message
	PendingToolCalls map[string]struct{}
	Error            error
}

// Input selects how Prompt builds its new user turn: Text for a single
// plain-text message, Message for a single pre-built message, or Messages
// for an already-assembled list (spec §4.4 "prompt(input)").
type Input struct {
	Text     string
	Message  *model.Message
	Messages []model.Message
}

func (in Input) toMessages() []model.Message {
	switch {
	case len(in.Messages) > 0:
		return in.Messages
	case in.Message != nil:
		return []model.Message{*in.Message}
	default:
		return []model.Message{model.NewUserText(in.Text)}
	}
}

// Config wires the callables an Agent needs for the life of its loop runs.
type Config struct {
	SystemPrompt     string
	Model            string
	ThinkingLevel    string
	Tools            []model.Tool
	ConvertToLLM     agentloop.ConvertToLLMFn
	TransformContext agentloop.TransformContextFn
	Stream           provider.StreamFn
	Approval         *approval.Gate
	SteeringDrain    agentloop.DrainPolicy
	FollowUpDrain    agentloop.DrainPolicy
	// AbortFlag, when set, is used as the Agent's shared abort flag instead
	// of a freshly allocated one. Callers that must construct a provider
	// adapter's StreamFn before the Agent exists (every adapter takes the
	// abort flag at construction time so it can poll it at chunk
	// boundaries — spec §5) allocate one up front and pass it both here and
	// to the adapter constructor.
	AbortFlag *atomic.Bool

	// Telemetry is forwarded to the loop for its per-turn/per-tool-call
	// spans (SPEC_FULL.md §A.2).
	Telemetry telemetry.Bundle
	// Bridge and BridgeContext are forwarded to the loop's tool_call hook
	// (spec §4.7); Bridge may be nil.
	Bridge        *extensionbridge.Bridge
	BridgeContext func() extensionbridge.Context
	// Reminder is forwarded to the loop's turn-prefix construction
	// (SPEC_FULL.md §C.8); may be nil.
	Reminder *reminder.Engine
}

type listenerEntry struct {
	id int
	fn func(agentevent.Event)
}

// Agent is the stateful facade spec §4.4 describes. One Agent serializes
// its own prompt/continue_prompt calls (AlreadyStreaming guards re-entrance)
// but Steer/FollowUp/Abort may be called concurrently from another
// goroutine while a call is in flight — that is the entire point of the
// steering queue.
type Agent struct {
	mu    sync.Mutex
	state State

	cfg      Config
	steering *agentloop.Queue
	followUp *agentloop.Queue
	abort    *atomic.Bool

	listeners      []listenerEntry
	nextListenerID int
}

// New constructs an Agent ready for its first Prompt/ContinuePrompt call.
func New(cfg Config) *Agent {
	abort := cfg.AbortFlag
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Agent{
		cfg: cfg,
		state: State{
			SystemPrompt:  cfg.SystemPrompt,
			Model:         cfg.Model,
			ThinkingLevel: cfg.ThinkingLevel,
			Tools:         cfg.Tools,
		},
		steering: agentloop.NewQueue(cfg.SteeringDrain),
		followUp: agentloop.NewQueue(cfg.FollowUpDrain),
		abort:    abort,
	}
}

// State returns a snapshot of the Agent's current state vector.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	s.Messages = append([]model.Message(nil), a.state.Messages...)
	return s
}

// Subscribe registers fn to receive every AgentEvent in emission order,
// starting with the next one produced (spec §4.4 "subscribe(f) →
// unsubscribe"). The returned func removes the listener; calling it more
// than once is a no-op.
func (a *Agent) Subscribe(fn func(agentevent.Event)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextListenerID
	a.nextListenerID++
	a.listeners = append(a.listeners, listenerEntry{id: id, fn: fn})
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			for i, l := range a.listeners {
				if l.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					break
				}
			}
			a.mu.Unlock()
		})
	}
}

// Prompt runs agent_loop with a fresh user turn built from input (spec §4.4
// "prompt(input)").
func (a *Agent) Prompt(ctx context.Context, input Input) error {
	context, err := a.beginStream()
	if err != nil {
		return err
	}
	loop := a.newLoop()
	result, runErr := loop.Run(ctx, agentloop.RunInput{
		Prompts: input.toMessages(),
		Context: context,
	})
	return a.finish(result, runErr)
}

// ContinuePrompt runs agent_loop_continue: it resumes the conversation
// without injecting a new user message, failing EmptyContext or
// LastMessageAssistant via the same precondition check agentloop.Run
// performs (spec §4.4 "continue_prompt()").
func (a *Agent) ContinuePrompt(ctx context.Context) error {
	context, err := a.beginStream()
	if err != nil {
		return err
	}
	loop := a.newLoop()
	result, runErr := loop.Run(ctx, agentloop.RunInput{
		Context:  context,
		Continue: true,
	})
	return a.finish(result, runErr)
}

func (a *Agent) beginStream() ([]model.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsStreaming {
		return nil, agentcore.New(agentcore.KindAlreadyStreaming, "agent is already streaming")
	}
	a.abort.Store(false)
	a.state.IsStreaming = true
	a.state.StreamMessage = nil
	a.state.Error = nil
	return append([]model.Message(nil), a.state.Messages...), nil
}

func (a *Agent) newLoop() *agentloop.Loop {
	a.mu.Lock()
	cfg := agentloop.Config{
		Model:            a.state.Model,
		Tools:            a.state.Tools,
		Stream:           a.cfg.Stream,
		ConvertToLLM:     a.cfg.ConvertToLLM,
		TransformContext: a.cfg.TransformContext,
		Approval:         a.cfg.Approval,
		SteeringDrain:    a.cfg.SteeringDrain,
		FollowUpDrain:    a.cfg.FollowUpDrain,
		Emit:             a.emit,
		Telemetry:        a.cfg.Telemetry,
		Bridge:           a.cfg.Bridge,
		BridgeContext:    a.cfg.BridgeContext,
		Reminder:         a.cfg.Reminder,
	}
	a.mu.Unlock()
	return agentloop.New(cfg, a.steering, a.followUp, a.abort)
}

// AbortFlag returns the shared abort flag backing this Agent's loop runs.
// Provider adapter constructors take this pointer so a call to Abort() is
// observable by an in-flight StreamFn at its next chunk boundary (spec §5)
// without the core needing to know which adapter is wired in.
func (a *Agent) AbortFlag() *atomic.Bool { return a.abort }

// Steer pushes msg to the steering queue (spec §4.4 "steer(msg)").
func (a *Agent) Steer(msg model.Message) { a.steering.Push(msg) }

// FollowUp pushes msg to the follow-up queue (spec §4.4 "follow_up(msg)").
func (a *Agent) FollowUp(msg model.Message) { a.followUp.Push(msg) }

// Abort sets the shared abort flag and clears streaming state immediately
// (spec §4.4 "abort()"); the in-flight Prompt/ContinuePrompt call observes
// it at the adapter's next chunk boundary and returns once it does.
func (a *Agent) Abort() {
	a.abort.Store(true)
	a.mu.Lock()
	a.state.IsStreaming = false
	a.state.StreamMessage = nil
	a.state.PendingToolCalls = nil
	a.mu.Unlock()
}

// emit is the authoritative state machine (spec §4.4 "apply_events"): it
// updates state, then forwards ev to every listener in registration order,
// synchronously, before returning control to the loop.
func (a *Agent) emit(ev agentevent.Event) {
	a.applyEvent(ev)

	a.mu.Lock()
	listeners := append([]listenerEntry(nil), a.listeners...)
	a.mu.Unlock()
	for _, l := range listeners {
		l.fn(ev)
	}
}

func (a *Agent) applyEvent(ev agentevent.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Kind {
	case agentevent.KindMessageStart, agentevent.KindMessageUpdate:
		a.state.StreamMessage = ev.Message
	case agentevent.KindMessageEnd:
		if ev.Message != nil {
			a.state.Messages = append(a.state.Messages, *ev.Message)
		}
		a.state.StreamMessage = nil
	case agentevent.KindToolExecutionStart:
		if a.state.PendingToolCalls == nil {
			a.state.PendingToolCalls = make(map[string]struct{})
		}
		a.state.PendingToolCalls[ev.ToolCallID] = struct{}{}
	case agentevent.KindToolExecutionEnd:
		delete(a.state.PendingToolCalls, ev.ToolCallID)
	case agentevent.KindTurnEnd:
		if ev.Message != nil && ev.Message.StopReason == model.StopError {
			a.state.Error = agentcore.New(agentcore.KindLoop, "%s", ev.Message.ErrorMessage)
		}
	case agentevent.KindAgentEnd:
		a.state.IsStreaming = false
		a.state.StreamMessage = nil
	}
}

// finish implements the post-run bookkeeping spec §4.4 describes for
// prompt/continue_prompt: on abort, synthesize a final aborted assistant
// message (unless the loop already produced one) and record the error;
// otherwise set is_streaming from the last assistant message's stop reason.
func (a *Agent) finish(result agentloop.RunResult, runErr error) error {
	if a.abort.Load() {
		a.mu.Lock()
		lastAborted := false
		if n := len(a.state.Messages); n > 0 {
			last := a.state.Messages[n-1]
			lastAborted = last.IsAssistant() && last.StopReason == model.StopAborted
		}
		a.mu.Unlock()

		if !lastAborted {
			msg := model.Message{
				Role: model.RoleAssistant, StopReason: model.StopAborted,
				ErrorMessage: "Request was aborted", Timestamp: time.Now(),
			}
			a.emit(agentevent.Event{Kind: agentevent.KindMessageStart, Message: &msg})
			a.emit(agentevent.Event{Kind: agentevent.KindMessageEnd, Message: &msg})
		}

		a.mu.Lock()
		a.state.Error = agentcore.New(agentcore.KindLoop, "Request was aborted")
		a.state.IsStreaming = false
		a.state.StreamMessage = nil
		a.mu.Unlock()
		return runErr
	}

	if runErr != nil {
		a.mu.Lock()
		a.state.IsStreaming = false
		a.mu.Unlock()
		return runErr
	}

	a.mu.Lock()
	a.state.IsStreaming = shouldKeepStreaming(a.state.Messages)
	a.mu.Unlock()
	_ = result
	return nil
}

// shouldKeepStreaming reports whether the last message is an assistant
// message whose stop reason is still literally "streaming" — a state that
// should never survive agentloop's post-stream resolution in practice, but
// is checked explicitly per spec §4.4 rather than assumed impossible.
func shouldKeepStreaming(messages []model.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.IsAssistant() && last.StopReason == model.StopStreaming
}
