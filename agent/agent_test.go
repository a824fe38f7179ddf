package agent_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/agent"
	"github.com/conversant-ai/agentcore/agentevent"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
)

func stubStream(msg model.Message) provider.StreamFn {
	return func(modelID string, ctx []model.Message, emit func(provider.Event)) error {
		emit(provider.Event{Kind: provider.KindStart, Partial: &msg})
		emit(provider.Event{Kind: provider.KindDone, Message: &msg})
		return nil
	}
}

func TestPromptAppendsUserAndAssistantMessages(t *testing.T) {
	final := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop, Content: []model.Block{model.TextBlock{Text: "hi there"}}}
	a := agent.New(agent.Config{Stream: stubStream(final)})

	err := a.Prompt(context.Background(), agent.Input{Text: "hello"})
	require.NoError(t, err)

	state := a.State()
	require.Len(t, state.Messages, 2)
	assert.Equal(t, model.RoleUser, state.Messages[0].Role)
	assert.Equal(t, "hi there", state.Messages[1].Text())
	assert.False(t, state.IsStreaming)
}

func TestPromptRejectsReentrantCall(t *testing.T) {
	block := make(chan struct{})
	stream := func(modelID string, ctx []model.Message, emit func(provider.Event)) error {
		<-block
		msg := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop}
		emit(provider.Event{Kind: provider.KindDone, Message: &msg})
		return nil
	}
	a := agent.New(agent.Config{Stream: stream})

	done := make(chan error, 1)
	go func() { done <- a.Prompt(context.Background(), agent.Input{Text: "first"}) }()

	// Give the goroutine a chance to set IsStreaming before the second call.
	for i := 0; i < 1000 && !a.State().IsStreaming; i++ {
		time.Sleep(time.Millisecond)
	}
	require.True(t, a.State().IsStreaming)
	err := a.Prompt(context.Background(), agent.Input{Text: "second"})
	assert.Error(t, err)

	close(block)
	require.NoError(t, <-done)
}

func TestAbortSetsSharedFlagAndClearsStreaming(t *testing.T) {
	stream := func(modelID string, ctx []model.Message, emit func(provider.Event)) error {
		return nil // no Done event: simulates an adapter that observed abort mid-stream
	}
	abortFlag := &atomic.Bool{}
	a := agent.New(agent.Config{Stream: stream, AbortFlag: abortFlag})
	assert.Same(t, abortFlag, a.AbortFlag())

	var events []agentevent.Event
	a.Subscribe(func(ev agentevent.Event) { events = append(events, ev) })

	a.Abort()
	assert.True(t, abortFlag.Load())

	state := a.State()
	assert.False(t, state.IsStreaming)
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	final := model.Message{Role: model.RoleAssistant, StopReason: model.StopStop}
	a := agent.New(agent.Config{Stream: stubStream(final)})

	count := 0
	unsubscribe := a.Subscribe(func(ev agentevent.Event) { count++ })
	unsubscribe()
	unsubscribe() // idempotent

	require.NoError(t, a.Prompt(context.Background(), agent.Input{Text: "hi"}))
	assert.Equal(t, 0, count)
}
