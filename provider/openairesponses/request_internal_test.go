package openairesponses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/model"
)

func TestIsReasoningModelMatchesKnownPrefixes(t *testing.T) {
	assert.True(t, isReasoningModel("o1-preview"))
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("gpt-5-turbo"))
	assert.False(t, isReasoningModel("gpt-4o"))
}

func TestJoinSplitCallIDRoundTrips(t *testing.T) {
	compound := joinCallID("call_1", "item_1")
	callID, itemID := splitCallID(compound)
	assert.Equal(t, "call_1", callID)
	assert.Equal(t, "item_1", itemID)
}

func TestJoinCallIDOmitsSeparatorWhenItemIDEmpty(t *testing.T) {
	assert.Equal(t, "call_1", joinCallID("call_1", ""))
}

func TestSplitCallIDPlainIDRoundTripsWithEmptyItemID(t *testing.T) {
	callID, itemID := splitCallID("call_1")
	assert.Equal(t, "call_1", callID)
	assert.Empty(t, itemID)
}

func TestEncodeInputNonReasoningModelFoldsSystemIntoLeadingMessage(t *testing.T) {
	messages := []model.Message{
		model.NewCustom("system_prompt", "be terse"),
		model.NewUserText("hi"),
	}
	items, instructions := encodeInput(messages, false)
	assert.Empty(t, instructions)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].OfInputMessage)
	require.NotNil(t, items[1].OfInputMessage)
	assert.EqualValues(t, "system", items[0].OfInputMessage.Role)
	assert.EqualValues(t, "user", items[1].OfInputMessage.Role)
}

func TestEncodeInputReasoningModelKeepsInstructionsSeparate(t *testing.T) {
	messages := []model.Message{
		model.NewCustom("system_prompt", "be terse"),
		model.NewUserText("hi"),
	}
	items, instructions := encodeInput(messages, true)
	assert.Equal(t, "be terse", instructions)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].OfInputMessage)
	assert.EqualValues(t, "user", items[0].OfInputMessage.Role)
}

func TestEncodeInputEmptyUserTextBecomesSingleSpace(t *testing.T) {
	items, _ := encodeInput([]model.Message{model.NewUserText("")}, false)
	require.Len(t, items, 1)
}

func TestEncodeInputToolResultProducesOneItem(t *testing.T) {
	msg := model.NewToolResult("call_1", "search", nil, nil, false)
	items, _ := encodeInput([]model.Message{msg}, false)
	require.Len(t, items, 1)
}
