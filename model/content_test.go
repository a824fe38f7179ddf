package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/model"
)

func TestMarshalUnmarshalBlockRoundTrip(t *testing.T) {
	cases := []model.Block{
		model.TextBlock{Text: "hello", Sig: "sig-1"},
		model.ThinkingBlock{Text: "pondering", Sig: "sig-2"},
		model.ToolCallBlock{ID: "call_1", Name: "search", Arguments: []byte(`{"q":"go"}`), Sig: "sig-3"},
		model.ImageBlock{MIME: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}, Sig: "sig-4"},
	}
	for _, b := range cases {
		data, err := model.MarshalBlock(b)
		require.NoError(t, err)

		got, err := model.UnmarshalBlock(data)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestUnmarshalBlockUnknownType(t *testing.T) {
	_, err := model.UnmarshalBlock([]byte(`{"type":"carrier_pigeon"}`))
	assert.Error(t, err)
}

func TestMessageTextConcatenatesOnlyTextBlocks(t *testing.T) {
	m := model.Message{
		Content: []model.Block{
			model.TextBlock{Text: "a"},
			model.ThinkingBlock{Text: "ignored"},
			model.TextBlock{Text: "b"},
		},
	}
	assert.Equal(t, "ab", m.Text())
}

func TestMessageToolCalls(t *testing.T) {
	call := model.ToolCallBlock{ID: "1", Name: "tool"}
	m := model.Message{Content: []model.Block{model.TextBlock{Text: "x"}, call}}
	assert.Equal(t, []model.ToolCallBlock{call}, m.ToolCalls())
}

func TestNewUserTextAllowsEmpty(t *testing.T) {
	m := model.NewUserText("")
	require.Len(t, m.Content, 1)
	assert.Equal(t, "", m.Text())
	assert.Equal(t, model.RoleUser, m.Role)
}
