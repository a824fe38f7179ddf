package agentloop_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversant-ai/agentcore/agentloop"
	"github.com/conversant-ai/agentcore/model"
)

func TestDefaultConvertToLLMFiltersCustomMessages(t *testing.T) {
	in := []model.Message{
		model.NewUserText("hi"),
		model.NewCustom("reminder", "be careful"),
		{Role: model.RoleAssistant, StopReason: model.StopStop},
		model.NewToolResult("call1", "tool", nil, nil, false),
	}
	out := agentloop.DefaultConvertToLLM(in)
	assert.Len(t, out, 3)
	for _, m := range out {
		assert.NotEqual(t, model.RoleCustom, m.Role)
	}
}
