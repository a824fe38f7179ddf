package openairesponses

import (
	"encoding/json"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	rs "github.com/openai/openai-go/v2/responses"

	"github.com/conversant-ai/agentcore/model"
)

// encodeRequest builds a rs.ResponseNewParams for one turn, following
// intelligencedev-manifold's adaptResponsesInput/adaptResponsesTools shape.
// Two details are specific to this adapter (spec §4.2 "OpenAI Responses"):
//   - tool-call ids round-trip as a compound "call_id|item_id" token so the
//     loop back end (function_call_output) can recover both halves without a
//     side table;
//   - reasoning-capable models (isReasoningModel) receive system text as
//     Instructions, non-reasoning models get it as a top-level "system" input
//     message instead.
func encodeRequest(modelID string, messages []model.Message, tools []model.ToolDefinition) rs.ResponseNewParams {
	params := rs.ResponseNewParams{Model: rs.ResponsesModel(modelID)}

	items, instructions := encodeInput(messages, isReasoningModel(modelID))
	if len(items) > 0 {
		params.Input.OfInputItemList = items
	}
	if instructions != "" {
		params.Instructions = sdk.String(instructions)
	}
	if isReasoningModel(modelID) {
		params.Reasoning.Summary = rs.ReasoningSummaryAuto
	}
	if len(tools) > 0 {
		params.Tools = encodeTools(tools)
	}
	return params
}

func encodeTools(defs []model.ToolDefinition) []rs.ToolUnionParam {
	out := make([]rs.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		fn := rs.FunctionToolParam{
			Name:        d.Name,
			Description: sdk.String(d.Description),
			Parameters:  toSchemaMap(d.InputSchema),
			Strict:      sdk.Bool(false),
		}
		out = append(out, rs.ToolUnionParam{OfFunction: &fn})
	}
	return out
}

func toSchemaMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// splitCallID recovers the (call_id, item_id) pair from a compound tool
// call id produced by joinCallID; a plain id with no separator round-trips
// as (id, "").
func splitCallID(compound string) (callID, itemID string) {
	if i := strings.IndexByte(compound, '|'); i >= 0 {
		return compound[:i], compound[i+1:]
	}
	return compound, ""
}

func joinCallID(callID, itemID string) string {
	if itemID == "" {
		return callID
	}
	return callID + "|" + itemID
}

// encodeInput flattens messages onto rs.ResponseInputParam. System-role
// Custom messages (CustomRole=="system_prompt") become either Instructions
// (reasoning models) or a top-level system input item (others).
func encodeInput(messages []model.Message, reasoning bool) (rs.ResponseInputParam, string) {
	items := make(rs.ResponseInputParam, 0, len(messages))
	var sys []string

	for _, m := range messages {
		switch m.Role {
		case model.RoleCustom:
			if m.CustomRole == "system_prompt" && m.Text != "" {
				sys = append(sys, m.Text)
			}
		case model.RoleUser:
			text := m.Text()
			if text == "" {
				text = " "
			}
			items = append(items, rs.ResponseInputItemUnionParam{
				OfInputMessage: &rs.ResponseInputItemMessageParam{
					Role:    "user",
					Content: rs.ResponseInputMessageContentListParam{rs.ResponseInputContentParamOfInputText(text)},
				},
			})
		case model.RoleAssistant:
			for _, call := range m.ToolCalls() {
				callID, _ := splitCallID(call.ID)
				items = append(items, rs.ResponseInputItemParamOfFunctionCall(string(call.Arguments), callID, call.Name))
			}
		case model.RoleToolResult:
			callID, _ := splitCallID(m.ToolCallID)
			out := m.Text()
			if out == "" {
				out = "{}"
			}
			items = append(items, rs.ResponseInputItemParamOfFunctionCallOutput(callID, out))
		}
	}

	instructions := strings.Join(sys, "\n\n")
	if !reasoning && instructions != "" {
		items = append([]rs.ResponseInputItemUnionParam{{
			OfInputMessage: &rs.ResponseInputItemMessageParam{
				Role:    "system",
				Content: rs.ResponseInputMessageContentListParam{rs.ResponseInputContentParamOfInputText(instructions)},
			},
		}}, items...)
		instructions = ""
	}
	return items, instructions
}
