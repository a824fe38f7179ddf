package anthropic

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/conversant-ai/agentcore/model"
)

func newReader(body []byte) io.Reader { return bytes.NewReader(body) }

// encodeRequest builds the wire-ready sdk.MessageNewParams for one turn,
// following goadesign-goa-ai/features/model/anthropic/client.go's
// prepareRequest/encodeMessages/encodeTools shape, adapted to this module's
// single model.Message/model.Block vocabulary and to the OAuth sentinel rule
// (spec §4.2 "Anthropic OAuth"): when isOAuth is true, the system prompt's
// first block must be exactly claudeCodeSentinel, with any caller-supplied
// system text appended as a second cache-breakpointed block.
func encodeRequest(modelID string, messages []model.Message, tools []model.ToolDefinition, maxTokens int, isOAuth bool) (*sdk.MessageNewParams, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	toolParams, canonToSan, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}

	conv, systemText, err := encodeMessages(messages, canonToSan)
	if err != nil {
		return nil, err
	}
	if len(conv) == 0 {
		return nil, fmt.Errorf("anthropic: at least one user/assistant message is required")
	}

	params := &sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conv,
		Model:     sdk.Model(modelID),
		System:    encodeSystem(systemText, isOAuth),
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	return params, nil
}

// encodeSystem implements the sentinel-splice rule: the sentinel block, when
// present, always occupies index 0 with its own cache breakpoint so it is
// never invalidated by a changing user-supplied system prompt.
func encodeSystem(systemText string, isOAuth bool) []sdk.TextBlockParam {
	var blocks []sdk.TextBlockParam
	if isOAuth {
		blocks = append(blocks, sdk.TextBlockParam{
			Text:         claudeCodeSentinel,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		})
	}
	if systemText != "" {
		blocks = append(blocks, sdk.TextBlockParam{
			Text:         systemText,
			CacheControl: sdk.NewCacheControlEphemeralParam(),
		})
	}
	return blocks
}

// encodeMessages flattens Custom messages out (they never reach a provider —
// agentloop.DefaultConvertToLLM already filters them, but this is defensive)
// and maps User/Assistant/ToolResult messages onto sdk.MessageParam, the way
// the teacher's encodeMessages does.
func encodeMessages(messages []model.Message, canonToSan map[string]string) ([]sdk.MessageParam, string, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	var system strings.Builder

	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			blocks, err := encodeBlocks(m.Content, canonToSan)
			if err != nil {
				return nil, "", err
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			blocks, err := encodeBlocks(m.Content, canonToSan)
			if err != nil {
				return nil, "", err
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case model.RoleToolResult:
			out = append(out, sdk.NewUserMessage(encodeToolResult(m)))
		case model.RoleCustom:
			if m.CustomRole == "system_prompt" {
				if system.Len() > 0 {
					system.WriteString("\n\n")
				}
				system.WriteString(m.Text)
			}
		}
	}
	return out, system.String(), nil
}

func encodeBlocks(blocks []model.Block, canonToSan map[string]string) ([]sdk.ContentBlockParamUnion, error) {
	out := make([]sdk.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case model.TextBlock:
			if v.Text != "" {
				out = append(out, sdk.NewTextBlock(v.Text))
			}
		case model.ThinkingBlock:
			// Spec §4.2 "Anthropic message shape": thinking blocks on
			// assistant turns are resent as plain text blocks, never as the
			// native thinking block shape.
			if v.Text != "" {
				out = append(out, sdk.NewTextBlock(v.Text))
			}
		case model.ToolCallBlock:
			sanitized, ok := canonToSan[v.Name]
			if !ok {
				sanitized = sanitizeToolName(v.Name)
			}
			var input any
			if len(v.Arguments) > 0 {
				if err := json.Unmarshal(v.Arguments, &input); err != nil {
					return nil, fmt.Errorf("anthropic: tool call %q arguments: %w", v.Name, err)
				}
			} else {
				input = map[string]any{}
			}
			out = append(out, sdk.NewToolUseBlock(v.ID, input, sanitized))
		case model.ImageBlock:
			out = append(out, sdk.NewImageBlockBase64(v.MIME, base64.StdEncoding.EncodeToString(v.Data)))
		}
	}
	return out, nil
}

func encodeToolResult(m model.Message) sdk.ContentBlockParamUnion {
	var content string
	for _, b := range m.Content {
		if t, ok := b.(model.TextBlock); ok {
			if content != "" {
				content += "\n"
			}
			content += t.Text
		}
	}
	return sdk.NewToolResultBlock(m.ToolCallID, content, m.IsError)
}

// encodeTools mirrors the teacher's sanitizeToolName/collision-detection
// scheme (spec §4.2 "Tool name sanitization"): Anthropic tool names must
// match ^[A-Za-z0-9_-]{1,64}$.
func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		schema, err := toolInputSchema(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, canonToSan, nil
}

func toolInputSchema(schema any) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var raw json.RawMessage
	switch v := schema.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sdk.ToolInputSchemaParam{}, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// sanitizeToolName replaces any rune outside [A-Za-z0-9_-] with '_' and
// truncates to Anthropic's 64-character limit.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// applyHeaders sets the auth and beta headers per spec §4.2 "Anthropic
// OAuth": a raw API key goes in x-api-key with no beta header, while an
// OAuth bearer token goes in Authorization with the composite anthropic-beta
// header required to unlock the oauth/interleaved-thinking/fine-grained-tool
// betas.
func applyHeaders(req *http.Request, token string, isOAuth bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")
	if isOAuth {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("anthropic-beta", oauthBetas)
		return
	}
	req.Header.Set("x-api-key", token)
}
