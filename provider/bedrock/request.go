package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/conversant-ai/agentcore/model"
)

type requestParts struct {
	input      *bedrockruntime.ConverseStreamInput
	sanToCanon map[string]string
}

// encodeRequest builds a ConverseStreamInput and the sanitized-tool-name
// reverse map the decoder needs to translate tool_use names back to
// canonical identifiers (spec §C.1, tool_name.go).
func encodeRequest(modelID string, messages []model.Message, tools []model.ToolDefinition, maxTokens int) (*requestParts, error) {
	toolConfig, canonToSan, sanToCanon, err := encodeTools(tools)
	if err != nil {
		return nil, err
	}

	msgs, system, err := encodeMessages(messages, canonToSan)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	if maxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	return &requestParts{input: input, sanToCanon: sanToCanon}, nil
}

// encodeMessages renders the flat Message list into Bedrock's Converse
// shape, mirroring client.go's encodeMessages: RoleCustom(system_prompt)
// accumulates into the system block list, User/Assistant become
// conversation turns, and ToolResult messages become a tool_result content
// block merged into the preceding user message when one is open, else into a
// new user turn.
func encodeMessages(messages []model.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message

	for _, m := range messages {
		switch m.Role {
		case model.RoleCustom:
			if m.CustomRole == "system_prompt" && m.Text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			}
			continue
		case model.RoleUser:
			blocks, err := encodeBlocks(m.Content, canonToSan)
			if err != nil {
				return nil, nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
		case model.RoleAssistant:
			blocks, err := encodeBlocks(m.Content, canonToSan)
			if err != nil {
				return nil, nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		case model.RoleToolResult:
			block := encodeToolResult(m)
			// Bedrock requires tool_result blocks inside a user turn; merge
			// into the preceding user message when one is already open,
			// otherwise start a new one.
			if n := len(conversation); n > 0 && conversation[n-1].Role == brtypes.ConversationRoleUser {
				conversation[n-1].Content = append(conversation[n-1].Content, block)
			} else {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: []brtypes.ContentBlock{block}})
			}
		}
	}
	if len(conversation) == 0 {
		return nil, nil, fmt.Errorf("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeBlocks(blocks []model.Block, canonToSan map[string]string) ([]brtypes.ContentBlock, error) {
	out := make([]brtypes.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case model.TextBlock:
			if v.Text != "" {
				out = append(out, &brtypes.ContentBlockMemberText{Value: v.Text})
			}
		case model.ThinkingBlock:
			if v.Sig != "" && v.Text != "" {
				out = append(out, &brtypes.ContentBlockMemberReasoningContent{
					Value: &brtypes.ReasoningContentBlockMemberReasoningText{
						Value: brtypes.ReasoningTextBlock{Text: aws.String(v.Text), Signature: aws.String(v.Sig)},
					},
				})
			}
		case model.ToolCallBlock:
			sanitized, ok := canonToSan[v.Name]
			if !ok {
				return nil, fmt.Errorf("bedrock: tool_call %q is not in the current tool configuration", v.Name)
			}
			var args any
			if len(v.Arguments) > 0 {
				_ = json.Unmarshal(v.Arguments, &args)
			}
			out = append(out, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(v.ID),
				Name:      aws.String(sanitized),
				Input:     document.NewLazyDocument(args),
			}})
		case model.ImageBlock:
			format, ok := bedrockImageFormat(v.MIME)
			if !ok {
				continue
			}
			out = append(out, &brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
				Format: format,
				Source: &brtypes.ImageSourceMemberBytes{Value: v.Data},
			}})
		}
	}
	return out, nil
}

func encodeToolResult(m model.Message) brtypes.ContentBlock {
	text := m.Text()
	if m.IsError && text == "" {
		text = "error"
	} else if text == "" {
		text = "(empty)"
	}
	return &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
		ToolUseId: aws.String(m.ToolCallID),
		Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: text}},
	}}
}

func bedrockImageFormat(mime string) (brtypes.ImageFormat, bool) {
	switch strings.ToLower(mime) {
	case "image/png":
		return brtypes.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return brtypes.ImageFormatJpeg, true
	case "image/gif":
		return brtypes.ImageFormatGif, true
	case "image/webp":
		return brtypes.ImageFormatWebp, true
	default:
		return "", false
	}
}

// encodeTools builds the ToolConfiguration and the canonical<->sanitized
// name maps (spec §C.1): Bedrock's tool-name character set is stricter than
// Anthropic's direct API, so every tool name is passed through
// sanitizeToolName and collisions are rejected up front, mirroring
// client.go's encodeTools.
func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(def.InputSchema)},
		}})
	}
	if len(toolList) == 0 {
		return nil, canonToSan, sanToCanon, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool name onto Bedrock's stricter
// [a-zA-Z0-9_-]+ character set, truncating to 64 bytes with a stable hash
// suffix on overflow. Ported verbatim (behaviorally) from
// goadesign-goa-ai/features/model/bedrock/tool_name.go's SanitizeToolName.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	out := make([]rune, 0, len(in))
	for _, r := range in {
		if r == '.' {
			r = '_'
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}

	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}
