package geminicli

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/conversant-ai/agentcore/model"
)

func encodeBase64(data []byte) string { return base64.StdEncoding.EncodeToString(data) }

// wire request shapes, camelCase per the Cloud Code Assist API — field names
// and nesting grounded on original_source/src/api/google_gemini_cli.rs's
// CloudCodeAssistRequest/GenerateContentRequest/GeminiContent family.
type cloudCodeAssistRequest struct {
	Project string                 `json:"project"`
	Model   string                 `json:"model"`
	Request generateContentRequest `json:"request"`
}

type generateContentRequest struct {
	Contents          []geminiContent    `json:"contents"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	Tools             []toolDeclaration  `json:"tools,omitempty"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type toolDeclaration struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is a hand-rolled union covering every part variant this adapter
// emits; only the fields relevant to the variant being constructed are set,
// matching the source's serde(untagged) enum via an equivalent flattened
// struct with omitempty.
type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	Thought          bool            `json:"thought,omitempty"`
	ThoughtSignature string          `json:"thoughtSignature,omitempty"`
	InlineData       *inlineData     `json:"inlineData,omitempty"`
	FunctionCall     *functionCall   `json:"functionCall,omitempty"`
	FunctionResponse *functionResult `json:"functionResponse,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type functionResult struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Response any    `json:"response"`
}

func buildRequest(project, modelID string, messages []model.Message, tools []model.ToolDefinition) cloudCodeAssistRequest {
	var sys []string
	var contents []geminiContent

	for _, m := range messages {
		switch m.Role {
		case model.RoleCustom:
			if m.CustomRole == "system_prompt" && m.Text != "" {
				sys = append(sys, m.Text)
			}
		case model.RoleUser:
			parts := userParts(m.Content)
			if len(parts) > 0 {
				contents = append(contents, geminiContent{Role: "user", Parts: parts})
			}
		case model.RoleAssistant:
			parts := assistantParts(m.Content)
			if len(parts) > 0 {
				contents = append(contents, geminiContent{Role: "model", Parts: parts})
			}
		case model.RoleToolResult:
			parts := []geminiPart{toolResultPart(m)}
			// Gemini requires function responses inside a user turn;
			// consecutive tool-result turns merge into the preceding one
			// rather than each starting a new user content block.
			if n := len(contents); n > 0 && contents[n-1].Role == "user" && hasFunctionResponse(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			} else {
				contents = append(contents, geminiContent{Role: "user", Parts: parts})
			}
		}
	}

	req := generateContentRequest{Contents: contents}
	if len(sys) > 0 {
		req.SystemInstruction = &systemInstruction{Parts: []textPart{{Text: strings.Join(sys, "\n\n")}}}
	}
	if len(tools) > 0 {
		decls := make([]functionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
		}
		req.Tools = []toolDeclaration{{FunctionDeclarations: decls}}
	}

	return cloudCodeAssistRequest{Project: project, Model: modelID, Request: req}
}

func hasFunctionResponse(c geminiContent) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse != nil {
			return true
		}
	}
	return false
}

func userParts(blocks []model.Block) []geminiPart {
	var parts []geminiPart
	for _, b := range blocks {
		switch v := b.(type) {
		case model.TextBlock:
			if strings.TrimSpace(v.Text) != "" {
				parts = append(parts, geminiPart{Text: v.Text})
			}
		case model.ImageBlock:
			parts = append(parts, geminiPart{InlineData: &inlineData{MimeType: v.MIME, Data: encodeBase64(v.Data)}})
		}
	}
	return parts
}

// assistantParts implements the thought-signature round-trip rule (spec
// §4.2): a ThinkingBlock with a signature round-trips as a thought=true part
// carrying it verbatim; without one, it degrades to a <thinking>...</thinking>
// text part on replay since Gemini has no channel for unsigned thoughts.
func assistantParts(blocks []model.Block) []geminiPart {
	var parts []geminiPart
	for _, b := range blocks {
		switch v := b.(type) {
		case model.TextBlock:
			if strings.TrimSpace(v.Text) != "" {
				parts = append(parts, geminiPart{Text: v.Text})
			}
		case model.ThinkingBlock:
			if v.Sig != "" {
				parts = append(parts, geminiPart{Thought: true, Text: v.Text, ThoughtSignature: v.Sig})
			} else {
				parts = append(parts, geminiPart{Text: "<thinking>\n" + v.Text + "\n</thinking>"})
			}
		case model.ToolCallBlock:
			var args map[string]any
			if len(v.Arguments) > 0 {
				_ = json.Unmarshal(v.Arguments, &args)
			}
			parts = append(parts, geminiPart{FunctionCall: &functionCall{ID: v.ID, Name: v.Name, Args: args}, ThoughtSignature: v.Sig})
		}
	}
	return parts
}

func toolResultPart(m model.Message) geminiPart {
	text := m.Text()
	var resp any
	switch {
	case m.IsError:
		resp = map[string]any{"error": text}
	case text == "":
		resp = map[string]any{"output": "(empty)"}
	default:
		resp = map[string]any{"output": text}
	}
	return geminiPart{FunctionResponse: &functionResult{ID: m.ToolCallID, Name: m.ToolName, Response: resp}}
}
