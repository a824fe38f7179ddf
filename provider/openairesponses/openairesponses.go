// Package openairesponses implements the provider.StreamFn adapter for
// OpenAI's Responses API (spec §4.2 "OpenAI Responses"). Request encoding
// reuses github.com/openai/openai-go/v2/responses's param types the way
// intelligencedev-manifold/internal/llm/openai/client.go's
// chatResponses/chatStreamResponses functions do; the streaming decode is
// hand-rolled against the module's shared sse.Parser rather than the SDK's
// own ssestream client, per spec §9's "one shared SSE primitive" rule.
package openairesponses

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1/responses"

// reasoningModelPrefixes selects the prompt-role rule (spec §4.2): models in
// this family take their system text as Instructions with a "developer"
// framing rather than a plain system message, and get Reasoning.Summary set
// to "auto".
var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

func isReasoningModel(modelID string) bool {
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(modelID, p) {
			return true
		}
	}
	return false
}

// Adapter wires an HTTP client, bearer token, and tool set into a
// provider.StreamFn closure.
type Adapter struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Tools      []model.ToolDefinition
	Abort      *atomic.Bool
	Telemetry  telemetry.Bundle

	// ProviderLabel is stamped onto every emitted model.Message.Provider.
	// Defaults to "openai"; provider/openaicodex overrides it to
	// "openai-codex" since it wraps this adapter wholesale.
	ProviderLabel string
}

func New(httpClient *http.Client, apiKey string, tools []model.ToolDefinition, abort *atomic.Bool, tel telemetry.Bundle) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Adapter{HTTPClient: httpClient, BaseURL: defaultBaseURL, APIKey: apiKey, Tools: tools, Abort: abort, Telemetry: tel, ProviderLabel: "openai"}
}

// Stream implements provider.StreamFn.
func (a *Adapter) Stream(modelID string, messages []model.Message, emit func(provider.Event)) error {
	params := encodeRequest(modelID, messages, a.Tools)
	body, err := json.Marshal(params)
	if err != nil {
		emitError(emit, "encode request: "+err.Error())
		return nil
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.BaseURL, bytes.NewReader(body))
	if err != nil {
		emitError(emit, "build request: "+err.Error())
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		emitError(emit, "request failed: "+err.Error())
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emitError(emit, fmt.Sprintf("openai responses: http status %d", resp.StatusCode))
		return nil
	}

	dec := newDecoder(modelID, a.ProviderLabel)
	dec.metrics = a.Telemetry.Metrics
	reader := bufio.NewReaderSize(resp.Body, 32*1024)
	buf := make([]byte, 16*1024)
	for {
		if a.Abort != nil && a.Abort.Load() {
			dec.emitAborted(emit)
			return nil
		}
		n, rerr := reader.Read(buf)
		if n > 0 {
			for _, ev := range dec.parser.Feed(buf[:n]) {
				dec.handleSSE(ev, emit)
				if dec.done {
					return nil
				}
			}
		}
		if rerr != nil {
			break
		}
	}
	if !dec.done {
		dec.finish(emit, "", nil)
	}
	return nil
}

func emitError(emit func(provider.Event), msg string) {
	emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant}})
	emit(provider.Event{
		Kind: provider.KindError, ErrorMessage: msg,
		Message: &model.Message{Role: model.RoleAssistant, StopReason: model.StopError, ErrorMessage: msg, Provider: "openai"},
	})
}
