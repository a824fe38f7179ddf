// Package anthropic implements the provider.StreamFn adapter for the
// Anthropic Messages API (spec §4.2). Request encoding reuses
// github.com/anthropics/anthropic-sdk-go's param types (sdk.MessageNewParams,
// sdk.ToolUnionParam, ...) the way
// goadesign-goa-ai/features/model/anthropic/client.go does; the streaming
// decode, per spec §9's instruction to unify the SSE layer into one shared
// primitive, is hand-rolled against the module's own sse.Parser rather than
// the SDK's ssestream.Stream.
package anthropic

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/telemetry"
)

// The three betas the OAuth sentinel path requires (spec §4.2, "Anthropic
// OAuth"). Order matters: the header is a composite token list and vendor
// parsers may be order-sensitive, so these are never reordered or
// alphabetized.
const oauthBetas = "oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

// claudeCodeSentinel is the literal system-prompt prefix required when
// authenticating with an OAuth bearer token instead of a raw API key (spec
// §4.2).
const claudeCodeSentinel = "You are Claude Code, Anthropic's official CLI for Claude."

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

// TokenSource supplies the credential for each request. isOAuth selects the
// OAuth-bearer encoding path (sentinel injection, anthropic-beta header,
// Authorization header) versus the raw-API-key path (x-api-key header, no
// sentinel) — spec §4.2.
type TokenSource interface {
	Token(ctx context.Context) (bearer string, isOAuth bool, err error)
}

// StaticAPIKey is a TokenSource that always returns a fixed, non-OAuth key.
type StaticAPIKey string

func (k StaticAPIKey) Token(context.Context) (string, bool, error) { return string(k), false, nil }

// Adapter wires an HTTP client, credential source, and tool set into a
// provider.StreamFn closure. Construct one per Agent and assign Adapter.Stream
// to agentloop.Config.Stream / agent.Config.Stream.
type Adapter struct {
	HTTPClient *http.Client
	BaseURL    string
	Tokens     TokenSource
	Tools      []model.ToolDefinition
	MaxTokens  int

	// Abort is the Agent's shared abort flag (Agent.AbortFlag()). The
	// decoder polls it at every SSE chunk boundary (spec §5) and, on
	// observing it set, stops reading and emits a terminal event with
	// stop_reason=aborted.
	Abort *atomic.Bool

	Telemetry telemetry.Bundle
}

// New constructs an Adapter ready to be used as a provider.StreamFn.
func New(httpClient *http.Client, tokens TokenSource, tools []model.ToolDefinition, abort *atomic.Bool, tel telemetry.Bundle) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Adapter{
		HTTPClient: httpClient,
		BaseURL:    defaultBaseURL,
		Tokens:     tokens,
		Tools:      tools,
		MaxTokens:  4096,
		Abort:      abort,
		Telemetry:  tel,
	}
}

// Stream implements provider.StreamFn (spec §4.2).
func (a *Adapter) Stream(modelID string, messages []model.Message, emit func(provider.Event)) error {
	ctx := context.Background()
	bearer, isOAuth, err := a.Tokens.Token(ctx)
	if err != nil {
		emitError(emit, "credential resolution failed: "+err.Error())
		return nil
	}

	params, err := encodeRequest(modelID, messages, a.Tools, a.MaxTokens, isOAuth)
	if err != nil {
		emitError(emit, err.Error())
		return nil
	}
	body, err := params.MarshalJSON()
	if err != nil {
		emitError(emit, "encode request: "+err.Error())
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL, newReader(body))
	if err != nil {
		emitError(emit, "build request: "+err.Error())
		return nil
	}
	applyHeaders(req, bearer, isOAuth)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		emitError(emit, "request failed: "+err.Error())
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emitError(emit, fmt.Sprintf("anthropic: http status %d", resp.StatusCode))
		return nil
	}

	dec := newDecoder(modelID, a.Abort)
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
		dec.finish(emit)
	}
	return nil
}

func emitError(emit func(provider.Event), msg string) {
	emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant}})
	emit(provider.Event{
		Kind:         provider.KindError,
		ErrorMessage: msg,
		Message: &model.Message{
			Role: model.RoleAssistant, StopReason: model.StopError, ErrorMessage: msg, Provider: "anthropic",
		},
	})
}

// IsContextOverflow classifies an assistant message as a context-overflow
// failure per spec §4.2's closed substring list.
func IsContextOverflow(msg model.Message, contextWindow int) bool {
	if msg.StopReason == model.StopError {
		for _, s := range contextOverflowSubstrings {
			if containsFold(msg.ErrorMessage, s) {
				return true
			}
		}
		return false
	}
	if msg.StopReason == model.StopStop && contextWindow > 0 {
		return msg.Usage.Input+msg.Usage.CacheRead > contextWindow
	}
	return false
}

var contextOverflowSubstrings = []string{
	"prompt is too long",
	"exceeds the context window",
	"maximum context length is",
	"(no body)",
	"token limit exceeded",
}

func containsFold(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexFold(haystack, needle) >= 0
}

func indexFold(s, substr string) int {
	ls, lsub := len(s), len(substr)
	if lsub == 0 {
		return 0
	}
	for i := 0; i+lsub <= ls; i++ {
		if equalFold(s[i:i+lsub], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
