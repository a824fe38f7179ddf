// Package openaicodex implements the provider.StreamFn adapter for OpenAI
// Codex (the ChatGPT-subscription-backed Responses API variant used by the
// Codex CLI), per spec §4.2 "OpenAI Codex". It reuses provider/openairesponses
// wholesale for request encoding and SSE decoding — the wire format is the
// same Responses API event stream — and layers three Codex-specific
// concerns on top: the inner adapter's BaseURL is set to the
// "…/codex/responses" endpoint, and an http.RoundTripper adds the
// chatgpt-account-id header (extracted from the access token's JWT payload)
// and the additional OpenAI-Beta/originator headers the Codex backend
// requires.
package openaicodex

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/provider/openairesponses"
	"github.com/conversant-ai/agentcore/telemetry"
)

const codexBaseURL = "https://chatgpt.com/backend-api/codex/responses"

// Adapter wraps an openairesponses.Adapter, pointed at the Codex endpoint
// with the extra headers the backend requires.
type Adapter struct {
	inner *openairesponses.Adapter
}

// New constructs a Codex adapter. accessToken is the bearer JWT the Codex
// CLI obtains via its ChatGPT OAuth flow; its payload's "chatgpt_account_id"
// claim (or, failing that, "account_id") is extracted once here and sent as
// the chatgpt-account-id header on every request.
func New(httpClient *http.Client, accessToken string, tools []model.ToolDefinition, abort *atomic.Bool, tel telemetry.Bundle) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	accountID := extractAccountID(accessToken)
	wrapped := &http.Client{
		Transport: &codexTransport{base: httpClient.Transport, accountID: accountID},
		Timeout:   httpClient.Timeout,
	}
	inner := openairesponses.New(wrapped, accessToken, tools, abort, tel)
	inner.BaseURL = codexBaseURL
	inner.ProviderLabel = "openai-codex"
	return &Adapter{inner: inner}
}

// Stream implements provider.StreamFn by delegating to the wrapped
// openairesponses adapter; the Codex-specific wire differences are entirely
// header/URL level: the endpoint URL set in New and the headers codexTransport
// adds.
func (a *Adapter) Stream(modelID string, messages []model.Message, emit func(provider.Event)) error {
	return a.inner.Stream(modelID, messages, emit)
}

type codexTransport struct {
	base      http.RoundTripper
	accountID string
}

func (t *codexTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("OpenAI-Beta", "responses=experimental")
	req.Header.Set("originator", "codex_cli_rs")
	if t.accountID != "" {
		req.Header.Set("chatgpt-account-id", t.accountID)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// extractAccountID decodes the unverified JWT payload segment and reads
// chatgpt_account_id (falling back to account_id), trying every base64
// variant the wild produces in practice: standard, standard-no-pad,
// URL-safe, and URL-safe-no-pad, since Codex's token issuer has used more
// than one encoding across versions.
func extractAccountID(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload := decodeJWTSegment(parts[1])
	if payload == nil {
		return ""
	}
	var claims struct {
		ChatGPTAccountID string `json:"chatgpt_account_id"`
		AccountID        string `json:"account_id"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	if claims.ChatGPTAccountID != "" {
		return claims.ChatGPTAccountID
	}
	return claims.AccountID
}

func decodeJWTSegment(seg string) []byte {
	decoders := []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	}
	for _, enc := range decoders {
		if data, err := enc.DecodeString(seg); err == nil {
			return data
		}
	}
	return nil
}
