// Package geminicli implements the provider.StreamFn adapter for the Gemini
// CLI / Cloud Code Assist backend (spec §4.2 "Gemini CLI"), grounded on
// original_source/src/api/google_gemini_cli.rs — the spec's distillation
// source — since none of the retrieved Go example repos talk to this
// specific Cloud Code Assist wire shape. The request/response JSON field
// names and the tool-result-merge/thought-signature/tool-call-id-regen rules
// below are carried over from that file; the Go expression of them (request
// encoding via encoding/json structs, decoding via the shared sse.Parser) is
// this module's own, idiomatic-Go rendering. Only blank-line-delimited SSE
// events are decoded; the source's bare single-line `data:` path is not
// implemented.
package geminicli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
	"github.com/conversant-ai/agentcore/sse"
	"github.com/conversant-ai/agentcore/telemetry"
)

const defaultEndpoint = "https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse"

// Adapter wires an HTTP client, bearer token, project id, and tool set into
// a provider.StreamFn closure.
//
// toolCallCounter is instance-scoped (an *Adapter field, not a package
// global) per spec §9's "no global state" redesign flag: the source kept a
// process-wide AtomicU64 for tool-call-id regeneration, which would leak
// state across concurrent sessions sharing one process.
type Adapter struct {
	HTTPClient *http.Client
	Endpoint   string
	Token      string
	Project    string
	Tools      []model.ToolDefinition
	Abort      *atomic.Bool
	Telemetry  telemetry.Bundle

	toolCallCounter atomic.Uint64
}

func New(httpClient *http.Client, token, project string, tools []model.ToolDefinition, abort *atomic.Bool, tel telemetry.Bundle) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if abort == nil {
		abort = &atomic.Bool{}
	}
	return &Adapter{HTTPClient: httpClient, Endpoint: defaultEndpoint, Token: token, Project: project, Tools: tools, Abort: abort, Telemetry: tel}
}

// Stream implements provider.StreamFn.
func (a *Adapter) Stream(modelID string, messages []model.Message, emit func(provider.Event)) error {
	reqBody := buildRequest(a.Project, modelID, messages, a.Tools)
	body, err := json.Marshal(reqBody)
	if err != nil {
		emitError(emit, "encode request: "+err.Error())
		return nil
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, a.Endpoint, bytes.NewReader(body))
	if err != nil {
		emitError(emit, "build request: "+err.Error())
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.Token)
	req.Header.Set("User-Agent", "google-cloud-sdk vscode_cloudshelleditor/0.1")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		emitError(emit, "request failed: "+err.Error())
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emitError(emit, fmt.Sprintf("gemini-cli: http status %d", resp.StatusCode))
		return nil
	}

	dec := newDecoder(modelID, &a.toolCallCounter)
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
			// Deliberately the \n\n-boundary path only (spec §9 open question
			// 1): the source's alternate bare-single-line-data path and its
			// interaction with chunk boundaries is not reproduced here.
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
		dec.finish(emit, "")
	}
	return nil
}

func emitError(emit func(provider.Event), msg string) {
	emit(provider.Event{Kind: provider.KindStart, Partial: &model.Message{Role: model.RoleAssistant}})
	emit(provider.Event{
		Kind: provider.KindError, ErrorMessage: msg,
		Message: &model.Message{Role: model.RoleAssistant, StopReason: model.StopError, ErrorMessage: msg, Provider: "gemini-cli"},
	})
}

// nowMillis stands in for the source's SystemTime::now() call in
// newToolCallID; stamping uses wall-clock time, which is fine here since
// tool-call ids only need to be unique per adapter instance, not
// reproducible.
func nowMillis() int64 { return time.Now().UnixMilli() }

func newToolCallID(counter *atomic.Uint64, name string) string {
	n := counter.Add(1)
	return name + "_" + strconv.FormatInt(nowMillis(), 10) + "_" + strconv.FormatUint(n, 10)
}
