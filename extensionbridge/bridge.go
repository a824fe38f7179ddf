// Package extensionbridge implements the out-of-process JSON-RPC bridge to
// a plugin host (spec §4.7, §6.3): line-delimited JSON requests over a child
// process's stdin, line-delimited JSON responses read back from its stdout.
// The bridge never pipelines — one request is in flight at a time, its
// response awaited before the next request is written — matching the
// teacher's single-writer-single-reader IPC shape in
// goadesign-goa-ai/registry/service.go's subprocess tool invocation.
package extensionbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/telemetry"
)

// request is the envelope written to the child's stdin for every operation
// (spec §6.3): {id, type, ...operation fields}. Fields are flattened onto
// one JSON object rather than nested under a "payload" key, matching the
// wire shapes spec §6.3 tabulates literally.
type request struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Extensions []string        `json:"extensions,omitempty"`
	Event      json.RawMessage `json:"event,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Flags      json.RawMessage `json:"flags,omitempty"`
}

// response is the single-line reply the child writes back (spec §6.3):
// {ok, error?, result?, extensions?, errors?}.
type response struct {
	ID         int64             `json:"id"`
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Extensions []ExtensionInfo   `json:"extensions,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
}

// ExtensionInfo is one loaded extension's self-reported metadata from an
// init response.
type ExtensionInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Context is the caller-context blob sent with "emit" and "invoke_tool"
// requests (spec §6.3).
type Context struct {
	Cwd                string          `json:"cwd"`
	SessionEntries      json.RawMessage `json:"sessionEntries,omitempty"`
	HasUI              bool            `json:"hasUi"`
	IsIdle             bool            `json:"isIdle"`
	HasPendingMessages bool            `json:"hasPendingMessages"`
	Model              string          `json:"model,omitempty"`
}

// HookEvent names the lifecycle hook events the bridge emits (spec §4.7):
// session_before_compact, session_compact, context, tool_call, tool_result.
type HookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Bridge owns one child process's stdio. The child is killed only when Close
// is called (spec §4.7: "The child is killed on drop") — callers MUST call
// Close; there is no GC finalizer, so a Bridge dropped without Close leaves
// its child running.
type Bridge struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	nextID atomic.Int64

	log telemetry.Logger
}

// Start launches the child process described by name/args and readies the
// bridge for Init.
func Start(ctx context.Context, name string, args []string, tel telemetry.Bundle) (*Bridge, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: open stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: start child process")
	}
	return &Bridge{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), log: tel.Logger}, nil
}

// Close terminates the child process, per spec §4.7 "The child is killed on
// drop."
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.stdin.Close()
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	return b.cmd.Wait()
}

// call serializes req, writes it as one line, reads back exactly one
// response line, and validates the id round-trips. Requests are never
// pipelined (spec §4.7): call holds the bridge's lock for its full
// round-trip.
func (b *Bridge) call(req request) (response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req.ID = b.nextID.Add(1)
	line, err := json.Marshal(req)
	if err != nil {
		return response{}, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: encode request")
	}
	if _, err := b.stdin.Write(append(line, '\n')); err != nil {
		return response{}, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: write request")
	}

	raw, err := b.stdout.ReadBytes('\n')
	if err != nil && len(raw) == 0 {
		return response{}, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: read response")
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return response{}, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: decode response")
	}
	if resp.ID != req.ID {
		return response{}, agentcore.New(agentcore.KindLoop, "extensionbridge: response id %d does not match request id %d", resp.ID, req.ID)
	}
	return resp, nil
}

// Init sends the init request (spec §6.3) and returns the extensions the
// host loaded.
func (b *Bridge) Init(extensions []string) ([]ExtensionInfo, []string, error) {
	resp, err := b.call(request{Type: "init", Extensions: extensions})
	if err != nil {
		return nil, nil, err
	}
	if !resp.OK {
		return nil, resp.Errors, agentcore.New(agentcore.KindLoop, "extensionbridge: init failed: %s", resp.Error)
	}
	return resp.Extensions, resp.Errors, nil
}

// Emit sends a lifecycle hook event (spec §4.7, §6.3 "emit"). The result is
// hook-defined (e.g. a before-compact cancellation payload); callers decode
// resp accordingly.
func (b *Bridge) Emit(event HookEvent, ctx Context) (json.RawMessage, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: encode event")
	}
	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: encode context")
	}
	resp, err := b.call(request{Type: "emit", Event: eventJSON, Context: ctxJSON})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, agentcore.New(agentcore.KindLoop, "extensionbridge: emit %s failed: %s", event.Type, resp.Error)
	}
	return resp.Result, nil
}

// InvokeTool dispatches a tool call to the extension host (spec §6.3
// "invoke_tool"). Per spec §8 boundary case, a tool result with no text
// content is represented on the wire as {"output": "(empty)"}; this bridge
// does not second-guess the host's result shape and returns it raw.
func (b *Bridge) InvokeTool(name, toolCallID string, input json.RawMessage, ctx Context) (json.RawMessage, error) {
	ctxJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: encode context")
	}
	resp, err := b.call(request{Type: "invoke_tool", Name: name, ToolCallID: toolCallID, Input: input, Context: ctxJSON})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, agentcore.New(agentcore.KindLoop, "extensionbridge: invoke_tool %s failed: %s", name, resp.Error)
	}
	if len(resp.Result) == 0 {
		return json.RawMessage(`{"output":"(empty)"}`), nil
	}
	return resp.Result, nil
}

// SetFlags pushes a flags update (spec §6.3 "set_flags") to the host.
func (b *Bridge) SetFlags(flags json.RawMessage) error {
	resp, err := b.call(request{Type: "set_flags", Flags: flags})
	if err != nil {
		return err
	}
	if !resp.OK {
		return agentcore.New(agentcore.KindLoop, "extensionbridge: set_flags failed: %s", resp.Error)
	}
	return nil
}

// String renders a HookEvent for logging.
func (e HookEvent) String() string {
	return fmt.Sprintf("%s(%d bytes)", e.Type, len(e.Data))
}

// ToolCallHook emits the "tool_call" lifecycle event (spec §4.7) before a
// tool executes, so the extension host observes every dispatch the
// ApprovalGate has already let through (spec §9 open question 4: "approval
// first, then bridge, to fail fast"). The bridge is an observer here, not a
// second gate: agentloop logs-and-ignores a non-nil return rather than
// failing the tool call on it.
func (b *Bridge) ToolCallHook(ctx Context, toolCallID, toolName string, args json.RawMessage) error {
	data, err := json.Marshal(struct {
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Args       json.RawMessage `json:"args,omitempty"`
	}{ToolCallID: toolCallID, ToolName: toolName, Args: args})
	if err != nil {
		return agentcore.Wrap(agentcore.KindLoop, err, "extensionbridge: encode tool_call event")
	}
	_, err = b.Emit(HookEvent{Type: "tool_call", Data: data}, ctx)
	return err
}
