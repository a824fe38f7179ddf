// Package approval implements the ApprovalGate contract (spec §4.6): a
// single callable consulted before a potentially dangerous tool call
// executes, plus the in-memory session-scoped allowlist ApproveSession
// populates.
package approval

import (
	"context"
	"strings"
	"sync"
)

// Decision is the closed set of outcomes an approval callback may return.
type Decision string

const (
	Approve        Decision = "approve"
	ApproveSession Decision = "approve_session"
	Deny           Decision = "deny"
	Abort          Decision = "abort"
)

// Request describes the tool call being gated.
type Request struct {
	ToolCallID string
	ToolName   string
	// Command, when non-empty, is the normalized shell command for shell
	// tools — ApproveSession allowlists tool_name+Command together rather
	// than the bare tool name, so "run any shell command" isn't implied by
	// approving one.
	Command string
	Input   map[string]any
}

// Callback is the injected on_approval function. A nil Callback means no
// gate is installed; Gate.Check then defaults to Approve (spec §4.6).
type Callback func(ctx context.Context, req Request) (Decision, error)

// Gate wraps a Callback with the session-scoped allowlist ApproveSession
// populates. One Gate is shared for the life of an Agent.
type Gate struct {
	mu        sync.Mutex
	callback  Callback
	allowlist map[string]struct{}
	// mirror, when set via WithMirror, is consulted alongside allowlist and
	// written through to on ApproveSession, so a fleet of processes behind a
	// load balancer can share one allowlist (SPEC_FULL.md §B).
	mirror Mirror
}

// New constructs a Gate. callback may be nil (default-approve).
func New(callback Callback) *Gate {
	return &Gate{callback: callback, allowlist: make(map[string]struct{})}
}

// Check consults the allowlist, then the callback if installed. An allowlist
// hit returns Approve; otherwise the callback's decision is returned as-is
// (ApproveSession also records the allowlist entry). Abort is returned to the
// caller unchanged: setting the abort flag is the caller's job (the
// AgentLoop does it). A callback error yields Deny plus that error.
func (g *Gate) Check(ctx context.Context, req Request) (Decision, error) {
	g.mu.Lock()
	key := allowlistKey(req)
	_, allowed := g.allowlist[key]
	callback := g.callback
	mirror := g.mirror
	g.mu.Unlock()

	if !allowed && mirror != nil {
		if ok, err := mirror.Contains(ctx, key); err == nil && ok {
			allowed = true
		}
	}
	if allowed {
		return Approve, nil
	}
	if callback == nil {
		return Approve, nil
	}
	decision, err := callback(ctx, req)
	if err != nil {
		return Deny, err
	}
	if decision == ApproveSession {
		g.mu.Lock()
		g.allowlist[key] = struct{}{}
		g.mu.Unlock()
		if mirror != nil {
			_ = mirror.Add(ctx, key)
		}
	}
	return decision, nil
}

func allowlistKey(req Request) string {
	if req.Command != "" {
		return req.ToolName + "\x00" + normalizeCommand(req.Command)
	}
	return req.ToolName
}

// normalizeCommand collapses incidental whitespace so that trivially
// different renderings of the same shell invocation share an allowlist
// entry.
func normalizeCommand(cmd string) string {
	fields := strings.Fields(cmd)
	return strings.Join(fields, " ")
}
