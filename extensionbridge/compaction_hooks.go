package extensionbridge

import (
	"context"
	"encoding/json"

	"github.com/conversant-ai/agentcore/compaction"
)

// BeforeCompactHook adapts the bridge's "session_before_compact" lifecycle
// event (spec §4.7) into a compaction.OnBeforeCompactFn, so an
// extension-hosted hook can cancel a compaction or supply its own summary
// before compaction.Apply appends the Compaction entry.
func (b *Bridge) BeforeCompactHook(ctx Context) compaction.OnBeforeCompactFn {
	return func(_ context.Context, event compaction.BeforeCompactEvent) (compaction.BeforeCompactResult, error) {
		data, err := json.Marshal(event)
		if err != nil {
			return compaction.BeforeCompactResult{}, err
		}
		result, err := b.Emit(HookEvent{Type: "session_before_compact", Data: data}, ctx)
		if err != nil {
			return compaction.BeforeCompactResult{}, err
		}
		if len(result) == 0 {
			return compaction.BeforeCompactResult{}, nil
		}
		var decoded struct {
			Cancel      bool   `json:"cancel"`
			SummaryText string `json:"summaryText"`
			HasSummary  bool   `json:"hasSummary"`
		}
		if err := json.Unmarshal(result, &decoded); err != nil {
			return compaction.BeforeCompactResult{}, err
		}
		return compaction.BeforeCompactResult{
			Cancel:      decoded.Cancel,
			SummaryText: decoded.SummaryText,
			HasSummary:  decoded.HasSummary,
		}, nil
	}
}

// CompactHook adapts the bridge's "session_compact" lifecycle event (spec
// §4.7) into a compaction.OnCompactFn, fired after the Compaction entry has
// been appended. Emit errors are swallowed: per spec §4.8, on_compact fires
// for notification only and has no return value to propagate.
func (b *Bridge) CompactHook(ctx Context) compaction.OnCompactFn {
	return func(_ context.Context, event compaction.CompactEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		_, _ = b.Emit(HookEvent{Type: "session_compact", Data: data}, ctx)
	}
}
