package session

import (
	"context"
	"errors"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/telemetry"
)

// SummarizeFn produces a branch summary given the flattened messages of the
// branch being left and any caller-supplied custom instructions. It is
// injected rather than built in, mirroring every other LLM-calling seam in
// this module (spec §4.3 "injected callables, never closures over shared
// state").
type SummarizeFn func(ctx context.Context, messages []model.Message, customInstructions string) (string, error)

// NavigateOptions configures NavigateTree.
type NavigateOptions struct {
	// Summarize, when true and summarize is non-nil, appends a
	// BranchSummary entry rooted at the current leaf before switching away
	// from it, so the abandoned branch remains reachable via its summary.
	Summarize bool
	// CustomInstructions is passed through to SummarizeFn verbatim.
	CustomInstructions string
}

// NavigateTree moves the session's leaf to targetID (spec §4.5
// "navigate_tree"), optionally summarizing the branch being left first. The
// summarization call is the only suspension point; AbortBranchSummary cancels
// it mid-flight from another goroutine without corrupting session state.
func (m *Manager) NavigateTree(ctx context.Context, targetID string, opts NavigateOptions, summarize SummarizeFn) error {
	m.mu.Lock()
	if _, ok := m.byID[targetID]; !ok {
		m.mu.Unlock()
		return agentcore.New(agentcore.KindInvalidTreeTarget, "target %q not found", targetID)
	}
	fromLeaf := m.leaf
	m.mu.Unlock()

	if opts.Summarize && summarize != nil && fromLeaf != "" && fromLeaf != targetID {
		branchCtx, err := m.BuildContext(fromLeaf)
		if err != nil {
			return err
		}

		navCtx, cancel := context.WithCancel(ctx)
		m.mu.Lock()
		m.branchSummaryCancel = cancel
		m.mu.Unlock()
		summary, err := summarize(navCtx, branchCtx.Messages, opts.CustomInstructions)
		m.mu.Lock()
		m.branchSummaryCancel = nil
		m.mu.Unlock()
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return agentcore.New(agentcore.KindLoop, "branch summary aborted")
			}
			return agentcore.Wrap(agentcore.KindLoop, err, "branch summary failed")
		}

		m.mu.Lock()
		m.appendEntry(Entry{Type: EntryBranchSummary, FromID: fromLeaf, SummaryText: summary})
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaf = targetID
	return nil
}

// AbortBranchSummary cancels an in-flight NavigateTree summarization, if
// any. It is safe to call at any time, including when no summary is running.
func (m *Manager) AbortBranchSummary() {
	m.mu.Lock()
	cancel := m.branchSummaryCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// CreateBranchedSession forks parent at fromEntryID into a brand-new session
// file at newPath (spec §4.5 "create_branched_session"): the fork copies the
// chain from root to fromEntryID, writes it out with an atomic rewrite (the
// one exception, besides schema migration, to append-only persistence —
// spec §3 invariant 5), and sets ParentSession on the new header.
//
// Label de-duplication (spec §9 open question 5, decided here): a Label
// entry only ever matters for its latest occurrence per TargetID (invariant
// 3), so superseded Label entries for the same target are dropped from the
// forked copy rather than carried over verbatim — the fork ends up with at
// most one Label entry per labeled target instead of its full edit history.
func CreateBranchedSession(newID, cwd, newPath string, parent *Manager, fromEntryID string, tel telemetry.Bundle) (*Manager, error) {
	chain, err := parent.GetBranch(fromEntryID)
	if err != nil {
		return nil, err
	}
	chain = dedupeLabels(chain)

	child := New(newID, cwd, tel)
	child.header.ParentSession = parent.Header().ID
	child.entries = chain
	child.byID = make(map[string]int, len(child.entries))
	for i, e := range child.entries {
		child.byID[e.ID] = i
	}
	if len(child.entries) > 0 {
		child.leaf = child.entries[len(child.entries)-1].ID
	}
	child.path = newPath
	child.flushed = true // fork always materializes immediately, unlike the deferred-write default
	if err := child.rewriteLocked(); err != nil {
		return nil, agentcore.Wrap(agentcore.KindSession, err, "write forked session file %q", newPath)
	}
	return child, nil
}

// dedupeLabels keeps only the last Label entry per TargetID in chain,
// preserving relative order of the surviving entries.
func dedupeLabels(chain []Entry) []Entry {
	lastIdx := make(map[string]int)
	for i, e := range chain {
		if e.Type == EntryLabel {
			lastIdx[e.TargetID] = i
		}
	}
	out := make([]Entry, 0, len(chain))
	for i, e := range chain {
		if e.Type == EntryLabel && lastIdx[e.TargetID] != i {
			continue
		}
		out = append(out, e)
	}
	return out
}
