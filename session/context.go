package session

import "github.com/conversant-ai/agentcore/model"

// Context is the flattened view of a branch that build_session_context
// reconstructs (spec §4.5): the message list the AgentLoop operates on, plus
// the thinking level and model in effect at the leaf.
type Context struct {
	Messages      []model.Message
	ThinkingLevel string
	Provider      string
	Model         string
}

// compactionSummaryCustomRole tags the synthetic message spliced in for a
// Compaction entry's summary; it is a Custom message so the default
// ConvertToLLM (which only forwards User/Assistant/ToolResult) never ships
// it to a provider verbatim — callers that want it visible to the model
// fold it into the system prompt or a dedicated transform_context step.
const compactionSummaryCustomRole = "compaction_summary"

// BuildContext resolves leafID (or the current leaf if leafID == "") to its
// branch and flattens it into a Context (spec §4.5 "build_session_context").
func (m *Manager) BuildContext(leafID string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, err := m.getBranchLocked(leafID)
	if err != nil {
		return Context{}, err
	}
	return buildSessionContext(chain), nil
}

// buildSessionContext implements the reconstruction rule against a
// chronologically-ordered (root-to-leaf) entry chain:
//
//  1. Scan the full chain for the latest ThinkingLevelChange and ModelChange,
//     and the latest assistant Message (whose Provider/Model also update
//     current agent configuration, spec §4.5 step 2's "OR on each assistant
//     message (later wins)") — these describe current agent configuration
//     regardless of compaction.
//  2. Find the most recently appended Compaction entry on the chain (spec §3
//     invariant 4: at most one Compaction is honored per branch). Entries
//     strictly before its FirstKeptEntryID are invisible except through the
//     summary; a synthetic Custom message carrying the summary text is
//     spliced in at that point, followed by every kept entry unchanged.
//  3. With no Compaction on the chain, every entry is visible.
func buildSessionContext(chain []Entry) Context {
	ctx := Context{}

	compactionIdx := -1
	for i, e := range chain {
		switch e.Type {
		case EntryThinkingLevelChange:
			ctx.ThinkingLevel = e.ThinkingLevel
		case EntryModelChange:
			ctx.Provider, ctx.Model = e.Provider, e.Model
		case EntryMessage:
			if e.Message.Role == model.RoleAssistant {
				ctx.Provider, ctx.Model = e.Message.Provider, e.Message.Model
			}
		case EntryCompaction:
			compactionIdx = i
		}
	}

	firstKeptIdx := -1
	if compactionIdx >= 0 {
		fk := chain[compactionIdx].FirstKeptEntryID
		for i, e := range chain {
			if e.ID == fk {
				firstKeptIdx = i
				break
			}
		}
		if firstKeptIdx < 0 {
			// FirstKeptEntryID doesn't resolve on this chain (corrupt log or
			// a branch fork that dropped it): degrade to "no compaction"
			// rather than hiding the whole branch.
			compactionIdx = -1
		}
	}

	summaryInserted := compactionIdx < 0
	for i, e := range chain {
		if compactionIdx >= 0 && i < firstKeptIdx {
			continue
		}
		if !summaryInserted {
			ctx.Messages = append(ctx.Messages, compactionSummaryMessage(chain[compactionIdx]))
			summaryInserted = true
		}
		switch e.Type {
		case EntryMessage:
			ctx.Messages = append(ctx.Messages, e.Message)
		case EntryCustomMessage:
			ctx.Messages = append(ctx.Messages, model.Message{
				Role:       model.RoleCustom,
				CustomRole: e.CustomType,
				Text:       e.Display,
				Content:    e.Content,
				Timestamp:  e.Timestamp,
			})
		case EntryBranchSummary:
			ctx.Messages = append(ctx.Messages, branchSummaryMessage(e))
		}
	}
	return ctx
}

func compactionSummaryMessage(c Entry) model.Message {
	return model.Message{
		Role:       model.RoleCustom,
		CustomRole: compactionSummaryCustomRole,
		Text:       c.Summary,
		Timestamp:  c.Timestamp,
	}
}

// branchSummaryCustomRole tags the synthetic message spliced in for a
// BranchSummary entry (spec §4.5 step 5: "BranchSummary → a synthetic
// 'branch summary' message"), mirroring compactionSummaryCustomRole.
const branchSummaryCustomRole = "branch_summary"

func branchSummaryMessage(e Entry) model.Message {
	return model.Message{
		Role:       model.RoleCustom,
		CustomRole: branchSummaryCustomRole,
		Text:       e.SummaryText,
		Timestamp:  e.Timestamp,
	}
}
