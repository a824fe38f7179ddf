// Package compaction implements the prepare/apply protocol spec §4.8
// describes: deciding where to cut a branch, gathering the prefix to
// summarize, and recording the result as a session.Manager Compaction entry
// with a before/after hook contract.
package compaction

import (
	"context"
	"sort"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/session"
)

// Settings configures PrepareCompaction (spec §4.8).
type Settings struct {
	Enabled bool
	// ReserveTokens is held back from the model's context window for the
	// response itself; PrepareCompaction does not consult the window size
	// directly (that is a caller/config concern) but callers typically
	// derive KeepRecentTokens as window-minus-ReserveTokens.
	ReserveTokens int
	// KeepRecentTokens is the token budget the kept (uncompacted) suffix of
	// the branch must fit within.
	KeepRecentTokens int
}

// FileOps aggregates the distinct paths observed read, written, or edited by
// tool calls in the summarized window (spec §4.8 "file_ops").
type FileOps struct {
	Read    []string
	Written []string
	Edited  []string
}

// Preparation is what PrepareCompaction returns when compaction should run
// (spec §4.8).
type Preparation struct {
	FirstKeptEntryID    string
	MessagesToSummarize []model.Message
	TokensBefore        int
	PreviousSummary     string
	FileOps             FileOps

	// IsSplitTurn is set when the earliest kept turn alone exceeds
	// KeepRecentTokens, so PrepareCompaction could not avoid keeping an
	// over-budget turn whole (spec §4.8, "biased to NOT split a single
	// turn; if a split is unavoidable...").
	IsSplitTurn bool
	// TurnPrefixMessages carries every message of that over-budget kept unit
	// (its opening user message, if any, the assistant message and any tool
	// results already emitted for it), when IsSplitTurn is true.
	TurnPrefixMessages []model.Message
}

// BeforeCompactEvent is passed to an OnBeforeCompact hook.
type BeforeCompactEvent struct {
	Preparation Preparation
}

// BeforeCompactResult is what an OnBeforeCompact hook may return (spec
// §4.8): Cancel aborts the operation outright; when HasSummary is set and
// SummaryText is non-empty, SummaryText is used verbatim as the summary (the
// hook already did the summarization itself, e.g. via an extension).
type BeforeCompactResult struct {
	Cancel      bool
	SummaryText string
	HasSummary  bool
}

// OnBeforeCompactFn is the before-compact hook (spec §4.8 "on_before_compact").
type OnBeforeCompactFn func(ctx context.Context, event BeforeCompactEvent) (BeforeCompactResult, error)

// CompactEvent is passed to an OnCompact hook after the Compaction entry has
// been appended.
type CompactEvent struct {
	EntryID     string
	Preparation Preparation
	Summary     string
}

// OnCompactFn is the after-compact hook (spec §4.8 "on_compact").
type OnCompactFn func(ctx context.Context, event CompactEvent)

// tokensPerChar approximates the source's char-count-over-a-fixed-ratio
// token estimate (mirrored from the teacher's rate-limiter token heuristic,
// goadesign-goa-ai/features/model/middleware/ratelimit.go, rather than
// pulling in a tokenizer dependency the examples never use for this).
const tokensPerChar = 1.0 / 3.0

// EstimateTokens is a cheap, provider-agnostic token estimate for a single
// message: counts text/thinking content and tool-call argument JSON length,
// converts via a fixed chars-per-token ratio, same heuristic class the
// teacher's rate limiter middleware uses for request sizing.
func EstimateTokens(m model.Message) int {
	chars := len(m.Text())
	for _, b := range m.Content {
		switch v := b.(type) {
		case model.ThinkingBlock:
			chars += len(v.Text)
		case model.ToolCallBlock:
			chars += len(v.Arguments)
		}
	}
	tokens := int(float64(chars) * tokensPerChar)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// messageUnit is one compaction-grouping unit: a maximal run of message
// entries starting at a User message (or, for a leading run with no prior
// User, at the branch root) and extending up to but not including the next
// User message. Grouping at User boundaries — rather than strictly at
// Assistant-turn boundaries per the GLOSSARY's narrower "Turn" definition —
// is the decision this package takes for what "a single turn" means for
// the purpose of "biased to NOT split a single turn": splitting between a
// user prompt and its eventual response reads just as badly as splitting an
// assistant turn's tool results from the call that produced them.
type messageUnit struct {
	firstEntryID string
	messages     []model.Message
	tokens       int
}

// PrepareCompaction implements spec §4.8. branchEntries must be in
// chronological (root-to-leaf) order, e.g. from Manager.GetBranch.
func PrepareCompaction(branchEntries []session.Entry, settings Settings) (*Preparation, error) {
	if !settings.Enabled {
		return nil, nil
	}

	var previousSummary string
	for _, e := range branchEntries {
		if e.Type == session.EntryCompaction {
			previousSummary = e.Summary
		}
	}

	units := groupIntoUnits(branchEntries)
	if len(units) == 0 {
		return nil, nil
	}

	tokensBefore := 0
	for _, u := range units {
		tokensBefore += u.tokens
	}
	if tokensBefore <= settings.KeepRecentTokens {
		// The whole branch already fits; nothing to compact.
		return nil, nil
	}

	keepFrom := len(units) // index of the first unit kept, exclusive of summarized
	recent := 0
	for i := len(units) - 1; i >= 0; i-- {
		if recent+units[i].tokens > settings.KeepRecentTokens && recent > 0 {
			break
		}
		recent += units[i].tokens
		keepFrom = i
	}

	prep := &Preparation{
		FirstKeptEntryID: units[keepFrom].firstEntryID,
		TokensBefore:     tokensBefore,
		PreviousSummary:  previousSummary,
		FileOps:          collectFileOps(flattenBefore(units, keepFrom)),
	}
	for _, u := range units[:keepFrom] {
		prep.MessagesToSummarize = append(prep.MessagesToSummarize, u.messages...)
	}

	if units[keepFrom].tokens > settings.KeepRecentTokens {
		prep.IsSplitTurn = true
		prep.TurnPrefixMessages = units[keepFrom].messages
	}
	return prep, nil
}

func flattenBefore(units []messageUnit, keepFrom int) []model.Message {
	var out []model.Message
	for _, u := range units[:keepFrom] {
		out = append(out, u.messages...)
	}
	return out
}

func groupIntoUnits(entries []session.Entry) []messageUnit {
	var units []messageUnit
	var cur *messageUnit
	for _, e := range entries {
		if e.Type != session.EntryMessage {
			continue
		}
		if e.Message.Role == model.RoleUser || cur == nil {
			if cur != nil {
				units = append(units, *cur)
			}
			cur = &messageUnit{firstEntryID: e.ID}
		}
		cur.messages = append(cur.messages, e.Message)
		cur.tokens += EstimateTokens(e.Message)
	}
	if cur != nil {
		units = append(units, *cur)
	}
	return units
}

// collectFileOps scans ToolResult messages for file paths their Details
// carry, grouped by the conventional suffix of the originating tool's name
// (spec §4.8 "file_ops"). Tool implementations are out of this module's
// scope (spec §1), so the convention — a Details map with a "path" key, and
// a tool name ending in "_read"/"_write"/"_edit" — is a best-effort
// heuristic a concrete Tool is free to satisfy or ignore; unparsed results
// simply contribute nothing.
func collectFileOps(messages []model.Message) FileOps {
	read := map[string]struct{}{}
	written := map[string]struct{}{}
	edited := map[string]struct{}{}
	for _, m := range messages {
		if m.Role != model.RoleToolResult {
			continue
		}
		path, ok := extractPath(m.Details)
		if !ok {
			continue
		}
		switch {
		case hasSuffixAny(m.ToolName, "_write", "write_file"):
			written[path] = struct{}{}
		case hasSuffixAny(m.ToolName, "_edit", "edit_file"):
			edited[path] = struct{}{}
		default:
			read[path] = struct{}{}
		}
	}
	return FileOps{Read: sortedKeys(read), Written: sortedKeys(written), Edited: sortedKeys(edited)}
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

func extractPath(details any) (string, bool) {
	m, ok := details.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"path", "file_path", "filePath"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Apply runs the before-hook, appends the Compaction entry, then runs the
// after-hook (spec §4.8). summarize produces the summary text unless the
// before-hook already supplied one. Returns the new entry's id, or "" if the
// hook cancelled.
func Apply(ctx context.Context, mgr *session.Manager, prep *Preparation, summarize func(context.Context, *Preparation) (string, error), before OnBeforeCompactFn, after OnCompactFn) (string, error) {
	if prep == nil {
		return "", agentcore.New(agentcore.KindCompaction, "Apply called with a nil Preparation")
	}

	fromHook := false
	summary := ""
	if before != nil {
		result, err := before(ctx, BeforeCompactEvent{Preparation: *prep})
		if err != nil {
			return "", agentcore.Wrap(agentcore.KindCompaction, err, "on_before_compact hook failed")
		}
		if result.Cancel {
			return "", nil
		}
		if result.HasSummary {
			summary = result.SummaryText
			fromHook = true
		}
	}

	if summary == "" {
		if summarize == nil {
			return "", agentcore.New(agentcore.KindCompaction, "no summary produced and no summarize function supplied")
		}
		s, err := summarize(ctx, prep)
		if err != nil {
			return "", agentcore.Wrap(agentcore.KindCompaction, err, "summarize failed")
		}
		summary = s
	}

	id := mgr.AppendCompaction(summary, prep.FirstKeptEntryID, prep.TokensBefore, fromHook)

	if after != nil {
		after(ctx, CompactEvent{EntryID: id, Preparation: *prep, Summary: summary})
	}
	return id, nil
}
