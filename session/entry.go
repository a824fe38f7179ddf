// Package session implements the append-only, content-addressed
// parent-pointer DAG that persists a conversation (spec §3, §4.5). Entries
// are stored in a vector with stable indices plus an auxiliary id→index map
// (spec §9: "do NOT model this with reference-counted node objects") — never
// as a graph of pointer-linked node objects.
package session

import (
	"encoding/json"
	"time"

	"github.com/conversant-ai/agentcore/model"
)

// EntryType discriminates the Entry variants (spec §3).
type EntryType string

const (
	EntryMessage            EntryType = "message"
	EntryThinkingLevelChange EntryType = "thinkingLevelChange"
	EntryModelChange        EntryType = "modelChange"
	EntryCompaction         EntryType = "compaction"
	EntryBranchSummary      EntryType = "branchSummary"
	EntryCustom             EntryType = "custom"
	EntryCustomMessage      EntryType = "customMessage"
	EntryLabel              EntryType = "label"
)

// Entry is a single line of the persisted log. Every variant shares
// {id, parent_id?, timestamp}; Type selects which of the remaining fields
// are meaningful. A single concrete struct (rather than one type per
// variant) keeps the vector-of-entries + id→index design from spec §9
// straightforward: one slice, one map, no interface dispatch on the hot
// append/walk path.
type Entry struct {
	ID        string
	ParentID  string // "" means root
	Type      EntryType
	Timestamp time.Time

	// EntryMessage
	Message model.Message

	// EntryThinkingLevelChange
	ThinkingLevel string

	// EntryModelChange
	Provider string
	Model    string

	// EntryCompaction
	Summary          string
	FirstKeptEntryID string
	TokensBefore     int
	FromHook         bool

	// EntryBranchSummary
	FromID        string
	SummaryText   string

	// EntryCustom
	CustomType string
	Data       json.RawMessage

	// EntryCustomMessage
	Content []model.Block
	Display string
	Details json.RawMessage

	// EntryLabel
	TargetID string
	Label    string // "" with LabelSet=false means "clear the label"
	LabelSet bool

	// raw preserves the original on-wire JSON for entry types this build of
	// the module does not recognize, so they round-trip unchanged on
	// rewrite (spec §6.1: "Unknown types MUST be tolerated on read...and
	// preserved on rewrite when feasible").
	raw json.RawMessage
}

// IsUnknown reports whether e was read as an unrecognized entry type and is
// being carried only for pass-through preservation.
func (e Entry) IsUnknown() bool { return e.raw != nil }
