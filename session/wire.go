package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/conversant-ai/agentcore/model"
)

// Header opens every persisted log file (spec §3, §6.1).
type Header struct {
	ID            string
	Timestamp     time.Time
	Cwd           string
	Version       int
	ParentSession string
}

type headerWire struct {
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Cwd           string    `json:"cwd"`
	Version       int       `json:"version"`
	ParentSession string    `json:"parentSession,omitempty"`
}

// MarshalJSON renders the Header in the wire camelCase shape.
func (h Header) MarshalJSON() ([]byte, error) {
	return json.Marshal(headerWire{
		Type: "session", ID: h.ID, Timestamp: h.Timestamp, Cwd: h.Cwd,
		Version: h.Version, ParentSession: h.ParentSession,
	})
}

// UnmarshalJSON parses a Header from its wire shape.
func (h *Header) UnmarshalJSON(data []byte) error {
	var w headerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*h = Header{ID: w.ID, Timestamp: w.Timestamp, Cwd: w.Cwd, Version: w.Version, ParentSession: w.ParentSession}
	return nil
}

// entryWire is the flattened camelCase wire shape shared by every Entry
// variant; unused fields are omitted via omitempty. This single struct
// approach mirrors the tagged-union convention used elsewhere (one Go type,
// an external "type" discriminator).
type entryWire struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	ParentID  string          `json:"parentId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	Message json.RawMessage `json:"message,omitempty"`

	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	Summary          string `json:"summary,omitempty"`
	FirstKeptEntryID string `json:"firstKeptEntryId,omitempty"`
	TokensBefore     int    `json:"tokensBefore,omitempty"`
	FromHook         bool   `json:"fromHook,omitempty"`

	FromID      string `json:"fromId,omitempty"`
	SummaryText string `json:"summaryText,omitempty"`

	CustomType string          `json:"customType,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	Content []json.RawMessage `json:"content,omitempty"`
	Display string            `json:"display,omitempty"`
	Details json.RawMessage   `json:"details,omitempty"`

	TargetID string  `json:"targetId,omitempty"`
	Label    *string `json:"label,omitempty"`
}

type messageWire struct {
	Role         string            `json:"role"`
	Content      []json.RawMessage `json:"content,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Usage        *usageWire        `json:"usage,omitempty"`
	StopReason   string            `json:"stopReason,omitempty"`
	API          string            `json:"api,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Model        string            `json:"model,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	ToolCallID   string            `json:"toolCallId,omitempty"`
	ToolName     string            `json:"toolName,omitempty"`
	Details      json.RawMessage   `json:"details,omitempty"`
	IsError      bool              `json:"isError,omitempty"`
	CustomRole   string            `json:"customRole,omitempty"`
	Text         string            `json:"text,omitempty"`
}

type usageWire struct {
	Input      int     `json:"input"`
	Output     int     `json:"output"`
	CacheRead  int     `json:"cacheRead"`
	CacheWrite int     `json:"cacheWrite"`
	Total      int     `json:"total,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
}

// MarshalEntry renders e to its camelCase wire JSON line. Unknown entries
// re-emit their preserved raw JSON verbatim.
func MarshalEntry(e Entry) ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	w := entryWire{Type: string(e.Type), ID: e.ID, ParentID: e.ParentID, Timestamp: e.Timestamp}
	switch e.Type {
	case EntryMessage:
		mw, err := marshalMessage(e.Message)
		if err != nil {
			return nil, err
		}
		w.Message = mw
	case EntryThinkingLevelChange:
		w.ThinkingLevel = e.ThinkingLevel
	case EntryModelChange:
		w.Provider, w.Model = e.Provider, e.Model
	case EntryCompaction:
		w.Summary, w.FirstKeptEntryID, w.TokensBefore, w.FromHook = e.Summary, e.FirstKeptEntryID, e.TokensBefore, e.FromHook
	case EntryBranchSummary:
		w.FromID, w.SummaryText = e.FromID, e.SummaryText
	case EntryCustom:
		w.CustomType, w.Data = e.CustomType, e.Data
	case EntryCustomMessage:
		w.CustomType, w.Display, w.Details = e.CustomType, e.Display, e.Details
		for _, b := range e.Content {
			bb, err := model.MarshalBlock(b)
			if err != nil {
				return nil, err
			}
			w.Content = append(w.Content, bb)
		}
	case EntryLabel:
		w.TargetID = e.TargetID
		if e.LabelSet {
			w.Label = &e.Label
		}
	default:
		return nil, fmt.Errorf("session: unknown entry type %q", e.Type)
	}
	return json.Marshal(w)
}

// UnmarshalEntry parses a single JSONL line into an Entry. Unrecognized
// "type" values are preserved verbatim (spec §6.1) rather than rejected.
func UnmarshalEntry(line []byte) (Entry, error) {
	var w entryWire
	if err := json.Unmarshal(line, &w); err != nil {
		return Entry{}, err
	}
	e := Entry{ID: w.ID, ParentID: w.ParentID, Type: EntryType(w.Type), Timestamp: w.Timestamp}
	switch e.Type {
	case EntryMessage:
		msg, err := unmarshalMessage(w.Message)
		if err != nil {
			return Entry{}, err
		}
		e.Message = msg
	case EntryThinkingLevelChange:
		e.ThinkingLevel = w.ThinkingLevel
	case EntryModelChange:
		e.Provider, e.Model = w.Provider, w.Model
	case EntryCompaction:
		e.Summary, e.FirstKeptEntryID, e.TokensBefore, e.FromHook = w.Summary, w.FirstKeptEntryID, w.TokensBefore, w.FromHook
	case EntryBranchSummary:
		e.FromID, e.SummaryText = w.FromID, w.SummaryText
	case EntryCustom:
		e.CustomType, e.Data = w.CustomType, w.Data
	case EntryCustomMessage:
		e.CustomType, e.Display, e.Details = w.CustomType, w.Display, w.Details
		for _, raw := range w.Content {
			b, err := model.UnmarshalBlock(raw)
			if err != nil {
				return Entry{}, err
			}
			e.Content = append(e.Content, b)
		}
	case EntryLabel:
		e.TargetID = w.TargetID
		if w.Label != nil {
			e.Label, e.LabelSet = *w.Label, true
		}
	default:
		// Unknown type: keep the raw bytes for pass-through preservation.
		e.raw = append([]byte(nil), line...)
	}
	return e, nil
}

func marshalMessage(m model.Message) (json.RawMessage, error) {
	w := messageWire{
		Role: string(m.Role), Timestamp: m.Timestamp, StopReason: string(m.StopReason),
		API: m.API, Provider: m.Provider, Model: m.Model, ErrorMessage: m.ErrorMessage,
		ToolCallID: m.ToolCallID, ToolName: m.ToolName, IsError: m.IsError,
		CustomRole: m.CustomRole, Text: m.Text,
	}
	if m.Role == RoleAssistantWire {
		uw := usageWire{
			Input: m.Usage.Input, Output: m.Usage.Output,
			CacheRead: m.Usage.CacheRead, CacheWrite: m.Usage.CacheWrite,
			Total: m.Usage.Total, Cost: m.Usage.Cost,
		}
		w.Usage = &uw
	}
	if m.Details != nil {
		raw, err := json.Marshal(m.Details)
		if err != nil {
			return nil, err
		}
		w.Details = raw
	}
	for _, b := range m.Content {
		bb, err := model.MarshalBlock(b)
		if err != nil {
			return nil, err
		}
		w.Content = append(w.Content, bb)
	}
	return json.Marshal(w)
}

func unmarshalMessage(raw json.RawMessage) (model.Message, error) {
	var w messageWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Message{}, err
	}
	m := model.Message{
		Role: model.Role(w.Role), Timestamp: w.Timestamp, StopReason: model.StopReason(w.StopReason),
		API: w.API, Provider: w.Provider, Model: w.Model, ErrorMessage: w.ErrorMessage,
		ToolCallID: w.ToolCallID, ToolName: w.ToolName, IsError: w.IsError,
		CustomRole: w.CustomRole, Text: w.Text,
	}
	if w.Usage != nil {
		m.Usage = model.Usage{
			Input: w.Usage.Input, Output: w.Usage.Output,
			CacheRead: w.Usage.CacheRead, CacheWrite: w.Usage.CacheWrite,
			Total: w.Usage.Total, Cost: w.Usage.Cost,
		}
	}
	if len(w.Details) > 0 {
		var d any
		if err := json.Unmarshal(w.Details, &d); err != nil {
			return model.Message{}, err
		}
		m.Details = d
	}
	for _, raw := range w.Content {
		b, err := model.UnmarshalBlock(raw)
		if err != nil {
			return model.Message{}, err
		}
		m.Content = append(m.Content, b)
	}
	return m, nil
}

// RoleAssistantWire is reused from model.RoleAssistant; a local alias keeps
// this file from needing the model package's constant spelled out twice.
const RoleAssistantWire = model.RoleAssistant
