package session

import (
	"bufio"
	"context"
	"os"
	"sync"
	"time"

	agentcore "github.com/conversant-ai/agentcore"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/telemetry"
)

// Manager owns a single session file exclusively (spec §5: "The session file
// is owned exclusively by its SessionManager"). Entries are stored in a
// slice with stable indices plus an id→index map; branch-path
// reconstruction walks parent pointers backward from a leaf (spec §9).
type Manager struct {
	mu sync.Mutex

	header Header
	path   string

	entries  []Entry
	byID     map[string]int
	leaf     string // "" means no entries yet

	flushed bool // true once the first assistant message has triggered a flush

	branchSummaryCancel context.CancelFunc // set while a NavigateTree summarization is in flight

	log telemetry.Logger
	met telemetry.Metrics
}

// New creates a brand-new in-memory session (no backing file yet). Callers
// that want persistence call SetPath; a new file is then written lazily by
// the deferred-flush rule once an assistant message exists.
func New(id, cwd string, tel telemetry.Bundle) *Manager {
	return &Manager{
		header: Header{ID: id, Timestamp: time.Now(), Cwd: cwd, Version: 2},
		byID:   make(map[string]int),
		log:    tel.Logger,
		met:    tel.Metrics,
	}
}

// Header returns the session's header.
func (m *Manager) Header() Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.header
}

// Leaf returns the current leaf entry id, or "" if the session is empty.
func (m *Manager) Leaf() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaf
}

// Path returns the backing file path, or "" if none has been set.
func (m *Manager) Path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}

func (m *Manager) appendEntry(e Entry) string {
	e.ID = newEntryID(m.byID)
	e.ParentID = m.leaf
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.byID[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
	m.leaf = e.ID

	wasFlushed := m.flushed
	m.maybeFlush()
	if wasFlushed && m.flushed {
		if err := m.appendToFileLocked(e); err != nil {
			m.logError("session append failed", err)
		}
	}
	return e.ID
}

// AppendMessage appends a Message entry and advances the leaf.
func (m *Manager) AppendMessage(msg model.Message) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryMessage, Message: msg})
}

// AppendThinkingLevelChange appends a ThinkingLevelChange entry.
func (m *Manager) AppendThinkingLevelChange(level string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryThinkingLevelChange, ThinkingLevel: level})
}

// AppendModelChange appends a ModelChange entry.
func (m *Manager) AppendModelChange(provider, modelID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryModelChange, Provider: provider, Model: modelID})
}

// AppendCompaction appends a Compaction entry.
func (m *Manager) AppendCompaction(summary, firstKeptEntryID string, tokensBefore int, fromHook bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{
		Type: EntryCompaction, Summary: summary, FirstKeptEntryID: firstKeptEntryID,
		TokensBefore: tokensBefore, FromHook: fromHook,
	})
}

// AppendBranchSummary appends a BranchSummary entry rooted at fromID.
func (m *Manager) AppendBranchSummary(fromID, summary string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryBranchSummary, FromID: fromID, SummaryText: summary})
}

// AppendCustom appends an opaque extension-defined entry.
func (m *Manager) AppendCustom(customType string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryCustom, CustomType: customType, Data: data})
}

// AppendCustomMessage appends a CustomMessage entry (an extension-injected
// message with display/details metadata distinct from a plain Custom entry).
func (m *Manager) AppendCustomMessage(customType string, content []model.Block, display string, details []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{
		Type: EntryCustomMessage, CustomType: customType, Content: content,
		Display: display, Details: details,
	})
}

// AppendLabelChange appends a Label entry. label == "" with clear=true
// removes the label for target; otherwise it sets it (spec §3 invariant 3:
// last-label-on-branch wins).
func (m *Manager) AppendLabelChange(target, label string, clear bool) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntry(Entry{Type: EntryLabel, TargetID: target, Label: label, LabelSet: !clear})
}

// GetBranch returns the parent-chain from fromID (or the current leaf if
// fromID is "") to the root, reversed into chronological order (spec §4.5).
func (m *Manager) GetBranch(fromID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBranchLocked(fromID)
}

func (m *Manager) getBranchLocked(fromID string) ([]Entry, error) {
	start := fromID
	if start == "" {
		start = m.leaf
	}
	if start == "" {
		return nil, nil
	}
	var chain []Entry
	cur := start
	for cur != "" {
		idx, ok := m.byID[cur]
		if !ok {
			return nil, agentcore.New(agentcore.KindInvalidBranchEntry, "entry %q not found", cur)
		}
		e := m.entries[idx]
		chain = append(chain, e)
		cur = e.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	if m.met != nil {
		m.met.RecordGauge("session.branch_walk_depth", float64(len(chain)))
	}
	return chain, nil
}

// Branch sets the leaf to entryID, failing if it does not exist.
func (m *Manager) Branch(entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[entryID]; !ok {
		return agentcore.New(agentcore.KindInvalidBranchEntry, "entry %q not found", entryID)
	}
	m.leaf = entryID
	return nil
}

// BranchWithSummary sets the leaf (if leaf != "") then appends a
// BranchSummary entry rooted there.
func (m *Manager) BranchWithSummary(leaf, summary, fromHookDetails string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if leaf != "" {
		if _, ok := m.byID[leaf]; !ok {
			return "", agentcore.New(agentcore.KindInvalidBranchEntry, "entry %q not found", leaf)
		}
		m.leaf = leaf
	}
	from := m.leaf
	return m.appendEntry(Entry{Type: EntryBranchSummary, FromID: from, SummaryText: summary}), nil
}

// maybeFlush implements the deferred-write rule (spec §3 invariant 6, §4.5
// Persistence rules): the file is written only once an assistant message
// exists in memory. Before that point the session is purely in-memory, so a
// crash loses it silently (spec §9 open question 3 — see DESIGN.md).
func (m *Manager) maybeFlush() {
	if m.flushed || m.path == "" {
		return
	}
	for _, e := range m.entries {
		if e.Type == EntryMessage && e.Message.Role == model.RoleAssistant {
			if err := m.rewriteLocked(); err != nil {
				m.logError("session flush failed", err)
				return
			}
			m.flushed = true
			return
		}
	}
}

// SetPath attaches a backing file to this session, reading and migrating
// any existing content (spec §4.5 "set_session_file").
func (m *Manager) SetPath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		// No file yet: it is created by the first flush, not here.
		m.maybeFlush()
		return nil
	}
	if err != nil {
		return agentcore.Wrap(agentcore.KindSession, err, "open session file %q", path)
	}
	defer f.Close()

	header, entries, err := readJSONL(f)
	if err != nil {
		return agentcore.Wrap(agentcore.KindSession, err, "parse session file %q", path)
	}
	if header == nil {
		// First parseable line was not a header: treat the file as empty.
		return m.writeHeaderLocked()
	}
	m.header = *header
	m.entries = entries
	migrated := Migrate(&m.header, m.entries)
	m.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		m.byID[e.ID] = i
	}
	if len(entries) > 0 {
		m.leaf = entries[len(entries)-1].ID
	}
	if migrated {
		if err := m.rewriteLocked(); err != nil {
			return agentcore.Wrap(agentcore.KindSession, err, "rewrite migrated session file %q", path)
		}
	}
	m.flushed = true
	return nil
}

func (m *Manager) writeHeaderLocked() error {
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return agentcore.Wrap(agentcore.KindSession, err, "create session file %q", m.path)
	}
	defer f.Close()
	hb, err := m.header.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := f.Write(append(hb, '\n')); err != nil {
		return agentcore.Wrap(agentcore.KindSession, err, "write session header %q", m.path)
	}
	return nil
}

// rewriteLocked performs a full atomic rewrite of the session file: write to
// a temp file in the same directory, then rename over the target. Used for
// the first flush, schema migration, and branch forks (spec §3 invariant 5).
func (m *Manager) rewriteLocked() error {
	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	hb, err := m.header.MarshalJSON()
	if err != nil {
		f.Close()
		return err
	}
	if _, err := w.Write(append(hb, '\n')); err != nil {
		f.Close()
		return err
	}
	for _, e := range m.entries {
		eb, err := MarshalEntry(e)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(eb, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// appendToFileLocked performs an O(1) append of a single entry line; used for
// every append after the first flush (spec §4.5 "every further append is an
// O(1) file-append").
func (m *Manager) appendToFileLocked(e Entry) error {
	if m.path == "" || !m.flushed {
		return nil
	}
	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	eb, err := MarshalEntry(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(eb, '\n'))
	return err
}

func (m *Manager) logError(msg string, err error) {
	if m.log != nil {
		m.log.Error(nil, msg, "error", err.Error()) //nolint:staticcheck // nil ctx acceptable for best-effort logging seam
	}
}
