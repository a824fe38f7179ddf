package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// readJSONL parses a session file: the first parseable line as a Header, the
// rest as Entry lines. Malformed lines are skipped (spec §4.5: "tolerate
// malformed lines"); if the first parseable line is not a header, the file is
// treated as empty (header == nil, entries == nil, err == nil).
func readJSONL(r io.Reader) (*Header, []Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header *Header
	var entries []Entry
	sawHeader := false

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !sawHeader {
			var h Header
			if err := json.Unmarshal(line, &h); err != nil || h.ID == "" {
				// First non-blank line isn't a parseable header: treat the
				// whole file as empty rather than failing outright.
				return nil, nil, nil
			}
			header = &h
			sawHeader = true
			continue
		}
		e, err := UnmarshalEntry(line)
		if err != nil {
			continue // tolerate malformed entry lines
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return header, entries, nil
}

// legacyFirstKeptEntryIndex mirrors the v1 Compaction field this build no
// longer carries on Entry; it is only consulted during migration, read
// straight off the raw JSON of a still-v1 entry.
type legacyEntryWire struct {
	FirstKeptEntryIndex *int `json:"firstKeptEntryIndex"`
}

// Migrate upgrades an in-memory v1 session (header.Version < 2) to v2 in
// place (spec §4.5.1): every entry is assigned a fresh 8-hex id, parentId is
// set to the previous entry's id. A Compaction entry's legacy
// firstKeptEntryIndex is resolved to the corresponding entry's new id only
// when the entry carries its raw JSON; UnmarshalEntry keeps raw JSON only for
// unrecognized entry types, so a v1 Compaction entry read from a file keeps
// an empty FirstKeptEntryID and buildSessionContext ignores that compaction.
// Migrate is idempotent: called again on an already-v2 header it is a no-op
// (spec §8 property 7).
func Migrate(header *Header, entries []Entry) bool {
	if header.Version >= 2 {
		return false
	}

	taken := make(map[string]int, len(entries))
	oldToNew := make([]string, len(entries))
	prevID := ""
	for i := range entries {
		newID := newEntryID(taken)
		taken[newID] = i
		oldToNew[i] = newID
		entries[i].ID = newID
		entries[i].ParentID = prevID
		prevID = newID
	}
	for i := range entries {
		if entries[i].Type != EntryCompaction {
			continue
		}
		if entries[i].FirstKeptEntryID != "" {
			continue
		}
		// Legacy index is not retained on Entry itself; resolve via raw JSON
		// when present, otherwise leave unresolved (buildSessionContext then
		// shows the whole branch).
		if entries[i].raw != nil {
			var lw legacyEntryWire
			if err := json.Unmarshal(entries[i].raw, &lw); err == nil && lw.FirstKeptEntryIndex != nil {
				idx := *lw.FirstKeptEntryIndex
				if idx >= 0 && idx < len(oldToNew) {
					entries[i].FirstKeptEntryID = oldToNew[idx]
				}
			}
		}
	}
	header.Version = 2
	return true
}
