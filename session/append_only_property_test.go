package session_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/session"
	"github.com/conversant-ai/agentcore/telemetry"
)

// TestAppendOnlyLaw validates spec §3 invariant 1: appending N more messages
// to a session never changes the ID, ParentID, or Type of any entry that
// already existed. This is checked for arbitrary prefix lengths against
// arbitrary total lengths, the "round-trip/never-rewritten" law spec §8 and
// SPEC_FULL.md §A.5 call for.
func TestAppendOnlyLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("existing entries are never mutated by further appends", prop.ForAll(
		func(prefixLen, extraLen int) bool {
			mgr := session.New("prop-sess", "/tmp", telemetry.NewNoopBundle())

			for i := 0; i < prefixLen; i++ {
				mgr.AppendMessage(model.NewUserText("prefix"))
			}
			before, err := mgr.GetBranch("")
			if err != nil {
				return false
			}
			snapshot := make([]session.Entry, len(before))
			copy(snapshot, before)

			for i := 0; i < extraLen; i++ {
				mgr.AppendMessage(model.NewUserText("extra"))
			}
			after, err := mgr.GetBranch("")
			if err != nil {
				return false
			}
			if len(after) != prefixLen+extraLen {
				return false
			}
			for i, e := range snapshot {
				if after[i].ID != e.ID || after[i].ParentID != e.ParentID || after[i].Type != e.Type {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8), gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestEntryIDsAreUniqueWithinASession validates that newEntryID never hands
// out a colliding id across a realistic number of sequential appends.
func TestEntryIDsAreUniqueWithinASession(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("every appended entry gets a distinct id", prop.ForAll(
		func(n int) bool {
			mgr := session.New("prop-sess-ids", "/tmp", telemetry.NewNoopBundle())
			seen := make(map[string]bool, n)
			for i := 0; i < n; i++ {
				id := mgr.AppendMessage(model.NewUserText("x"))
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
