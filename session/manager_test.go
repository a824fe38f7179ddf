package session_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/session"
	"github.com/conversant-ai/agentcore/telemetry"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	return session.New("sess-1", t.TempDir(), telemetry.NewNoopBundle())
}

func TestAppendMessageAdvancesLeaf(t *testing.T) {
	mgr := newTestManager(t)
	assert.Equal(t, "", mgr.Leaf())

	id1 := mgr.AppendMessage(model.NewUserText("hi"))
	assert.Equal(t, id1, mgr.Leaf())

	id2 := mgr.AppendMessage(model.Message{Role: model.RoleAssistant, StopReason: model.StopStop})
	assert.Equal(t, id2, mgr.Leaf())
	assert.NotEqual(t, id1, id2)
}

func TestGetBranchReturnsChronologicalOrder(t *testing.T) {
	mgr := newTestManager(t)
	id1 := mgr.AppendMessage(model.NewUserText("one"))
	id2 := mgr.AppendMessage(model.NewUserText("two"))
	id3 := mgr.AppendMessage(model.NewUserText("three"))

	chain, err := mgr.GetBranch("")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, []string{id1, id2, id3}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
}

func TestGetBranchUnknownEntryErrors(t *testing.T) {
	mgr := newTestManager(t)
	mgr.AppendMessage(model.NewUserText("one"))
	_, err := mgr.GetBranch("does-not-exist")
	assert.Error(t, err)
}

func TestBranchSwitchesLeaf(t *testing.T) {
	mgr := newTestManager(t)
	id1 := mgr.AppendMessage(model.NewUserText("one"))
	mgr.AppendMessage(model.NewUserText("two"))

	require.NoError(t, mgr.Branch(id1))
	assert.Equal(t, id1, mgr.Leaf())

	id3 := mgr.AppendMessage(model.NewUserText("branched"))
	chain, err := mgr.GetBranch("")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, id3, chain[1].ID)
}

func TestBranchUnknownEntryErrors(t *testing.T) {
	mgr := newTestManager(t)
	assert.Error(t, mgr.Branch("nope"))
}

func TestSetPathPersistsAfterFirstAssistantMessage(t *testing.T) {
	mgr := newTestManager(t)
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, mgr.SetPath(path))

	mgr.AppendMessage(model.NewUserText("hello"))
	mgr.AppendMessage(model.Message{Role: model.RoleAssistant, StopReason: model.StopStop})

	reopened := session.New("sess-1", "/tmp", telemetry.NewNoopBundle())
	require.NoError(t, reopened.SetPath(path))
	chain, err := reopened.GetBranch("")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, model.RoleUser, chain[0].Message.Role)
	assert.Equal(t, model.RoleAssistant, chain[1].Message.Role)
}

func TestAppendLabelChangeLastWins(t *testing.T) {
	mgr := newTestManager(t)
	id := mgr.AppendMessage(model.NewUserText("hi"))
	mgr.AppendLabelChange(id, "first", false)
	mgr.AppendLabelChange(id, "second", false)

	chain, err := mgr.GetBranch("")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "second", chain[2].Label)
	assert.True(t, chain[2].LabelSet)
}

func TestBuildContextWithCompactionSplicesSummary(t *testing.T) {
	mgr := newTestManager(t)
	mgr.AppendMessage(model.NewUserText("one"))
	keepFrom := mgr.AppendMessage(model.NewUserText("two"))
	mgr.AppendCompaction("summary of the early turns", keepFrom, 500, false)

	ctx, err := mgr.BuildContext("")
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 2)
	assert.Equal(t, model.RoleCustom, ctx.Messages[0].Role)
	assert.Equal(t, "summary of the early turns", ctx.Messages[0].Text)
	assert.Equal(t, "two", ctx.Messages[1].Text())
}

func TestBuildContextWithoutCompactionShowsEverything(t *testing.T) {
	mgr := newTestManager(t)
	mgr.AppendMessage(model.NewUserText("one"))
	mgr.AppendMessage(model.NewUserText("two"))

	ctx, err := mgr.BuildContext("")
	require.NoError(t, err)
	require.Len(t, ctx.Messages, 2)
}
