package compaction_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/compaction"
	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/session"
	"github.com/conversant-ai/agentcore/telemetry"
)

// buildBranch drives a real session.Manager through its public API to
// produce the []session.Entry shape PrepareCompaction consumes.
func buildBranch(t *testing.T, messages ...model.Message) []session.Entry {
	t.Helper()
	mgr := session.New("compaction-branch", "/tmp", telemetry.NewNoopBundle())
	for _, m := range messages {
		mgr.AppendMessage(m)
	}
	chain, err := mgr.GetBranch("")
	require.NoError(t, err)
	return chain
}

func TestEstimateTokensGrowsWithTextLength(t *testing.T) {
	short := model.NewUserText("hi")
	long := model.NewUserText(strings.Repeat("word ", 200))
	assert.Less(t, compaction.EstimateTokens(short), compaction.EstimateTokens(long))
}

func TestEstimateTokensNeverZero(t *testing.T) {
	empty := model.NewUserText("")
	assert.GreaterOrEqual(t, compaction.EstimateTokens(empty), 1)
}

func TestPrepareCompactionDisabledReturnsNil(t *testing.T) {
	branch := buildBranch(t, model.NewUserText(strings.Repeat("x", 10000)))
	prep, err := compaction.PrepareCompaction(branch, compaction.Settings{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, prep)
}

func TestPrepareCompactionNothingToDoWhenUnderBudget(t *testing.T) {
	branch := buildBranch(t, model.NewUserText("short"))
	prep, err := compaction.PrepareCompaction(branch, compaction.Settings{Enabled: true, KeepRecentTokens: 10000})
	require.NoError(t, err)
	assert.Nil(t, prep)
}

func TestPrepareCompactionSummarizesOldestTurnsFirst(t *testing.T) {
	oldest := model.NewUserText(strings.Repeat("old ", 500))
	newest := model.NewUserText(strings.Repeat("new ", 10))
	branch := buildBranch(t, oldest, newest)

	prep, err := compaction.PrepareCompaction(branch, compaction.Settings{Enabled: true, KeepRecentTokens: compaction.EstimateTokens(newest) + 1})
	require.NoError(t, err)
	require.NotNil(t, prep)
	require.Len(t, prep.MessagesToSummarize, 1)
	assert.Equal(t, oldest.Text(), prep.MessagesToSummarize[0].Text())
}

func TestPrepareCompactionAlwaysKeepsAtLeastTheLastUnit(t *testing.T) {
	huge := model.NewUserText(strings.Repeat("z", 100000))
	branch := buildBranch(t, huge)

	prep, err := compaction.PrepareCompaction(branch, compaction.Settings{Enabled: true, KeepRecentTokens: 1})
	require.NoError(t, err)
	require.NotNil(t, prep)
	assert.True(t, prep.IsSplitTurn)
	assert.NotEmpty(t, prep.TurnPrefixMessages)
}

func TestApplyAppendsCompactionEntryAndRunsHooks(t *testing.T) {
	mgr := session.New("apply-test", "/tmp", telemetry.NewNoopBundle())
	first := mgr.AppendMessage(model.NewUserText("one"))
	mgr.AppendMessage(model.NewUserText("two"))

	prep := &compaction.Preparation{FirstKeptEntryID: first, TokensBefore: 42}

	var afterCalled bool
	id, err := compaction.Apply(context.Background(), mgr, prep,
		func(ctx context.Context, p *compaction.Preparation) (string, error) { return "summary text", nil },
		nil,
		func(ctx context.Context, ev compaction.CompactEvent) { afterCalled = true },
	)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, afterCalled)

	chain, err := mgr.GetBranch("")
	require.NoError(t, err)
	last := chain[len(chain)-1]
	assert.Equal(t, session.EntryCompaction, last.Type)
	assert.Equal(t, "summary text", last.Summary)
}

func TestApplyBeforeHookCancels(t *testing.T) {
	mgr := session.New("apply-cancel-test", "/tmp", telemetry.NewNoopBundle())
	mgr.AppendMessage(model.NewUserText("one"))
	prep := &compaction.Preparation{}

	id, err := compaction.Apply(context.Background(), mgr, prep, nil,
		func(ctx context.Context, ev compaction.BeforeCompactEvent) (compaction.BeforeCompactResult, error) {
			return compaction.BeforeCompactResult{Cancel: true}, nil
		}, nil)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestApplyBeforeHookSuppliesSummary(t *testing.T) {
	mgr := session.New("apply-hook-summary-test", "/tmp", telemetry.NewNoopBundle())
	mgr.AppendMessage(model.NewUserText("one"))
	prep := &compaction.Preparation{}

	summarizeCalled := false
	id, err := compaction.Apply(context.Background(), mgr, prep,
		func(ctx context.Context, p *compaction.Preparation) (string, error) {
			summarizeCalled = true
			return "should not be used", nil
		},
		func(ctx context.Context, ev compaction.BeforeCompactEvent) (compaction.BeforeCompactResult, error) {
			return compaction.BeforeCompactResult{HasSummary: true, SummaryText: "hook-provided summary"}, nil
		}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, summarizeCalled)

	chain, _ := mgr.GetBranch("")
	assert.Equal(t, "hook-provided summary", chain[len(chain)-1].Summary)
}

func TestApplyNilPreparationErrors(t *testing.T) {
	mgr := session.New("apply-nil-test", "/tmp", telemetry.NewNoopBundle())
	_, err := compaction.Apply(context.Background(), mgr, nil, nil, nil, nil)
	assert.Error(t, err)
}
