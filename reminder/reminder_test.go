package reminder_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversant-ai/agentcore/reminder"
)

func TestInjectFiresRunStartOnlyOnce(t *testing.T) {
	eng := reminder.NewEngine(reminder.Config{}, []reminder.Reminder{
		{ID: "welcome", Text: "be safe", Tier: reminder.TierSafety, Attach: reminder.AttachmentRunStart},
	})

	first := eng.Inject(reminder.AttachmentRunStart)
	require.Len(t, first, 1)
	assert.Equal(t, "be safe", first[0].Text)

	second := eng.Inject(reminder.AttachmentRunStart)
	assert.Empty(t, second)
}

func TestInjectRespectsMaxPerRun(t *testing.T) {
	eng := reminder.NewEngine(reminder.Config{}, []reminder.Reminder{
		{ID: "nag", Text: "remember tests", Tier: reminder.TierGuidance, Attach: reminder.AttachmentUserTurn, MaxPerRun: 2},
	})

	first := eng.Inject(reminder.AttachmentUserTurn)
	second := eng.Inject(reminder.AttachmentUserTurn)
	third := eng.Inject(reminder.AttachmentUserTurn)

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	assert.Empty(t, third)
}

func TestInjectRespectsMinTurnsBetween(t *testing.T) {
	eng := reminder.NewEngine(reminder.Config{}, []reminder.Reminder{
		{ID: "cooldown", Text: "cool down", Tier: reminder.TierGuidance, Attach: reminder.AttachmentUserTurn, MinTurnsBetween: 2},
	})

	first := eng.Inject(reminder.AttachmentUserTurn)
	second := eng.Inject(reminder.AttachmentUserTurn)
	third := eng.Inject(reminder.AttachmentUserTurn)

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Len(t, third, 1)
}

func TestInjectBudgetDropsGuidanceBeforeSafety(t *testing.T) {
	safety := "always confirm before deleting anything"
	guidance := strings.Repeat("be concise. ", 20)
	eng := reminder.NewEngine(reminder.Config{MaxReminderChars: len(safety) + 5}, []reminder.Reminder{
		{ID: "guidance", Text: guidance, Tier: reminder.TierGuidance, Attach: reminder.AttachmentUserTurn},
		{ID: "safety", Text: safety, Tier: reminder.TierSafety, Attach: reminder.AttachmentUserTurn},
	})

	msgs := eng.Inject(reminder.AttachmentUserTurn)
	require.Len(t, msgs, 1)
	assert.Equal(t, safety, msgs[0].Text)
}

func TestInjectOnlyFiresEligibleAttachment(t *testing.T) {
	eng := reminder.NewEngine(reminder.Config{}, []reminder.Reminder{
		{ID: "turn-only", Text: "turn reminder", Tier: reminder.TierGuidance, Attach: reminder.AttachmentUserTurn},
	})
	assert.Empty(t, eng.Inject(reminder.AttachmentRunStart))
}
