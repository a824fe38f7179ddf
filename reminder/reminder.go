// Package reminder implements the backstage-guidance injection SPEC_FULL.md
// §C.8 adds: synthesized Custom messages the AgentLoop attaches at run start
// and at each user turn, distinct from the extension-driven hooks
// ExtensionBridge carries. Grounded closely on the teacher's
// runtime/agent/reminder package of the same name and shape, which has no
// original_source analogue — this fills a gap between "hooks" and
// "compaction" spec.md itself never names.
package reminder

import (
	"sync"

	"github.com/conversant-ai/agentcore/model"
)

// Tier controls whether a Reminder can be dropped under budget pressure.
type Tier int

const (
	// TierGuidance reminders are dropped first when MaxReminderChars is
	// exceeded.
	TierGuidance Tier = iota
	// TierSafety reminders are never suppressed.
	TierSafety
)

// Attachment selects when a Reminder is eligible to fire.
type Attachment string

const (
	// AttachmentRunStart fires once, the first time Inject is called for a
	// run.
	AttachmentRunStart Attachment = "run_start"
	// AttachmentUserTurn fires at the start of every turn whose prefix
	// contains a new User message.
	AttachmentUserTurn Attachment = "user_turn"
)

// Reminder is a single piece of backstage guidance the Engine may inject.
type Reminder struct {
	ID      string
	Text    string
	Tier    Tier
	Attach  Attachment
	// MaxPerRun caps how many times this reminder may fire in one run's
	// lifetime; 0 means unlimited.
	MaxPerRun int
	// MinTurnsBetween is the minimum number of turns that must elapse
	// between two firings of this reminder.
	MinTurnsBetween int
}

// Config bounds an Engine's behavior for one run.
type Config struct {
	// MaxReminderChars is the total character budget for reminders injected
	// in a single turn. When it is exceeded, every TierSafety reminder is
	// kept and TierGuidance reminders are added after them, in registration
	// order, while they still fit; the rest are dropped. Zero means unlimited.
	MaxReminderChars int
}

// Engine is a run-scoped reminder scheduler: it de-duplicates and
// rate-limits a fixed set of Reminders across the life of one run.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	reminders  []Reminder
	firedCount map[string]int
	lastTurn   map[string]int
	turn       int
	ranStart   bool
}

// NewEngine constructs an Engine for one run with the given reminder set.
func NewEngine(cfg Config, reminders []Reminder) *Engine {
	return &Engine{
		cfg:        cfg,
		reminders:  reminders,
		firedCount: make(map[string]int),
		lastTurn:   make(map[string]int),
	}
}

// Inject returns the Custom messages to add for the current call,
// consulting attach for which Attachment point this call represents and
// advancing the engine's internal turn counter. Reminders are synthesized
// Custom messages (spec §3) — the default ConvertToLLM never forwards them
// to a provider (spec §4.3), so they are visible only to callers whose
// TransformContext or custom ConvertToLLM chooses to surface them.
func (e *Engine) Inject(attach Attachment) []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turn++
	if attach == AttachmentRunStart {
		if e.ranStart {
			return nil
		}
		e.ranStart = true
	}

	var eligible []Reminder
	for _, r := range e.reminders {
		if r.Attach != attach {
			continue
		}
		if r.MaxPerRun > 0 && e.firedCount[r.ID] >= r.MaxPerRun {
			continue
		}
		if r.MinTurnsBetween > 0 {
			if last, ok := e.lastTurn[r.ID]; ok && e.turn-last < r.MinTurnsBetween {
				continue
			}
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return nil
	}

	eligible = e.applyBudget(eligible)

	msgs := make([]model.Message, 0, len(eligible))
	for _, r := range eligible {
		e.firedCount[r.ID]++
		e.lastTurn[r.ID] = e.turn
		msgs = append(msgs, model.NewCustom("reminder", r.Text))
	}
	return msgs
}

// applyBudget keeps every TierSafety reminder, then adds TierGuidance
// reminders in registration order while each still fits the remaining
// MaxReminderChars budget; guidance that does not fit is dropped. TierSafety
// reminders are never dropped (spec: "TierSafety reminders are never
// suppressed").
func (e *Engine) applyBudget(eligible []Reminder) []Reminder {
	if e.cfg.MaxReminderChars <= 0 {
		return eligible
	}
	total := 0
	for _, r := range eligible {
		total += len(r.Text)
	}
	if total <= e.cfg.MaxReminderChars {
		return eligible
	}

	kept := make([]Reminder, 0, len(eligible))
	dropped := make([]Reminder, 0, len(eligible))
	for _, r := range eligible {
		if r.Tier == TierSafety {
			kept = append(kept, r)
		} else {
			dropped = append(dropped, r)
		}
	}
	budget := e.cfg.MaxReminderChars
	for _, r := range kept {
		budget -= len(r.Text)
	}
	// Guidance reminders are added back in registration order until the
	// remaining budget is exhausted.
	for _, r := range dropped {
		if budget-len(r.Text) < 0 {
			continue
		}
		budget -= len(r.Text)
		kept = append(kept, r)
	}
	return kept
}
