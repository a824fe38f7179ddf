// Package ratelimit wraps a provider.StreamFn with a per-adapter outbound
// token-bucket limiter, so a burst of steering messages or rapid retries
// cannot hammer a vendor API (SPEC_FULL.md §B). Grounded on the teacher's
// AdaptiveRateLimiter (goadesign-goa-ai/features/model/middleware/
// ratelimit.go): same golang.org/x/time/rate token-bucket core and the same
// AIMD backoff/probe shape, trimmed of the Pulse cluster-map coordination
// that package adds (this module has no multi-process cluster concept to
// coordinate across — see DESIGN.md).
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/conversant-ai/agentcore/model"
	"github.com/conversant-ai/agentcore/provider"
)

// Limiter applies an AIMD-adjusted tokens-per-minute budget in front of a
// provider.StreamFn.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs a Limiter with an initial and maximum tokens-per-minute
// budget. A non-positive initialTPM defaults to a conservative 60000 TPM,
// matching the teacher's fallback.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a provider.StreamFn that waits for the estimated token cost
// of context before delegating to next, then adjusts the budget based on
// whether next returned an error.
func (l *Limiter) Wrap(next provider.StreamFn) provider.StreamFn {
	return func(modelID string, messages []model.Message, emit func(provider.Event)) error {
		if err := l.limiter.WaitN(context.Background(), estimateTokens(messages)); err != nil {
			return err
		}
		err := next(modelID, messages, emit)
		l.observe(err)
		return err
	}
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	l.backoff()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPMLocked(newTPM)
}

func (l *Limiter) setTPMLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is the same char-count-over-fixed-ratio heuristic used by
// compaction.EstimateTokens, applied across the full outbound context
// rather than one message, plus a fixed overhead buffer for provider
// framing (mirrors the teacher's estimateTokens).
func estimateTokens(messages []model.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Text())
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
