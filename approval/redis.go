// Redis-backed distributed allowlist mirror (SPEC_FULL.md §B): off by
// default (Gate's in-memory map is sufficient for a single process), opt-in
// for a fleet of runtime processes behind a load balancer that want
// ApproveSession decisions shared across instances. Grounded on the
// teacher's direct dependency github.com/redis/go-redis/v9; no teacher
// package uses Redis for this job specifically (DESIGN.md), so the wiring
// here is original, built from the go-redis/v9 client surface the teacher
// imports elsewhere for its own caching needs.
package approval

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror is the subset of allowlist behavior a Gate can delegate to a
// shared store instead of (or in addition to) its local map.
type Mirror interface {
	// Contains reports whether key is present in the shared allowlist.
	Contains(ctx context.Context, key string) (bool, error)
	// Add records key in the shared allowlist.
	Add(ctx context.Context, key string) error
}

// RedisMirror implements Mirror against a Redis set, keyed under a fixed
// namespace so multiple Agents' allowlists sharing one Redis instance don't
// collide.
type RedisMirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisMirror constructs a RedisMirror. sessionID namespaces the shared
// set so concurrent Agent sessions sharing one Redis instance don't see
// each other's approvals; ttl, if non-zero, expires the set after a period
// of inactivity so an abandoned session's allowlist doesn't leak forever.
func NewRedisMirror(client *redis.Client, sessionID string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, key: "agentcore:approval:" + sessionID, ttl: ttl}
}

// Contains implements Mirror.
func (m *RedisMirror) Contains(ctx context.Context, key string) (bool, error) {
	return m.client.SIsMember(ctx, m.key, key).Result()
}

// Add implements Mirror.
func (m *RedisMirror) Add(ctx context.Context, key string) error {
	if err := m.client.SAdd(ctx, m.key, key).Err(); err != nil {
		return err
	}
	if m.ttl > 0 {
		return m.client.Expire(ctx, m.key, m.ttl).Err()
	}
	return nil
}

// WithMirror attaches a Mirror to g: Check consults it (in addition to the
// local map) before falling through to the callback, and ApproveSession
// decisions are recorded to it alongside the local map.
func (g *Gate) WithMirror(m Mirror) *Gate {
	g.mu.Lock()
	g.mirror = m
	g.mu.Unlock()
	return g
}
