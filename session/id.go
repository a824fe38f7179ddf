package session

import (
	"crypto/rand"
	"encoding/hex"
)

// maxIDCollisionAttempts bounds the re-roll loop for a fresh entry id before
// falling back to a wider id (spec §4.5.1).
const maxIDCollisionAttempts = 100

// newEntryID generates a fresh 8-hex entry id that does not collide with any
// key in taken. After maxIDCollisionAttempts failed rolls it falls back to a
// 32-hex id, which is astronomically unlikely to collide.
func newEntryID(taken map[string]int) string {
	for i := 0; i < maxIDCollisionAttempts; i++ {
		id := randomHex(4)
		if _, exists := taken[id]; !exists {
			return id
		}
	}
	return randomHex(16)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal for id generation; panic
		// rather than silently hand out a colliding or predictable id.
		panic("session: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
