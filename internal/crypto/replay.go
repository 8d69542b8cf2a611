package crypto

import (
	"sync"
	"time"
)

// ReplayGuard remembers nonces until the call they authenticated expires.
// It is safe for concurrent use.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time // nonce key -> call expiry
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time)}
}

// Seen reports whether key was already used by an unexpired call. A fresh
// key is recorded until expires.
func (g *ReplayGuard) Seen(key string, expires, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.seen[key]; ok && now.Before(until) {
		return true
	}
	g.seen[key] = expires
	return false
}

// Cleanup removes expired entries and returns how many were dropped. Call
// it periodically to bound memory.
func (g *ReplayGuard) Cleanup(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for key, until := range g.seen {
		if !now.Before(until) {
			delete(g.seen, key)
			n++
		}
	}
	return n
}
