package claim

import (
	"fmt"
	"sync"
)

// Guard is the process-local claim de-duplication set, keyed by
// (workspace, issue, task). It only stops one agent from racing itself
// across overlapping polling cycles; it carries no cross-process meaning
// and must never be treated as a distributed lock.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

func guardKey(workspace string, issue, task int) string {
	return fmt.Sprintf("%s|%d|%d", workspace, issue, task)
}

// TryAcquire reserves the key, returning false if it is already held.
func (g *Guard) TryAcquire(workspace string, issue, task int) bool {
	key := guardKey(workspace, issue, task)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

// Release frees the key.
func (g *Guard) Release(workspace string, issue, task int) {
	key := guardKey(workspace, issue, task)
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// Held reports whether the key is currently reserved.
func (g *Guard) Held(workspace string, issue, task int) bool {
	key := guardKey(workspace, issue, task)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}
