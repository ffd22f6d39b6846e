package engine

import "sync"

// guardSet enforces at most one in-flight sync run per account. A second
// trigger while a run is active is a no-op, never a queued retry: a queued
// run against a possibly stale in-memory view is a correctness hazard.
type guardSet struct {
	mu     sync.Mutex
	active map[string]bool
}

func newGuardSet() *guardSet {
	return &guardSet{active: make(map[string]bool)}
}

// tryAcquire returns false when a run is already active for the account.
func (g *guardSet) tryAcquire(account string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[account] {
		return false
	}

	g.active[account] = true

	return true
}

// release must run on every exit path, including errors and panics.
func (g *guardSet) release(account string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.active, account)
}
