package builder

import "sync"

// onceLatch resolves the race between {IPC message, child exit,
// watchdog fire, spawn error}: whichever of them fires first is
// authoritative, and every later firer is suppressed (spec.md §4.3
// step 6).
type onceLatch struct {
	mu     sync.Mutex
	fired  bool
	result outcome
}

type outcome struct {
	msgInternal string
	msgPublic   string
}

// fire records o as the authoritative outcome if nothing has fired
// yet, and reports whether it won the race.
func (l *onceLatch) fire(o outcome) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return false
	}
	l.fired = true
	l.result = o
	return true
}
