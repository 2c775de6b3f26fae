package common

import "errors"

// ErrReentrantCall is returned when a guarded section is entered while it is
// already held.
var ErrReentrantCall = errors.New("reentrant call")

// EntryGuard is a single-entry flag protecting mutating ledger entry points
// from re-entry through external collaborators. It is not a lock: the owning
// component must already be driven from a single goroutine.
type EntryGuard struct {
	entered bool
}

// Enter marks the guarded section as held. It returns ErrReentrantCall and a
// no-op release when the section is already held.
func (g *EntryGuard) Enter() (func(), error) {
	if g.entered {
		return func() {}, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}

// Held reports whether a guarded call is in progress.
func (g *EntryGuard) Held() bool {
	return g.entered
}
