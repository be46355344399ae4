// Package watchdog aggregates per-segment liveness tokens toward the head.
package watchdog

import (
	"sync"

	"segchain/internal/command"
)

// Aggregator holds the local token and the follower's reported list.
type Aggregator struct {
	mu       sync.Mutex
	behind   int
	local    command.Token
	follower command.WatchdogStatusList
}

// New creates an aggregator for a segment with behind segments after it.
func New(behind int) *Aggregator {
	if behind < 0 {
		behind = 0
	}
	return &Aggregator{behind: behind, follower: make(command.WatchdogStatusList, behind)}
}

// SetLocal updates the local segment token (index 0).
func (a *Aggregator) SetLocal(alive bool) {
	a.mu.Lock()
	a.local = command.TokenOf(alive)
	a.mu.Unlock()
}

// SetFollower stores the follower's list as entries 1..N, truncated or padded
// with down tokens.
func (a *Aggregator) SetFollower(list command.WatchdogStatusList) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.follower {
		if i < len(list) {
			a.follower[i] = list[i]
		} else {
			a.follower[i] = command.TokenDown
		}
	}
}

// ClearFollower marks every segment behind as down.
func (a *Aggregator) ClearFollower() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.follower {
		a.follower[i] = command.TokenDown
	}
}

// Snapshot returns a fresh list of length behind+1.
func (a *Aggregator) Snapshot() command.WatchdogStatusList {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(command.WatchdogStatusList, 0, a.behind+1)
	out = append(out, a.local)
	return append(out, a.follower...)
}

// Len returns the length of every snapshot.
func (a *Aggregator) Len() int { return a.behind + 1 }
