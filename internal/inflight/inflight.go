// Package inflight tracks, per user, the submissions that are currently being processed so a
// duplicate can be rejected before its info hash is known. Nothing here is persisted; the
// ledger stays the authority on what a user has requested.
package inflight

import (
	"sort"
	"sync"
)

// Scope holds the identifiers a user has in flight. It lives as long as at least one handle
// for the user is held, and is shared by all of them.
type Scope struct {
	mu      sync.Mutex
	pending map[string]struct{}
	refs    int
}

// Add marks id as pending. It returns false if id was already pending.
func (s *Scope) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; ok {
		return false
	}

	s.pending[id] = struct{}{}

	return true
}

// Remove clears id so a later submission of it is not rejected.
func (s *Scope) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, id)
}

// Contains reports whether id is pending.
func (s *Scope) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[id]

	return ok
}

// Pending returns the pending identifiers, sorted.
func (s *Scope) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Registry is the process-wide set of live scopes keyed by user id.
type Registry struct {
	mu     sync.Mutex
	scopes map[string]*Scope
}

func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string]*Scope)}
}

// Acquire returns the user's scope, creating it if needed. The returned release function
// must be called once the caller is done; the scope is discarded when its last holder
// releases it. Calling release more than once has no further effect.
func (r *Registry) Acquire(userID string) (*Scope, func()) {
	r.mu.Lock()

	scope, ok := r.scopes[userID]
	if !ok {
		scope = &Scope{pending: make(map[string]struct{})}
		r.scopes[userID] = scope
	}

	scope.refs++

	r.mu.Unlock()

	var once sync.Once

	return scope, func() {
		once.Do(func() { r.release(userID, scope) })
	}
}

// Do runs fn with the user's scope held. The scope is released on every exit path.
func (r *Registry) Do(userID string, fn func(*Scope) error) error {
	scope, release := r.Acquire(userID)
	defer release()

	return fn(scope)
}

// IsPending reports whether any user has id in flight.
func (r *Registry) IsPending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, scope := range r.scopes {
		if scope.Contains(id) {
			return true
		}
	}

	return false
}

// Len returns the number of users with a live scope.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.scopes)
}

func (r *Registry) release(userID string, scope *Scope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope.refs--
	if scope.refs == 0 && r.scopes[userID] == scope {
		delete(r.scopes, userID)
	}
}
