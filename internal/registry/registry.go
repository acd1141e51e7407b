// SPDX-License-Identifier: MIT

// Package registry owns the in-memory box states and their locks.
package registry

import (
	"sort"
	"sync"

	"github.com/cruxlive/cruxd/internal/engine"
)

// Registry holds one state and one lock per box. States are created
// lazily under the global lock; mutations happen under the per-box lock
// only. Locks live for the process lifetime.
type Registry struct {
	mu     sync.Mutex
	states map[int]*engine.State
	locks  map[int]*sync.Mutex
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		states: map[int]*engine.State{},
		locks:  map[int]*sync.Mutex{},
	}
}

// entry returns the state and lock for a box, creating both if needed.
// The global lock is released before the caller enters the per-box
// critical section.
func (r *Registry) entry(boxID int) (*engine.State, *sync.Mutex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[boxID]
	if !ok {
		st = engine.NewState()
		r.states[boxID] = st
	}
	lk, ok := r.locks[boxID]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[boxID] = lk
	}
	return st, lk
}

// WithBox runs fn with the box state under the per-box lock, creating the
// box if it does not exist yet. fn must not retain the state past its
// return.
func (r *Registry) WithBox(boxID int, fn func(s *engine.State) error) error {
	st, lk := r.entry(boxID)
	lk.Lock()
	defer lk.Unlock()
	return fn(st)
}

// Get returns a deep copy of the box state, or false if the box has never
// been touched.
func (r *Registry) Get(boxID int) (*engine.State, bool) {
	r.mu.Lock()
	st, ok := r.states[boxID]
	lk := r.locks[boxID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	lk.Lock()
	defer lk.Unlock()
	return st.Clone(), true
}

// Put installs a state for a box, replacing any existing one. Used by
// startup preload and restore.
func (r *Registry) Put(boxID int, st *engine.State) {
	_, lk := r.entry(boxID)
	lk.Lock()
	defer lk.Unlock()
	r.mu.Lock()
	r.states[boxID] = st
	r.mu.Unlock()
}

// SnapshotAll returns a consistent copy of every box state, taken under
// the global lock.
func (r *Registry) SnapshotAll() map[int]*engine.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]*engine.State, len(r.states))
	for id, st := range r.states {
		out[id] = st.Clone()
	}
	return out
}

// IDs returns the known box ids in ascending order.
func (r *Registry) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Len returns the number of known boxes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
