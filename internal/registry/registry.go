// Package registry tracks which tasks are executing and carries their
// cooperative stop flags.
package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyRunning is returned by Acquire when the task already has an active run.
var ErrAlreadyRunning = errors.New("task is already running")

type entry struct {
	aborted bool
}

// Registry maps running task ids to their abort flags. The zero value is not
// usable; call New.
type Registry struct {
	mu      sync.Mutex
	running map[string]*entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{running: make(map[string]*entry)}
}

// Acquire marks taskID as running. The returned release func removes the
// entry and is safe to call more than once; callers defer it right away.
func (r *Registry) Acquire(taskID string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[taskID]; ok {
		return nil, ErrAlreadyRunning
	}
	e := &entry{}
	r.running[taskID] = e

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			// a later Acquire may own the slot now
			if r.running[taskID] == e {
				delete(r.running, taskID)
			}
		})
	}, nil
}

// Abort sets the stop flag for a running task. Returns false if the task is
// not running.
func (r *Registry) Abort(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.running[taskID]
	if !ok {
		return false
	}
	e.aborted = true
	return true
}

// Aborted reports whether a stop was requested for taskID.
func (r *Registry) Aborted(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.running[taskID]
	return ok && e.aborted
}

// Running reports whether taskID has an active run.
func (r *Registry) Running(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.running[taskID]
	return ok
}

// List returns the ids of all running tasks, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
