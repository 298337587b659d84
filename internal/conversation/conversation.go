// Package conversation keeps transient per-admin workflow state.
package conversation

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout is idle timeout of conversation.
const DefaultTimeout = 10 * time.Minute

// Workflow is a name of multi-step conversation.
type Workflow string

// Step is a name of workflow step.
type Step string

// State of conversation.
type State struct {
	Workflow Workflow
	Step     Step
	Fields   map[string]string
	Touched  time.Time
}

// Field returns collected field value.
func (s State) Field(name string) string {
	return s.Fields[name]
}

// Store of conversation states, at most one per user.
type Store struct {
	mux     sync.Mutex
	states  map[int64]*State
	timeout time.Duration
	now     func() time.Time
}

// NewStore creates new Store.
func NewStore(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		states:  map[int64]*State{},
		timeout: timeout,
		now:     time.Now,
	}
}

// WithClock sets time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Start begins workflow, discarding any unfinished one.
func (s *Store) Start(userID int64, w Workflow, step Step) {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.states[userID] = &State{
		Workflow: w,
		Step:     step,
		Fields:   map[string]string{},
		Touched:  s.now(),
	}
}

// Get returns current state of user.
func (s *Store) Get(userID int64) (State, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, ok := s.states[userID]
	if !ok {
		return State{}, false
	}
	if s.now().Sub(st.Touched) >= s.timeout {
		delete(s.states, userID)
		return State{}, false
	}

	out := *st
	out.Fields = make(map[string]string, len(st.Fields))
	for k, v := range st.Fields {
		out.Fields[k] = v
	}
	return out, true
}

// Advance records field value and moves to next step.
//
// Returns false if user has no conversation.
func (s *Store) Advance(userID int64, next Step, field, value string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()

	st, ok := s.states[userID]
	if !ok {
		return false
	}
	if field != "" {
		st.Fields[field] = value
	}
	st.Step = next
	st.Touched = s.now()
	return true
}

// Clear removes state of user.
func (s *Store) Clear(userID int64) {
	s.mux.Lock()
	defer s.mux.Unlock()

	delete(s.states, userID)
}

// Sweep removes expired states and returns count of removed.
func (s *Store) Sweep() int {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now()
	var n int
	for id, st := range s.states {
		if now.Sub(st.Touched) >= s.timeout {
			delete(s.states, id)
			n++
		}
	}
	return n
}

// Run sweeps expired states until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}
