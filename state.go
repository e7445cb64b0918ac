package improv

import "sync"

// A Store holds the device state and the last error.
// Reads take a snapshot; writes are visible to every read that starts
// after the write returns. A Store is owned by a Service; only its
// Dispatcher and Coordinator mutate it.
type Store struct {
	mu    sync.RWMutex
	state State
	err   Error
}

// NewStore returns a Store in StateReady with no error.
func NewStore() *Store {
	return &Store{state: StateReady, err: ErrorNone}
}

// Get returns the current state and error.
func (s *Store) Get() (State, Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.err
}

// State returns the current state.
func (s *Store) State() State {
	st, _ := s.Get()
	return st
}

// SetState sets the state.
func (s *Store) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetError sets the error.
func (s *Store) SetError(e Error) {
	s.mu.Lock()
	s.err = e
	s.mu.Unlock()
}

// Set sets both state and error in one step.
func (s *Store) Set(st State, e Error) {
	s.mu.Lock()
	s.state, s.err = st, e
	s.mu.Unlock()
}

// CompareAndSetState sets the state to new and clears the error if the
// current state is old. It reports whether the swap happened.
func (s *Store) CompareAndSetState(old, new State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != old {
		return false
	}
	s.state, s.err = new, ErrorNone
	return true
}
