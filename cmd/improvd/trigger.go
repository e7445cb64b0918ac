package main

import "sync"

// A trigger is a one-shot shutdown signal. Set may be called any
// number of times from any goroutine.
type trigger struct {
	once sync.Once
	c    chan struct{}
}

func newTrigger() *trigger {
	return &trigger{c: make(chan struct{})}
}

// Set fires the trigger.
func (t *trigger) Set() {
	t.once.Do(func() { close(t.c) })
}

// Done is closed once the trigger has fired.
func (t *trigger) Done() <-chan struct{} { return t.c }

// IsSet reports whether the trigger has fired.
func (t *trigger) IsSet() bool {
	select {
	case <-t.c:
		return true
	default:
		return false
	}
}
