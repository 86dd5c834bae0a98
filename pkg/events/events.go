// Package events provides a copy-on-write subscriber list. Firing never
// holds a lock; subscribers added or removed during a fire take effect
// from the next one.
package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

type entry[E any] struct {
	fn func(E)
}

// List is a set of handlers for events of type E. The zero value is ready
// to use.
type List[E any] struct {
	mu       sync.Mutex
	handlers atomic.Pointer[[]*entry[E]]
}

// Subscription is the handle returned by Add.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Remove unsubscribes the handler. It is safe to call more than once.
func (s *Subscription) Remove() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

// Add registers fn and returns its handle.
func (l *List[E]) Add(fn func(E)) *Subscription {
	e := &entry[E]{fn: fn}

	l.mu.Lock()
	cur := l.snapshot()
	next := make([]*entry[E], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, e)
	l.handlers.Store(&next)
	l.mu.Unlock()

	return &Subscription{remove: func() { l.remove(e) }}
}

func (l *List[E]) remove(e *entry[E]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.snapshot()
	next := make([]*entry[E], 0, len(cur))
	for _, h := range cur {
		if h != e {
			next = append(next, h)
		}
	}
	l.handlers.Store(&next)
}

func (l *List[E]) snapshot() []*entry[E] {
	if p := l.handlers.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the number of registered handlers.
func (l *List[E]) Len() int { return len(l.snapshot()) }

// Fire calls every handler registered at the time of the call with ev. A
// panicking handler does not stop the others; its panic is passed to fault
// as a *PanicError. A nil fault drops it.
func (l *List[E]) Fire(ev E, fault func(error)) {
	for _, h := range l.snapshot() {
		if err := call(h.fn, ev); err != nil && fault != nil {
			call(fault, err)
		}
	}
}

func call[E any](fn func(E), ev E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn(ev)
	return nil
}
