package fsm

import (
	"fmt"
	"sync"
)

// TransitionError reports an event that has no transition from the current state.
type TransitionError struct {
	Machine string
	Key     uint
	State   string
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s[%d]: no transition from %s on %s", e.Machine, e.Key, e.State, e.Event)
}

// Engine tracks one state per key and applies transitions from a Spec.
type Engine struct {
	name    string
	initial string
	table   map[string]map[string]string

	mu     sync.RWMutex
	states map[uint]string
}

// NewEngine validates spec and builds its transition table.
func NewEngine(spec *Spec) (*Engine, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		name:    spec.Name,
		initial: spec.initial(),
		table:   make(map[string]map[string]string),
		states:  make(map[uint]string),
	}
	for _, tr := range spec.Transitions {
		for _, from := range tr.From {
			if e.table[from] == nil {
				e.table[from] = make(map[string]string)
			}
			e.table[from][tr.Event] = tr.To
		}
	}
	return e, nil
}

// Current returns the state of key, or the initial state if it was never set.
func (e *Engine) Current(key uint) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.states[key]; ok {
		return st
	}
	return e.initial
}

// Set forces key into state without consulting the table.
func (e *Engine) Set(key uint, state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[key] = state
}

// Apply moves key along event and returns the new state.
func (e *Engine) Apply(key uint, event string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[key]
	if !ok {
		state = e.initial
	}
	next, ok := e.table[state][event]
	if !ok {
		return state, &TransitionError{Machine: e.name, Key: key, State: state, Event: event}
	}
	e.states[key] = next
	return next, nil
}

// Can reports whether event is legal for key's current state.
func (e *Engine) Can(key uint, event string) bool {
	state := e.Current(key)
	_, ok := e.table[state][event]
	return ok
}
