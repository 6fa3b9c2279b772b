// Package fsm holds declarative state-machine descriptions and a small
// table-driven engine that enforces them per key.
package fsm

import "fmt"

// StateSpec describes a single state.
type StateSpec struct {
	Name        string
	Description string
}

// EventSpec describes an input event that may trigger transitions.
type EventSpec struct {
	Name        string
	Description string
}

// TransitionSpec connects states and events.
type TransitionSpec struct {
	From  []string
	Event string
	To    string
}

// Spec contains the declarative description of a state machine.
type Spec struct {
	Name        string
	Initial     string
	States      []StateSpec
	Events      []EventSpec
	Transitions []TransitionSpec
}

// Validate ensures the specification is self-consistent.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("fsm spec is nil")
	}
	if s.Name == "" {
		return fmt.Errorf("fsm spec name is empty")
	}
	states := make(map[string]struct{}, len(s.States))
	for _, st := range s.States {
		if st.Name == "" {
			return fmt.Errorf("%s: state name cannot be empty", s.Name)
		}
		states[st.Name] = struct{}{}
	}
	if len(states) == 0 {
		return fmt.Errorf("%s: no states defined", s.Name)
	}
	events := make(map[string]struct{}, len(s.Events))
	for _, ev := range s.Events {
		if ev.Name == "" {
			return fmt.Errorf("%s: event name cannot be empty", s.Name)
		}
		events[ev.Name] = struct{}{}
	}
	if len(events) == 0 {
		return fmt.Errorf("%s: no events defined", s.Name)
	}
	if _, ok := states[s.initial()]; !ok {
		return fmt.Errorf("%s: initial state %q not declared", s.Name, s.initial())
	}
	if len(s.Transitions) == 0 {
		return fmt.Errorf("%s: no transitions defined", s.Name)
	}
	for i, tr := range s.Transitions {
		if len(tr.From) == 0 {
			return fmt.Errorf("%s: transition #%d has no source states", s.Name, i)
		}
		if _, ok := events[tr.Event]; !ok {
			return fmt.Errorf("%s: transition #%d references undefined event %q", s.Name, i, tr.Event)
		}
		for _, st := range tr.From {
			if _, ok := states[st]; !ok {
				return fmt.Errorf("%s: transition #%d references undefined state %q", s.Name, i, st)
			}
		}
		if _, ok := states[tr.To]; !ok {
			return fmt.Errorf("%s: transition #%d has undefined target state %q", s.Name, i, tr.To)
		}
	}
	return nil
}

func (s *Spec) initial() string {
	if s.Initial == "" && len(s.States) > 0 {
		return s.States[0].Name
	}
	return s.Initial
}
