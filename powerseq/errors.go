package powerseq

import (
	"errors"
	"fmt"

	"github.com/Readm/cluster_pm/core"
)

var (
	// ErrNotApplicable means the platform lacks what the sequencer needs.
	// It is an expected outcome; the caller carries on without it.
	ErrNotApplicable = errors.New("powerseq: not applicable on this platform")
	// ErrFaulted is wrapped by every request made after an invariant violation.
	ErrFaulted = errors.New("powerseq: sequencer halted by an earlier invariant violation")
)

// FaultKind classifies a fatal error.
type FaultKind string

const (
	// KindPrecondition is a caller bug such as an out-of-range core.
	KindPrecondition FaultKind = "precondition"
	// KindInvariant means the shared bookkeeping can no longer be trusted.
	KindInvariant FaultKind = "invariant"
)

// FatalError halts the request that raised it. Nothing retries it.
type FatalError struct {
	Kind   FaultKind
	Op     string
	Core   core.CoreID
	Detail string
	Err    error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("powerseq: %s: %s violation on %s: %s", e.Op, e.Kind, e.Core, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// KindOf returns the fault kind of err, or "" if err is not fatal.
func KindOf(err error) FaultKind {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
