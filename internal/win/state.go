package win

import "fmt"

// PersistState tracks one optimistic append through reconciliation.
//
//	Optimistic -> Submitted -> Reconciled
//	                        -> Failed
type PersistState int

const (
	// StateOptimistic: visible in the view, no I/O started yet.
	StateOptimistic PersistState = iota + 1
	// StateSubmitted: durable insert in flight.
	StateSubmitted
	// StateReconciled: replaced in place by the durable record.
	StateReconciled
	// StateFailed: durable insert failed; entry stays visible, flagged.
	StateFailed
)

var stateNames = map[PersistState]string{
	StateOptimistic: "optimistic",
	StateSubmitted:  "submitted",
	StateReconciled: "reconciled",
	StateFailed:     "failed",
}

func (s PersistState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PersistState(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s PersistState) Terminal() bool {
	return s == StateReconciled || s == StateFailed
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to PersistState) bool {
	switch from {
	case StateOptimistic:
		return to == StateSubmitted
	case StateSubmitted:
		return to == StateReconciled || to == StateFailed
	default:
		return false
	}
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	TempID string
	From   PersistState
	To     PersistState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s (temp_id=%s)", e.From, e.To, e.TempID)
}

// MarshalText renders the state by name in JSON and YAML output.
func (s PersistState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
