package domain

// State is the lifecycle label reported by the hub for a notification. The set
// is open: values outside the known labels are carried through unchanged.
type State string

const (
	StateEnqueued      State = "Enqueued"
	StateProcessing    State = "Processing"
	StateCompleted     State = "Completed"
	StateAbandoned     State = "Abandoned"
	StateNoTargetFound State = "NoTargetFound"
	StateUnknown       State = "Unknown"
)

func (s State) String() string { return string(s) }

func (s State) IsKnown() bool {
	switch s {
	case StateEnqueued, StateProcessing, StateCompleted, StateAbandoned, StateNoTargetFound, StateUnknown:
		return true
	}
	return false
}

// IsTerminal reports whether the hub will not report further progress.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateAbandoned, StateNoTargetFound:
		return true
	}
	return false
}
