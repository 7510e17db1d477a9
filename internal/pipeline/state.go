package pipeline

import "fmt"

// State is the in-run position of a job. Only Completed and Failed are
// persisted (as job status); the rest are logged.
type State string

const (
	StateCreated      State = "Created"
	StateConverting   State = "Converting"
	StateDenoising    State = "Denoising"
	StateTranscribing State = "Transcribing"
	StateExtracting   State = "Extracting"
	StatePersisting   State = "Persisting"
	StateCleanup      State = "Cleanup"
	StateCompleted    State = "Completed"
	StateFailed       State = "Failed"
)

// Document jobs enter at Transcribing, where the text is read from disk.
var transitions = map[State][]State{
	StateCreated:      {StateConverting, StateTranscribing},
	StateConverting:   {StateDenoising},
	StateDenoising:    {StateTranscribing},
	StateTranscribing: {StateExtracting},
	StateExtracting:   {StatePersisting},
	StatePersisting:   {StateCleanup},
	StateCleanup:      {StateCompleted},
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether to may follow from. Failed is reachable from
// every non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type transitionError struct {
	from, to State
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid pipeline transition %s -> %s", e.from, e.to)
}
