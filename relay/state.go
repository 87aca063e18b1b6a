package relay

// State is a step of the upload state machine:
//
//	Idle -> MetadataFetched -> SessionStarted -> Transferring (self loop) -> Finished
//
// Aborted is reachable from every non-terminal state.
type State int

const (
	StateIdle State = iota
	StateMetadataFetched
	StateSessionStarted
	StateTransferring
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMetadataFetched:
		return "metadata-fetched"
	case StateSessionStarted:
		return "session-started"
	case StateTransferring:
		return "transferring"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateAborted
}

// canTransition lists the legal edges of the machine.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateAborted {
		return true
	}

	switch from {
	case StateIdle:
		return to == StateMetadataFetched
	case StateMetadataFetched:
		return to == StateSessionStarted
	case StateSessionStarted:
		return to == StateTransferring
	case StateTransferring:
		return to == StateTransferring || to == StateFinished
	}
	return false
}
