package recorder

// State is the recorder's position in the segment lifecycle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateRotating
	StateStoppingGraceful
	StateStoppingFailed
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateRotating:
		return "rotating"
	case StateStoppingGraceful:
		return "stopping"
	case StateStoppingFailed:
		return "stopping_failed"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Active reports whether a job is in progress.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRecording, StateRotating, StateStoppingGraceful, StateStoppingFailed:
		return true
	}
	return false
}
