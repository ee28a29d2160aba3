package session

// State is the lifecycle phase of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// active reports whether a worker owns the capture.
func (s State) active() bool {
	return s == StateConnecting || s == StateStreaming || s == StateReconnecting
}
