package capture

// State is the lifecycle state of a backend instance.
type State int32

// Backend states.
const (
	StateUninitialized State = iota
	StateReadyNoSignal
	StateReadySignal
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateReadyNoSignal:
		return "ready_no_signal"
	case StateReadySignal:
		return "ready_signal"
	case StateCapturing:
		return "capturing"
	default:
		return "uninitialized"
	}
}

// Ready reports whether the backend has been initialized.
func (s State) Ready() bool {
	return s != StateUninitialized
}
