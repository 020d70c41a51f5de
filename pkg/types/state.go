package types

// SchedulerState gates whether trigger firings are accepted
type SchedulerState int32

const (
	StateStopped SchedulerState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s SchedulerState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}
