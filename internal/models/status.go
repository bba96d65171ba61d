package models

type Status string

const (
	StatusJoining    Status = "joining"
	StatusJoined     Status = "joined"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var transitions = map[Status][]Status{
	StatusJoining:    {StatusJoined},
	StatusJoined:     {StatusRecording, StatusProcessing},
	StatusRecording:  {StatusProcessing},
	StatusProcessing: {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the session state machine.
// Error is reachable from every non-terminal status.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidPath reports whether the statuses form a legal walk starting at joining.
func ValidPath(path []Status) bool {
	if len(path) == 0 {
		return true
	}
	if path[0] != StatusJoining {
		return false
	}
	for i := 1; i < len(path); i++ {
		if !CanTransition(path[i-1], path[i]) {
			return false
		}
	}
	return true
}
