package bridge

import "fmt"

type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateListening
	StateSending
	StateStopping
	StateStopped
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateInitializing: "initializing",
	StateListening:    "listening",
	StateSending:      "sending",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Serving reports whether the bridge is moving messages.
func (s State) Serving() bool {
	return s == StateListening || s == StateSending
}
