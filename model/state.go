package model

import "time"

// SimulationState is the run state of the simulation.
type SimulationState int

const (
	Stopped SimulationState = iota
	Running
	Paused
)

func (s SimulationState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Notification status codes published by the engine.
const (
	CodeStopped int32 = 0
	CodeRunning int32 = 1
	CodePaused  int32 = 2
)

// StateFromCode interprets a notification status code. Only CodeRunning maps
// to Running; every other code is reported as Stopped.
func StateFromCode(code int32) SimulationState {
	if code == CodeRunning {
		return Running
	}
	return Stopped
}

// CodeFor returns the status code the engine publishes for s.
func CodeFor(s SimulationState) int32 {
	switch s {
	case Running:
		return CodeRunning
	case Paused:
		return CodePaused
	default:
		return CodeStopped
	}
}

// InfoNotification is one message from the engine's simulator info stream.
type InfoNotification struct {
	// Seq orders notifications by arrival, starting at 1. Zero means unordered.
	Seq            uint64
	Code           int32
	SimulationTime time.Duration
	ReceivedAt     time.Time
}
