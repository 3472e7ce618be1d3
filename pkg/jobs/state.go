// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package jobs

// State is the lifecycle position of one observed job.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// IsActive reports whether s holds the observer's single job slot.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning
}

// CanTransition reports whether the observer may move a job from one state to
// another. States only move forward along Idle -> Starting -> Running -> terminal.
func CanTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateFailed || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateCancelled
	default:
		return false
	}
}
