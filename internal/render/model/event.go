// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"time"
)

// EventKind classifies a job notification.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventStarted  EventKind = "started"
	EventStage    EventKind = "stage"
	EventProgress EventKind = "progress"
	EventTerminal EventKind = "terminal"
)

// Material reports whether the event changes what a durable mirror stores.
// Progress ticks are not material.
func (k EventKind) Material() bool {
	return k != EventProgress
}

// Event is a job snapshot pushed to mirrors. Mirrors are written to, never
// read back by the orchestrator.
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"job"`
	At       time.Time `json:"at"`
}

// Sink receives job events. Implementations must be safe for use from one
// dispatcher goroutine; failures are logged and counted by the caller.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}
