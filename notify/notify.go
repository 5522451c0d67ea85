// Package notify publishes unit outcome events to downstream consumers.
package notify

import (
	"context"
	"time"
)

// EventType is the kind of outcome being announced.
type EventType string

const (
	EventUnitCompleted EventType = "unit.completed"
	EventUnitRetried   EventType = "unit.retried"
	EventUnitFailed    EventType = "unit.failed"
	EventRunFinished   EventType = "run.finished"
)

// Event describes something that happened to a unit or to the run.
type Event struct {
	Type     EventType `json:"type"`
	Job      string    `json:"job"`
	RunID    string    `json:"run_id,omitempty"`
	Source   string    `json:"source,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Target   string    `json:"target,omitempty"`
	Handle   string    `json:"handle,omitempty"`
	Attempts int       `json:"attempts,omitempty"`

	Created          int64 `json:"created"`
	Updated          int64 `json:"updated"`
	Deleted          int64 `json:"deleted"`
	VersionConflicts int64 `json:"version_conflicts"`
	Total            int64 `json:"total"`

	RunningTimeMS int64     `json:"running_time_ms,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

// Key returns the partitioning key of the event.
func (e Event) Key() string {
	if e.Target != "" {
		return e.Target
	}
	return e.Job
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nop struct{}

// Nop returns a Publisher that drops every event.
func Nop() Publisher {
	return nop{}
}

func (nop) Publish(context.Context, Event) error { return nil }
func (nop) Close() error                         { return nil }
