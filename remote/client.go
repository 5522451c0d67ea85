// Package remote defines the boundary between the scheduling loop and the cluster
// that executes reindex tasks.
package remote

import (
	"context"
	"time"

	"github.com/getpup/reindex-orchestrator"
)

// Request describes a reindex task to submit.
type Request struct {
	SourceCollection string
	SourceKind       string
	TargetCollection string

	// DateField, when set, restricts the copy to documents with DateField >= Cutoff
	// and orders it by DateField. Otherwise the copy is ordered by id.
	DateField string
	Cutoff    time.Time
}

// NewRequest builds the request for a work item.
func NewRequest(item orchestrator.WorkItem, cutoff time.Time) Request {
	req := Request{
		SourceCollection: item.SourceCollection,
		SourceKind:       item.SourceKind,
		TargetCollection: item.TargetCollection,
		DateField:        item.DateField,
	}
	if item.DateField != "" {
		req.Cutoff = cutoff
	}
	return req
}

// SortField returns the field the remote side must process documents in ascending order of.
func (r Request) SortField() string {
	if r.DateField != "" {
		return r.DateField
	}
	return "id"
}

// Client submits and tracks asynchronous reindex tasks.
// This interface allows for mock implementations in tests.
type Client interface {
	// Submit starts a reindex task and returns its handle without waiting for it to finish.
	// Version conflicts on the target are counted by the task, never fatal.
	Submit(ctx context.Context, req Request) (orchestrator.TaskHandle, error)

	// PollStatus returns the current status of a task.
	// Returns an error wrapping orchestrator.ErrTaskNotFound when the handle is unknown,
	// or orchestrator.ErrThrottled when the cluster is busy.
	PollStatus(ctx context.Context, handle orchestrator.TaskHandle) (orchestrator.TaskStatus, error)

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int64, error)
}
