package store

import (
	"context"
	"errors"
	"time"

	"notiq/internal/trigger"
)

// ErrNotFound is returned by lookups for ids that no longer exist.
// Cancellation paths treat it as success; the fire path treats it as
// "job was cancelled concurrently" and becomes a no-op.
var ErrNotFound = errors.New("job not found")

// Config configures the job store.
//
// Driver values: "memory", "file", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Job is the persisted unit of scheduling.
//
// Payload is opaque: the core carries it unmodified from the schedule
// request to the delivery and never interprets its contents.
type Job struct {
	ID      string
	OwnerID string
	Trigger trigger.Spec
	Payload map[string]any

	// NextFireTime is recomputed after every fire of a repeating job.
	NextFireTime time.Time
	// CreatedAt is immutable after creation.
	CreatedAt time.Time
}

// Clone returns a copy with its own payload map, so callers can hold a
// snapshot without racing later mutation.
func (j Job) Clone() Job {
	cp := j
	cp.Payload = clonePayload(j.Payload)
	return cp
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	m := make(map[string]any, len(p))
	for k, v := range p {
		m[k] = v
	}
	return m
}

// Store is the durable persistence API for jobs.
//
// PutJob must commit before returning: callers report "scheduled" to their
// clients only after PutJob succeeds. DeleteJob is idempotent. ListOwnerJobs
// and ListJobs return jobs in insertion order.
type Store interface {
	PutJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	DeleteJob(ctx context.Context, id string) error
	ListOwnerJobs(ctx context.Context, ownerID string) ([]Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	Close() error
}
