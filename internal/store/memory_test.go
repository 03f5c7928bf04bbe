package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"notiq/internal/trigger"
)

func testJob(t *testing.T, id, owner string) Job {
	t.Helper()
	trig, err := trigger.NewInterval(time.Minute, false)
	if err != nil {
		t.Fatalf("NewInterval error: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return Job{
		ID:           id,
		OwnerID:      owner,
		Trigger:      trig,
		Payload:      map[string]any{"title": "hello " + id},
		NextFireTime: now.Add(time.Minute),
		CreatedAt:    now,
	}
}

func TestMemoryPutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	job := testJob(t, "a", "owner-1")
	if err := st.PutJob(ctx, job); err != nil {
		t.Fatalf("PutJob error: %v", err)
	}

	got, err := st.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if got.OwnerID != "owner-1" || !got.NextFireTime.Equal(job.NextFireTime) {
		t.Fatalf("GetJob = %+v, want %+v", got, job)
	}

	if err := st.DeleteJob(ctx, "a"); err != nil {
		t.Fatalf("DeleteJob error: %v", err)
	}
	if _, err := st.GetJob(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetJob after delete: err = %v, want ErrNotFound", err)
	}
	// Deleting again stays a no-op.
	if err := st.DeleteJob(ctx, "a"); err != nil {
		t.Fatalf("second DeleteJob error: %v", err)
	}
}

func TestMemoryListInsertionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	for _, id := range []string{"c", "a", "b"} {
		if err := st.PutJob(ctx, testJob(t, id, "owner-1")); err != nil {
			t.Fatalf("PutJob(%s) error: %v", id, err)
		}
	}
	// Updating an existing job must not move it in the ordering.
	upd := testJob(t, "c", "owner-1")
	upd.NextFireTime = upd.NextFireTime.Add(time.Hour)
	if err := st.PutJob(ctx, upd); err != nil {
		t.Fatalf("update PutJob error: %v", err)
	}

	jobs, err := st.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	gotIDs := make([]string, len(jobs))
	for i, j := range jobs {
		gotIDs[i] = j.ID
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("order = %v, want %v", gotIDs, want)
		}
	}
}

func TestMemoryListOwnerJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	_ = st.PutJob(ctx, testJob(t, "a1", "alice"))
	_ = st.PutJob(ctx, testJob(t, "b1", "bob"))
	_ = st.PutJob(ctx, testJob(t, "a2", "alice"))

	jobs, err := st.ListOwnerJobs(ctx, "alice")
	if err != nil {
		t.Fatalf("ListOwnerJobs error: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "a1" || jobs[1].ID != "a2" {
		t.Fatalf("alice jobs = %v, want [a1 a2]", jobs)
	}
	if jobs, _ := st.ListOwnerJobs(ctx, "nobody"); len(jobs) != 0 {
		t.Fatalf("unknown owner jobs = %v, want none", jobs)
	}
}

func TestMemoryCloneIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemory()

	job := testJob(t, "a", "owner-1")
	_ = st.PutJob(ctx, job)

	// Mutating the caller's map after Put must not leak into the store.
	job.Payload["title"] = "mutated"

	got, _ := st.GetJob(ctx, "a")
	if got.Payload["title"] != "hello a" {
		t.Fatalf("payload leaked caller mutation: %v", got.Payload)
	}

	// Mutating a returned copy must not affect the stored job either.
	got.Payload["title"] = "also mutated"
	again, _ := st.GetJob(ctx, "a")
	if again.Payload["title"] != "hello a" {
		t.Fatalf("payload leaked reader mutation: %v", again.Payload)
	}
}
