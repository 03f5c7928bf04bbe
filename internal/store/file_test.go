package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notiq/internal/trigger"
	logx "notiq/pkg/logx"
)

func openTestFileStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	return st
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestFileStore(t, dir)

	interval, _ := trigger.NewInterval(90*time.Second, true)
	cal, err := trigger.NewCalendar("30 9 * * 1", true)
	if err != nil {
		t.Fatalf("NewCalendar error: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	jobs := []Job{
		{ID: "int-1", OwnerID: "alice", Trigger: interval,
			Payload: map[string]any{"title": "water plants"}, NextFireTime: now.Add(90 * time.Second), CreatedAt: now},
		{ID: "cal-1", OwnerID: "bob", Trigger: cal,
			NextFireTime: now.Add(time.Hour), CreatedAt: now},
	}
	for _, j := range jobs {
		if err := st.PutJob(ctx, j); err != nil {
			t.Fatalf("PutJob(%s) error: %v", j.ID, err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st = openTestFileStore(t, dir)
	defer st.Close()

	got, err := st.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "int-1" || got[1].ID != "cal-1" {
		t.Fatalf("restored jobs = %v, want [int-1 cal-1] in insertion order", got)
	}

	ij := got[0]
	if ij.Trigger.Kind() != trigger.KindInterval || !ij.Trigger.Repeats() {
		t.Fatalf("interval trigger lost shape: kind=%v repeats=%v", ij.Trigger.Kind(), ij.Trigger.Repeats())
	}
	if !ij.NextFireTime.Equal(now.Add(90 * time.Second)) {
		t.Fatalf("NextFireTime = %v, want %v", ij.NextFireTime, now.Add(90*time.Second))
	}
	if ij.Payload["title"] != "water plants" {
		t.Fatalf("payload = %v, want title preserved", ij.Payload)
	}

	cj := got[1]
	if cj.Trigger.Kind() != trigger.KindCalendar {
		t.Fatalf("calendar trigger kind = %v", cj.Trigger.Kind())
	}
	next, ok := cj.Trigger.NextFireTime(now)
	if !ok {
		t.Fatal("restored calendar trigger reported no occurrence")
	}
	want := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) // next Monday
	if !next.Equal(want) {
		t.Fatalf("restored calendar next = %v, want %v", next, want)
	}
}

func TestFileStoreDeletePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestFileStore(t, dir)
	_ = st.PutJob(ctx, testJob(t, "a", "alice"))
	_ = st.PutJob(ctx, testJob(t, "b", "alice"))
	if err := st.DeleteJob(ctx, "a"); err != nil {
		t.Fatalf("DeleteJob error: %v", err)
	}
	_ = st.Close()

	st = openTestFileStore(t, dir)
	defer st.Close()
	if _, err := st.GetJob(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted job resurrected: err = %v", err)
	}
	if _, err := st.GetJob(ctx, "b"); err != nil {
		t.Fatalf("surviving job lost: %v", err)
	}
}

func TestFileStoreUpdateWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestFileStore(t, dir)
	job := testJob(t, "a", "alice")
	_ = st.PutJob(ctx, job)
	job.NextFireTime = job.NextFireTime.Add(time.Hour)
	_ = st.PutJob(ctx, job)
	_ = st.Close()

	st = openTestFileStore(t, dir)
	defer st.Close()
	got, err := st.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if !got.NextFireTime.Equal(job.NextFireTime) {
		t.Fatalf("NextFireTime = %v, want updated %v", got.NextFireTime, job.NextFireTime)
	}
}

func TestFileStoreCorruptJournalTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestFileStore(t, dir)
	_ = st.PutJob(ctx, testJob(t, "a", "alice"))
	_ = st.Close()

	// Simulate a torn write at the journal tail.
	journal := filepath.Join(dir, "jobs.jobs.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := f.WriteString(`{"op":"put","id":"torn`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	_ = f.Close()

	st = openTestFileStore(t, dir)
	defer st.Close()
	if _, err := st.GetJob(ctx, "a"); err != nil {
		t.Fatalf("intact entry lost after torn tail: %v", err)
	}
}
