package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "notiq/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.snapshot.json (periodic snapshot)
//   - <prefix>.jobs.journal.jsonl (append-only journal)
//
// Every mutation is appended to the journal and fsynced before the call
// returns; the journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalPath  string
	journalFile  *os.File

	jobs map[string]fileEntry
	next uint64

	writes int
}

type fileEntry struct {
	Seq uint64    `json:"seq"`
	Rec jobRecord `json:"rec"`
}

type journalLine struct {
	Op  string     `json:"op"` // "put" or "del"
	ID  string     `json:"id"`
	Seq uint64     `json:"seq,omitempty"`
	Rec *jobRecord `json:"rec,omitempty"`
}

const compactEvery = 128

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".jobs.snapshot.json",
		journalPath:  prefix + ".jobs.journal.jsonl",
		jobs:         map[string]fileEntry{},
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := s.replayJournal(); err != nil {
		return nil, err
	}
	for _, e := range s.jobs {
		if e.Seq > s.next {
			s.next = e.Seq
		}
	}

	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	m := map[string]fileEntry{}
	if err := json.Unmarshal(b, &m); err != nil {
		// A corrupt snapshot is not fatal as long as the journal replays;
		// start from an empty map and let compaction rewrite it.
		s.log.Warn("job snapshot unreadable; relying on journal", logx.Err(err))
		return nil
	}
	s.jobs = m
	return nil
}

func (s *fileStore) replayJournal() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var jl journalLine
		if err := json.Unmarshal([]byte(line), &jl); err != nil {
			// Tail corruption from a crash mid-append: stop replaying here.
			s.log.Warn("job journal truncated at corrupt line", logx.Err(err))
			break
		}
		switch jl.Op {
		case "put":
			if jl.Rec != nil {
				s.jobs[jl.ID] = fileEntry{Seq: jl.Seq, Rec: *jl.Rec}
			}
		case "del":
			delete(s.jobs, jl.ID)
		}
	}
	return sc.Err()
}

func (s *fileStore) appendLocked(jl journalLine) error {
	b, err := json.Marshal(jl)
	if err != nil {
		return err
	}
	if _, err := s.journalFile.Write(append(b, '\n')); err != nil {
		return err
	}
	// Durability contract: the write must be committed before the caller is
	// told the job is scheduled.
	if err := s.journalFile.Sync(); err != nil {
		return err
	}

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("job journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked rewrites the snapshot from memory and truncates the journal.
func (s *fileStore) compactLocked() error {
	b, err := json.MarshalIndent(s.jobs, "", " ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}

	if err := s.journalFile.Close(); err != nil {
		return err
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.journalFile = jf
	return nil
}

func (s *fileStore) PutJob(_ context.Context, job Job) error {
	rec, err := encodeJob(job)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.jobs[job.ID].Seq
	if seq == 0 {
		s.next++
		seq = s.next
	}
	if err := s.appendLocked(journalLine{Op: "put", ID: job.ID, Seq: seq, Rec: &rec}); err != nil {
		return err
	}
	s.jobs[job.ID] = fileEntry{Seq: seq, Rec: rec}
	return nil
}

func (s *fileStore) GetJob(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	e, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return Job{}, ErrNotFound
	}
	return decodeJob(e.Rec)
}

func (s *fileStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalLine{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.jobs, id)
	return nil
}

func (s *fileStore) ListOwnerJobs(_ context.Context, ownerID string) ([]Job, error) {
	return s.list(func(rec jobRecord) bool { return rec.OwnerID == ownerID })
}

func (s *fileStore) ListJobs(_ context.Context) ([]Job, error) {
	return s.list(func(jobRecord) bool { return true })
}

func (s *fileStore) list(keep func(jobRecord) bool) ([]Job, error) {
	s.mu.Lock()
	entries := make([]fileEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if keep(e.Rec) {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		j, err := decodeJob(e.Rec)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Best-effort final compaction keeps restart replay short.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("final compaction failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}
