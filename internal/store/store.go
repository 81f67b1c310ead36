// Package store is the Job Store of SPEC_FULL §4.2: an in-memory
// mapping from jobId to job record, durably mirrored to a single JSON
// file on every transition via write-temp-then-rename.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/queuectl/jobrunner/internal/job"
)

// Store owns the authoritative in-memory job map and mirrors it to
// disk. Persistence is best-effort: write failures are logged and
// never propagated to callers, matching spec.md §4.2/§7.
type Store struct {
	mu     sync.Mutex
	path   string
	jobs   map[string]*job.Record
	logger *zap.Logger

	lastPersistErr error
}

// New opens path (creating its parent directory if needed) and loads
// any existing job records, recovering interrupted jobs per Load.
func New(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
	}
	s := &Store{path: path, jobs: make(map[string]*job.Record), logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load parses the JSON file if present. Any record found queued or
// running is recovered as failed with code -1, since this process
// never witnessed its completion (spec.md §4.2).
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var records []*job.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("store: parse %s: %w", s.path, err)
	}

	now := time.Now().UTC()
	for _, r := range records {
		if r.JobID == "" {
			continue
		}
		if !r.Status.IsTerminal() {
			s.logger.Warn("recovering interrupted job as failed", zap.String("jobId", r.JobID), zap.String("priorStatus", string(r.Status)))
			r.Status = job.StatusFailed
			code := -1
			r.Code = &code
			r.EndedAt = &now
			if r.StartedAt != nil {
				d := now.Sub(*r.StartedAt).Milliseconds()
				r.DurationMs = &d
			}
		}
		s.jobs[r.JobID] = r
	}
	return nil
}

// Insert adds a newly created job record and persists the store.
func (s *Store) Insert(rec *job.Record) {
	s.mu.Lock()
	s.jobs[rec.JobID] = rec
	s.mu.Unlock()
	s.persist()
}

// Update replaces the record for rec.JobID (which must already
// exist) and persists the store.
func (s *Store) Update(rec *job.Record) {
	s.mu.Lock()
	s.jobs[rec.JobID] = rec
	s.mu.Unlock()
	s.persist()
}

// Get returns a defensive copy of the job record for id.
func (s *Store) Get(id string) (*job.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// LastPersistError reports the most recent write failure, if any. It
// backs the health manager's job-store check (SPEC_FULL §7).
func (s *Store) LastPersistError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPersistErr
}

// persist rewrites the whole file via a temp-file-then-rename so
// readers never observe a torn write.
func (s *Store) persist() {
	s.mu.Lock()
	records := make([]*job.Record, 0, len(s.jobs))
	for _, r := range s.jobs {
		records = append(records, r)
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		s.recordPersistErr(err)
		return
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".jobstore-*.tmp")
	if err != nil {
		s.recordPersistErr(err)
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.recordPersistErr(err)
		return
	}
	if err := tmp.Close(); err != nil {
		s.recordPersistErr(err)
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		s.recordPersistErr(err)
		return
	}

	s.mu.Lock()
	s.lastPersistErr = nil
	s.mu.Unlock()
}

func (s *Store) recordPersistErr(err error) {
	s.logger.Error("job store persist failed", zap.Error(err), zap.String("path", s.path))
	s.mu.Lock()
	s.lastPersistErr = err
	s.mu.Unlock()
}
