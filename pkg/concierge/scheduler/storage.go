package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileJobStorage persists the job set as one JSON document. The set is
// read once and kept in memory; every change rewrites the file atomically
// (temp file, then rename), so a crash mid-write cannot corrupt it.
type FileJobStorage struct {
	path string

	mu   sync.Mutex
	jobs map[string]*Job // nil until first use
}

// NewFileJobStorage creates the storage, making the parent directory if
// needed.
func NewFileJobStorage(path string) (*FileJobStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &FileJobStorage{path: path}, nil
}

// Save stores or replaces one job and flushes the set to disk.
func (s *FileJobStorage) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.jobs[job.ID] = job
	return s.flushLocked()
}

// Delete removes a job. Deleting an unknown ID is a no-op.
func (s *FileJobStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	return s.flushLocked()
}

// LoadAll returns every persisted job.
func (s *FileJobStorage) LoadAll() ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

// loadLocked reads the file into memory on first use. A missing file means
// an empty set. Caller holds s.mu.
func (s *FileJobStorage) loadLocked() error {
	if s.jobs != nil {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.jobs = make(map[string]*Job)
			return nil
		}
		return fmt.Errorf("reading jobs file: %w", err)
	}

	jobs := make(map[string]*Job)
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parsing jobs file: %w", err)
	}
	s.jobs = jobs
	return nil
}

// flushLocked writes the in-memory set atomically. Caller holds s.mu.
func (s *FileJobStorage) flushLocked() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding jobs: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp jobs file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing jobs: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("setting jobs file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing jobs file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing jobs file: %w", err)
	}
	return nil
}
