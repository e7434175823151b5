// Package store implements RunStore: a filesystem-backed, durable record
// of jobs. Each job_id gets its own directory containing run.json (the
// full RunRecord, rewritten on terminal transitions) and any extracted
// artifact files (spec §4.3, §6). Writes within one job_id are serialized
// by the owning worker; RunStore itself is safe for concurrent writers to
// distinct job_id directories.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/orcaops/orcaops/internal/models"
)

const (
	runFile   = "run.json"
	stepsFile = "steps.jsonl"
)

// Filter narrows List results.
type Filter struct {
	Status models.JobStatus // zero value = any status
}

// Page bounds a List call.
type Page struct {
	Limit  int
	Offset int
}

// Store is the filesystem-backed RunStore.
type Store struct {
	root string
	mu   sync.Mutex // guards per-directory creation/rename races
}

// New creates a Store rooted at root (e.g. ~/.orcaops/artifacts).
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// Put persists record, overwriting run.json. Callers are expected to
// respect the append-only-after-terminal invariant themselves (spec §3
// invariant 1); the store does not itself reject a write.
func (s *Store) Put(record *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.jobDir(record.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, runFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, runFile))
}

// Get loads a RunRecord. A missing or corrupt record returns (nil, nil) —
// absent, not an error — so readers tolerate concurrent writers mid-write.
func (s *Store) Get(jobID string) (*models.RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.jobDir(jobID), runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var record models.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		logging.Log.WithError(err).WithField("job_id", jobID).Warn("corrupt run record, treating as absent")
		return nil, nil
	}
	return &record, nil
}

// List returns RunRecords matching filter, newest created_at first,
// paginated by page.
func (s *Store) List(filter Filter, page Page) ([]*models.RunRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*models.RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := s.Get(entry.Name())
		if err != nil || record == nil {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if page.Offset > 0 {
		if page.Offset >= len(records) {
			return nil, nil
		}
		records = records[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(records) {
		records = records[:page.Limit]
	}
	return records, nil
}

// PutArtifact copies data into the job's directory under name, and
// returns its size and sha256 for ArtifactMetadata.
func (s *Store) PutArtifact(jobID, name string, data io.Reader) (size int64, sha256hex string, err error) {
	dir := s.jobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", err
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, h), data)
	if err != nil {
		return 0, "", err
	}
	return written, hex.EncodeToString(h.Sum(nil)), nil
}

// ListArtifacts returns extracted artifact filenames for a job, excluding
// run.json and steps.jsonl.
func (s *Store) ListArtifacts(jobID string) ([]string, error) {
	entries, err := os.ReadDir(s.jobDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == runFile || name == stepsFile || filepath.Ext(name) == ".tmp" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// GetArtifact returns the absolute path to a named artifact, or ("",
// false) if it does not exist.
func (s *Store) GetArtifact(jobID, name string) (string, bool, error) {
	path := filepath.Join(s.jobDir(jobID), name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return path, true, nil
}

// Cleanup removes job directories whose run.json created_at is older than
// olderThanDays, returning the removed job IDs.
func (s *Store) Cleanup(olderThanDays int) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := s.Get(entry.Name())
		if err != nil || record == nil {
			continue
		}
		if record.CreatedAt.Before(cutoff) {
			if err := os.RemoveAll(s.jobDir(entry.Name())); err != nil {
				logging.Log.WithError(err).WithField("job_id", entry.Name()).Warn("failed to clean up run directory")
				continue
			}
			removed = append(removed, entry.Name())
		}
	}
	return removed, nil
}
