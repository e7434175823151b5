package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/orcaops/orcaops/internal/models"
)

// WorkflowStore persists WorkflowRecords one file per workflow, at
// <root>/workflows/<workflow_id>.json, distinct from the per-job-directory
// layout RunStore uses for jobs (spec §6).
type WorkflowStore struct {
	root string
}

// NewWorkflowStore creates a WorkflowStore rooted at <root>/workflows.
func NewWorkflowStore(root string) *WorkflowStore {
	return &WorkflowStore{root: filepath.Join(root, "workflows")}
}

func (s *WorkflowStore) path(workflowID string) string {
	return filepath.Join(s.root, workflowID+".json")
}

// Put persists record, overwriting any prior state for its workflow_id.
func (s *WorkflowStore) Put(record *models.WorkflowRecord) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path(record.WorkflowID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(record.WorkflowID))
}

// Get loads a WorkflowRecord. A missing or corrupt record returns (nil, nil).
func (s *WorkflowStore) Get(workflowID string) (*models.WorkflowRecord, error) {
	data, err := os.ReadFile(s.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var record models.WorkflowRecord
	if err := json.Unmarshal(data, &record); err != nil {
		logging.Log.WithError(err).WithField("workflow_id", workflowID).Warn("corrupt workflow record, treating as absent")
		return nil, nil
	}
	return &record, nil
}

// List returns every persisted WorkflowRecord, newest created_at first.
func (s *WorkflowStore) List() ([]*models.WorkflowRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*models.WorkflowRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		workflowID := strings.TrimSuffix(entry.Name(), ".json")
		record, err := s.Get(workflowID)
		if err != nil || record == nil {
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
