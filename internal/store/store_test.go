package store

import (
	"strings"
	"testing"
	"time"

	"github.com/orcaops/orcaops/internal/models"
)

func TestPutGet_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	record := &models.RunRecord{
		JobID:     "j1",
		Status:    models.JobSuccess,
		ImageRef:  "alpine:latest",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Steps: []models.StepResult{
			{Command: "echo hi", ExitCode: 0, Stdout: "hi\n"},
		},
	}

	if err := s.Put(record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("j1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected record, got nil")
	}
	if got.JobID != record.JobID || got.Status != record.Status || len(got.Steps) != 1 {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, record)
	}
}

func TestGet_AbsentReturnsNilNoError(t *testing.T) {
	s := New(t.TempDir())
	got, err := s.Get("does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for absent record, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent record, got %+v", got)
	}
}

func TestListArtifacts_ExcludesRunJSONAndSteps(t *testing.T) {
	s := New(t.TempDir())
	record := &models.RunRecord{JobID: "j1", CreatedAt: time.Now()}
	if err := s.Put(record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, _, err := s.PutArtifact("j1", "output.tar.gz", strings.NewReader("data")); err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	names, err := s.ListArtifacts("j1")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(names) != 1 || names[0] != "output.tar.gz" {
		t.Fatalf("expected only output.tar.gz, got %+v", names)
	}
}

func TestPutArtifact_ComputesSizeAndSHA256(t *testing.T) {
	s := New(t.TempDir())
	size, sum, err := s.PutArtifact("j1", "file.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	if size != int64(len("hello world")) {
		t.Fatalf("expected size %d, got %d", len("hello world"), size)
	}
	if sum == "" {
		t.Fatalf("expected non-empty sha256")
	}
}

func TestList_FilterByStatusAndPagination(t *testing.T) {
	s := New(t.TempDir())
	now := time.Now().UTC()
	for i, status := range []models.JobStatus{models.JobSuccess, models.JobFailed, models.JobSuccess} {
		record := &models.RunRecord{
			JobID:     []string{"j1", "j2", "j3"}[i],
			Status:    status,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.Put(record); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	results, err := s.List(Filter{Status: models.JobSuccess}, Page{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 SUCCESS records, got %d", len(results))
	}

	paged, err := s.List(Filter{}, Page{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("expected 1 record with Limit=1, got %d", len(paged))
	}
}

func TestCleanup_RemovesOldRecords(t *testing.T) {
	s := New(t.TempDir())
	old := &models.RunRecord{JobID: "old", CreatedAt: time.Now().AddDate(0, 0, -10)}
	fresh := &models.RunRecord{JobID: "fresh", CreatedAt: time.Now()}
	if err := s.Put(old); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(fresh); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	removed, err := s.Cleanup(5)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("expected only 'old' removed, got %+v", removed)
	}

	if got, _ := s.Get("fresh"); got == nil {
		t.Fatalf("expected fresh record to survive cleanup")
	}
}
