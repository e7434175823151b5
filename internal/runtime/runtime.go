// Package runtime defines RuntimeDriver: the abstract container runtime
// contract JobRunner drives (spec §6). Concrete drivers (Docker here)
// implement it; a FakeDriver backs unit and scenario tests without a
// real daemon.
package runtime

import (
	"context"
	"time"

	"github.com/orcaops/orcaops/internal/models"
)

// ExecResult is the outcome of one in-container command execution.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Stats is a point-in-time resource usage snapshot for a sandbox.
type Stats struct {
	CPUPercent float64
	MemoryBytes int64
}

// Driver is the abstract container runtime contract: pull, create, exec,
// copy-out, remove, stats. JobRunner depends only on this interface, so
// Docker/containerd/Kubernetes backends are interchangeable.
type Driver interface {
	// Pull ensures image is present locally, pulling it if necessary.
	Pull(ctx context.Context, image string) error

	// Create provisions (but does not start) a sandbox and returns its ID.
	Create(ctx context.Context, image string, env map[string]string, workdir string, resources models.Resources, securityOpts []string) (sandboxID string, err error)

	// Start starts a created sandbox.
	Start(ctx context.Context, sandboxID string) error

	// Exec runs command inside the sandbox, blocking up to timeout
	// (0 = no timeout) and returning its captured result.
	Exec(ctx context.Context, sandboxID string, command []string, timeout time.Duration) (ExecResult, error)

	// CopyOut returns the contents of the file at path in the sandbox.
	// Only a single regular file is returned; for a directory path the
	// Docker driver returns the first regular file in its archive.
	CopyOut(ctx context.Context, sandboxID, path string) ([]byte, error)

	// Remove tears down the sandbox. force=true kills it if still running.
	Remove(ctx context.Context, sandboxID string, force bool) error

	// Stats returns a resource usage snapshot for a running sandbox.
	Stats(ctx context.Context, sandboxID string) (Stats, error)
}
