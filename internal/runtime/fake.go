package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orcaops/orcaops/internal/models"
)

// FakeDriver is an in-memory Driver used by unit and scenario tests. It
// runs commands with the host shell rather than a real container, which
// is sufficient to exercise JobRunner's sequencing, fail_fast, timeout,
// and cancellation logic deterministically without a daemon.
type FakeDriver struct {
	mu        sync.Mutex
	sandboxes map[string]*fakeSandbox

	// PullErr, when set, makes Pull fail for every image (used to test
	// the ERROR terminal path on pull failure).
	PullErr error
}

type fakeSandbox struct {
	image   string
	removed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{sandboxes: make(map[string]*fakeSandbox)}
}

func (f *FakeDriver) Pull(ctx context.Context, image string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.PullErr
}

func (f *FakeDriver) Create(ctx context.Context, image string, env map[string]string, workdir string, resources models.Resources, securityOpts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	id := "fake-" + uuid.NewString()
	f.sandboxes[id] = &fakeSandbox{image: image}
	return id, nil
}

func (f *FakeDriver) Start(ctx context.Context, sandboxID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sandboxes[sandboxID]; !ok {
		return fmt.Errorf("sandbox %s not found", sandboxID)
	}
	return nil
}

func (f *FakeDriver) Exec(ctx context.Context, sandboxID string, command []string, timeout time.Duration) (ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	script := ""
	if len(command) > 0 {
		script = command[len(command)-1]
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	duration := time.Since(start)
	// A killed process surfaces through cmd.Run() as a plain *exec.ExitError,
	// indistinguishable from a real non-zero exit unless ctx itself says
	// why: check ctx.Err() first so a cancelled or expired context is
	// reported as such rather than as an ordinary command failure.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ExecResult{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(), Duration: duration}, ctxErr
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, err
		}
	}

	return ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String(), Duration: duration}, nil
}

func (f *FakeDriver) CopyOut(ctx context.Context, sandboxID, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s not found: %w", path, err)
	}
	return data, nil
}

func (f *FakeDriver) Remove(ctx context.Context, sandboxID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[sandboxID]
	if !ok {
		return nil
	}
	sb.removed = true
	return nil
}

func (f *FakeDriver) Stats(ctx context.Context, sandboxID string) (Stats, error) {
	return Stats{}, nil
}

// IsRemoved reports whether Remove was called for sandboxID, for test
// assertions about container lifetime bounds (spec §3 invariant 5).
func (f *FakeDriver) IsRemoved(sandboxID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sb, ok := f.sandboxes[sandboxID]
	return ok && sb.removed
}
