// Package worker implements JobRunner: given an admitted JobSpec, it
// drives a RuntimeDriver through pull -> create -> exec(per command) ->
// copy artifacts -> remove, producing a final RunRecord (spec §4.4).
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"

	"github.com/orcaops/orcaops/internal/config"
	"github.com/orcaops/orcaops/internal/models"
	"github.com/orcaops/orcaops/internal/runtime"
	"github.com/orcaops/orcaops/internal/store"
)

// SecurityOptsMetadataKey is where JobManager injects the container
// security options derived from policy before handing the spec to Runner
// (spec §4.5 step 4).
const SecurityOptsMetadataKey = "_security_opts"

// Runner executes a single admitted JobSpec inside a container obtained
// from a runtime.Driver.
type Runner struct {
	driver      runtime.Driver
	store       *store.Store
	retryConfig *RetryConfig
}

// New creates a Runner backed by driver, persisting extracted artifacts
// through st, using DefaultRetryConfig for transient runtime-level exec
// errors. st may be nil, in which case artifacts are hashed but not
// persisted (used by unit tests that only care about the RunRecord).
func New(driver runtime.Driver, st *store.Store) *Runner {
	return &Runner{driver: driver, store: st, retryConfig: DefaultRetryConfig()}
}

// WithRetryConfig overrides the retry behavior used for transient
// runtime errors (not command exit codes).
func (r *Runner) WithRetryConfig(cfg *RetryConfig) *Runner {
	r.retryConfig = cfg
	return r
}

// Run executes spec to completion (or cancellation) and returns the final
// RunRecord. ctx's cancellation is the cooperative cancellation token
// checked between and during steps (spec §5).
func (r *Runner) Run(ctx context.Context, spec models.JobSpec) *models.RunRecord {
	logger := logging.Log.WithField("job_id", spec.JobID)

	record := &models.RunRecord{
		JobID:     spec.JobID,
		Status:    models.JobQueued,
		ImageRef:  spec.Sandbox.Image,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.pullWithRetry(ctx, spec.Sandbox.Image); err != nil {
		logger.WithError(err).Error("failed to pull image")
		record.Status = statusForPhaseError(ctx, err)
		record.Error = fmt.Sprintf("failed to pull image: %v", err)
		finished := time.Now().UTC()
		record.FinishedAt = &finished
		return record
	}

	securityOpts := securityOptsFromMetadata(spec.Metadata)
	sandboxID, err := r.driver.Create(ctx, spec.Sandbox.Image, spec.Sandbox.Env, spec.Sandbox.WorkingDir, spec.Sandbox.Resources, securityOpts)
	if err != nil {
		logger.WithError(err).Error("failed to create sandbox")
		record.Status = statusForPhaseError(ctx, err)
		record.Error = fmt.Sprintf("failed to create sandbox: %v", err)
		finished := time.Now().UTC()
		record.FinishedAt = &finished
		return record
	}
	record.SandboxID = sandboxID

	// The sandbox must be released on every exit path, regardless of how
	// the job terminates (spec §3 invariant 5, §4.4 step 6).
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := r.driver.Remove(cleanupCtx, sandboxID, true); err != nil {
			logger.WithError(err).Warn("failed to remove sandbox")
			record.CleanupStatus = models.CleanupFailed
		} else {
			record.CleanupStatus = models.CleanupOK
		}
	}()

	if err := r.driver.Start(ctx, sandboxID); err != nil {
		logger.WithError(err).Error("failed to start sandbox")
		record.Status = statusForPhaseError(ctx, err)
		record.Error = fmt.Sprintf("failed to start sandbox: %v", err)
		finished := time.Now().UTC()
		record.FinishedAt = &finished
		return record
	}

	started := time.Now().UTC()
	record.StartedAt = &started
	record.Status = models.JobRunning

	masker := NewMasker()
	masker.RegisterEnv(spec.Sandbox.Env)

	finalStatus, stepErr := r.runCommands(ctx, record, spec, sandboxID, masker)
	record.Status = finalStatus
	if stepErr != nil {
		record.Error = stepErr.Error()
	}

	r.collectArtifacts(ctx, record, spec, sandboxID)

	finished := time.Now().UTC()
	record.FinishedAt = &finished

	logger.WithField("status", record.Status).Info("job finished")
	return record
}

// statusForPhaseError distinguishes a cooperative cancellation from a
// genuine pull/create/start failure: both surface as an error from the
// driver, but only the former is a CANCELLED job rather than an ERROR
// (spec §7 cancellation->CANCELLED mapping).
func statusForPhaseError(ctx context.Context, err error) models.JobStatus {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return models.JobCancelled
	}
	return models.JobError
}

// runCommands executes each command in order, honoring fail_fast,
// per-command timeout, and ctx cancellation. It returns the job's
// terminal status and, if applicable, an explanatory error. A non-zero
// exit from a command with fail_fast=false lets later commands run, but
// the job still ends FAILED.
func (r *Runner) runCommands(ctx context.Context, record *models.RunRecord, spec models.JobSpec, sandboxID string, masker *Masker) (models.JobStatus, error) {
	logger := logging.Log.WithField("job_id", spec.JobID)
	var firstFailure error

	for _, cmd := range spec.Commands {
		select {
		case <-ctx.Done():
			return models.JobCancelled, fmt.Errorf("job cancelled before command %q", cmd.Command)
		default:
		}

		timeoutS := cmd.TimeoutS
		if timeoutS == 0 {
			timeoutS = config.DefaultStepTimeoutSeconds
		}
		timeout := time.Duration(timeoutS) * time.Second
		execResult, err := r.execWithRetry(ctx, sandboxID, cmd.Command, timeout)

		if errors.Is(err, context.DeadlineExceeded) {
			record.Steps = append(record.Steps, models.StepResult{
				Command:         cmd.Command,
				ExitCode:        -1,
				Stdout:          masker.Mask(execResult.Stdout),
				Stderr:          masker.Mask(execResult.Stderr),
				DurationSeconds: execResult.Duration.Seconds(),
				StartedAt:       time.Now().UTC(),
			})
			return models.JobTimeout, fmt.Errorf("command %q exceeded %s timeout", cmd.Command, timeout)
		}

		if errors.Is(err, context.Canceled) {
			return models.JobCancelled, fmt.Errorf("job cancelled during command %q", cmd.Command)
		}

		if err != nil {
			logger.WithError(err).WithField("command", cmd.Command).Error("exec failed")
			record.Steps = append(record.Steps, models.StepResult{
				Command:         cmd.Command,
				ExitCode:        -1,
				Stderr:          err.Error(),
				DurationSeconds: execResult.Duration.Seconds(),
				StartedAt:       time.Now().UTC(),
			})
			return models.JobError, fmt.Errorf("failed to execute %q: %w", cmd.Command, err)
		}

		record.Steps = append(record.Steps, models.StepResult{
			Command:         cmd.Command,
			ExitCode:        execResult.ExitCode,
			Stdout:          masker.Mask(execResult.Stdout),
			Stderr:          masker.Mask(execResult.Stderr),
			DurationSeconds: execResult.Duration.Seconds(),
			StartedAt:       time.Now().UTC(),
		})

		if execResult.ExitCode != 0 {
			failure := fmt.Errorf("command %q exited %d", cmd.Command, execResult.ExitCode)
			if cmd.FailFastOrDefault() {
				return models.JobFailed, failure
			}
			if firstFailure == nil {
				firstFailure = failure
			}
		}
	}

	if firstFailure != nil {
		return models.JobFailed, firstFailure
	}
	return models.JobSuccess, nil
}

// execWithRetry retries every error the RuntimeDriver's Exec itself
// returns, other than context cancellation or deadline expiry, and never
// the command's own non-zero exit code — that is fail_fast territory,
// decided by the caller.
func (r *Runner) execWithRetry(ctx context.Context, sandboxID string, command string, timeout time.Duration) (runtime.ExecResult, error) {
	var result runtime.ExecResult
	cmdSlice := []string{"sh", "-c", command}

	err := RetryWithBackoff(ctx, r.retryConfig, "exec_"+sandboxID, func() error {
		var execErr error
		result, execErr = r.driver.Exec(ctx, sandboxID, cmdSlice, timeout)
		if errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execErr, context.Canceled) {
			return execErr
		}
		if execErr != nil {
			return &RetryableError{Err: execErr, Retryable: true, Reason: "runtime transport error"}
		}
		return nil
	})

	return result, err
}

// pullWithRetry retries every image pull failure the driver returns.
func (r *Runner) pullWithRetry(ctx context.Context, image string) error {
	return RetryWithBackoff(ctx, r.retryConfig, "pull_"+image, func() error {
		if err := r.driver.Pull(ctx, image); err != nil {
			return &RetryableError{Err: err, Retryable: true, Reason: "image pull error"}
		}
		return nil
	})
}

// collectArtifacts copies each requested path out of the sandbox,
// computing its metadata. A missing artifact is reported in record.Error
// but never by itself fails an otherwise-successful job (spec §4.4 step 5).
func (r *Runner) collectArtifacts(ctx context.Context, record *models.RunRecord, spec models.JobSpec, sandboxID string) {
	if len(spec.Artifacts) == 0 {
		return
	}

	logger := logging.Log.WithField("job_id", spec.JobID)
	var missing []string

	for _, path := range spec.Artifacts {
		data, err := r.driver.CopyOut(ctx, sandboxID, path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Warn("artifact not found")
			missing = append(missing, path)
			continue
		}

		name := filepath.Base(path)
		var size int64
		var sha256hex string
		if r.store != nil {
			size, sha256hex, err = r.store.PutArtifact(spec.JobID, name, bytes.NewReader(data))
			if err != nil {
				logger.WithError(err).WithField("path", path).Warn("failed to persist artifact")
				missing = append(missing, path)
				continue
			}
		} else {
			meta, _ := artifactMetadataFor(path, data)
			size, sha256hex = meta.SizeBytes, meta.SHA256
		}

		record.Artifacts = append(record.Artifacts, models.ArtifactMetadata{
			Name:      name,
			Path:      path,
			SizeBytes: size,
			SHA256:    sha256hex,
		})
	}

	if len(missing) > 0 {
		msg := "missing artifacts: " + strings.Join(missing, ", ")
		if record.Error == "" {
			record.Error = msg
		} else {
			record.Error = record.Error + "; " + msg
		}
	}
}

func securityOptsFromMetadata(metadata map[string]interface{}) []string {
	raw, ok := metadata[SecurityOptsMetadataKey]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		opts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				opts = append(opts, s)
			}
		}
		return opts
	default:
		return nil
	}
}
