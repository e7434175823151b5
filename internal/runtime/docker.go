package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/orcaops/orcaops/internal/models"
)

// DockerDriver implements Driver against a local Docker daemon. Unlike a
// single-shot job container, a sandbox here stays alive for the duration
// of the job so that JobRunner can Exec multiple ordered commands into
// it (spec §4.4 step 4).
type DockerDriver struct {
	client *client.Client
}

// NewDockerDriver creates a DockerDriver using the daemon configured by
// the environment (DOCKER_HOST et al).
func NewDockerDriver() (*DockerDriver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerDriver{client: cli}, nil
}

// NewDockerDriverWithClient wraps a caller-supplied client.
func NewDockerDriverWithClient(cli *client.Client) *DockerDriver {
	return &DockerDriver{client: cli}
}

func (d *DockerDriver) Pull(ctx context.Context, img string) error {
	logger := logging.Log.WithField("image", img)

	_, _, err := d.client.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	logger.Info("pulling image")
	reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull stream: %w", err)
	}
	return nil
}

func (d *DockerDriver) Create(ctx context.Context, img string, env map[string]string, workdir string, resources models.Resources, securityOpts []string) (string, error) {
	logger := logging.Log.WithField("image", img)

	containerConfig := &container.Config{
		Image:      img,
		Cmd:        []string{"sleep", "infinity"},
		Env:        envMapToSlice(env),
		WorkingDir: workdir,
		Entrypoint: []string{},
		Tty:        false,
	}

	var passthroughOpts []string
	for _, opt := range securityOpts {
		if !strings.HasPrefix(opt, "cap-drop:") && opt != "read-only" {
			passthroughOpts = append(passthroughOpts, opt)
		}
	}

	hostConfig := &container.HostConfig{
		AutoRemove:  false,
		CapDrop:     resourceCapDrop(securityOpts),
		SecurityOpt: passthroughOpts,
		ReadonlyRootfs: resourcesReadOnly(securityOpts),
	}

	if resources.Memory != "" {
		if bytes, err := parseMemoryString(resources.Memory); err == nil {
			hostConfig.Memory = bytes
		} else {
			logger.WithError(err).Warn("failed to parse memory limit, ignoring")
		}
	}
	if resources.CPU != "" {
		if cpu, err := strconv.ParseFloat(resources.CPU, 64); err == nil {
			hostConfig.NanoCPUs = int64(cpu * 1e9)
		}
	}
	if resources.Pids > 0 {
		pids := resources.Pids
		hostConfig.PidsLimit = &pids
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// resourceCapDrop and resourcesReadOnly interpret the flattened
// securityOpts slice JobManager injects via spec.metadata["_security_opts"].
// Entries of the form "cap-drop:X" and the literal "read-only" are split
// out; everything else is passed through to Docker's SecurityOpt.
func resourceCapDrop(securityOpts []string) []string {
	var drops []string
	for _, opt := range securityOpts {
		if strings.HasPrefix(opt, "cap-drop:") {
			drops = append(drops, strings.TrimPrefix(opt, "cap-drop:"))
		}
	}
	return drops
}

func resourcesReadOnly(securityOpts []string) bool {
	for _, opt := range securityOpts {
		if opt == "read-only" {
			return true
		}
	}
	return false
}

func (d *DockerDriver) Start(ctx context.Context, sandboxID string) error {
	if err := d.client.ContainerStart(ctx, sandboxID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (d *DockerDriver) Exec(ctx context.Context, sandboxID string, command []string, timeout time.Duration) (ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()

	execCfg := container.ExecOptions{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := d.client.ContainerExecCreate(ctx, sandboxID, execCfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attached, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	copyErrCh := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader)
		copyErrCh <- err
	}()

	select {
	case <-ctx.Done():
		return ExecResult{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)}, ctx.Err()
	case err := <-copyErrCh:
		if err != nil && err != io.EOF {
			return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	}

	inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}, nil
}

func (d *DockerDriver) CopyOut(ctx context.Context, sandboxID, path string) ([]byte, error) {
	reader, _, err := d.client.CopyFromContainer(ctx, sandboxID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy out %s: %w", path, err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("artifact %s not found in copy-out stream", path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar stream for %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, tr); err != nil {
				return nil, fmt.Errorf("failed to read artifact contents for %s: %w", path, err)
			}
			return buf.Bytes(), nil
		}
	}
}

func (d *DockerDriver) Remove(ctx context.Context, sandboxID string, force bool) error {
	return d.client.ContainerRemove(ctx, sandboxID, container.RemoveOptions{Force: force, RemoveVolumes: true})
}

func (d *DockerDriver) Stats(ctx context.Context, sandboxID string) (Stats, error) {
	resp, err := d.client.ContainerStats(ctx, sandboxID, false)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	defer resp.Body.Close()
	// Docker's one-shot stats payload is not decoded: the body is closed
	// unread and a zero Stats is returned. No component reads Stats.
	return Stats{}, nil
}

func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// parseMemoryString parses a memory limit like "512Mi" or "1Gi" into bytes.
func parseMemoryString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "Gi"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "Gi")
	case strings.HasSuffix(s, "Mi"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "Mi")
	case strings.HasSuffix(s, "Ki"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "Ki")
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory value %q: %w", s, err)
	}
	return int64(value * float64(multiplier)), nil
}
