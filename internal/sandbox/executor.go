// Package sandbox runs untrusted learner Python inside resource-capped,
// network-isolated Docker containers and checks it against test cases.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"
)

// Execution status values reported to clients.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusFailedTests = "failed_tests"
)

// Config caps a single execution.
type Config struct {
	Image       string
	MemoryBytes int64
	CPUQuota    int64
	Timeout     time.Duration
}

// DefaultConfig matches the limits the exercises are calibrated for: enough
// to run a short algorithmic solution, not enough to be useful for abuse.
func DefaultConfig() Config {
	return Config{
		Image:       "python:3.10-alpine",
		MemoryBytes: 128 * 1024 * 1024,
		CPUQuota:    50000,
		Timeout:     5 * time.Second,
	}
}

// Result is the outcome of one execution. Failures of the learner's program
// are results, not errors; Execute returns a non-nil error only for harness
// bugs, never for anything the learner did.
type Result struct {
	Status        string       `json:"status"`
	Output        string       `json:"output"`
	Error         string       `json:"error"`
	ExecutionTime float64      `json:"execution_time"`
	ExitCode      int          `json:"exit_code"`
	TestResults   []TestResult `json:"test_results,omitempty"`
}

// Health reports runtime and image availability for the health endpoint.
type Health struct {
	Status          string         `json:"status"`
	DockerAvailable bool           `json:"docker_available"`
	ImageAvailable  bool           `json:"image_available,omitempty"`
	ImageName       string         `json:"image_name,omitempty"`
	ResourceLimits  map[string]any `json:"resource_limits,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// Executor runs wrapped learner code in throwaway containers.
type Executor struct {
	cli *client.Client
	cfg Config
	log zerolog.Logger
}

// NewExecutor connects to the Docker daemon and verifies it responds. An
// unreachable daemon is a startup error; the caller decides whether to run
// degraded.
func NewExecutor(ctx context.Context, cfg Config, log zerolog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	log.Info().Str("image", cfg.Image).Msg("docker executor ready")
	return &Executor{cli: cli, cfg: cfg, log: log}, nil
}

// Close releases the daemon connection.
func (e *Executor) Close() error {
	return e.cli.Close()
}

// Execute runs learner code with the given stdin and returns its outcome.
// The container has no network, a read-only rootfs with a small tmpfs, and
// hard memory/CPU caps. It is force-removed on every path.
func (e *Executor) Execute(ctx context.Context, code, stdin string) Result {
	start := time.Now()
	wrapped := wrapCode(code, stdin)

	resp, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image: e.cfg.Image,
			Cmd:   []string{"python", "-c", wrapped},
			Env: []string{
				"PYTHONUNBUFFERED=1",
				"PYTHONDONTWRITEBYTECODE=1",
			},
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode:    "none",
			ReadonlyRootfs: true,
			Tmpfs:          map[string]string{"/tmp": "size=10M,mode=1777"},
			Resources: container.Resources{
				Memory:   e.cfg.MemoryBytes,
				CPUQuota: e.cfg.CPUQuota,
			},
		},
		nil, nil, "")
	if err != nil {
		if errdefs.IsNotFound(err) {
			e.log.Error().Str("image", e.cfg.Image).Msg("sandbox image missing")
			return Result{
				Status: StatusError,
				Error:  "Python environment not available. Please contact administrator.",
			}
		}
		return Result{
			Status:        StatusError,
			Error:         fmt.Sprintf("Container execution failed: %v", err),
			ExecutionTime: elapsed(start),
		}
	}
	id := resp.ID
	defer e.removeContainer(id)

	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{
			Status:        StatusError,
			Error:         fmt.Sprintf("Container execution failed: %v", err),
			ExecutionTime: elapsed(start),
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var exitCode int
	statusCh, errCh := e.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case err := <-errCh:
		e.stopContainer(id)
		execTime := elapsed(start)
		if execTime >= e.cfg.Timeout.Seconds() {
			e.log.Warn().Float64("elapsed", execTime).Msg("execution timeout")
			return Result{
				Status:        StatusTimeout,
				Error:         fmt.Sprintf("Execution exceeded %d second time limit", int(e.cfg.Timeout.Seconds())),
				ExecutionTime: execTime,
			}
		}
		return Result{
			Status:        StatusError,
			Error:         fmt.Sprintf("Container execution failed: %v", err),
			ExecutionTime: execTime,
		}
	}

	stdout, stderr, err := e.containerLogs(ctx, id)
	if err != nil {
		return Result{
			Status:        StatusError,
			Error:         fmt.Sprintf("Container execution failed: %v", err),
			ExecutionTime: elapsed(start),
		}
	}

	status := StatusSuccess
	if exitCode != 0 {
		status = StatusError
	}
	execTime := elapsed(start)
	e.log.Info().Str("status", status).Float64("elapsed", execTime).Msg("execution completed")

	return Result{
		Status:        status,
		Output:        stdout,
		Error:         stderr,
		ExecutionTime: execTime,
		ExitCode:      exitCode,
	}
}

// containerLogs reads the multiplexed log stream after the container exits.
func (e *Executor) containerLogs(ctx context.Context, id string) (string, string, error) {
	rc, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

func (e *Executor) stopContainer(id string) {
	// Best effort, on a fresh context: the wait context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	zero := 0
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &zero}); err != nil {
		e.log.Debug().Err(err).Str("container", id).Msg("stop failed")
	}
}

func (e *Executor) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		e.log.Warn().Err(err).Str("container", id).Msg("container remove failed")
	}
}

// CheckHealth reports daemon reachability, image presence and the configured
// limits.
func (e *Executor) CheckHealth(ctx context.Context) Health {
	if _, err := e.cli.Ping(ctx); err != nil {
		return Health{
			Status:          "unhealthy",
			DockerAvailable: false,
			Error:           err.Error(),
		}
	}

	imageAvailable := true
	if _, _, err := e.cli.ImageInspectWithRaw(ctx, e.cfg.Image); err != nil {
		imageAvailable = false
	}

	return Health{
		Status:          "healthy",
		DockerAvailable: true,
		ImageAvailable:  imageAvailable,
		ImageName:       e.cfg.Image,
		ResourceLimits: map[string]any{
			"memory":    e.cfg.MemoryBytes,
			"cpu_quota": e.cfg.CPUQuota,
			"timeout":   e.cfg.Timeout.Seconds(),
		},
	}
}

func elapsed(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*1000) / 1000
}
