package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dontdude/mypyplay/internal/domain"
	"github.com/dontdude/mypyplay/internal/platform/archive"
)

// Security profile applied to every sandbox container.
const (
	MemoryLimit = 128 * 1024 * 1024 // 128MiB
	PidsLimit   = 32
	NetworkMode = "none"
)

// SourceDir is where the archive is extracted inside the container.
const SourceDir = "/tmp"

// CleanupTimeout bounds container removal, which runs even after the caller gave up.
const CleanupTimeout = 10 * time.Second

// Engine is the subset of the Docker Engine API the sandbox needs.
// *client.Client satisfies it.
type Engine interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

var _ Engine = (*client.Client)(nil)

// Options tunes the container backend.
type Options struct {
	// Tool is the executable invoked inside the image. Defaults to "mypy".
	Tool string
	// Pull makes the backend pull the image before every run.
	Pull   bool
	Logger *slog.Logger
}

// Client runs the type checker in ephemeral, locked-down Docker containers.
type Client struct {
	engine Engine
	tool   string
	pull   bool
	logger *slog.Logger
	now    func() time.Time
}

// Check if Client implements domain.Runner
var _ domain.Runner = (*Client)(nil)

// NewEngine connects to the Docker daemon from the environment and verifies
// the connection with a Ping.
func NewEngine(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Ping Docker to ensure connection
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	return cli, nil
}

// NewClient wraps an engine connection.
func NewClient(engine Engine, opts Options) *Client {
	if opts.Tool == "" {
		opts.Tool = "mypy"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		engine: engine,
		tool:   opts.Tool,
		pull:   opts.Pull,
		logger: opts.Logger,
		now:    time.Now,
	}
}

// Name implements domain.Runner.
func (c *Client) Name() string {
	return "docker"
}

// Command returns the full command line run inside the container.
func (c *Client) Command(args []string) []string {
	cmd := make([]string, 0, len(args)+2)
	cmd = append(cmd, c.tool)
	cmd = append(cmd, args...)
	return append(cmd, archive.FileName)
}

// HostConfig returns the security profile for sandbox containers.
func HostConfig() *container.HostConfig {
	pids := int64(PidsLimit)
	return &container.HostConfig{
		CapDrop:     []string{"ALL"},
		NetworkMode: container.NetworkMode(NetworkMode),
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    MemoryLimit,
			PidsLimit: &pids,
		},
	}
}

// Run executes the tool in a fresh container and always removes it afterwards.
func (c *Client) Run(ctx context.Context, inv domain.Invocation) (*domain.Result, error) {
	if inv.Target == "" {
		return nil, fmt.Errorf("%w: no docker image", domain.ErrUnknownVersion)
	}
	logger := c.logger.With("image", inv.Target)

	tarball, err := archive.New(inv.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: build archive: %w", domain.ErrUnavailable, err)
	}

	// 1. Pull Image (optional)
	if c.pull {
		if err := c.pullImage(ctx, inv.Target); err != nil {
			logger.Error("Failed to pull image", "error", err)
			return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
	}

	start := c.now()

	// 2. Create Container with the security profile
	logger.Info("Creating container")
	resp, err := c.engine.ContainerCreate(ctx, &container.Config{
		Image:           inv.Target,
		Cmd:             c.Command(inv.Args),
		WorkingDir:      SourceDir,
		NetworkDisabled: true,
	}, HostConfig(), nil, nil, "mypy-sandbox-"+uuid.NewString())
	if err != nil {
		logger.Error("Failed to create container", "error", err)
		return nil, fmt.Errorf("%w: create container: %w", domain.ErrUnavailable, err)
	}
	logger = logger.With("containerID", resp.ID)

	// 3. Upload, start, wait and collect logs. Any failure removes the container.
	exitCode, stdout, stderr, err := c.execute(ctx, resp.ID, tarball)
	if err != nil {
		logger.Error("Docker API error", "error", err)
		c.remove(ctx, resp.ID, logger)
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	duration := c.now().Sub(start).Milliseconds()

	// 4. Tear down
	c.remove(ctx, resp.ID, logger)

	logger.Info("Container finished", "exitCode", exitCode, "durationMs", duration)
	return &domain.Result{
		ExitCode:   exitCode,
		Stdout:     stdout,
		Stderr:     stderr,
		DurationMs: duration,
	}, nil
}

func (c *Client) execute(ctx context.Context, id string, tarball []byte) (int, string, string, error) {
	err := c.engine.CopyToContainer(ctx, id, SourceDir, bytes.NewReader(tarball), container.CopyToContainerOptions{})
	if err != nil {
		return 0, "", "", fmt.Errorf("upload source: %w", err)
	}

	if err := c.engine.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return 0, "", "", fmt.Errorf("start container: %w", err)
	}

	exitCode, err := c.wait(ctx, id)
	if err != nil {
		return 0, "", "", err
	}

	stdout, stderr, err := c.logs(ctx, id)
	if err != nil {
		return 0, "", "", err
	}
	return exitCode, stdout, stderr, nil
}

func (c *Client) wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := c.engine.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return 0, fmt.Errorf("wait container: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("wait container: %w", err)
	case <-ctx.Done():
		return 0, fmt.Errorf("wait container: %w", ctx.Err())
	}
}

// logs reads both streams in one call and splits the multiplexed output.
func (c *Client) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := c.engine.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("read logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demux logs: %w", err)
	}
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), nil
}

// remove force-deletes the container. Errors are logged and swallowed; the
// caller's cancellation does not stop the cleanup.
func (c *Client) remove(ctx context.Context, id string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CleanupTimeout)
	defer cancel()

	logger.Debug("Removing container")
	if err := c.engine.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		logger.Error("Docker API error while cleaning up, ignoring", "error", err)
	}
}

func (c *Client) pullImage(ctx context.Context, ref string) error {
	c.logger.Info("Pulling image", "image", ref)
	reader, err := c.engine.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}
