package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// DockerConfig configures the Docker-backed executor, sourced from
// config.PTC.
type DockerConfig struct {
	Image            string
	MemoryLimitBytes int64
	NetworkDisabled  bool
	SessionTimeout   time.Duration
	ExecutionTimeout time.Duration
}

// DockerExecutor implements Executor by running one long-lived container per
// session, matching haasonsaas-nexus's dockerExecutor in spirit but using
// the Docker engine client directly instead of shelling out to the `docker`
// CLI, since a session here is held open across many execute_code calls
// rather than started and torn down for a single run.
type DockerExecutor struct {
	cli    *client.Client
	cfg    DockerConfig
	pool   *SessionPool
}

// Sessions exposes the executor's session pool for the background sweeper
// and health checks.
func (d *DockerExecutor) Sessions() *SessionPool { return d.pool }

// NewDockerExecutor constructs an executor against the local Docker daemon,
// negotiating the API version the same way the daemon's own tooling does.
func NewDockerExecutor(cfg DockerConfig) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}
	return &DockerExecutor{
		cli:  cli,
		cfg:  cfg,
		pool: NewSessionPool(),
	}, nil
}

// CreateSession starts a new container and registers it with the session
// pool. toolDefs is passed through as an environment payload so the
// in-container harness can render the PTC-callable tool catalog without a
// round trip back to the gateway.
func (d *DockerExecutor) CreateSession(ctx context.Context, toolDefs json.RawMessage) (*Session, error) {
	now := time.Now()
	sessionID := "ptc_" + uuid.NewString()

	hostCfg := &container.HostConfig{
		NetworkMode: "bridge",
		Resources: container.Resources{
			Memory: d.cfg.MemoryLimitBytes,
		},
	}
	if d.cfg.NetworkDisabled {
		hostCfg.NetworkMode = "none"
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:     d.cfg.Image,
		Tty:       false,
		OpenStdin: true,
		Env:       []string{"PTC_TOOL_CATALOG=" + string(toolDefs)},
	}, hostCfg, nil, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("sandbox: start container: %w", err)
	}

	session := &Session{
		ID:          sessionID,
		ContainerID: resp.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(d.cfg.SessionTimeout),
		LastUsedAt:  now,
	}
	d.pool.Put(session)
	return session, nil
}

// GetSession looks up a session by id, without touching its busy/expiry
// bookkeeping; callers needing to claim it for execution use the pool
// directly via ExecuteCode.
func (d *DockerExecutor) GetSession(ctx context.Context, id string) (*Session, bool, error) {
	s, ok := d.pool.Get(id)
	return s, ok, nil
}

// CloseSession removes and kills the session's container. Idempotent: a
// missing session is not an error.
func (d *DockerExecutor) CloseSession(ctx context.Context, id string) error {
	session, ok := d.pool.Remove(id)
	if !ok {
		return nil
	}
	timeout := 0
	_ = d.cli.ContainerStop(ctx, session.ContainerID, container.StopOptions{Timeout: &timeout})
	return d.cli.ContainerRemove(ctx, session.ContainerID, container.RemoveOptions{Force: true})
}

// ExecuteCode runs code inside session's container via a fresh exec,
// claiming the session's busy flag for the lifetime of the returned stream.
func (d *DockerExecutor) ExecuteCode(ctx context.Context, session *Session, code string) (ExecutionStream, error) {
	if !d.pool.TryClaim(session.ID) {
		return nil, fmt.Errorf("sandbox: session %s already has a code run in flight", session.ID)
	}

	envelope, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		d.pool.Release(session.ID)
		return nil, err
	}

	execCfg := container.ExecOptions{
		Cmd:          []string{"ptc-harness"},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	execResp, err := d.cli.ContainerExecCreate(ctx, session.ContainerID, execCfg)
	if err != nil {
		d.pool.Release(session.ID)
		return nil, fmt.Errorf("sandbox: exec create: %w", err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		d.pool.Release(session.ID)
		return nil, fmt.Errorf("sandbox: exec attach: %w", err)
	}

	if _, err := attach.Conn.Write(append(envelope, '\n')); err != nil {
		attach.Close()
		d.pool.Release(session.ID)
		return nil, fmt.Errorf("sandbox: write execution envelope: %w", err)
	}

	stream := newHarnessStream(attach, d.cfg.ExecutionTimeout, func() {
		d.pool.Release(session.ID)
		d.pool.Touch(session.ID)
	})
	d.pool.RegisterStream(session.ID, stream)
	return stream, nil
}

// InjectToolError is kept as a direct method (distinct from
// ExecutionStream.InjectError) because it is a top-level executor operation,
// not a stream method; it delegates to the session's active stream if one is
// registered.
func (d *DockerExecutor) InjectToolError(ctx context.Context, sessionID, callID, message string) error {
	stream, ok := d.pool.ActiveStream(sessionID)
	if !ok {
		return fmt.Errorf("sandbox: session %s has no active execution to inject into", sessionID)
	}
	return stream.InjectError(ctx, callID, message)
}

// IsImageAvailable reports whether the configured sandbox image is present
// locally, mirroring the useFirecracker-style availability probe
// haasonsaas-nexus's NewExecutor runs via exec.LookPath, generalized to an
// image inspect call.
func (d *DockerExecutor) IsImageAvailable(ctx context.Context) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, d.cfg.Image)
	if client.IsErrNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sandbox: inspect image %s: %w", d.cfg.Image, err)
	}
	return true, nil
}

// EnsureImageAvailable pulls the configured sandbox image if it is not
// already present, for optional cold-start warmup.
func (d *DockerExecutor) EnsureImageAvailable(ctx context.Context) error {
	available, err := d.IsImageAvailable(ctx)
	if err != nil {
		return err
	}
	if available {
		return nil
	}
	rc, err := d.cli.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: pull image %s: %w", d.cfg.Image, err)
	}
	defer rc.Close()
	// Drain the pull's progress stream; the harness image build step is
	// responsible for baking in the ptc-harness entrypoint this executor
	// expects, not this client.
	_, err = io.Copy(io.Discard, bufio.NewReader(rc))
	return err
}
