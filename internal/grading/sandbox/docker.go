package sandbox

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	pkgerrors "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

const (
	defaultWorkDir     = "/home/autograder/working_dir"
	defaultStopTimeout = 10 * time.Second
	defaultNoFile      = 1024
	// timeout(1) exits 124 when the limit is hit, 137 when it had to SIGKILL.
	exitTimedOut    = 124
	exitKilled      = 137
	killGracePeriod = "1"
	hostGracePeriod = 5 * time.Second
	// The wrapper shell, timeout(1) and the command itself.
	spawnBlockedLimit = 3
)

// Config controls how docker sandboxes are created.
type Config struct {
	WorkDir     string        `yaml:"workDir"`
	User        string        `yaml:"user"`
	FileUID     int           `yaml:"fileUid"`
	FileGID     int           `yaml:"fileGid"`
	PidsLimit   int64         `yaml:"pidsLimit"`
	NoFileLimit int64         `yaml:"noFileLimit"`
	StopTimeout time.Duration `yaml:"stopTimeout"`
	PullImages  bool          `yaml:"pullImages"`
}

func (c Config) withDefaults() Config {
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.NoFileLimit <= 0 {
		c.NoFileLimit = defaultNoFile
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = defaultStopTimeout
	}
	return c
}

type dockerClient interface {
	Close() error
	ImageInspectWithRaw(ctx context.Context, imageID string) (image.InspectResponse, []byte, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// DockerFactory creates one container per suite.
type DockerFactory struct {
	cli dockerClient
	cfg Config
}

var _ Factory = (*DockerFactory)(nil)

// NewDockerFactory connects to the daemon configured by the environment.
func NewDockerFactory(ctx context.Context, cfg Config) (*DockerFactory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "create docker client failed")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "docker daemon not accessible")
	}
	return NewDockerFactoryWithClient(cli, cfg), nil
}

// NewDockerFactoryWithClient builds a factory on an existing client.
func NewDockerFactoryWithClient(cli dockerClient, cfg Config) *DockerFactory {
	return &DockerFactory{cli: cli, cfg: cfg.withDefaults()}
}

// Close releases the docker client.
func (f *DockerFactory) Close() error {
	return f.cli.Close()
}

// Create starts an idle container that commands are exec'd into.
func (f *DockerFactory) Create(ctx context.Context, spec Spec) (Handle, error) {
	if err := f.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	networkMode := container.NetworkMode("none")
	if spec.AllowNetworkAccess {
		networkMode = container.NetworkMode("bridge")
	}
	hostConfig := &container.HostConfig{
		NetworkMode: networkMode,
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: f.cfg.NoFileLimit, Hard: f.cfg.NoFileLimit},
			},
		},
	}
	if f.cfg.PidsLimit > 0 {
		limit := f.cfg.PidsLimit
		hostConfig.Resources.PidsLimit = &limit
	}

	resp, err := f.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Entrypoint:      []string{"tail", "-f", "/dev/null"},
		WorkingDir:      f.cfg.WorkDir,
		Env:             envList(spec.Env),
		NetworkDisabled: !spec.AllowNetworkAccess,
		Labels:          map[string]string{"autograde.sandbox": spec.Name},
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxCreateFailed, "create container %s failed", spec.Name)
	}

	h := &dockerHandle{cli: f.cli, cfg: f.cfg, id: resp.ID, name: spec.Name, env: envList(spec.Env)}
	if err := f.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := f.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logger.Warn(ctx, "remove unstarted container failed", zap.String("sandbox", spec.Name), zap.Error(rmErr))
		}
		return nil, pkgerrors.Wrapf(err, pkgerrors.SandboxCreateFailed, "start container %s failed", spec.Name)
	}
	logger.Debug(ctx, "sandbox started", zap.String("sandbox", spec.Name), zap.String("image", spec.Image))
	return h, nil
}

func (f *DockerFactory) ensureImage(ctx context.Context, ref string) error {
	if _, _, err := f.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	} else if !f.cfg.PullImages {
		return pkgerrors.Wrapf(err, pkgerrors.SandboxCreateFailed, "image %s not available", ref)
	}

	reader, err := f.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SandboxCreateFailed, "pull image %s failed", ref)
	}
	defer reader.Close()
	// The pull only completes once its progress stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

type dockerHandle struct {
	cli  dockerClient
	cfg  Config
	id   string
	name string
	env  []string
}

func (h *dockerHandle) Name() string { return h.name }

func (h *dockerHandle) AddFiles(ctx context.Context, files ...File) error {
	if len(files) == 0 {
		return nil
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(h.writeArchive(ctx, pw, files))
	}()
	err := h.cli.CopyToContainer(ctx, h.id, h.cfg.WorkDir, pr, container.CopyToContainerOptions{AllowOverwriteDirWithFile: true})
	_ = pr.Close()
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SandboxError, "copy files into %s failed", h.name)
	}
	return nil
}

func (h *dockerHandle) writeArchive(ctx context.Context, w io.Writer, files []File) error {
	tw := tar.NewWriter(w)
	now := time.Now()
	for _, file := range files {
		mode := file.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := tw.WriteHeader(&tar.Header{
			Name:    path.Clean(file.Name),
			Mode:    mode,
			Size:    file.Size,
			ModTime: now,
			Uid:     h.cfg.FileUID,
			Gid:     h.cfg.FileGID,
		}); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		rc, err := file.Open(ctx)
		if err != nil {
			return fmt.Errorf("open %s: %w", file.Name, err)
		}
		_, err = io.CopyN(tw, rc, file.Size)
		rc.Close()
		if err != nil {
			return fmt.Errorf("write tar contents of %s: %w", file.Name, err)
		}
	}
	return tw.Close()
}

// Run executes cmd with sh -c under timeout(1) and ulimits. Output is streamed
// into opts.Stdout and opts.Stderr as it arrives.
func (h *dockerHandle) Run(ctx context.Context, cmd string, opts RunOptions) (RunResult, error) {
	start := time.Now()
	exec, err := h.cli.ContainerExecCreate(ctx, h.id, container.ExecOptions{
		User:         h.cfg.User,
		AttachStdin:  opts.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   h.cfg.WorkDir,
		Env:          h.env,
		Cmd:          wrapCommand(cmd, opts),
	})
	if err != nil {
		return RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxExecFailed, "create exec in %s failed", h.name)
	}

	attach, err := h.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxExecFailed, "attach exec in %s failed", h.name)
	}
	defer attach.Close()

	stdinDone := make(chan struct{})
	if opts.Stdin != nil {
		go func() {
			defer close(stdinDone)
			_, _ = io.Copy(attach.Conn, opts.Stdin)
			_ = attach.CloseWrite()
		}()
	} else {
		close(stdinDone)
	}

	// timeout(1) inside the container does the killing; the host deadline only
	// guards against a wedged daemon connection.
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout + hostGracePeriod)
		defer timer.Stop()
		deadline = timer.C
	}
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(writerOrDiscard(opts.Stdout), writerOrDiscard(opts.Stderr), attach.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxExecFailed, "read exec output in %s failed", h.name)
		}
	case <-deadline:
		// Closing the attach unblocks StdCopy; wait for it so no write lands
		// in the caller's writers after Run returns.
		attach.Close()
		<-copyDone
		<-stdinDone
		return RunResult{ReturnCode: exitKilled, TimedOut: true}, nil
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		<-stdinDone
		return RunResult{}, ctx.Err()
	}
	attach.Close()
	<-stdinDone

	inspect, err := h.cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxExecFailed, "inspect exec in %s failed", h.name)
	}
	res := RunResult{ReturnCode: inspect.ExitCode}
	switch {
	case inspect.ExitCode == exitTimedOut:
		res.TimedOut = true
	case inspect.ExitCode == exitKilled && opts.Timeout > 0 && time.Since(start) >= opts.Timeout:
		res.TimedOut = true
	}
	return res, nil
}

// wrapCommand builds the exec argv. The student command is passed as $1 so
// it never needs quoting.
func wrapCommand(cmd string, opts RunOptions) []string {
	script := ""
	if opts.MemoryLimit > 0 {
		script += "ulimit -v " + strconv.FormatInt(opts.MemoryLimit/1024, 10) + " && "
	}
	if opts.BlockProcessSpawn {
		script += "ulimit -u " + strconv.Itoa(spawnBlockedLimit) + " && "
	}
	if opts.Timeout > 0 {
		secs := strconv.FormatFloat(opts.Timeout.Seconds(), 'f', -1, 64)
		script += "exec timeout -k " + killGracePeriod + " " + secs + ` sh -c "$1"`
	} else {
		script += `exec sh -c "$1"`
	}
	return []string{"sh", "-c", script, "sh", cmd}
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func (h *dockerHandle) Destroy(ctx context.Context) error {
	secs := int(h.cfg.StopTimeout / time.Second)
	if err := h.cli.ContainerStop(ctx, h.id, container.StopOptions{Timeout: &secs}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrNotStopped, h.name, err)
	}
	if err := h.cli.ContainerRemove(ctx, h.id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrNotDestroyed, h.name, err)
	}
	logger.Debug(ctx, "sandbox destroyed", zap.String("sandbox", h.name))
	return nil
}

// IsTeardownError reports whether err came from Destroy.
func IsTeardownError(err error) bool {
	return errors.Is(err, ErrNotStopped) || errors.Is(err, ErrNotDestroyed)
}
