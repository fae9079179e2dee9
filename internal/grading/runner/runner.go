// Package runner executes setup and test commands inside a sandbox.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"autograde/internal/grading/model"
	"autograde/internal/grading/retry"
	"autograde/internal/grading/sandbox"
	pkgerrors "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

const (
	DefaultMaxOutputBytes       = 8_000_000
	DefaultMaxSubprocessTimeout = 60 * time.Second
	DefaultTimeLimit            = 10 * time.Second
	DefaultCommandAttempts      = 3
)

// Config bounds every run.
type Config struct {
	MaxOutputBytes       int64         `yaml:"maxOutputBytes"`
	MaxSubprocessTimeout time.Duration `yaml:"maxSubprocessTimeout"`
	DefaultTimeLimit     time.Duration `yaml:"defaultTimeLimit"`
	CommandAttempts      int           `yaml:"commandAttempts"`
	RetryBackoff         time.Duration `yaml:"retryBackoff"`
	TempDir              string        `yaml:"tempDir"`
}

func (c Config) withDefaults() Config {
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.MaxSubprocessTimeout <= 0 {
		c.MaxSubprocessTimeout = DefaultMaxSubprocessTimeout
	}
	if c.DefaultTimeLimit <= 0 {
		c.DefaultTimeLimit = DefaultTimeLimit
	}
	if c.CommandAttempts <= 0 {
		c.CommandAttempts = DefaultCommandAttempts
	}
	return c
}

// Inputs opens the non-literal stdin sources of a command.
type Inputs struct {
	InstructorFile func(ctx context.Context, file model.InstructorFile) (io.ReadCloser, error)
	SetupOutput    func(ctx context.Context, stream model.OutputStream) (io.ReadCloser, error)
}

// Result is one finished run. The caller must Close it.
// ReturnCode is nil when the command never ran.
type Result struct {
	ReturnCode *int
	TimedOut   bool
	Stdout     *Output
	Stderr     *Output
}

// Close removes both spool files.
func (r *Result) Close() {
	if r == nil {
		return
	}
	_ = r.Stdout.Close()
	_ = r.Stderr.Close()
}

// Runner runs commands with limits, stdin redirection and output caps.
type Runner struct {
	cfg    Config
	policy retry.Policy
}

func New(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		cfg: cfg,
		policy: retry.Policy{
			Name:        "command",
			MaxAttempts: cfg.CommandAttempts,
			Classify:    classifyRunError,
			Backoff:     retry.Exponential(cfg.RetryBackoff, cfg.MaxSubprocessTimeout),
		},
	}
}

// classifyRunError retries sandbox exec glitches only.
func classifyRunError(err error) retry.Decision {
	if pkgerrors.Is(err, pkgerrors.SandboxExecFailed) {
		return retry.Retry
	}
	return retry.Fatal
}

// Validate reports whether cmd is non-empty and has balanced quoting.
func Validate(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return pkgerrors.New(pkgerrors.InvalidCommand).WithMessage("command is empty")
	}
	if _, err := shlex.Split(cmd); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.InvalidCommand, "invalid command: %v", err)
	}
	return nil
}

// TimeLimit clamps a configured limit to the subprocess maximum.
func (r *Runner) TimeLimit(limit time.Duration) time.Duration {
	if limit <= 0 {
		limit = r.cfg.DefaultTimeLimit
	}
	if limit > r.cfg.MaxSubprocessTimeout {
		limit = r.cfg.MaxSubprocessTimeout
	}
	return limit
}

// RunSetup runs a suite setup command with the maximum subprocess timeout,
// no process spawn block and no memory limit.
func (r *Runner) RunSetup(ctx context.Context, h sandbox.Handle, setup model.SetupCommand) (*Result, error) {
	opts := sandbox.RunOptions{Timeout: r.cfg.MaxSubprocessTimeout}
	return r.run(ctx, h, setup.Cmd, opts, func(context.Context) (io.ReadCloser, error) { return nil, nil })
}

// RunCommand runs a test command with its own limits and stdin source.
func (r *Runner) RunCommand(ctx context.Context, h sandbox.Handle, cmd model.Command, inputs Inputs) (*Result, error) {
	opts := sandbox.RunOptions{
		Timeout:           r.TimeLimit(cmd.Limits.TimeLimit),
		MemoryLimit:       cmd.Limits.VirtualMemoryLimit,
		BlockProcessSpawn: cmd.Limits.BlockProcessSpawn,
	}
	return r.run(ctx, h, cmd.Cmd, opts, stdinOpener(cmd.Stdin, inputs))
}

func stdinOpener(stdin model.Stdin, inputs Inputs) func(context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		switch stdin.Source {
		case model.StdinText:
			return io.NopCloser(strings.NewReader(stdin.Text)), nil
		case model.StdinInstructorFile:
			if stdin.File == nil || inputs.InstructorFile == nil {
				return nil, pkgerrors.New(pkgerrors.InvalidCommand).WithMessage("stdin instructor file is not set")
			}
			return inputs.InstructorFile(ctx, *stdin.File)
		case model.StdinSetupStdout, model.StdinSetupStderr:
			if inputs.SetupOutput == nil {
				return nil, pkgerrors.New(pkgerrors.InvalidCommand).WithMessage("setup output is not available")
			}
			stream := model.Stdout
			if stdin.Source == model.StdinSetupStderr {
				stream = model.Stderr
			}
			return inputs.SetupOutput(ctx, stream)
		default:
			return nil, nil
		}
	}
}

func (r *Runner) run(ctx context.Context, h sandbox.Handle, cmd string, opts sandbox.RunOptions, openStdin func(context.Context) (io.ReadCloser, error)) (*Result, error) {
	stdout, err := newOutput(r.cfg.TempDir, "stdout-*")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "create stdout spool failed")
	}
	stderr, err := newOutput(r.cfg.TempDir, "stderr-*")
	if err != nil {
		_ = stdout.Close()
		return nil, pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "create stderr spool failed")
	}
	res := &Result{Stdout: stdout, Stderr: stderr}

	if err := Validate(cmd); err != nil {
		logger.Warn(ctx, "command not run", zap.String("cmd", cmd), zap.Error(err))
		_, _ = fmt.Fprintf(&cappedWriter{out: stderr, limit: r.cfg.MaxOutputBytes}, "%s\n", err.Error())
		return res, nil
	}

	err = r.policy.Do(ctx, func(ctx context.Context) error {
		if err := stdout.reset(); err != nil {
			return err
		}
		if err := stderr.reset(); err != nil {
			return err
		}
		attempt := opts
		stdin, err := openStdin(ctx)
		if err != nil {
			return err
		}
		if stdin != nil {
			defer stdin.Close()
			attempt.Stdin = stdin
		}
		attempt.Stdout = &cappedWriter{out: stdout, limit: r.cfg.MaxOutputBytes}
		attempt.Stderr = &cappedWriter{out: stderr, limit: r.cfg.MaxOutputBytes}

		runRes, err := h.Run(ctx, cmd, attempt)
		if err != nil {
			return err
		}
		code := runRes.ReturnCode
		res.ReturnCode = &code
		res.TimedOut = runRes.TimedOut
		return nil
	})
	if err != nil {
		res.Close()
		return nil, err
	}
	logger.Debug(ctx, "command finished",
		zap.String("sandbox", h.Name()),
		zap.Int("return_code", *res.ReturnCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Bool("stdout_truncated", stdout.Truncated),
		zap.Bool("stderr_truncated", stderr.Truncated),
	)
	return res, nil
}
