// Package sandbox defines the isolated execution environment a suite is graded in.
package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotStopped means the container could not be stopped during teardown.
	ErrNotStopped = errors.New("sandbox not stopped")
	// ErrNotDestroyed means the container could not be removed during teardown.
	ErrNotDestroyed = errors.New("sandbox not destroyed")
)

// Spec describes the sandbox to create for one suite.
type Spec struct {
	Name               string
	Image              string
	AllowNetworkAccess bool
	Env                map[string]string
}

// File is one file copied into the sandbox working directory.
type File struct {
	Name string
	Size int64
	Mode int64
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// RunOptions bounds one command. Zero MemoryLimit means unlimited.
type RunOptions struct {
	Timeout           time.Duration
	MemoryLimit       int64
	BlockProcessSpawn bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// RunResult is the exit status of one command.
type RunResult struct {
	ReturnCode int
	TimedOut   bool
}

// Handle is a live sandbox. It is owned by one grading call and never shared.
type Handle interface {
	Name() string
	AddFiles(ctx context.Context, files ...File) error
	Run(ctx context.Context, cmd string, opts RunOptions) (RunResult, error)
	// Destroy stops and removes the sandbox. Failures wrap ErrNotStopped or
	// ErrNotDestroyed.
	Destroy(ctx context.Context) error
}

// Factory creates sandboxes.
type Factory interface {
	Create(ctx context.Context, spec Spec) (Handle, error)
}
