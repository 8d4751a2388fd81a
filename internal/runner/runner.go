// Package runner executes batches of selected tests.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ErrTimeout is wrapped by Execute when the context deadline expires.
var ErrTimeout = errors.New("test execution timed out")

// Outcome reports how a batch ran.
type Outcome struct {
	Elapsed time.Duration
	Passed  bool
}

// Executor runs a batch of tests.
type Executor interface {
	Execute(ctx context.Context, tests []string) (Outcome, error)
}

// DefaultPerTest is the simulated cost of one test.
const DefaultPerTest = 500 * time.Millisecond

// Simulated stands in for a real runner by waiting PerTest for every test.
type Simulated struct {
	PerTest time.Duration
}

func (s Simulated) Execute(ctx context.Context, tests []string) (Outcome, error) {
	start := time.Now()
	wait := s.PerTest * time.Duration(len(tests))
	if wait <= 0 {
		return Outcome{Elapsed: time.Since(start), Passed: true}, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return Outcome{Elapsed: time.Since(start), Passed: true}, nil
	case <-ctx.Done():
		return Outcome{Elapsed: time.Since(start)}, ctxError(ctx)
	}
}

// Command runs an external test runner with the test IDs appended to Args.
type Command struct {
	Args   []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) Execute(ctx context.Context, tests []string) (Outcome, error) {
	if len(c.Args) == 0 {
		return Outcome{}, errors.New("no test command configured")
	}
	start := time.Now()
	if len(tests) == 0 {
		return Outcome{Elapsed: time.Since(start), Passed: true}, nil
	}

	args := append(append([]string(nil), c.Args[1:]...), tests...)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stdout = c.Stdout
	cmd.Stderr = &stderr
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, c.Stderr)
	}

	err := cmd.Run()
	out := Outcome{Elapsed: time.Since(start), Passed: err == nil}
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctxError(ctx)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, nil
	}
	return out, fmt.Errorf("running %s: %w", c.Args[0], err)
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
	return ctx.Err()
}
