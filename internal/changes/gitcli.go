package changes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// GitCLI queries the git executable.
type GitCLI struct {
	Dir     string
	Timeout time.Duration
}

func (g *GitCLI) DiffAgainstParent(ctx context.Context) ([]string, error) {
	return g.lines(ctx, "diff", "--name-only", "-z", "HEAD~1")
}

func (g *GitCLI) LastCommitFiles(ctx context.Context) ([]string, error) {
	return g.lines(ctx, "show", "--name-only", "-z", "--pretty=format:")
}

func (g *GitCLI) TrackedFiles(ctx context.Context) ([]string, error) {
	return g.lines(ctx, "ls-files", "-z")
}

// lines runs a -z query and splits its NUL-terminated paths, which git
// leaves unquoted.
func (g *GitCLI) lines(ctx context.Context, args ...string) ([]string, error) {
	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range strings.Split(string(out), "\x00") {
		if entry = strings.Trim(entry, "\n"); entry != "" {
			files = append(files, entry)
		}
	}
	return files, nil
}

func (g *GitCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-c", "core.quotePath=false"}, args...)...)
	cmd.Dir = g.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	op := "git " + args[0]
	if err := cmd.Run(); err != nil {
		stderrText := strings.TrimSpace(stderr.String())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Kind: Invocation, Op: op, Err: fmt.Errorf("timed out after %s", timeout)}
		}
		return nil, &Error{Kind: classifyStderr(stderrText), Op: op, Err: gitCommandError(err, stderrText)}
	}
	return stdout.Bytes(), nil
}

func classifyStderr(stderr string) ErrorKind {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "not a git repository"):
		return NotRepository
	case strings.Contains(s, "unknown revision"),
		strings.Contains(s, "bad revision"),
		strings.Contains(s, "does not have any commits"),
		strings.Contains(s, "bad default revision"):
		return NoHistory
	default:
		return Invocation
	}
}

func gitCommandError(err error, stderr string) error {
	if stderr != "" {
		return errors.New(stderr)
	}
	return err
}
