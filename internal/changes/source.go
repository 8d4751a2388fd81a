// Package changes determines which files a change touches, falling back
// through progressively broader VCS queries when the narrow ones fail.
package changes

import (
	"context"
	"fmt"
	"time"
)

// Source answers the three VCS queries the detector relies on. Paths are
// repository-relative with '/' separators.
type Source interface {
	// DiffAgainstParent lists files that differ between the working tree
	// and the parent of HEAD.
	DiffAgainstParent(ctx context.Context) ([]string, error)
	// LastCommitFiles lists files touched by the HEAD commit.
	LastCommitFiles(ctx context.Context) ([]string, error)
	// TrackedFiles lists every file in the index.
	TrackedFiles(ctx context.Context) ([]string, error)
}

const (
	BackendGit   = "git"
	BackendGoGit = "go-git"
)

// DefaultTimeout bounds each VCS query.
const DefaultTimeout = 10 * time.Second

// NewSource returns the Source implementation named by backend.
func NewSource(backend, dir string, timeout time.Duration) (Source, error) {
	switch backend {
	case "", BackendGit:
		return &GitCLI{Dir: dir, Timeout: timeout}, nil
	case BackendGoGit:
		return &GoGit{Dir: dir}, nil
	default:
		return nil, fmt.Errorf("unknown vcs backend %q", backend)
	}
}
