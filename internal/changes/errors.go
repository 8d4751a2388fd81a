package changes

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed VCS query.
type ErrorKind int

const (
	// NotRepository means the working directory is not under version control.
	NotRepository ErrorKind = iota + 1
	// NoHistory means the requested revision does not exist, e.g. HEAD~1 on
	// a repository with a single commit.
	NoHistory
	// Invocation covers everything else: the tool is missing, timed out or
	// failed for an unrecognized reason.
	Invocation
)

func (k ErrorKind) String() string {
	switch k {
	case NotRepository:
		return "not a repository"
	case NoHistory:
		return "no history"
	case Invocation:
		return "invocation failed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by every Source.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
