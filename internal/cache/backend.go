package cache

import "errors"

var (
	// ErrNotFound is returned by a Backend when a record does not exist.
	ErrNotFound = errors.New("cache record not found")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("cache record corrupt")
)

// Backend stores opaque records grouped into namespaces.
// Implementations must make Put atomic with respect to Get: a reader
// observes either the previous record or the new one, never a partial write.
type Backend interface {
	Get(ns, name string) ([]byte, error)
	Put(ns, name string, data []byte) error
	List(ns string) ([]string, error)
	Clear() error
	Close() error
}
