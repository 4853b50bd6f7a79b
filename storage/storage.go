// Package storage defines the segmented key/value contract the VFS core
// talks to for durable state, and the errors common to every backend.
package storage

import (
	"errors"

	"github.com/nojaja/gitvfs/index"
)

// Segment names one of the four logical storage partitions. Values are the
// literal names used on disk / as key prefixes by concrete backends.
type Segment string

const (
	Workspace   Segment = "workspace"
	Base        Segment = "base"
	ConflictSeg Segment = "conflict"
	Info        Segment = "info"
)

// ErrNotFound is returned by ReadBlob when path has no blob in the
// requested segment (or, for the default form, in workspace or base).
var ErrNotFound = errors.New("storage: blob not found")

// File is one entry returned by ListFiles.
type File struct {
	Path string
	Info *index.Entry
}

// Backend is the segmented key/value contract a VFS instance is built on.
// Implementations are exclusive to one VFS instance and are not required to
// be safe for concurrent use by multiple goroutines; the VFS core itself
// serializes all calls it makes to a given Backend.
type Backend interface {
	// Init performs idempotent setup (e.g. creating root directories).
	Init() error

	// ReadBlob reads path. If segment is the empty string, it reads
	// workspace falling back to base, matching readFile's semantics.
	ReadBlob(path string, segment Segment) ([]byte, error)

	// WriteBlob writes content to path in segment and merges info into the
	// path's index entry (see index.Entry.Merge).
	WriteBlob(path string, content []byte, segment Segment, info index.Entry) error

	// DeleteBlob removes path from segment. If segment is the empty
	// string, it is removed from every segment.
	DeleteBlob(path string, segment Segment) error

	// ListFiles returns every tracked file whose path has the given
	// prefix (matched on whole path components; "" matches everything).
	// If segment is non-empty, only that segment's blobs are considered
	// for existence, but the returned Info always comes from the info
	// segment. If recursive is false, only direct children of prefix are
	// returned.
	ListFiles(prefix string, segment Segment, recursive bool) ([]File, error)

	// ReadIndex loads the aggregate index. A backend with no persisted
	// index yet returns a fresh, empty *index.Index and a nil error.
	ReadIndex() (*index.Index, error)

	// WriteIndex persists the aggregate index. The VFS core always calls
	// this last within an operation, so a crash mid-operation leaves
	// storage recoverable to the last durable index.
	WriteIndex(*index.Index) error
}

// Capability is implemented by backend packages exposing static lifecycle
// probes, independent of any particular instance.
type Capability interface {
	CanUse() bool
	AvailableRoots() ([]string, error)
	Delete(root string) error
}
