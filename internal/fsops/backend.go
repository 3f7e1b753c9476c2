// Package fsops provides low-level stat/mkdir/unlink/copy/move primitives
// abstracted from the index, following the teacher's storage.Storage
// interface (storage/storage.go) generalized with write operations.
package fsops

import (
	"io"
	"time"
)

// Info describes one filesystem entry.
type Info struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Backend is the set of primitives the mutation engine and watcher use to
// touch the real filesystem. The index store never calls a Backend
// directly; it only patches in-memory state from results the caller hands
// it. Every method reports failure as a *canopyerr.Error.
type Backend interface {
	// Stat returns info for a real path.
	Stat(real string) (Info, error)

	// Mkdir creates a directory. If recursive, missing parents are
	// created too (mode 0755).
	Mkdir(real string, recursive bool) error

	// Rm removes a single file.
	Rm(real string) error

	// Rmdir removes a directory. If recursive, its contents are removed
	// too; otherwise a non-empty directory yields NotEmpty.
	Rmdir(real string, recursive bool) error

	// Rename moves src to dst, falling back to copy+unlink across
	// devices. A failure inside that fallback is reported with the kind
	// of the copy or removal step that failed.
	Rename(src, dst string) error

	// CopyFile copies a single file, preserving no metadata beyond
	// content.
	CopyFile(src, dst string) error

	// CopyDir recursively copies a directory tree.
	CopyDir(src, dst string) error

	// OpenWrite truncates (or creates) real for writing.
	OpenWrite(real string) (io.WriteCloser, error)

	// List returns the immediate children of a directory.
	List(real string) ([]Info, error)
}
