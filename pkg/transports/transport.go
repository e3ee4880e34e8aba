// Package transports provides command execution and file access on the
// target host, either locally or over SSH.
package transports

import (
	"context"
	"io/fs"
	"time"
)

// Transport runs commands and moves files on the host being converged.
// Adapters never touch the OS directly; everything goes through a
// Transport so the same adapter works locally and over SSH.
type Transport interface {
	// Run executes a command. A non-zero exit code is reported in the
	// result, not as an error; the error is reserved for transport
	// failures (connection loss, command not found on the wire).
	Run(ctx context.Context, name string, args ...string) (*ExecResult, error)

	// ReadFile returns the contents of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes a file with the given mode, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, content []byte, mode fs.FileMode) error

	// Remove deletes a file. Removing a missing file is not an error.
	Remove(ctx context.Context, path string) error

	// Stat describes a file. A missing file yields Exists=false, not an
	// error.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Close releases the transport's resources.
	Close() error
}

// ExecResult is the outcome of one command execution.
type ExecResult struct {
	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the command's exit code.
	ExitCode int

	// Duration is the total execution time.
	Duration time.Duration
}

// FileInfo describes a file on the target host.
type FileInfo struct {
	// Exists reports whether the path exists.
	Exists bool

	// Mode is the file's permission bits.
	Mode fs.FileMode

	// Size is the file size in bytes.
	Size int64

	// UID is the numeric owner.
	UID int

	// GID is the numeric group.
	GID int

	// IsDir reports whether the path is a directory.
	IsDir bool
}

// TransportError wraps a failure in the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g. "run", "write-file").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the error may succeed on retry.
	IsTemporary bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
