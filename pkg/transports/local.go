package transports

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// LocalTransport executes against the machine converge itself runs on.
type LocalTransport struct{}

// NewLocalTransport creates a transport for the local host.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// Run executes a command locally.
func (t *LocalTransport) Run(ctx context.Context, name string, args ...string) (*ExecResult, error) {
	started := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, &TransportError{Op: "run", Err: err}
	}

	return result, nil
}

// ReadFile returns the contents of a local file.
func (t *LocalTransport) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &TransportError{Op: "read-file", Err: err}
	}
	return data, nil
}

// WriteFile writes a local file, creating parent directories as needed.
func (t *LocalTransport) WriteFile(_ context.Context, path string, content []byte, mode fs.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &TransportError{Op: "write-file", Err: err}
		}
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return &TransportError{Op: "write-file", Err: err}
	}
	// WriteFile does not change the mode of an existing file
	if err := os.Chmod(path, mode); err != nil {
		return &TransportError{Op: "write-file", Err: err}
	}
	return nil
}

// Remove deletes a local file. A missing file is not an error.
func (t *LocalTransport) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &TransportError{Op: "remove", Err: err}
	}
	return nil
}

// Stat describes a local file.
func (t *LocalTransport) Stat(_ context.Context, path string) (*FileInfo, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &FileInfo{Exists: false}, nil
	}
	if err != nil {
		return nil, &TransportError{Op: "stat", Err: err}
	}

	info := &FileInfo{
		Exists: true,
		Mode:   fi.Mode().Perm(),
		Size:   fi.Size(),
		IsDir:  fi.IsDir(),
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		info.UID = int(st.Uid)
		info.GID = int(st.Gid)
	}
	return info, nil
}

// Close is a no-op for the local transport.
func (t *LocalTransport) Close() error {
	return nil
}
