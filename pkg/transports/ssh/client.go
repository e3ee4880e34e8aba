// Package ssh provides the SSH implementation of the transport layer.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/convergekit/converge/pkg/transports"
)

// Client implements transports.Transport over an SSH connection, using
// SFTP for file operations.
type Client struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	sftpClient  *sftp.Client
	isConnected bool
	connectedAt time.Time
}

// NewClient creates an SSH transport client. Connect must be called
// before use.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection and the SFTP session over it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheckLocked(); err == nil {
			return nil
		}
		log.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &transports.TransportError{Op: "connect", Err: err}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &transports.TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return &transports.TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connChan:
		sftpClient, err := sftp.NewClient(client)
		if err != nil {
			_ = client.Close()
			return &transports.TransportError{Op: "connect", Err: err}
		}

		c.client = client
		c.sftpClient = sftpClient
		c.isConnected = true
		c.connectedAt = time.Now()

		if c.config.KeepAliveInterval > 0 {
			go c.keepAlive()
		}

		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Run executes a command on the remote host. A non-zero exit code is
// reported in the result, not as an error.
func (c *Client) Run(ctx context.Context, name string, args ...string) (*transports.ExecResult, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &transports.TransportError{Op: "run", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	cmd := buildCommandLine(name, args)
	started := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, &transports.TransportError{Op: "run", Err: ctx.Err(), IsTemporary: true}
	case err := <-done:
		result := &transports.ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(started),
		}
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, &transports.TransportError{Op: "run", Err: err, IsTemporary: true}
		}
		return result, nil
	}
}

// ReadFile returns the contents of a remote file via SFTP.
func (c *Client) ReadFile(_ context.Context, filePath string) ([]byte, error) {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return nil, err
	}

	f, err := sftpClient.Open(filePath)
	if err != nil {
		return nil, &transports.TransportError{Op: "read-file", Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, &transports.TransportError{Op: "read-file", Err: err}
	}
	return buf.Bytes(), nil
}

// WriteFile writes a remote file via SFTP, creating parent directories
// as needed.
func (c *Client) WriteFile(_ context.Context, filePath string, content []byte, mode fs.FileMode) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}

	if dir := path.Dir(filePath); dir != "" && dir != "." {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &transports.TransportError{Op: "write-file", Err: err}
		}
	}

	f, err := sftpClient.Create(filePath)
	if err != nil {
		return &transports.TransportError{Op: "write-file", Err: err}
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return &transports.TransportError{Op: "write-file", Err: err}
	}
	if err := f.Close(); err != nil {
		return &transports.TransportError{Op: "write-file", Err: err}
	}

	if err := sftpClient.Chmod(filePath, mode); err != nil {
		return &transports.TransportError{Op: "write-file", Err: err}
	}
	return nil
}

// Remove deletes a remote file. A missing file is not an error.
func (c *Client) Remove(_ context.Context, filePath string) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}
	if err := sftpClient.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return &transports.TransportError{Op: "remove", Err: err}
	}
	return nil
}

// Stat describes a remote file.
func (c *Client) Stat(_ context.Context, filePath string) (*transports.FileInfo, error) {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return nil, err
	}

	fi, err := sftpClient.Stat(filePath)
	if os.IsNotExist(err) {
		return &transports.FileInfo{Exists: false}, nil
	}
	if err != nil {
		return nil, &transports.TransportError{Op: "stat", Err: err}
	}

	info := &transports.FileInfo{
		Exists: true,
		Mode:   fi.Mode().Perm(),
		Size:   fi.Size(),
		IsDir:  fi.IsDir(),
	}
	if st, ok := fi.Sys().(*sftp.FileStat); ok {
		info.UID = int(st.UID)
		info.GID = int(st.GID)
	}
	return info, nil
}

// Close closes the SFTP session and the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	if c.sftpClient != nil {
		_ = c.sftpClient.Close()
		c.sftpClient = nil
	}

	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	c.isConnected = false

	if err != nil {
		return &transports.TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(_ context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &transports.TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.healthCheckLocked()
}

func (c *Client) healthCheckLocked() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &transports.TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &transports.TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// keepAlive sends periodic keep-alive messages on the connection.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.RLock()
		client := c.client
		connected := c.isConnected
		c.mu.RUnlock()

		if !connected || client == nil {
			return
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			log.Warn().Err(err).Msg("keep-alive failed")
			return
		}
	}
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &transports.TransportError{Op: "run", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) getSFTP() (*sftp.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isConnected || c.sftpClient == nil {
		return nil, &transports.TransportError{Op: "sftp", Err: fmt.Errorf("not connected")}
	}
	return c.sftpClient, nil
}

// buildCommandLine quotes the command and arguments for the remote shell.
func buildCommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
