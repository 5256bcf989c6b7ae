package sshutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/sftp"
)

// SFTPFileSystem performs remote file operations over one SFTP session.
type SFTPFileSystem struct {
	client *Client
	logger *slog.Logger

	mu         sync.RWMutex
	sftpClient *sftp.Client
}

// SFTPOption is a functional option for configuring the SFTPFileSystem.
type SFTPOption func(*SFTPFileSystem)

// WithSFTPLogger sets a custom logger for SFTP operations.
func WithSFTPLogger(logger *slog.Logger) SFTPOption {
	return func(fs *SFTPFileSystem) {
		if logger != nil {
			fs.logger = logger
		}
	}
}

// NewSFTPFileSystem creates a new SFTP-based file system.
// The underlying SSH client must be connected before use.
func NewSFTPFileSystem(client *Client, opts ...SFTPOption) *SFTPFileSystem {
	fs := &SFTPFileSystem{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(fs)
	}

	return fs
}

// Connect establishes the SFTP session over the SSH connection.
// The SSH client must be connected before calling this method.
func (fs *SFTPFileSystem) Connect(_ context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient != nil {
		return nil
	}

	sshConn, err := fs.client.GetConnection()
	if err != nil {
		return fmt.Errorf("getting SSH connection: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		return fmt.Errorf("creating SFTP client: %w", err)
	}

	fs.sftpClient = sftpClient
	fs.logger.Debug("SFTP session established")

	return nil
}

// Close closes the SFTP session.
// Safe to call multiple times. Does not close the underlying SSH connection.
func (fs *SFTPFileSystem) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.sftpClient == nil {
		return nil
	}

	err := fs.sftpClient.Close()
	fs.sftpClient = nil

	fs.logger.Debug("SFTP session closed")

	return err
}

func (fs *SFTPFileSystem) getSFTP() (*sftp.Client, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.sftpClient == nil {
		return nil, ErrNotConnected
	}

	return fs.sftpClient, nil
}

// Create creates or truncates the remote file at path for writing.
// A missing parent directory yields an error matching fs.ErrNotExist.
func (fs *SFTPFileSystem) Create(path string) (io.WriteCloser, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	fs.logger.Debug("creating file", slog.String("path", path))

	file, err := sftpClient.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, normalizeError(err))
	}

	return file, nil
}

// Open opens the remote file at path for reading.
func (fs *SFTPFileSystem) Open(path string) (io.ReadCloser, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	fs.logger.Debug("opening file", slog.String("path", path))

	file, err := sftpClient.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, normalizeError(err))
	}

	return file, nil
}

// ReadFile reads the contents of a file from the remote system.
func (fs *SFTPFileSystem) ReadFile(path string) ([]byte, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}

	fs.logger.Debug("file read",
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)

	return data, nil
}

// Mkdir creates a single directory. The parent must exist.
func (fs *SFTPFileSystem) Mkdir(path string) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}

	fs.logger.Debug("creating directory", slog.String("path", path))

	if err := sftpClient.Mkdir(path); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, normalizeError(err))
	}

	return nil
}

// Stat returns file info for a path on the remote system.
func (fs *SFTPFileSystem) Stat(path string) (iofs.FileInfo, error) {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return nil, err
	}

	info, err := sftpClient.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, normalizeError(err))
	}

	return info, nil
}

// Remove removes a file or empty directory from the remote system.
func (fs *SFTPFileSystem) Remove(path string) error {
	sftpClient, err := fs.getSFTP()
	if err != nil {
		return err
	}

	fs.logger.Debug("removing path", slog.String("path", path))

	if err := sftpClient.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, normalizeError(err))
	}

	return nil
}

// normalizeError maps SFTP status codes that the client leaves raw onto the
// io/fs sentinel errors.
func normalizeError(err error) error {
	var status *sftp.StatusError
	if !errors.As(err, &status) {
		return err
	}

	switch status.Code {
	case uint32(sftp.ErrSSHFxNoSuchFile):
		return fmt.Errorf("%w: %w", iofs.ErrNotExist, err)
	case uint32(sftp.ErrSSHFxPermissionDenied):
		return fmt.Errorf("%w: %w", iofs.ErrPermission, err)
	}

	return err
}
