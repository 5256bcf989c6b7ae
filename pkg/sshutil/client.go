package sshutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Sentinel errors for SSH operations.
var (
	// ErrNotConnected is returned when an operation is attempted on a disconnected client.
	ErrNotConnected = errors.New("ssh client is not connected")

	// ErrAlreadyConnected is returned when Connect is called on an already connected client.
	ErrAlreadyConnected = errors.New("ssh client is already connected")

	// ErrAuthenticationFailed is returned when SSH authentication fails.
	ErrAuthenticationFailed = errors.New("ssh authentication failed")

	// ErrConnectionTimeout is returned when the connection times out.
	ErrConnectionTimeout = errors.New("ssh connection timed out")

	// ErrHostKeyMismatch is returned when the server's host key fails known_hosts verification.
	ErrHostKeyMismatch = errors.New("ssh host key verification failed")
)

// Client manages a single SSH connection to one host.
type Client struct {
	config *Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *ssh.Client
	cancel context.CancelFunc // stops the keepalive loop
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger for the SSH client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new SSH client with the given configuration.
// The client is not connected until Connect() is called.
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		config: config,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Connect dials the server, authenticates and starts the keepalive loop.
// If already connected, returns ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	sshConfig, err := c.buildSSHConfig()
	if err != nil {
		return fmt.Errorf("building SSH config: %w", err)
	}

	c.logger.Debug("connecting to SSH server",
		slog.String("address", c.config.Address()),
		slog.String("user", c.config.User),
	)

	timeout := c.config.ConnectTimeout()
	dialCtx, dialCancel := context.WithTimeout(ctx, timeout)
	defer dialCancel()

	dialer := &net.Dialer{
		Timeout: timeout,
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", c.config.Address())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrConnectionTimeout
		}
		return fmt.Errorf("dialing %s: %w", c.config.Address(), err)
	}

	// The handshake itself is not context-aware; bound it with a deadline.
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	// Record verification failures; the handshake error does not always carry them.
	var hostKeyErr error
	verify := sshConfig.HostKeyCallback
	sshConfig.HostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := verify(hostname, remote, key); err != nil {
			hostKeyErr = err
			return err
		}
		return nil
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, c.config.Address(), sshConfig)
	if err != nil {
		_ = netConn.Close()
		switch {
		case hostKeyErr != nil:
			return fmt.Errorf("%w: %w", ErrHostKeyMismatch, hostKeyErr)
		case isAuthError(err):
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return fmt.Errorf("SSH handshake failed: %w", err)
	}
	_ = netConn.SetDeadline(time.Time{})

	c.conn = ssh.NewClient(sshConn, chans, reqs)

	if interval, ok := c.config.Keepalive(); ok {
		keepaliveCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.keepalive(keepaliveCtx, c.conn, interval)
	}

	c.logger.Debug("SSH connection established",
		slog.String("address", c.config.Address()),
	)

	return nil
}

// Close closes the SSH connection.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	c.logger.Debug("SSH connection closed",
		slog.String("address", c.config.Address()),
	)

	return err
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// GetConnection returns the underlying SSH client connection.
// Returns ErrNotConnected if not connected.
// The connection should not be closed directly; use Client.Close() instead.
func (c *Client) GetConnection() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	return c.conn, nil
}

func (c *Client) buildSSHConfig() (*ssh.ClientConfig, error) {
	authMethods, err := c.buildAuthMethods()
	if err != nil {
		return nil, fmt.Errorf("building auth methods: %w", err)
	}

	hostKeyCallback, err := c.buildHostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("building host key callback: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.ConnectTimeout(),
	}, nil
}

// buildAuthMethods loads the private key file, decrypting it when a passphrase is set.
func (c *Client) buildAuthMethods() ([]ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(c.config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", c.config.KeyFile, err)
	}

	var signer ssh.Signer
	if c.config.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(c.config.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing key file %s: %w", c.config.KeyFile, err)
	}

	c.logger.Debug("added key file authentication",
		slog.String("key_file", c.config.KeyFile),
		slog.String("key_type", signer.PublicKey().Type()),
	)

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (c *Client) buildHostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsFile != "" {
		callback, err := knownhosts.New(c.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known_hosts %s: %w", c.config.KnownHostsFile, err)
		}
		return callback, nil
	}

	c.logger.Warn("host key verification disabled - no known_hosts file configured",
		slog.String("host", c.config.Host),
	)
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // no known_hosts configured
}

// keepalive sends periodic keepalive requests until ctx is cancelled.
func (c *Client) keepalive(ctx context.Context, conn *ssh.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := conn.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn("keepalive failed",
					slog.String("host", c.config.Host),
					slog.String("error", err.Error()),
				)
				// The next operation reports the broken connection.
				return
			}
		}
	}
}

// isAuthError checks if an error is an authentication-related error.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unable to authenticate") ||
		strings.Contains(errStr, "no supported methods") ||
		strings.Contains(errStr, "permission denied")
}
