package sshutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout bounds the TCP dial plus the SSH handshake.
	DefaultSSHTimeout = 30 * time.Second

	// DefaultKeepaliveInterval is used when Config.KeepaliveInterval is zero.
	DefaultKeepaliveInterval = 15 * time.Second
)

// Config validation errors. Validate joins every one that applies.
var (
	ErrMissingHost    = errors.New("host is required")
	ErrMissingUser    = errors.New("user is required")
	ErrMissingKeyFile = errors.New("key_file is required")
	ErrInvalidPort    = errors.New("port must be between 0 and 65535")
	ErrInvalidTimeout = errors.New("timeout must be non-negative")
)

// Config describes the SSH connection to one deployment host.
type Config struct {
	Host string
	Port int // 0 means DefaultSSHPort
	User string

	// KeyFile is the private key used for public key auth. KeyPassphrase
	// decrypts it when set.
	KeyFile       string
	KeyPassphrase string

	// KnownHostsFile verifies the server's host key. Empty disables
	// verification.
	KnownHostsFile string

	// Timeout bounds dial and handshake. Zero means DefaultSSHTimeout.
	Timeout time.Duration

	// KeepaliveInterval between keepalive@openssh.com requests. Zero means
	// DefaultKeepaliveInterval, negative disables keepalives.
	KeepaliveInterval time.Duration
}

// Validate reports every missing or out-of-range field.
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, ErrMissingHost)
	}
	if c.User == "" {
		errs = append(errs, ErrMissingUser)
	}
	if c.KeyFile == "" {
		errs = append(errs, ErrMissingKeyFile)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrInvalidPort, c.Port))
	}
	if c.Timeout < 0 {
		errs = append(errs, ErrInvalidTimeout)
	}

	return errors.Join(errs...)
}

// Address returns host:port, bracketing IPv6 literals.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ConnectTimeout returns Timeout or DefaultSSHTimeout.
func (c *Config) ConnectTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultSSHTimeout
}

// Keepalive returns the keepalive interval and whether keepalives run.
func (c *Config) Keepalive() (time.Duration, bool) {
	switch {
	case c.KeepaliveInterval < 0:
		return 0, false
	case c.KeepaliveInterval == 0:
		return DefaultKeepaliveInterval, true
	default:
		return c.KeepaliveInterval, true
	}
}
