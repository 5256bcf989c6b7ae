// Package session implements the per-host deployment session: a hashlist of
// deployed files, SFTP file transfer with directory bootstrap, and remote
// command execution.
//
// A Session is owned by one goroutine. Operations are synchronous and share
// the underlying channels, so they must not be called concurrently.
package session

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/local"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/hashlist"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/sshutil"
)

// FramingExec runs every command on its own exec channel instead of an
// interactive shell.
const FramingExec shell.Framing = "exec"

// Sentinel errors for session operations.
var (
	// ErrBootstrap is returned when the parent directories of an upload cannot be created.
	ErrBootstrap = errors.New("remote directory bootstrap failed")

	// ErrInvalidMode is returned for permission modes that are not 3 or 4 octal digits.
	ErrInvalidMode = errors.New("invalid octal file mode")
)

// Capabilities is the surface a deployment routine uses on one host.
type Capabilities interface {
	// Host returns the host name the session is connected to.
	Host() string

	SetHashlistPath(ctx context.Context, path string)
	UpdateHashlist(pair local.FilePair) error
	MatchesHashlist(pair local.FilePair) (bool, error)
	PurgeHashlist(ctx context.Context, keep []local.FilePair) error

	UploadFile(ctx context.Context, pair local.FilePair) error
	UploadIfRequired(ctx context.Context, pair local.FilePair) (bool, error)
	DownloadFile(ctx context.Context, pair local.FilePair) error
	DeleteFile(ctx context.Context, remotePath string) error
	SetFilePermissions(ctx context.Context, remotePath, octalMode string, useSudo bool) error

	StopService(ctx context.Context, name string) error
	StartService(ctx context.Context, name string) error

	ExecuteCustomCommand(ctx context.Context, command string) (string, error)
}

// FileTransfer is the remote file system used by a session.
// Missing paths must be reported with errors matching fs.ErrNotExist.
type FileTransfer interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Mkdir(path string) error
	Remove(path string) error
	Stat(path string) (fs.FileInfo, error)
	Close() error
}

// Executor runs remote commands.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
	Close() error
}

// Session is a deployment session on one host.
type Session struct {
	host    string
	files   FileTransfer
	exec    Executor
	conn    io.Closer
	logger  *slog.Logger
	verbose bool
	timeout time.Duration

	store        *hashlist.Store
	hashlistPath string
	dirty        bool
	closed       bool
}

var _ Capabilities = (*Session)(nil)

type options struct {
	logger            *slog.Logger
	verbose           bool
	framing           shell.Framing
	promptSuffixes    []string
	commandTimeout    time.Duration
	connectTimeout    time.Duration
	keepaliveInterval time.Duration
}

// Option is a functional option for configuring a Session.
type Option func(*options)

// WithLogger sets a custom logger. The session adds a host attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithVerbose controls whether progress messages are logged at Info (true,
// the default) or Debug.
func WithVerbose(verbose bool) Option {
	return func(o *options) {
		o.verbose = verbose
	}
}

// WithFraming selects how commands are framed: shell.FramingPrompt (default),
// shell.FramingSentinel or FramingExec.
func WithFraming(f shell.Framing) Option {
	return func(o *options) {
		if f != "" {
			o.framing = f
		}
	}
}

// WithPromptSuffixes overrides the prompt suffixes for shell.FramingPrompt.
func WithPromptSuffixes(suffixes ...string) Option {
	return func(o *options) {
		o.promptSuffixes = suffixes
	}
}

// WithCommandTimeout bounds every remote command. Zero disables the bound.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		o.commandTimeout = d
	}
}

// WithConnectTimeout bounds the SSH dial and handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithKeepaliveInterval sets the SSH keepalive interval. Zero disables
// keepalives.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(o *options) {
		o.keepaliveInterval = d
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:            slog.Default(),
		verbose:           true,
		framing:           shell.FramingPrompt,
		keepaliveInterval: sshutil.DefaultKeepaliveInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New returns a session for host over already-connected channels.
// Dial is the usual constructor; New is for custom transports.
func New(host string, files FileTransfer, exec Executor, opts ...Option) *Session {
	o := buildOptions(opts)
	return newSession(host, files, exec, o)
}

func newSession(host string, files FileTransfer, exec Executor, o *options) *Session {
	return &Session{
		host:    host,
		files:   files,
		exec:    exec,
		logger:  o.logger.With(slog.String("host", host)),
		verbose: o.verbose,
		timeout: o.commandTimeout,
		store:   hashlist.New(),
	}
}

// Host returns the host name.
func (s *Session) Host() string {
	return s.host
}

// Close releases the command executor, the file transfer channel and the
// connection, in that order. Safe to call multiple times.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.exec != nil {
		errs = append(errs, s.exec.Close())
	}
	if s.files != nil {
		errs = append(errs, s.files.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}

	s.logger.Debug("session closed")

	return errors.Join(errs...)
}

// narrate logs a progress message, at Info when verbose and Debug otherwise.
func (s *Session) narrate(msg string, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if s.verbose {
		level = slog.LevelInfo
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
