// Package shell turns an interactive shell channel into a synchronous
// command/response call.
//
// An interactive shell gives no message boundaries and no exit status, so the
// end of a command is inferred from the stream itself. Two framings exist:
//
//   - [FramingPrompt] waits for the shell prompt ("~$ " or "~# ") to reappear.
//     Output that happens to end with a prompt suffix ends the read early.
//   - [FramingSentinel] wraps every command between two echoed random tokens
//     and also recovers the exit status.
//
// Reads are bounded by the caller's context and by an optional per-command
// timeout. A command that is abandoned mid-read leaves the stream in an
// unknown position, so every later call fails with [ErrDesynchronized].
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkSize is the largest single read from the shell stream.
const ChunkSize = 1024

// Framing selects how command boundaries are detected.
type Framing string

// Supported framings.
const (
	FramingPrompt   Framing = "prompt"
	FramingSentinel Framing = "sentinel"
)

// DefaultPromptSuffixes are the unprivileged and privileged home-directory prompts.
var DefaultPromptSuffixes = []string{"~$ ", "~# "}

// Sentinel errors for shell operations.
var (
	// ErrClosed is returned when the shell stream ends before a command completes.
	ErrClosed = errors.New("shell stream closed")

	// ErrDesynchronized is returned after an abandoned command; the stream position is unknown.
	ErrDesynchronized = errors.New("shell stream desynchronized by an abandoned command")
)

// ExitError reports a command that completed with a non-zero exit status.
// Only sentinel framing can observe exit statuses.
type ExitError struct {
	Command string
	Status  int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Command, e.Status)
}

// Protocol runs commands over a single interactive shell stream.
// Calls are serialized; the stream carries one command at a time.
type Protocol struct {
	w        io.Writer
	closer   io.Closer
	framing  Framing
	suffixes [][]byte
	timeout  time.Duration
	logger   *slog.Logger
	newToken func() string

	mu     sync.Mutex
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	broken bool

	// readErr is written by the pump before chunks is closed.
	readErr error
}

// Option is a functional option for configuring the Protocol.
type Option func(*Protocol)

// WithFraming selects the command framing (default FramingPrompt).
func WithFraming(f Framing) Option {
	return func(p *Protocol) {
		if f != "" {
			p.framing = f
		}
	}
}

// WithPromptSuffixes replaces the prompt suffixes recognized by FramingPrompt.
func WithPromptSuffixes(suffixes ...string) Option {
	return func(p *Protocol) {
		if len(suffixes) == 0 {
			return
		}
		p.suffixes = p.suffixes[:0]
		for _, s := range suffixes {
			p.suffixes = append(p.suffixes, []byte(s))
		}
	}
}

// WithCommandTimeout bounds every command. Zero leaves only the caller's context.
func WithCommandTimeout(d time.Duration) Option {
	return func(p *Protocol) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New starts reading from stream and returns a Protocol writing to it.
// If stream implements io.Closer, Close closes it.
func New(stream io.ReadWriter, opts ...Option) *Protocol {
	p := &Protocol{
		w:        stream,
		framing:  FramingPrompt,
		logger:   slog.Default(),
		newToken: newToken,
		chunks:   make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	for _, s := range DefaultPromptSuffixes {
		p.suffixes = append(p.suffixes, []byte(s))
	}
	if c, ok := stream.(io.Closer); ok {
		p.closer = c
	}

	for _, opt := range opts {
		opt(p)
	}

	go p.pump(stream)

	return p
}

// Framing returns the configured framing.
func (p *Protocol) Framing() Framing {
	return p.framing
}

// Drain consumes the login banner and first prompt so the stream is
// positioned for the first command.
func (p *Protocol) Drain(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken {
		return ErrDesynchronized
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	if p.framing == FramingSentinel {
		tok := p.newToken()
		if err := p.write("echo " + tok + "\n"); err != nil {
			return err
		}
		_, err := p.readUntil(ctx, func(b []byte) bool {
			return hasLine(b, tok)
		})
		return err
	}

	_, err := p.readUntil(ctx, p.endsWithPrompt)
	return err
}

// Execute runs command and returns its captured output.
func (p *Protocol) Execute(ctx context.Context, command string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken {
		return "", ErrDesynchronized
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	p.logger.Debug("executing shell command",
		slog.String("command", command),
		slog.String("framing", string(p.framing)),
	)

	if p.framing == FramingSentinel {
		return p.executeSentinel(ctx, command)
	}
	return p.executePrompt(ctx, command)
}

// Close stops the read pump and closes the underlying stream if it can be closed.
// Safe to call multiple times.
func (p *Protocol) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		if p.closer != nil {
			err = p.closer.Close()
		}
	})
	return err
}

func (p *Protocol) executePrompt(ctx context.Context, command string) (string, error) {
	if err := p.write(command + "\n"); err != nil {
		return "", err
	}

	raw, err := p.readUntil(ctx, p.endsWithPrompt)
	if err != nil {
		return "", err
	}

	return parsePromptOutput(string(raw), p.suffixes), nil
}

func (p *Protocol) executeSentinel(ctx context.Context, command string) (string, error) {
	tok := p.newToken()
	command = strings.TrimSpace(command)

	if err := p.write(sentinelWrap(tok, command)); err != nil {
		return "", err
	}

	var (
		output string
		status int
	)
	_, err := p.readUntil(ctx, func(b []byte) bool {
		var ok bool
		output, status, ok = parseSentinelOutput(string(b), tok)
		return ok
	})
	if err != nil {
		return "", err
	}

	if status != 0 {
		return output, &ExitError{Command: command, Status: status, Output: output}
	}
	return output, nil
}

// sentinelWrap puts command on its own lines inside a brace group, so a
// trailing comment, a trailing & or a multi-line script cannot swallow the
// closing sentinel. The group is one compound command: an interactive shell
// prints no prompt between the two sentinels.
func sentinelWrap(tok, command string) string {
	if command == "" {
		command = ":"
	}
	return "echo " + tok + "; {\n" + command + "\n}; echo " + tok + " $?\n"
}

func (p *Protocol) write(s string) error {
	if _, err := io.WriteString(p.w, s); err != nil {
		return fmt.Errorf("writing to shell: %w", err)
	}
	return nil
}

// readUntil accumulates stream data until complete reports true.
func (p *Protocol) readUntil(ctx context.Context, complete func([]byte) bool) ([]byte, error) {
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			p.broken = true
			return nil, fmt.Errorf("waiting for shell output: %w", ctx.Err())
		case chunk, ok := <-p.chunks:
			if !ok {
				p.broken = true
				if p.readErr != nil && !errors.Is(p.readErr, io.EOF) {
					return nil, fmt.Errorf("%w: %w", ErrClosed, p.readErr)
				}
				return nil, ErrClosed
			}
			buf.Write(chunk)
			if complete(buf.Bytes()) {
				return buf.Bytes(), nil
			}
		}
	}
}

func (p *Protocol) pump(r io.Reader) {
	defer close(p.chunks)
	for {
		buf := make([]byte, ChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case p.chunks <- buf[:n]:
			case <-p.done:
				return
			}
		}
		if err != nil {
			p.readErr = err
			return
		}
	}
}

func (p *Protocol) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Protocol) endsWithPrompt(b []byte) bool {
	for _, s := range p.suffixes {
		if bytes.HasSuffix(b, s) {
			return true
		}
	}
	return false
}

func newToken() string {
	return "hd_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
