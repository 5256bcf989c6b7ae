package sshutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/ssh"

	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
)

// CommandResult holds the result of a command execution.
type CommandResult struct {
	// ExitCode is the exit status of the command.
	ExitCode int

	// Stdout is the standard output of the command.
	Stdout string

	// Stderr is the standard error of the command.
	Stderr string
}

// SSHCommandRunner runs each command on its own exec channel.
// Unlike an interactive shell it needs no output framing and reports the
// real exit status, but no shell state carries over between commands.
type SSHCommandRunner struct {
	client *Client
	logger *slog.Logger
}

// CommandRunnerOption is a functional option for configuring the SSHCommandRunner.
type CommandRunnerOption func(*SSHCommandRunner)

// WithCommandLogger sets a custom logger for command execution.
func WithCommandLogger(logger *slog.Logger) CommandRunnerOption {
	return func(cr *SSHCommandRunner) {
		if logger != nil {
			cr.logger = logger
		}
	}
}

// NewSSHCommandRunner creates a new exec-based command runner.
// The underlying SSH client must be connected before use.
func NewSSHCommandRunner(client *Client, opts ...CommandRunnerOption) *SSHCommandRunner {
	cr := &SSHCommandRunner{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(cr)
	}

	return cr
}

// Execute runs command and returns its standard output without the final
// newline. A non-zero exit status is reported as *shell.ExitError carrying
// the combined output.
func (cr *SSHCommandRunner) Execute(ctx context.Context, command string) (string, error) {
	result, err := cr.RunWithOutput(ctx, command)
	if err != nil {
		return "", err
	}

	out := strings.TrimSuffix(result.Stdout, "\n")
	if result.ExitCode != 0 {
		combined := strings.TrimSuffix(result.Stdout+result.Stderr, "\n")
		return out, &shell.ExitError{Command: command, Status: result.ExitCode, Output: combined}
	}

	return out, nil
}

// RunWithOutput executes a command and returns the full result including stdout/stderr.
// A non-zero exit status is not an error; check ExitCode.
func (cr *SSHCommandRunner) RunWithOutput(ctx context.Context, command string) (*CommandResult, error) {
	sshConn, err := cr.client.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("getting SSH connection: %w", err)
	}

	cr.logger.Debug("executing command",
		slog.String("command", command),
	)

	session, err := sshConn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case err := <-done:
		code, err := exitCode(err)
		if err != nil {
			return nil, fmt.Errorf("running command: %w", err)
		}

		result := &CommandResult{
			ExitCode: code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}

		cr.logger.Debug("command completed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
			slog.Int("stdout_len", len(result.Stdout)),
			slog.Int("stderr_len", len(result.Stderr)),
		)

		return result, nil
	}
}

// Close is a no-op; exec channels are closed after every command.
func (cr *SSHCommandRunner) Close() error {
	return nil
}

// exitCode separates a remote exit status from a transport failure.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	return 0, err
}
