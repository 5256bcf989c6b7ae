package sshutil

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// DefaultTerminal is the PTY terminal type requested for interactive shells.
// "dumb" keeps the remote side from emitting color or cursor escapes.
const DefaultTerminal = "dumb"

// ShellChannel is an interactive shell running on a PTY.
// Stdout and stderr arrive merged on Read.
type ShellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// OpenShell starts an interactive login shell on a new PTY channel.
// An empty term selects DefaultTerminal.
func OpenShell(client *Client, term string) (*ShellChannel, error) {
	if term == "" {
		term = DefaultTerminal
	}

	conn, err := client.GetConnection()
	if err != nil {
		return nil, fmt.Errorf("getting SSH connection: %w", err)
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("creating SSH session: %w", err)
	}

	sh, err := startShell(session, term)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	client.logger.Debug("interactive shell opened")

	return sh, nil
}

func startShell(session *ssh.Session, term string) (*ShellChannel, error) {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, 0, 0, modes); err != nil {
		return nil, fmt.Errorf("requesting pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening shell stdin: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening shell stdout: %w", err)
	}

	if err := session.Shell(); err != nil {
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return &ShellChannel{session: session, stdin: stdin, stdout: stdout}, nil
}

// Read reads shell output.
func (s *ShellChannel) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Write sends input to the shell.
func (s *ShellChannel) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close closes the shell channel. Pending reads return io.EOF.
func (s *ShellChannel) Close() error {
	_ = s.stdin.Close()
	err := s.session.Close()
	if err == io.EOF {
		return nil
	}
	return err
}
