package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
)

// Command kinds used as metric labels.
const (
	kindChmod   = "chmod"
	kindService = "service"
	kindCustom  = "custom"
)

var octalMode = regexp.MustCompile(`^[0-7]{3,4}$`)

// SetFilePermissions runs chmod on remotePath, through sudo when useSudo is set.
func (s *Session) SetFilePermissions(ctx context.Context, remotePath, mode string, useSudo bool) error {
	if !octalMode.MatchString(mode) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	command := "chmod " + mode + " " + shell.Quote(remotePath)
	if useSudo {
		command = "sudo " + command
	}

	s.narrate("setting permissions",
		slog.String("path", remotePath),
		slog.String("mode", mode),
	)

	_, err := s.run(ctx, kindChmod, command)
	return err
}

// StopService stops a systemd unit.
func (s *Session) StopService(ctx context.Context, name string) error {
	if _, err := s.run(ctx, kindService, "sudo systemctl stop "+shell.Quote(name)); err != nil {
		return err
	}
	s.narrate("stopped service", slog.String("service", name))
	return nil
}

// StartService starts a systemd unit.
func (s *Session) StartService(ctx context.Context, name string) error {
	if _, err := s.run(ctx, kindService, "sudo systemctl start "+shell.Quote(name)); err != nil {
		return err
	}
	s.narrate("started service", slog.String("service", name))
	return nil
}

// ExecuteCustomCommand runs command verbatim and returns its output.
func (s *Session) ExecuteCustomCommand(ctx context.Context, command string) (string, error) {
	s.narrate("executing custom command", slog.String("command", command))
	return s.run(ctx, kindCustom, command)
}

func (s *Session) run(ctx context.Context, kind, command string) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.exec.Execute(ctx, command)
	metrics.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.CommandsTotal.WithLabelValues(kind, metrics.Result(err)).Inc()

	if out != "" {
		s.logger.Debug("command output",
			slog.String("command", command),
			slog.String("output", out),
		)
	}

	if err != nil {
		return out, fmt.Errorf("running %q: %w", command, err)
	}
	return out, nil
}
