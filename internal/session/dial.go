package session

import (
	"context"
	"fmt"
	"log/slog"

	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/sshutil"
)

// Target describes how to reach one host.
type Target struct {
	Host           string
	Port           int
	User           string
	KeyFile        string
	KeyPassphrase  string
	KnownHostsFile string
}

// Dial connects to target and returns a ready session: SSH authenticated,
// SFTP open, and the command executor started with any login banner
// consumed.
func Dial(ctx context.Context, target Target, opts ...Option) (*Session, error) {
	o := buildOptions(opts)
	logger := o.logger.With(slog.String("host", target.Host))

	keepalive := o.keepaliveInterval
	if keepalive == 0 {
		keepalive = -1
	}

	client, err := sshutil.NewClient(&sshutil.Config{
		Host:              target.Host,
		Port:              target.Port,
		User:              target.User,
		KeyFile:           target.KeyFile,
		KeyPassphrase:     target.KeyPassphrase,
		KnownHostsFile:    target.KnownHostsFile,
		Timeout:           o.connectTimeout,
		KeepaliveInterval: keepalive,
	}, sshutil.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target.Host, err)
	}

	files := sshutil.NewSFTPFileSystem(client, sshutil.WithSFTPLogger(logger))
	if err := files.Connect(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("opening sftp on %s: %w", target.Host, err)
	}

	exec, err := startExecutor(ctx, client, o, logger)
	if err != nil {
		_ = files.Close()
		_ = client.Close()
		return nil, fmt.Errorf("starting command executor on %s: %w", target.Host, err)
	}

	s := newSession(target.Host, files, exec, o)
	s.conn = client

	s.logger.Debug("session opened",
		slog.String("user", target.User),
		slog.String("framing", string(o.framing)),
	)

	return s, nil
}

func startExecutor(ctx context.Context, client *sshutil.Client, o *options, logger *slog.Logger) (Executor, error) {
	switch o.framing {
	case FramingExec:
		return sshutil.NewSSHCommandRunner(client, sshutil.WithCommandLogger(logger)), nil
	case shell.FramingPrompt, shell.FramingSentinel:
	default:
		return nil, fmt.Errorf("unknown framing %q", o.framing)
	}

	ch, err := sshutil.OpenShell(client, sshutil.DefaultTerminal)
	if err != nil {
		return nil, err
	}

	p := shell.New(ch,
		shell.WithFraming(o.framing),
		shell.WithPromptSuffixes(o.promptSuffixes...),
		shell.WithCommandTimeout(o.commandTimeout),
		shell.WithLogger(logger),
	)
	if err := p.Drain(ctx); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("waiting for shell prompt: %w", err)
	}

	return p, nil
}
