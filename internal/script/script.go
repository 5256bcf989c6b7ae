// Package script runs the deployment steps of a manifest against a host
// session.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/hostdeploy/internal/config"
	"gitlab.bluewillows.net/root/hostdeploy/internal/local"
	"gitlab.bluewillows.net/root/hostdeploy/internal/session"
)

// HostPlaceholder in a step string is replaced by the current host name.
const HostPlaceholder = "{host}"

// ErrUnknownHost is returned by Target for hosts not in the manifest.
var ErrUnknownHost = errors.New("unknown host")

// Script interprets a manifest's deploy steps.
type Script struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Option is a functional option for configuring the Script.
type Option func(*Script)

// WithLogger sets a custom logger for the script.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Script) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Script for a loaded manifest.
func New(cfg *config.Config, opts ...Option) *Script {
	s := &Script{
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Hosts returns the manifest's host names in order.
func (s *Script) Hosts() []string {
	return s.cfg.HostNames()
}

// Target returns the connection details for host.
func (s *Script) Target(host string) (session.Target, error) {
	h, ok := s.cfg.Host(host)
	if !ok {
		return session.Target{}, fmt.Errorf("%w: %s", ErrUnknownHost, host)
	}

	return session.Target{
		Host:           h.Name,
		Port:           h.Port,
		User:           h.User,
		KeyFile:        h.KeyFile,
		KeyPassphrase:  h.KeyPassphrase,
		KnownHostsFile: h.KnownHosts,
	}, nil
}

// run is the state of one host's deployment.
type run struct {
	host   string
	caps   session.Capabilities
	logger *slog.Logger

	// deployed holds every pair synced or uploaded so far; purge keeps these.
	deployed []local.FilePair
}

// Deploy runs every step that applies to host, in order. The first failing
// step stops the host.
func (s *Script) Deploy(ctx context.Context, host string, caps session.Capabilities) error {
	r := &run{
		host:   host,
		caps:   caps,
		logger: s.logger.With(slog.String("host", host)),
	}

	for i, step := range s.cfg.Steps {
		if !step.AppliesTo(host) {
			r.logger.Debug("step not for this host", slog.Int("step", i), slog.String("action", string(step.Action)))
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if err := r.step(ctx, expand(step, host)); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
	}

	return nil
}

// expand substitutes the host placeholder in every string of the step.
func expand(step config.Step, host string) config.Step {
	sub := func(v string) string {
		return strings.ReplaceAll(v, HostPlaceholder, host)
	}

	step.Remote = sub(step.Remote)
	step.Local = sub(step.Local)
	step.Service = sub(step.Service)
	step.Command = sub(step.Command)
	step.Content = sub(step.Content)

	return step
}

func (r *run) step(ctx context.Context, step config.Step) error {
	switch step.Action {
	case config.ActionHashlist:
		r.caps.SetHashlistPath(ctx, step.Remote)
		return nil

	case config.ActionSync:
		return r.sync(ctx, step)

	case config.ActionUpload:
		return r.upload(ctx, local.NewFilePair(step.Remote, step.Local), step.Always)

	case config.ActionDownload:
		return r.caps.DownloadFile(ctx, local.NewFilePair(step.Remote, step.Local))

	case config.ActionDelete:
		return r.caps.DeleteFile(ctx, step.Remote)

	case config.ActionPurge:
		return r.caps.PurgeHashlist(ctx, r.deployed)

	case config.ActionChmod:
		return r.caps.SetFilePermissions(ctx, step.Remote, step.Mode, step.Sudo)

	case config.ActionStopService:
		return r.caps.StopService(ctx, step.Service)

	case config.ActionStartService:
		return r.caps.StartService(ctx, step.Service)

	case config.ActionCommand:
		out, err := r.caps.ExecuteCustomCommand(ctx, step.Command)
		if out != "" {
			r.logger.Info("command output", slog.String("output", out))
		}
		return err

	case config.ActionWriteLocal:
		if step.Append {
			return local.AppendFile(step.Local, step.Content)
		}
		return local.WriteFile(step.Local, step.Content)

	case config.ActionDeleteLocal:
		return local.DeleteFile(step.Local)

	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

func (r *run) sync(ctx context.Context, step config.Step) error {
	pairs, err := local.Collect(step.Remote, step.Local, step.Recursive, step.Exclude)
	if err != nil {
		return err
	}

	uploaded := 0
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := r.caps.UploadIfRequired(ctx, pair)
		if err != nil {
			return err
		}
		if done {
			uploaded++
		}
		r.deployed = append(r.deployed, pair)
	}

	r.logger.Info("synchronized directory",
		slog.String("local", step.Local),
		slog.String("remote", step.Remote),
		slog.Int("files", len(pairs)),
		slog.Int("uploaded", uploaded),
		slog.Int("unchanged", len(pairs)-uploaded),
	)

	return nil
}

func (r *run) upload(ctx context.Context, pair local.FilePair, always bool) error {
	if !always {
		if _, err := r.caps.UploadIfRequired(ctx, pair); err != nil {
			return err
		}
		r.deployed = append(r.deployed, pair)
		return nil
	}

	if err := r.caps.UploadFile(ctx, pair); err != nil {
		return err
	}
	if err := r.caps.UpdateHashlist(pair); err != nil {
		return err
	}
	r.deployed = append(r.deployed, pair)
	return nil
}
