// Package deployer drives a deployment script across its hosts.
//
// Hosts are processed strictly one at a time in script order. Each host gets
// its own session, opened before the routine runs and closed after the
// hashlist is persisted, whatever the outcome. A failure on one host is
// recorded in the Result and never stops the remaining hosts.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
	"gitlab.bluewillows.net/root/hostdeploy/internal/session"
)

// Script supplies the hosts and the per-host deployment routine.
type Script interface {
	// Hosts returns the host names in deployment order.
	Hosts() []string

	// Target resolves the connection details for host.
	Target(host string) (session.Target, error)

	// Deploy runs the deployment routine for host.
	Deploy(ctx context.Context, host string, caps session.Capabilities) error
}

// Session is an open host session as used by the deployer.
type Session interface {
	session.Capabilities
	PersistHashlist(ctx context.Context) error
	Close() error
}

// Opener opens a session to target.
type Opener func(ctx context.Context, target session.Target) (Session, error)

// Notifier is told about every failed host.
type Notifier interface {
	Notify(ctx context.Context, failure *HostError) error
}

// Deployer runs a Script against its hosts.
type Deployer struct {
	script   Script
	open     Opener
	notifier Notifier
	logger   *slog.Logger
	sessOpts []session.Option

	mu       sync.Mutex
	progress Progress
}

// Progress is a snapshot of a run in flight.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Current   string // host being deployed, empty between hosts
}

// Option is a functional option for configuring the Deployer.
type Option func(*Deployer)

// WithLogger sets a custom logger for the deployer.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deployer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOpener replaces session.Dial as the way sessions are opened.
func WithOpener(open Opener) Option {
	return func(d *Deployer) {
		d.open = open
	}
}

// WithNotifier sets the hook called for every failed host.
func WithNotifier(n Notifier) Option {
	return func(d *Deployer) {
		d.notifier = n
	}
}

// WithSessionOptions sets the options passed to session.Dial by the default opener.
func WithSessionOptions(opts ...session.Option) Option {
	return func(d *Deployer) {
		d.sessOpts = append(d.sessOpts, opts...)
	}
}

// New creates a Deployer for script.
func New(script Script, opts ...Option) *Deployer {
	d := &Deployer{
		script: script,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.open == nil {
		sessOpts := append([]session.Option{session.WithLogger(d.logger)}, d.sessOpts...)
		d.open = func(ctx context.Context, target session.Target) (Session, error) {
			return session.Dial(ctx, target, sessOpts...)
		}
	}

	return d
}

// Run deploys every host in order and returns the per-host outcome.
//
// Run returns an error only when the script has no hosts or ctx is done
// before a host starts; the hosts not yet started are then marked skipped
// and the partial Result is returned with the error. Host failures are
// reported through the Result.
func (d *Deployer) Run(ctx context.Context) (*Result, error) {
	hosts := d.script.Hosts()
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}

	d.logger.Info("starting deployment", slog.Int("hosts", len(hosts)))

	result := NewResult()
	defer d.recordRun(result)

	d.setProgress(func(p *Progress) { *p = Progress{Total: len(hosts)} })

	for i, host := range hosts {
		if err := ctx.Err(); err != nil {
			for _, skipped := range hosts[i:] {
				result.Add(HostResult{Host: skipped, Status: StatusSkipped, Error: err.Error()})
				metrics.HostsTotal.WithLabelValues(string(StatusSkipped)).Inc()
			}
			result.Complete()
			d.logger.Warn("deployment cancelled",
				slog.Int("skipped", len(hosts)-i),
				slog.String("error", err.Error()),
			)
			return result, fmt.Errorf("deployment cancelled: %w", err)
		}

		d.setProgress(func(p *Progress) { p.Current = host })
		hr := d.deployHost(ctx, host)
		result.Add(hr)
		d.setProgress(func(p *Progress) {
			p.Current = ""
			p.Completed++
			if hr.Status == StatusFailed {
				p.Failed++
			}
		})
	}

	result.Complete()

	d.logger.Info("deployment complete",
		slog.Int("succeeded", len(result.Succeeded())),
		slog.Int("failed", len(result.Failed())),
		slog.Duration("duration", result.Duration()),
	)

	return result, nil
}

// Progress returns the state of the current or last run. Safe to call
// while Run is in progress.
func (d *Deployer) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress
}

func (d *Deployer) setProgress(update func(*Progress)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	update(&d.progress)
}

func (d *Deployer) recordRun(result *Result) {
	metrics.LastRunTimestamp.SetToCurrentTime()
	metrics.LastRunFailedHosts.Set(float64(len(result.Failed())))
}

func (d *Deployer) deployHost(ctx context.Context, host string) HostResult {
	logger := d.logger.With(slog.String("host", host))
	logger.Info("deploying host")

	start := time.Now()
	err := d.runHost(ctx, host, logger)
	hr := HostResult{
		Host:     host,
		Status:   StatusSucceeded,
		Duration: time.Since(start),
	}

	metrics.HostDuration.Observe(hr.Duration.Seconds())

	if err == nil {
		logger.Info("host deployed", slog.Duration("duration", hr.Duration))
		metrics.HostsTotal.WithLabelValues(string(StatusSucceeded)).Inc()
		return hr
	}

	var hostErr *HostError
	if !errors.As(err, &hostErr) {
		hostErr = &HostError{Host: host, Stage: StageDeploy, Err: err}
	}

	hr.Status = StatusFailed
	hr.Stage = hostErr.Stage
	hr.Error = hostErr.Err.Error()

	logger.Error("host deployment failed",
		slog.String("stage", string(hostErr.Stage)),
		slog.String("error", hostErr.Err.Error()),
	)
	metrics.HostsTotal.WithLabelValues(string(StatusFailed)).Inc()

	if d.notifier != nil {
		if nerr := d.notifier.Notify(context.WithoutCancel(ctx), hostErr); nerr != nil {
			logger.Warn("failure notification failed", slog.String("error", nerr.Error()))
		}
	}

	return hr
}

// runHost resolves, opens, deploys, persists and closes one host. The first
// error wins; later errors on the same host are logged.
func (d *Deployer) runHost(ctx context.Context, host string, logger *slog.Logger) (err error) {
	target, err := d.script.Target(host)
	if err != nil {
		return WrapError(host, StageResolve, err)
	}

	sess, err := d.open(ctx, target)
	if err != nil {
		return WrapError(host, StageConnect, err)
	}

	defer func() {
		cerr := sess.Close()
		if cerr == nil {
			return
		}
		if err == nil {
			err = WrapError(host, StageClose, cerr)
			return
		}
		logger.Warn("closing session failed", slog.String("error", cerr.Error()))
	}()

	deployErr := d.deploy(ctx, host, sess)

	// Files already uploaded must stay tracked even when the run was cancelled.
	persistErr := sess.PersistHashlist(context.WithoutCancel(ctx))

	if deployErr != nil {
		if persistErr != nil {
			logger.Warn("persisting hashlist failed", slog.String("error", persistErr.Error()))
		}
		return WrapError(host, StageDeploy, deployErr)
	}

	return WrapError(host, StagePersist, persistErr)
}

func (d *Deployer) deploy(ctx context.Context, host string, caps session.Capabilities) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return d.script.Deploy(ctx, host, caps)
}
