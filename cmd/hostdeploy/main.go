// hostdeploy pushes files to a fleet of SSH hosts, one host at a time.
// It reads a deployment manifest, uploads only the files whose content
// changed since the last run (tracked by a per-host hashlist), and runs
// the service and shell commands the manifest lists.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/hostdeploy/internal/config"
	"gitlab.bluewillows.net/root/hostdeploy/internal/deployer"
	"gitlab.bluewillows.net/root/hostdeploy/internal/health"
	"gitlab.bluewillows.net/root/hostdeploy/internal/metrics"
	"gitlab.bluewillows.net/root/hostdeploy/internal/notify"
	"gitlab.bluewillows.net/root/hostdeploy/internal/script"
	"gitlab.bluewillows.net/root/hostdeploy/internal/session"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/httputil"
	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// errHostsFailed is returned under --strict when any host failed.
var errHostsFailed = errors.New("one or more hosts failed")

type flags struct {
	logLevel    string
	logFormat   string
	metricsFile string
	listen      string
	strict      bool
}

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errHostsFailed) {
			slog.Error("fatal error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "hostdeploy [manifest]",
		Short:         "Deploy files and commands to SSH hosts",
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(stderr, f.logLevel, f.logFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, manifestPath(args), f, stdout, logger)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", envDefault("HOSTDEPLOY_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", envDefault("HOSTDEPLOY_LOG_FORMAT", "text"), "log format (text, json)")

	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "write run metrics to this file on exit (textfile collector format)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "serve /health, /ready and /metrics on this address while deploying")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero when any host fails")

	cmd.AddCommand(newValidateCommand(stdout, stderr, f))

	return cmd
}

func newValidateCommand(stdout, stderr io.Writer, f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a manifest without connecting to any host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			slog.SetDefault(setupLogger(stderr, f.logLevel, f.logFormat))

			path := manifestPath(args)
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading manifest: %w", err)
			}

			_, _ = fmt.Fprintf(stdout, "%s: %d hosts, %d steps\n", path, len(cfg.Hosts), len(cfg.Steps))
			return nil
		},
	}
}

func run(ctx context.Context, path string, f *flags, stdout io.Writer, logger *slog.Logger) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	metrics.SetBuildInfo(Version, runtime.Version())

	logger.Info("hostdeploy starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("manifest", cfg.Path),
		slog.Int("hosts", len(cfg.Hosts)),
	)

	d := newDeployer(cfg, logger)

	if f.listen != "" {
		status := health.New(f.listen,
			health.WithLogger(logger),
			health.WithProgress(d.Progress),
		)
		status.RegisterChecker("run", health.RunChecker(ctx))
		status.RegisterDegradedChecker("deployment", health.DeploymentChecker(d.Progress))
		if err := status.Start(); err != nil {
			return fmt.Errorf("starting status server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown error", slog.String("error", err.Error()))
			}
		}()
	}

	result, runErr := d.Run(ctx)

	if f.metricsFile != "" {
		if err := metrics.WriteTextfile(f.metricsFile); err != nil {
			logger.Warn("failed to write metrics", slog.String("error", err.Error()))
		}
	}

	if result != nil {
		_, _ = fmt.Fprint(stdout, result.Summary())
	}

	if runErr != nil {
		return runErr
	}
	if f.strict && result.HasErrors() {
		return errHostsFailed
	}
	return nil
}

func newDeployer(cfg *config.Config, logger *slog.Logger) *deployer.Deployer {
	opts := []deployer.Option{
		deployer.WithLogger(logger),
		deployer.WithSessionOptions(sessionOptions(cfg.Options)...),
	}

	if oe := cfg.OnError; oe != nil {
		client := httputil.NewClient(
			httputil.WithTimeout(oe.Timeout),
			httputil.WithUserAgent("hostdeploy/"+Version),
			httputil.WithInsecureSkipVerify(oe.TLSSkipVerify),
			httputil.WithLogger(logger),
		)
		opts = append(opts, deployer.WithNotifier(notify.NewWebhook(oe.WebhookURL, oe.Timeout,
			notify.WithHTTPClient(client),
			notify.WithLogger(logger),
			notify.WithAuth(oe.AuthHeader, oe.AuthToken),
			notify.WithRetries(oe.Retries),
			notify.WithRetryDelay(oe.RetryDelay),
		)))
	}

	return deployer.New(script.New(cfg, script.WithLogger(logger)), opts...)
}

func sessionOptions(o config.Options) []session.Option {
	opts := []session.Option{
		session.WithVerbose(o.VerboseMessages),
		session.WithFraming(shell.Framing(o.Framing)),
		session.WithCommandTimeout(o.CommandTimeout),
		session.WithConnectTimeout(o.ConnectTimeout),
		session.WithKeepaliveInterval(o.KeepaliveInterval),
	}
	if len(o.PromptSuffixes) > 0 {
		opts = append(opts, session.WithPromptSuffixes(o.PromptSuffixes...))
	}
	return opts
}

func manifestPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.GetConfigFilePath()
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
