package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Load reads the manifest at path, applies defaults and HOSTDEPLOY_*
// environment overrides, and validates the result. All problems are
// reported together in a *ValidationError.
func Load(path string) (*Config, error) {
	fileCfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	slog.Debug("loaded configuration from file", slog.String("path", path))

	cfg, errs := fileCfg.toConfig(filepath.Dir(path))
	cfg.Path = path

	errs = append(errs, applyEnvOverrides(cfg)...)
	errs = append(errs, validateConfig(cfg)...)

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

// toConfig converts the file structure to runtime types, applying defaults.
// Relative local paths are resolved against baseDir.
func (c *FileConfig) toConfig(baseDir string) (*Config, []string) {
	var errs []string

	options, oErrs := c.convertOptions()
	errs = append(errs, oErrs...)

	cfg := &Config{Options: options}

	defaults := FileHostConfig{}
	if c.Defaults != nil {
		defaults = *c.Defaults
	}

	for _, fh := range c.Hosts {
		h, hErrs := convertHost(fh, defaults, c.Keys)
		cfg.Hosts = append(cfg.Hosts, h)
		errs = append(errs, hErrs...)
	}

	for i, fs := range c.Deploy {
		s, sErrs := convertStep(fs, baseDir)
		for _, e := range sErrs {
			errs = append(errs, fmt.Sprintf("deploy[%d]: %s", i, e))
		}
		cfg.Steps = append(cfg.Steps, s)
	}

	if c.OnError != nil {
		onErr, eErrs := convertOnError(*c.OnError)
		cfg.OnError = onErr
		errs = append(errs, eErrs...)
	}

	return cfg, errs
}

func (c *FileConfig) convertOptions() (Options, []string) {
	var errs []string

	opts := Options{
		VerboseMessages:   DefaultVerboseMessages,
		Framing:           DefaultFraming,
		CommandTimeout:    DefaultCommandTimeout,
		ConnectTimeout:    DefaultConnectTimeout,
		KeepaliveInterval: DefaultKeepaliveInterval,
	}

	if c.Options == nil {
		return opts, nil
	}

	fo := c.Options
	if fo.VerboseMessages != nil {
		opts.VerboseMessages = *fo.VerboseMessages
	}
	if fo.Framing != "" {
		opts.Framing = strings.ToLower(fo.Framing)
	}
	opts.PromptSuffixes = fo.PromptSuffixes

	parse := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Sprintf("options.%s: invalid duration %q", field, value))
			return
		}
		*dst = d
	}
	parse("command_timeout", fo.CommandTimeout, &opts.CommandTimeout)
	parse("connect_timeout", fo.ConnectTimeout, &opts.ConnectTimeout)
	parse("keepalive_interval", fo.KeepaliveInterval, &opts.KeepaliveInterval)

	return opts, errs
}

// convertHost merges a host entry over the defaults and resolves its
// passphrase.
func convertHost(fh, defaults FileHostConfig, keys map[string]string) (Host, []string) {
	var errs []string

	h := Host{
		Name:       fh.Name,
		Port:       firstInt(fh.Port, defaults.Port, DefaultPort),
		User:       firstString(fh.User, defaults.User),
		KeyFile:    expandHome(firstString(fh.KeyFile, defaults.KeyFile)),
		KnownHosts: expandHome(firstString(fh.KnownHosts, defaults.KnownHosts)),
	}

	passphrase, err := resolvePassphrase(fh, defaults, keys, h.KeyFile)
	if err != nil {
		errs = append(errs, fmt.Sprintf("host %s: %v", h.Name, err))
	}
	h.KeyPassphrase = passphrase

	return h, errs
}

// resolvePassphrase picks the key passphrase for a host: the host's
// key_passphrase, then its key_passphrase_file, then the keys map entry for
// its key file, then the same two settings from the defaults.
func resolvePassphrase(fh, defaults FileHostConfig, keys map[string]string, keyFile string) (string, error) {
	if fh.KeyPassphrase != "" {
		return fh.KeyPassphrase, nil
	}
	if fh.KeyPassphraseFile != "" {
		return readPassphraseFile(fh.KeyPassphraseFile)
	}
	for k, v := range keys {
		if keyFile != "" && expandHome(k) == keyFile {
			return v, nil
		}
	}
	if defaults.KeyPassphrase != "" {
		return defaults.KeyPassphrase, nil
	}
	if defaults.KeyPassphraseFile != "" {
		return readPassphraseFile(defaults.KeyPassphraseFile)
	}
	return "", nil
}

func readPassphraseFile(path string) (string, error) {
	content, err := readSecretFile(path)
	if err != nil {
		return "", fmt.Errorf("reading key_passphrase_file: %w", err)
	}
	return content, nil
}

func convertStep(fs FileStep, baseDir string) (Step, []string) {
	var errs []string
	var actions []Action

	s := Step{Hosts: fs.Hosts}
	localPath := func(p string) string {
		if p == "" || filepath.IsAbs(expandHome(p)) {
			return expandHome(p)
		}
		return filepath.Join(baseDir, p)
	}

	if fs.Hashlist != "" {
		actions = append(actions, ActionHashlist)
		s.Remote = fs.Hashlist
	}
	if fs.Sync != nil {
		actions = append(actions, ActionSync)
		s.Local = localPath(fs.Sync.Local)
		s.Remote = strings.TrimSuffix(fs.Sync.Remote, "/")
		s.Recursive = fs.Sync.Recursive == nil || *fs.Sync.Recursive
		s.Exclude = fs.Sync.Exclude
	}
	if fs.Upload != nil {
		actions = append(actions, ActionUpload)
		s.Local = localPath(fs.Upload.Local)
		s.Remote = fs.Upload.Remote
		s.Always = fs.Upload.Always
	}
	if fs.Download != nil {
		actions = append(actions, ActionDownload)
		s.Local = localPath(fs.Download.Local)
		s.Remote = fs.Download.Remote
	}
	if fs.Delete != "" {
		actions = append(actions, ActionDelete)
		s.Remote = fs.Delete
	}
	if fs.Purge != nil {
		if *fs.Purge {
			actions = append(actions, ActionPurge)
		} else {
			errs = append(errs, "purge must be true when set")
		}
	}
	if fs.Chmod != nil {
		actions = append(actions, ActionChmod)
		s.Remote = fs.Chmod.Path
		s.Mode = fs.Chmod.Mode
		s.Sudo = fs.Chmod.Sudo
	}
	if fs.StopService != "" {
		actions = append(actions, ActionStopService)
		s.Service = fs.StopService
	}
	if fs.StartService != "" {
		actions = append(actions, ActionStartService)
		s.Service = fs.StartService
	}
	if fs.Command != "" {
		actions = append(actions, ActionCommand)
		s.Command = fs.Command
	}
	if fs.WriteLocal != nil {
		actions = append(actions, ActionWriteLocal)
		s.Local = localPath(fs.WriteLocal.Path)
		s.Content = fs.WriteLocal.Content
		s.Append = fs.WriteLocal.Append
	}
	if fs.DeleteLocal != "" {
		actions = append(actions, ActionDeleteLocal)
		s.Local = localPath(fs.DeleteLocal)
	}

	switch len(actions) {
	case 0:
		if len(errs) == 0 {
			errs = append(errs, "no action set")
		}
	case 1:
		s.Action = actions[0]
	default:
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		errs = append(errs, "exactly one action per step, got "+strings.Join(names, ", "))
	}

	return s, errs
}

func convertOnError(fe FileOnError) (*OnError, []string) {
	var errs []string

	o := &OnError{
		WebhookURL: fe.WebhookURL,
		AuthHeader: fe.AuthHeader,
		AuthToken:  fe.AuthToken,
		Timeout:    DefaultWebhookTimeout,
		Retries:    DefaultWebhookRetries,
		RetryDelay: DefaultWebhookRetryDelay,

		TLSSkipVerify: fe.TLSSkipVerify,
	}

	if fe.AuthTokenFile != "" {
		token, err := readSecretFile(fe.AuthTokenFile)
		if err != nil {
			errs = append(errs, "on_error.auth_token_file: "+err.Error())
		} else {
			o.AuthToken = token
		}
	}
	if fe.Timeout != "" {
		if d, err := time.ParseDuration(fe.Timeout); err == nil && d > 0 {
			o.Timeout = d
		} else {
			errs = append(errs, fmt.Sprintf("on_error.timeout: invalid duration %q", fe.Timeout))
		}
	}
	if fe.RetryDelay != "" {
		if d, err := time.ParseDuration(fe.RetryDelay); err == nil && d >= 0 {
			o.RetryDelay = d
		} else {
			errs = append(errs, fmt.Sprintf("on_error.retry_delay: invalid duration %q", fe.RetryDelay))
		}
	}
	if fe.Retries != nil {
		o.Retries = *fe.Retries
	}

	return o, errs
}

// applyEnvOverrides applies HOSTDEPLOY_* environment variables.
// Environment variables always take precedence over the manifest.
func applyEnvOverrides(cfg *Config) []string {
	var errs []string

	if v := getEnv("HOSTDEPLOY_VERBOSE_MESSAGES"); v != "" {
		cfg.Options.VerboseMessages = parseBool(v, cfg.Options.VerboseMessages)
	}

	if v := getEnv("HOSTDEPLOY_FRAMING"); v != "" {
		cfg.Options.Framing = strings.ToLower(v)
	}

	if v := getEnv("HOSTDEPLOY_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Options.CommandTimeout = d
		} else {
			errs = append(errs, "HOSTDEPLOY_COMMAND_TIMEOUT: invalid duration")
		}
	}

	if v := getEnv("HOSTDEPLOY_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Options.ConnectTimeout = d
		} else {
			errs = append(errs, "HOSTDEPLOY_CONNECT_TIMEOUT: invalid duration")
		}
	}

	if v := getEnv("HOSTDEPLOY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, "HOSTDEPLOY_PORT: invalid port number")
		} else {
			for i := range cfg.Hosts {
				cfg.Hosts[i].Port = port
			}
		}
	}

	if v := getEnv("HOSTDEPLOY_USER"); v != "" {
		for i := range cfg.Hosts {
			cfg.Hosts[i].User = v
		}
	}

	if v := getEnv("HOSTDEPLOY_KEY_FILE"); v != "" {
		for i := range cfg.Hosts {
			cfg.Hosts[i].KeyFile = expandHome(v)
		}
	}

	if v := getEnvOrFile("HOSTDEPLOY_KEY_PASSPHRASE", "HOSTDEPLOY_KEY_PASSPHRASE_FILE"); v != "" {
		for i := range cfg.Hosts {
			cfg.Hosts[i].KeyPassphrase = v
		}
	}

	if v := getEnv("HOSTDEPLOY_WEBHOOK_URL"); v != "" {
		if cfg.OnError == nil {
			cfg.OnError = &OnError{
				Timeout:    DefaultWebhookTimeout,
				Retries:    DefaultWebhookRetries,
				RetryDelay: DefaultWebhookRetryDelay,
			}
		}
		cfg.OnError.WebhookURL = v
	}

	if v := getEnvOrFile("HOSTDEPLOY_WEBHOOK_TOKEN", "HOSTDEPLOY_WEBHOOK_TOKEN_FILE"); v != "" && cfg.OnError != nil {
		cfg.OnError.AuthToken = v
	}

	return errs
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
