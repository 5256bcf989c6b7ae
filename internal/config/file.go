package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the manifest file structure.
// Pointer fields distinguish unset from zero values.
type FileConfig struct {
	// Run-wide session options
	Options *FileOptions `yaml:"options,omitempty" toml:"options,omitempty"`

	// Connection settings inherited by every host
	Defaults *FileHostConfig `yaml:"defaults,omitempty" toml:"defaults,omitempty"`

	// Key file to passphrase map
	Keys map[string]string `yaml:"keys,omitempty" toml:"keys,omitempty"`

	// Target hosts in deployment order
	Hosts []FileHostConfig `yaml:"hosts" toml:"hosts"`

	// Deployment routine
	Deploy []FileStep `yaml:"deploy" toml:"deploy"`

	// Failure hook
	OnError *FileOnError `yaml:"on_error,omitempty" toml:"on_error,omitempty"`
}

// FileOptions holds run-wide session settings.
type FileOptions struct {
	VerboseMessages   *bool    `yaml:"verbose_messages,omitempty" toml:"verbose_messages,omitempty"`
	Framing           string   `yaml:"framing,omitempty" toml:"framing,omitempty"`                       // prompt, sentinel, exec
	CommandTimeout    string   `yaml:"command_timeout,omitempty" toml:"command_timeout,omitempty"`       // Go duration, 0 = unbounded
	ConnectTimeout    string   `yaml:"connect_timeout,omitempty" toml:"connect_timeout,omitempty"`       // Go duration
	KeepaliveInterval string   `yaml:"keepalive_interval,omitempty" toml:"keepalive_interval,omitempty"` // Go duration, 0 = disabled
	PromptSuffixes    []string `yaml:"prompt_suffixes,omitempty" toml:"prompt_suffixes,omitempty"`
}

// FileHostConfig holds connection settings for a host or the defaults.
type FileHostConfig struct {
	Name              string `yaml:"name,omitempty" toml:"name,omitempty"`
	Port              int    `yaml:"port,omitempty" toml:"port,omitempty"`
	User              string `yaml:"user,omitempty" toml:"user,omitempty"`
	KeyFile           string `yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	KeyPassphrase     string `yaml:"key_passphrase,omitempty" toml:"key_passphrase,omitempty"`
	KeyPassphraseFile string `yaml:"key_passphrase_file,omitempty" toml:"key_passphrase_file,omitempty"`
	KnownHosts        string `yaml:"known_hosts,omitempty" toml:"known_hosts,omitempty"`
}

// FileStep holds one deployment step. Exactly one action field must be set.
type FileStep struct {
	Hashlist     string            `yaml:"hashlist,omitempty" toml:"hashlist,omitempty"`
	Sync         *FileTransferStep `yaml:"sync,omitempty" toml:"sync,omitempty"`
	Upload       *FileTransferStep `yaml:"upload,omitempty" toml:"upload,omitempty"`
	Download     *FileTransferStep `yaml:"download,omitempty" toml:"download,omitempty"`
	Delete       string            `yaml:"delete,omitempty" toml:"delete,omitempty"`
	Purge        *bool             `yaml:"purge,omitempty" toml:"purge,omitempty"`
	Chmod        *FileChmodStep    `yaml:"chmod,omitempty" toml:"chmod,omitempty"`
	StopService  string            `yaml:"stop_service,omitempty" toml:"stop_service,omitempty"`
	StartService string            `yaml:"start_service,omitempty" toml:"start_service,omitempty"`
	Command      string            `yaml:"command,omitempty" toml:"command,omitempty"`
	WriteLocal   *FileWriteStep    `yaml:"write_local,omitempty" toml:"write_local,omitempty"`
	DeleteLocal  string            `yaml:"delete_local,omitempty" toml:"delete_local,omitempty"`

	// Restricts the step to these hosts
	Hosts []string `yaml:"hosts,omitempty" toml:"hosts,omitempty"`
}

// FileTransferStep holds sync, upload and download settings.
type FileTransferStep struct {
	Local     string   `yaml:"local" toml:"local"`
	Remote    string   `yaml:"remote" toml:"remote"`
	Recursive *bool    `yaml:"recursive,omitempty" toml:"recursive,omitempty"` // sync only, default true
	Exclude   []string `yaml:"exclude,omitempty" toml:"exclude,omitempty"`     // sync only
	Always    bool     `yaml:"always,omitempty" toml:"always,omitempty"`       // upload only
}

// FileChmodStep holds chmod settings.
type FileChmodStep struct {
	Path string `yaml:"path" toml:"path"`
	Mode string `yaml:"mode" toml:"mode"`
	Sudo bool   `yaml:"sudo,omitempty" toml:"sudo,omitempty"`
}

// FileWriteStep holds write_local settings.
type FileWriteStep struct {
	Path    string `yaml:"path" toml:"path"`
	Content string `yaml:"content" toml:"content"`
	Append  bool   `yaml:"append,omitempty" toml:"append,omitempty"`
}

// FileOnError holds failure webhook settings.
type FileOnError struct {
	WebhookURL    string `yaml:"webhook_url,omitempty" toml:"webhook_url,omitempty"`
	AuthHeader    string `yaml:"auth_header,omitempty" toml:"auth_header,omitempty"`
	AuthToken     string `yaml:"auth_token,omitempty" toml:"auth_token,omitempty"`
	AuthTokenFile string `yaml:"auth_token_file,omitempty" toml:"auth_token_file,omitempty"`
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	RetryDelay    string `yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty"`
	Retries       *int   `yaml:"retries,omitempty" toml:"retries,omitempty"`
	TLSSkipVerify bool   `yaml:"tls_skip_verify,omitempty" toml:"tls_skip_verify,omitempty"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 3 {
			defaultValue = groups[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func interpolateAll(values []string) {
	for i := range values {
		values[i] = InterpolateEnvVars(values[i])
	}
}

func (h *FileHostConfig) interpolateEnvVars() {
	h.Name = InterpolateEnvVars(h.Name)
	h.User = InterpolateEnvVars(h.User)
	h.KeyFile = InterpolateEnvVars(h.KeyFile)
	h.KeyPassphrase = InterpolateEnvVars(h.KeyPassphrase)
	h.KeyPassphraseFile = InterpolateEnvVars(h.KeyPassphraseFile)
	h.KnownHosts = InterpolateEnvVars(h.KnownHosts)
}

func (t *FileTransferStep) interpolateEnvVars() {
	if t == nil {
		return
	}
	t.Local = InterpolateEnvVars(t.Local)
	t.Remote = InterpolateEnvVars(t.Remote)
	interpolateAll(t.Exclude)
}

// interpolateEnvVars interpolates environment variables in every string
// field of the manifest.
func (c *FileConfig) interpolateEnvVars() {
	if c.Options != nil {
		c.Options.Framing = InterpolateEnvVars(c.Options.Framing)
		c.Options.CommandTimeout = InterpolateEnvVars(c.Options.CommandTimeout)
		c.Options.ConnectTimeout = InterpolateEnvVars(c.Options.ConnectTimeout)
		c.Options.KeepaliveInterval = InterpolateEnvVars(c.Options.KeepaliveInterval)
		interpolateAll(c.Options.PromptSuffixes)
	}

	if c.Defaults != nil {
		c.Defaults.interpolateEnvVars()
	}

	if len(c.Keys) > 0 {
		keys := make(map[string]string, len(c.Keys))
		for k, v := range c.Keys {
			keys[InterpolateEnvVars(k)] = InterpolateEnvVars(v)
		}
		c.Keys = keys
	}

	for i := range c.Hosts {
		c.Hosts[i].interpolateEnvVars()
	}

	for i := range c.Deploy {
		s := &c.Deploy[i]
		s.Hashlist = InterpolateEnvVars(s.Hashlist)
		s.Sync.interpolateEnvVars()
		s.Upload.interpolateEnvVars()
		s.Download.interpolateEnvVars()
		s.Delete = InterpolateEnvVars(s.Delete)
		if s.Chmod != nil {
			s.Chmod.Path = InterpolateEnvVars(s.Chmod.Path)
			s.Chmod.Mode = InterpolateEnvVars(s.Chmod.Mode)
		}
		s.StopService = InterpolateEnvVars(s.StopService)
		s.StartService = InterpolateEnvVars(s.StartService)
		s.Command = InterpolateEnvVars(s.Command)
		if s.WriteLocal != nil {
			s.WriteLocal.Path = InterpolateEnvVars(s.WriteLocal.Path)
			s.WriteLocal.Content = InterpolateEnvVars(s.WriteLocal.Content)
		}
		s.DeleteLocal = InterpolateEnvVars(s.DeleteLocal)
		interpolateAll(s.Hosts)
	}

	if c.OnError != nil {
		c.OnError.WebhookURL = InterpolateEnvVars(c.OnError.WebhookURL)
		c.OnError.AuthHeader = InterpolateEnvVars(c.OnError.AuthHeader)
		c.OnError.AuthToken = InterpolateEnvVars(c.OnError.AuthToken)
		c.OnError.AuthTokenFile = InterpolateEnvVars(c.OnError.AuthTokenFile)
		c.OnError.Timeout = InterpolateEnvVars(c.OnError.Timeout)
		c.OnError.RetryDelay = InterpolateEnvVars(c.OnError.RetryDelay)
	}
}

// LoadFile reads and parses a manifest. Files ending in .toml are parsed as
// TOML, everything else as YAML. Unknown keys are rejected. Environment
// variables in ${VAR} format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = decodeTOML(data, &cfg)
	} else {
		err = decodeYAML(data, &cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

func decodeYAML(data []byte, cfg *FileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing YAML config: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *FileConfig) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parsing TOML config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("parsing TOML config: unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// GetConfigFilePath returns the manifest path from HOSTDEPLOY_CONFIG, or
// DefaultConfigFile when unset.
func GetConfigFilePath() string {
	if path := getEnv("HOSTDEPLOY_CONFIG"); path != "" {
		return path
	}
	return DefaultConfigFile
}
