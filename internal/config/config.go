// Package config loads and validates hostdeploy deployment manifests.
//
// A manifest is a YAML or TOML file listing the target hosts, the
// connection defaults they inherit and the ordered deployment steps run
// against each host. Every string is subject to ${VAR} / ${VAR:-default}
// environment interpolation, and HOSTDEPLOY_* environment variables override
// selected settings.
package config

import (
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/internal/matcher"
)

// Defaults applied when the manifest leaves a setting unset.
const (
	DefaultConfigFile        = "deploy.yaml"
	DefaultPort              = 22
	DefaultFraming           = "prompt"
	DefaultVerboseMessages   = true
	DefaultCommandTimeout    = 10 * time.Minute
	DefaultConnectTimeout    = 30 * time.Second
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultWebhookTimeout    = 10 * time.Second
	DefaultWebhookRetries    = 3
	DefaultWebhookRetryDelay = time.Second
)

// Config is a loaded and validated deployment manifest.
type Config struct {
	// Path is the manifest file the config was loaded from.
	Path string

	// Options are run-wide session settings.
	Options Options

	// Hosts are the targets in deployment order.
	Hosts []Host

	// Steps is the deployment routine run on every host.
	Steps []Step

	// OnError is the failure hook. Nil when not configured.
	OnError *OnError
}

// Options holds run-wide session settings.
type Options struct {
	VerboseMessages   bool
	Framing           string // prompt, sentinel, exec
	CommandTimeout    time.Duration
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	PromptSuffixes    []string
}

// Host is one fully resolved deployment target.
type Host struct {
	Name          string
	Port          int
	User          string
	KeyFile       string
	KeyPassphrase string
	KnownHosts    string
}

// Action identifies what a step does.
type Action string

// Step actions.
const (
	ActionHashlist     Action = "hashlist"
	ActionSync         Action = "sync"
	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionDelete       Action = "delete"
	ActionPurge        Action = "purge"
	ActionChmod        Action = "chmod"
	ActionStopService  Action = "stop_service"
	ActionStartService Action = "start_service"
	ActionCommand      Action = "command"
	ActionWriteLocal   Action = "write_local"
	ActionDeleteLocal  Action = "delete_local"
)

// Step is one deployment step. Which fields are set depends on Action.
type Step struct {
	Action Action

	// Remote is the remote path (hashlist, sync, upload, download, delete, chmod).
	Remote string

	// Local is the local path (sync, upload, download, write_local, delete_local).
	Local string

	Recursive bool     // sync
	Exclude   []string // sync
	Always    bool     // upload: skip the hashlist comparison

	Mode string // chmod
	Sudo bool   // chmod

	Service string // stop_service, start_service
	Command string // command

	Content string // write_local
	Append  bool   // write_local

	// Hosts restricts the step to the named hosts. Empty means all hosts.
	Hosts []string
}

// AppliesTo reports whether the step runs on host. Hosts entries may be
// glob patterns.
func (s Step) AppliesTo(host string) bool {
	return matcher.Any(s.Hosts, host)
}

// OnError configures the failure webhook.
type OnError struct {
	WebhookURL string
	AuthHeader string
	AuthToken  string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration // base delay, doubled per attempt

	// TLSSkipVerify disables certificate checks for self-signed endpoints.
	TLSSkipVerify bool
}

// HostNames returns the host names in deployment order.
func (c *Config) HostNames() []string {
	names := make([]string, len(c.Hosts))
	for i, h := range c.Hosts {
		names[i] = h.Name
	}
	return names
}

// Host returns the named host.
func (c *Config) Host(name string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}
