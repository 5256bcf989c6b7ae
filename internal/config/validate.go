package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"gitlab.bluewillows.net/root/hostdeploy/internal/matcher"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

var octalMode = regexp.MustCompile(`^[0-7]{3,4}$`)

// validateConfig performs cross-field validation on the complete configuration.
// Returns a list of validation errors.
func validateConfig(cfg *Config) []string {
	var errs []string

	switch cfg.Options.Framing {
	case "prompt", "sentinel", "exec":
		// Valid
	default:
		errs = append(errs, fmt.Sprintf("options.framing: invalid value %q (must be prompt, sentinel, or exec)", cfg.Options.Framing))
	}

	errs = append(errs, validateHosts(cfg.Hosts)...)
	errs = append(errs, validateSteps(cfg)...)

	if cfg.OnError != nil {
		errs = append(errs, validateOnError(cfg.OnError)...)
	}

	return errs
}

func validateHosts(hosts []Host) []string {
	var errs []string

	if len(hosts) == 0 {
		return []string{"hosts: at least one host is required"}
	}

	seen := make(map[string]bool)
	for i, h := range hosts {
		if h.Name == "" {
			errs = append(errs, fmt.Sprintf("hosts[%d]: name is required", i))
			continue
		}
		if seen[h.Name] {
			errs = append(errs, fmt.Sprintf("duplicate host name: %q", h.Name))
		}
		seen[h.Name] = true

		if h.Port < 1 || h.Port > 65535 {
			errs = append(errs, fmt.Sprintf("host %s: invalid port %d", h.Name, h.Port))
		}
		if h.User == "" {
			errs = append(errs, fmt.Sprintf("host %s: user is required", h.Name))
		}
		if h.KeyFile == "" {
			errs = append(errs, fmt.Sprintf("host %s: key_file is required", h.Name))
		}
	}

	return errs
}

func validateSteps(cfg *Config) []string {
	var errs []string

	if len(cfg.Steps) == 0 {
		errs = append(errs, "deploy: at least one step is required")
	}

	names := cfg.HostNames()

	for i, s := range cfg.Steps {
		prefix := fmt.Sprintf("deploy[%d] (%s)", i, s.Action)

		switch s.Action {
		case ActionSync, ActionUpload, ActionDownload:
			if s.Local == "" {
				errs = append(errs, prefix+": local is required")
			}
			if s.Remote == "" {
				errs = append(errs, prefix+": remote is required")
			}
		case ActionChmod:
			if s.Remote == "" {
				errs = append(errs, prefix+": path is required")
			}
			if !octalMode.MatchString(s.Mode) {
				errs = append(errs, fmt.Sprintf("%s: mode %q must be 3 or 4 octal digits", prefix, s.Mode))
			}
		case ActionWriteLocal:
			if s.Local == "" {
				errs = append(errs, prefix+": path is required")
			}
		}

		for _, h := range s.Hosts {
			if err := matcher.Validate(h); err != nil {
				errs = append(errs, fmt.Sprintf("%s: hosts: %v", prefix, err))
				continue
			}
			if len(matcher.Select(h, names)) == 0 {
				errs = append(errs, fmt.Sprintf("%s: unknown host %q", prefix, h))
			}
		}
	}

	return errs
}

func validateOnError(o *OnError) []string {
	var errs []string

	u, err := url.Parse(o.WebhookURL)
	if o.WebhookURL == "" {
		errs = append(errs, "on_error.webhook_url: required when on_error is set")
	} else if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("on_error.webhook_url: invalid URL %q", o.WebhookURL))
	}

	if o.Retries < 0 {
		errs = append(errs, "on_error.retries: must not be negative")
	}

	return errs
}
