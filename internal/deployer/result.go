package deployer

import (
	"fmt"
	"strings"
	"time"
)

// Status is the final state of one host.
type Status string

const (
	// StatusSucceeded indicates the routine and hashlist persistence completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates an error at any stage.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the run was cancelled before the host started.
	StatusSkipped Status = "skipped"
)

// HostResult is the outcome of deploying one host.
type HostResult struct {
	// Host is the host name as listed by the script.
	Host string

	// Status is the final state.
	Status Status

	// Stage is where the host failed. Empty unless Status is StatusFailed.
	Stage Stage

	// Error contains the error message if Status is not StatusSucceeded.
	Error string

	// Duration is the wall time spent on the host.
	Duration time.Duration
}

// String returns a human-readable representation of the host result.
func (h HostResult) String() string {
	if h.Error != "" {
		return fmt.Sprintf("[%s] %s (%s): %s", h.Status, h.Host, h.Duration.Round(time.Millisecond), h.Error)
	}
	return fmt.Sprintf("[%s] %s (%s)", h.Status, h.Host, h.Duration.Round(time.Millisecond))
}

// Result holds the outcome of a deployment run, one entry per host in
// script order.
type Result struct {
	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run completed.
	EndTime time.Time

	// Hosts contains one result per host.
	Hosts []HostResult
}

// NewResult creates a new Result with the start time set to now.
func NewResult() *Result {
	return &Result{
		StartTime: time.Now(),
		Hosts:     make([]HostResult, 0),
	}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total run duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// Add appends a host result.
func (r *Result) Add(h HostResult) {
	r.Hosts = append(r.Hosts, h)
}

// Succeeded returns the hosts that completed.
func (r *Result) Succeeded() []HostResult {
	return r.filter(StatusSucceeded)
}

// Failed returns the hosts that failed.
func (r *Result) Failed() []HostResult {
	return r.filter(StatusFailed)
}

// Skipped returns the hosts that never started.
func (r *Result) Skipped() []HostResult {
	return r.filter(StatusSkipped)
}

func (r *Result) filter(status Status) []HostResult {
	var filtered []HostResult
	for _, h := range r.Hosts {
		if h.Status == status {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

// HasErrors returns true if any host failed.
func (r *Result) HasErrors() bool {
	return len(r.Failed()) > 0
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Deployment complete in %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Hosts: %d\n", len(r.Hosts))
	fmt.Fprintf(&sb, "  Succeeded: %d\n", len(r.Succeeded()))

	if skipped := r.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(&sb, "  Skipped: %d\n", len(skipped))
	}

	if r.HasErrors() {
		fmt.Fprintf(&sb, "  Failed: %d\n", len(r.Failed()))
		for _, h := range r.Failed() {
			fmt.Fprintf(&sb, "    - %s\n", h.String())
		}
	}

	return sb.String()
}
