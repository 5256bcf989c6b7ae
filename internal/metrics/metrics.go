// Package metrics provides Prometheus metrics for hostdeploy.
//
// Collectors register with the default registry. They are exposed by the
// status server while a run is in progress and can be written to a
// node_exporter textfile when the run ends.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "hostdeploy"

// Label values shared by callers.
const (
	ResultSuccess = "success"
	ResultError   = "error"

	DeleteRemoved  = "removed"
	DeleteNotFound = "not_found"
	DeleteFailed   = "failed"

	HashlistLoaded = "loaded"
	HashlistEmpty  = "empty"
)

var (
	// BuildInfo is always 1; labels carry the build version.
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version", "go_version"})

	// HostsTotal counts processed hosts by final status (succeeded, failed, skipped).
	HostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hosts_total",
		Help:      "Hosts processed, by final status.",
	}, []string{"status"})

	// HostDuration observes the wall time of each host's deployment.
	HostDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "host_duration_seconds",
		Help:      "Time spent deploying a single host.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// FilesUploadedTotal counts completed remote uploads.
	FilesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "files_uploaded_total",
		Help:      "Files uploaded to remote hosts.",
	})

	// BytesUploadedTotal counts bytes written by uploads.
	BytesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "bytes_uploaded_total",
		Help:      "Bytes uploaded to remote hosts.",
	})

	// FilesUnchangedTotal counts uploads skipped because the hashlist matched.
	FilesUnchangedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "files_unchanged_total",
		Help:      "Uploads skipped because the tracked hash matched.",
	})

	// FilesDeletedTotal counts remote deletes by outcome (removed, not_found, failed).
	FilesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "files_deleted_total",
		Help:      "Remote file deletes, by outcome.",
	}, []string{"outcome"})

	// DirectoriesCreatedTotal counts directories created by upload bootstrap.
	DirectoriesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "directories_created_total",
		Help:      "Remote directories created while bootstrapping upload paths.",
	})

	// HashlistLoadsTotal counts hashlist fetches by result (loaded, empty).
	HashlistLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "hashlist_loads_total",
		Help:      "Hashlist fetches; empty means the remote copy was missing or corrupt.",
	}, []string{"result"})

	// CommandsTotal counts remote commands by kind (chmod, service, custom) and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "commands_total",
		Help:      "Remote commands executed, by kind and result.",
	}, []string{"kind", "result"})

	// CommandDuration observes remote command latency.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "command_duration_seconds",
		Help:      "Remote command latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// LastRunTimestamp is the Unix time the last run finished.
	LastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})

	// LastRunFailedHosts is the number of hosts that failed in the last run.
	LastRunFailedHosts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "last_run_failed_hosts",
		Help:      "Hosts that failed in the last run.",
	})
)

// SetBuildInfo records the running version.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
