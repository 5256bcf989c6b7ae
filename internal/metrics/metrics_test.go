package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetBuildInfo(t *testing.T) {
	BuildInfo.Reset()

	SetBuildInfo("v1.0.0", "go1.24")

	if count := testutil.CollectAndCount(BuildInfo); count != 1 {
		t.Errorf("expected 1 metric, got %d", count)
	}
	if value := testutil.ToFloat64(BuildInfo.WithLabelValues("v1.0.0", "go1.24")); value != 1 {
		t.Errorf("expected value 1, got %f", value)
	}
}

func TestCounterVecs(t *testing.T) {
	HostsTotal.Reset()
	FilesDeletedTotal.Reset()
	CommandsTotal.Reset()

	HostsTotal.WithLabelValues("succeeded").Add(2)
	HostsTotal.WithLabelValues("failed").Inc()
	FilesDeletedTotal.WithLabelValues(DeleteNotFound).Inc()
	CommandsTotal.WithLabelValues("chmod", Result(nil)).Inc()
	CommandsTotal.WithLabelValues("chmod", Result(errors.New("boom"))).Inc()

	if got := testutil.ToFloat64(HostsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Errorf("expected 2 succeeded hosts, got %f", got)
	}
	if got := testutil.ToFloat64(FilesDeletedTotal.WithLabelValues(DeleteNotFound)); got != 1 {
		t.Errorf("expected 1 not_found delete, got %f", got)
	}
	if got := testutil.ToFloat64(CommandsTotal.WithLabelValues("chmod", ResultError)); got != 1 {
		t.Errorf("expected 1 failed chmod, got %f", got)
	}
}

func TestMetricNames(t *testing.T) {
	collectors := []prometheus.Collector{
		BuildInfo,
		HostsTotal,
		HostDuration,
		FilesUploadedTotal,
		BytesUploadedTotal,
		FilesUnchangedTotal,
		FilesDeletedTotal,
		DirectoriesCreatedTotal,
		HashlistLoadsTotal,
		CommandsTotal,
		CommandDuration,
		LastRunTimestamp,
		LastRunFailedHosts,
	}

	for _, c := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		c.Describe(ch)
		close(ch)

		for desc := range ch {
			if !strings.Contains(desc.String(), `"hostdeploy_`) {
				t.Errorf("metric %s does not have prefix hostdeploy_", desc)
			}
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	FilesUploadedTotal.Inc()

	path := filepath.Join(t.TempDir(), "hostdeploy.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "hostdeploy_files_uploaded_total") {
		t.Errorf("textfile missing hostdeploy_files_uploaded_total:\n%s", data)
	}

	if err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")); err == nil {
		t.Error("WriteTextfile() into missing directory expected error")
	}
}
