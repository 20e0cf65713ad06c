package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/person/{id}", "404"))
	RecordHTTPRequest("GET", "/api/person/{id}", 404, 12*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/person/{id}", "404"))
	if after-before != 1 {
		t.Errorf("requests counter moved by %v, want 1", after-before)
	}
}

func TestRecordUpstreamRequest_ErrorLabel(t *testing.T) {
	RecordUpstreamRequest("statbate", 0, time.Second)
	RecordUpstreamRequest("statbate", 200, time.Second)
	if n := testutil.CollectAndCount(UpstreamRequestDuration, "castboard_upstream_request_duration_seconds"); n < 2 {
		t.Errorf("expected at least 2 series, got %d", n)
	}
}

func TestRecordBackup(t *testing.T) {
	recs := testutil.ToFloat64(BackupRecords)
	errs := testutil.ToFloat64(BackupErrors)

	RecordBackup(time.Second, 42, nil)
	RecordBackup(time.Second, 7, errors.New("upload failed"))

	if got := testutil.ToFloat64(BackupRecords) - recs; got != 42 {
		t.Errorf("records moved by %v, want 42", got)
	}
	if got := testutil.ToFloat64(BackupErrors) - errs; got != 1 {
		t.Errorf("errors moved by %v, want 1", got)
	}
}

func TestRecordEventPublish(t *testing.T) {
	ok := EventsPublished.WithLabelValues("castboard.session.started", EventOK)
	rejected := EventsPublished.WithLabelValues("invalid", EventRejected)
	okBefore, rejBefore := testutil.ToFloat64(ok), testutil.ToFloat64(rejected)

	RecordEventPublish("castboard.session.started", EventOK)
	RecordEventPublish("orders.created", EventRejected)

	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("ok counter moved by %v, want 1", got)
	}
	if got := testutil.ToFloat64(rejected) - rejBefore; got != 1 {
		t.Errorf("rejected counter moved by %v, want 1", got)
	}
}

func TestRecordMaintenanceItem(t *testing.T) {
	before := testutil.ToFloat64(MaintenanceItems.WithLabelValues("quarantine", "error"))
	RecordMaintenanceItem("quarantine", "error")
	RecordMaintenanceItem("quarantine", "error")
	if got := testutil.ToFloat64(MaintenanceItems.WithLabelValues("quarantine", "error")) - before; got != 2 {
		t.Errorf("counter moved by %v, want 2", got)
	}
}

func TestMetricGathering(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint %s: %s", p.Metric, p.Text)
	}
}
