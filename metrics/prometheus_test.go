package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goliatone/go-oracle/core"
)

func TestMetricName(t *testing.T) {
	tests := map[string]string{
		"oracle.webhooks.process_inbound.total": "oracle_webhooks_process_inbound_total",
		"oracle.scheduler.track-assignments":    "oracle_scheduler_track_assignments",
		"9lives":                                "_9lives",
		"  ":                                    "oracle_unnamed",
	}
	for input, want := range tests {
		if got := MetricName(input); got != want {
			t.Fatalf("MetricName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRecorderCountsObserverOperations(t *testing.T) {
	recorder := NewPrometheusRecorder(prometheus.NewRegistry())
	observer := core.NewObserver(nil, recorder)
	ctx := context.Background()

	fields := map[string]any{"role": core.RoleJobLauncher, "direction": core.DirectionInbound, "claimed": 2}
	observer.ObserveOperation(ctx, time.Now(), "webhooks.process_inbound", nil, fields)
	observer.ObserveOperation(ctx, time.Now(), "webhooks.process_inbound", nil, fields)
	observer.ObserveOperation(ctx, time.Now(), "webhooks.process_inbound", errors.New("db down"), fields)

	counter := recorder.counter("oracle_webhooks_process_inbound_total")
	if counter == nil {
		t.Fatalf("expected counter to be registered")
	}
	success := testutil.ToFloat64(counter.WithLabelValues("webhooks.process_inbound", "success", "job_launcher", "inbound", ""))
	if success != 2 {
		t.Fatalf("expected 2 successes, got %v", success)
	}
	failure := testutil.ToFloat64(counter.WithLabelValues("webhooks.process_inbound", "failure", "job_launcher", "inbound", ""))
	if failure != 1 {
		t.Fatalf("expected 1 failure, got %v", failure)
	}
	if got := testutil.CollectAndCount(recorder.histogram("oracle_webhooks_process_inbound_duration_ms")); got != 2 {
		t.Fatalf("expected two histogram series, got %d", got)
	}
}

func TestRecorderSharesCollectorsAcrossInstances(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewPrometheusRecorder(registry)
	second := NewPrometheusRecorder(registry)
	ctx := context.Background()

	first.IncCounter(ctx, "oracle.lifecycle.assignments", 1, map[string]string{"status": "success"})
	second.IncCounter(ctx, "oracle.lifecycle.assignments", 2, map[string]string{"status": "success"})
	second.IncCounter(ctx, "oracle.lifecycle.assignments", 0, map[string]string{"status": "success"})

	value := testutil.ToFloat64(first.counter("oracle_lifecycle_assignments").WithLabelValues("", "success", "", "", ""))
	if value != 3 {
		t.Fatalf("expected shared counter value 3, got %v", value)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	recorder := NewPrometheusRecorder(nil)
	recorder.IncCounter(context.Background(), "oracle.scheduler.track_assignments.total", 1, map[string]string{
		"operation": "scheduler.track_assignments",
		"status":    "success",
	})

	server := httptest.NewServer(recorder.Handler())
	defer server.Close()
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `oracle_scheduler_track_assignments_total{direction="",event_type="",operation="scheduler.track_assignments",role="",status="success"} 1`) {
		t.Fatalf("expected counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}
}
