package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"tripstore/pkg/domain"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func TestNoopObservability(t *testing.T) {
	logger := noopLogger{}
	logger.Debug("msg", "k", "v")
	logger.Info("msg")
	logger.Warn("msg")
	logger.Error("msg")
	noopMetrics{}.Observe(context.Background(), "op", true, time.Second)
	ctx, span := noopTracer{}.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context")
	}
	span.End(nil)
	noopAudit{}.Record(context.Background(), AuditEntry{})
}

func TestServiceObservabilityHooks(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)
	metrics := &captureMetricsRecorder{}
	audit := &captureAuditRecorder{}
	var traces bytes.Buffer
	tracer := NewJSONTracer(&traces)
	logger := &captureLogger{}
	svc := newHarness(t).service(
		WithMetricsRecorder(metrics),
		WithAuditRecorder(audit),
		WithTracer(tracer),
		WithLogger(logger),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	id, err := svc.CreateTrip(ctx, sampleTrip("Observed"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	missing := domain.NewPermanentIdentifier("trips_v1", domain.EntityTrip, "missing")
	if err := svc.DeleteTrip(ctx, missing); err == nil {
		t.Fatalf("expected delete error")
	}

	if !metrics.has(opCreateTrip, true) || !metrics.has(opDeleteTrip, false) {
		t.Fatalf("unexpected metrics calls %+v", metrics.calls)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("expected two audit entries, got %+v", audit.entries)
	}
	created := audit.entries[0]
	if created.Operation != opCreateTrip || created.Entity != domain.EntityTrip || created.Action != domain.ChangeInsert ||
		created.EntityID != id.String() || created.Status != AuditStatusSuccess || !created.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected audit entry %+v", created)
	}
	if audit.entries[1].Status != AuditStatusError || audit.entries[1].Error == "" {
		t.Fatalf("expected failed delete audit, got %+v", audit.entries[1])
	}
	if logger.debugs == 0 || logger.errors != 1 {
		t.Fatalf("expected debug and error logs, got %+v", logger)
	}

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Operation != opCreateTrip || entries[1].Status != "error" {
		t.Fatalf("unexpected trace entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(traces.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two json lines, got %q", traces.String())
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Error == "" {
		t.Fatalf("trace line not decodable: %v %+v", err, decoded)
	}

	// read-only operations are not audited
	if _, err := svc.ListTrips(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("list must not be audited")
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if !strings.HasPrefix(rec.Name(), "tripstore_service_metrics_") {
		t.Fatalf("unexpected name %s", rec.Name())
	}
	rec.Observe(context.Background(), "op", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "op", false, 3*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)
	snap := rec.Snapshot()
	if snap.DurationsMS["op"] != 5 || snap.Results["op"]["success"] != 1 || snap.Results["op"]["error"] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation must be ignored")
	}
	if v := expvar.Get(rec.Name()); v == nil || !strings.Contains(v.String(), "durations_ms_total") {
		t.Fatalf("recorder not published")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	rec.Observe(context.Background(), opCreateTrip, true, 10*time.Millisecond)
	rec.Observe(context.Background(), opCreateTrip, false, 20*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	var samples uint64
	for _, mf := range families {
		switch mf.GetName() {
		case "tripstore_operations_total":
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		case "tripstore_operation_duration_seconds":
			for _, m := range mf.GetMetric() {
				samples += m.GetHistogram().GetSampleCount()
			}
		}
	}
	if total != 2 || samples != 2 {
		t.Fatalf("unexpected totals: counter %v histogram %v", total, samples)
	}
}

func TestOTelTracer(t *testing.T) {
	tracer := NewOTelTracer(noop.NewTracerProvider().Tracer("test"))
	ctx, span := tracer.Start(context.Background(), opQuery)
	if trace.SpanFromContext(ctx) == nil {
		t.Fatalf("expected span in context")
	}
	span.End(nil)
	_, failed := tracer.Start(context.Background(), opQuery)
	failed.End(errors.New("boom"))

	if NewOTelTracer(nil).tracer == nil {
		t.Fatalf("expected global tracer fallback")
	}
}
