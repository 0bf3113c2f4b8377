package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// restoreGlobals puts the global OTel providers back after InitProvider
// replaced them.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_ServesRunMetrics(t *testing.T) {
	restoreGlobals(t)
	p, err := InitProvider(context.Background(), ProviderConfig{Metrics: true, TraceSampleRatio: 1})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordRecognitionRun(context.Background(), "browser", "success", 1.2)

	h := p.Handler()
	if h == nil {
		t.Fatal("Handler() = nil with metrics enabled")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"voxtutor_recognition_runs", "go_goroutines", `service_name="voxtutor"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestInitProvider_MetricsDisabled(t *testing.T) {
	restoreGlobals(t)
	p, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "quiet"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if h := p.Handler(); h != nil {
		t.Error("Handler() != nil with metrics disabled")
	}
	if _, ok := p.MeterProvider().(noop.MeterProvider); !ok {
		t.Errorf("MeterProvider() = %T, want a no-op provider", p.MeterProvider())
	}
}

func TestInitProvider_SampleRatio(t *testing.T) {
	restoreGlobals(t)
	p, err := InitProvider(context.Background(), ProviderConfig{TraceSampleRatio: 0})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, root := StartAttempt(context.Background(), "banana")
	defer root.End()
	if root.SpanContext().IsSampled() {
		t.Error("root span sampled with a zero ratio")
	}

	// A request that arrives with a sampled parent stays sampled.
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, child := StartRun(ctx, "run", "native")
	defer child.End()
	if !child.SpanContext().IsSampled() {
		t.Error("child of a sampled parent was not sampled")
	}
}
