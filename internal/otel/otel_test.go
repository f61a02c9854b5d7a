package otel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Exporter: ExporterStdout})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.TracerProvider != nil {
		t.Fatal("disabled telemetry must not build an SDK provider")
	}
	_, span := p.Tracer.Start(context.Background(), "ignored")
	if span.SpanContext().IsValid() {
		t.Fatal("noop span has a valid context")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_NoneExporterKeepsTraceIDs(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := StartServerSpan(context.Background(), p.Tracer, "webhook.telegram")
	defer span.End()
	if !span.SpanContext().TraceID().IsValid() {
		t.Fatal("expected a sampled trace id")
	}
}

func TestInit_StdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := Init(context.Background(), Config{
		Enabled:     true,
		Exporter:    ExporterStdout,
		ServiceName: "relay-test",
		Output:      &buf,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := StartClientSpan(context.Background(), p.Tracer, "clickup.createTask",
		AttrRemoteOp.String("createTask"),
		AttrTaskID.String("abc"),
	)
	EndSpan(span, errors.New("remote failed"))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"clickup.createTask", "remote failed", "relay-test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, out)
		}
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("err = %v", err)
	}
}

func TestSampleRate(t *testing.T) {
	for in, want := range map[float64]float64{0: 1, -2: 1, 0.25: 0.25, 1: 1, 3: 1} {
		if got := sampleRate(in); got != want {
			t.Errorf("sampleRate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSpanHelpers_Internal(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: ExporterNone, SampleRate: 1})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	parent, span := StartSpan(context.Background(), p.Tracer, "relay.route", AttrChatID.String("100"))
	_, child := StartSpan(parent, p.Tracer, "relay.comment")
	if child.SpanContext().TraceID() != span.SpanContext().TraceID() {
		t.Fatal("child span must share the parent trace")
	}
	EndSpan(child, nil)
	EndSpan(span, nil)
}
