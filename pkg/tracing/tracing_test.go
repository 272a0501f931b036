package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "medea" {
		t.Errorf("expected service name 'medea', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing must be disabled by default")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestStartSpan_NoProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), "test.operation")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}

func TestTraceRoomCommand(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := TraceRoomCommand(context.Background(), "MakeSdpOffer", "room-1", "caller", 7)
	RecordError(ctx, errors.New("wrong state"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != "room.MakeSdpOffer" {
		t.Errorf("unexpected span name %q", got.Name())
	}
	attrs := attrMap(got.Attributes())
	if attrs[RoomIDKey].AsString() != "room-1" || attrs[MemberIDKey].AsString() != "caller" {
		t.Errorf("unexpected attributes %v", attrs)
	}
	if attrs[PeerIDKey].AsInt64() != 7 {
		t.Errorf("expected peer id 7, got %v", attrs[PeerIDKey])
	}
	if got.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", got.Status())
	}
}

func TestTraceWebSocketMessage(t *testing.T) {
	recorder := installRecorder(t)

	ctx, span := TraceWebSocketMessage(context.Background(), "command", "room-1", "callee")
	AddSpanAttributes(ctx, attribute.String("test.key", "test.value"))
	MeasureDuration(ctx, time.Now().Add(-5*time.Millisecond), "handle")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes())
	if attrs["test.key"].AsString() != "test.value" {
		t.Errorf("custom attribute missing: %v", attrs)
	}
	if attrs[DurationKey].AsInt64() < 5 {
		t.Errorf("duration not recorded: %v", attrs[DurationKey])
	}
}

func TestTraceHTTPAndControl(t *testing.T) {
	recorder := installRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "POST", "/control-api/*fid")
	span.End()
	ctx, span := TraceControlOperation(context.Background(), "create", "room-1/caller")
	SetSpanStatus(ctx, codes.Ok, "")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "http.POST" || spans[1].Name() != "control.create" {
		t.Errorf("unexpected span names %q %q", spans[0].Name(), spans[1].Name())
	}
}
