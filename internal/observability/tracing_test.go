package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultTracingConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	if cfg.ServiceName != "docrag" {
		t.Fatalf("expected service name 'docrag', got %s", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, &TracingConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp.Tracer() == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracing_NilConfig(t *testing.T) {
	tp, err := InitTracing(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}
}

func TestStageSpans(t *testing.T) {
	ctx := context.Background()
	for _, stage := range []string{StageLoad, StageOCR, StageChunk, StageEmbed, StageIndex, StageRetrieve, StageAnswer} {
		_, span := StartStageSpan(ctx, stage, attribute.Int("n", 1))
		if span == nil {
			t.Fatalf("expected span for stage %s", stage)
		}
		RecordError(span, errors.New("boom"))
		span.End()
	}
}

func TestDocumentAndLLMSpans(t *testing.T) {
	ctx, span := StartDocumentSpan(context.Background(), "/docs/a.pdf")
	RecordDocumentResult(span, 12, true, false)
	_, llmSpan := StartLLMSpan(ctx, "ollama", "complete")
	RecordLLMMetrics(llmSpan, 100, 20, 300*time.Millisecond)
	RecordError(llmSpan, nil)
	llmSpan.End()
	span.End()
}
