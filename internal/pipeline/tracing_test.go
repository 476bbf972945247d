package pipeline

import (
	"context"
	"testing"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type spanCheckStage struct {
	valid *bool
}

func (s spanCheckStage) Name() string { return "span-check" }

func (s spanCheckStage) Process(ctx context.Context, _ *ProcessContext) {
	*s.valid = trace.SpanFromContext(ctx).SpanContext().IsValid()
}

func newRecordedRunner() (*Runner, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	runner := NewRunner(nil)
	runner.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	return runner, recorder
}

func spanAttributes(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestRunnerRecordsChainSpan(t *testing.T) {
	t.Parallel()

	runner, recorder := newRecordedRunner()

	var valid bool
	req := domain.SendRequest{TemplateID: 7, Channel: domain.ChannelSMS, Receivers: []string{"+10000000001", "+10000000002"}}
	pc := runner.Run(context.Background(), NewChain(SendChainName, spanCheckStage{valid: &valid}), NewProcessContext(req, domain.Caller{}))
	if !pc.Result.Success {
		t.Fatalf("Result = %+v, want success", pc.Result)
	}
	if !valid {
		t.Fatal("stage saw no recording span in its context")
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "pipeline.send" {
		t.Fatalf("spans = %d (%v), want one pipeline.send", len(spans), spans)
	}
	attrs := spanAttributes(spans[0])
	if attrs["templateId"].AsInt64() != 7 || attrs["channel"].AsInt64() != int64(domain.ChannelSMS) || attrs["receivers"].AsInt64() != 2 {
		t.Fatalf("attributes = %v", attrs)
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("status = %+v, want not error", spans[0].Status())
	}
}

func TestRunnerMarksRejectedSpan(t *testing.T) {
	t.Parallel()

	runner, recorder := newRecordedRunner()

	var calls []string
	runner.Run(context.Background(), NewChain(SendChainName,
		recordingStage{name: "precheck", calls: &calls, breakIt: true},
	), NewProcessContext(domain.SendRequest{}, domain.Caller{}))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spanAttributes(spans[0])["breakStage"].AsString(); got != "precheck" {
		t.Fatalf("breakStage = %q, want precheck", got)
	}
	status := spans[0].Status()
	if status.Code != codes.Error || status.Description != string(domain.CodeReceiverEmpty) {
		t.Fatalf("status = %+v, want error %s", status, domain.CodeReceiverEmpty)
	}
}
