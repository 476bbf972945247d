// Package pipeline validates and transforms send requests before they are
// queued. A chain is an ordered list of stages; the runner stops at the
// first stage that sets ShouldBreak.
package pipeline

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"github.com/kursadbilgin/notify-dispatch/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/kursadbilgin/notify-dispatch/internal/pipeline"

// RecipientGroup is a set of receivers that share one variable mapping.
type RecipientGroup struct {
	Recipients []string
	Variables  map[string]string
}

// ProcessContext is threaded through every stage of a chain.
type ProcessContext struct {
	Request     domain.SendRequest
	Caller      domain.Caller
	ScheduledID int64

	Template  *domain.Template
	Sender    string
	Groups    []RecipientGroup
	MessageID string
	Tasks     []domain.SendTask

	ShouldBreak bool
	Result      domain.Result
}

func NewProcessContext(req domain.SendRequest, caller domain.Caller) *ProcessContext {
	return &ProcessContext{Request: req, Caller: caller}
}

// Break stops the chain with a rejection.
func (pc *ProcessContext) Break(code domain.ErrorCode, detail string) {
	pc.ShouldBreak = true
	pc.Result = domain.Fail(code, detail)
}

// Succeed stops the chain early with a successful result.
func (pc *ProcessContext) Succeed(data any) {
	pc.ShouldBreak = true
	pc.Result = domain.OK(data)
}

// Stage is one step of a chain. Stages report failure through pc, never by
// panicking or returning an error.
type Stage interface {
	Name() string
	Process(ctx context.Context, pc *ProcessContext)
}

// Chain is a named, ordered list of stages.
type Chain struct {
	Name   string
	Stages []Stage
}

func NewChain(name string, stages ...Stage) Chain {
	return Chain{Name: name, Stages: stages}
}

type Runner struct {
	tracer  trace.Tracer
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{tracer: otel.Tracer(tracerName), logger: logger}
}

// SetTracerProvider replaces the global tracer provider for pipeline spans.
func (r *Runner) SetTracerProvider(tp trace.TracerProvider) {
	if r == nil || tp == nil {
		return
	}
	r.tracer = tp.Tracer(tracerName)
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Run executes chain against pc in declaration order and returns pc.
func (r *Runner) Run(ctx context.Context, chain Chain, pc *ProcessContext) *ProcessContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if pc == nil {
		pc = &ProcessContext{}
		pc.Break(domain.CodeInternal, "process context is required")
		return pc
	}

	ctx, span := r.tracer.Start(ctx, "pipeline."+chain.Name,
		trace.WithAttributes(
			attribute.Int64("templateId", pc.Request.TemplateID),
			attribute.Int("channel", int(pc.Request.Channel)),
			attribute.Int("receivers", len(pc.Request.Receivers)),
		),
	)
	defer span.End()

	if stage := r.runStages(ctx, chain, pc); stage != "" {
		span.SetAttributes(attribute.String("breakStage", stage))
	}

	if !pc.ShouldBreak && pc.Result.Code == "" {
		pc.Result = domain.OK(nil)
	}

	if !pc.Result.Success {
		span.SetStatus(codes.Error, string(pc.Result.Code))
		r.metrics.IncPipelineRejected(chain.Name, string(pc.Result.Code))
		observability.WithContextLogger(r.logger, ctx).Info("send request rejected",
			zap.String("chain", chain.Name),
			zap.String("code", string(pc.Result.Code)),
			zap.String("reason", pc.Result.Message),
			zap.Int64("templateId", pc.Request.TemplateID),
		)
	}

	return pc
}

// runStages returns the name of the stage that broke the chain, if any.
func (r *Runner) runStages(ctx context.Context, chain Chain, pc *ProcessContext) string {
	for _, stage := range chain.Stages {
		if ok := r.process(ctx, stage, pc); !ok || pc.ShouldBreak {
			return stage.Name()
		}
	}
	return ""
}

func (r *Runner) process(ctx context.Context, stage Stage, pc *ProcessContext) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline stage panicked",
				zap.String("stage", stage.Name()),
				zap.Any("panic", rec),
			)
			pc.Break(domain.CodeInternal, fmt.Sprintf("stage %s failed", stage.Name()))
			ok = false
		}
	}()

	stage.Process(ctx, pc)
	return true
}
