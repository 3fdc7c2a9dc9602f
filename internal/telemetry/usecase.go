// Package telemetry wraps a use case in a span, a latency observation and a
// closing log line.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-payments/internal/metrics"
)

const tracerName = "github.com/ariefcatur/go-realtime-payments"

// UseCase is one running use case. Call Done exactly once, usually deferred.
type UseCase struct {
	name    string
	span    trace.Span
	start   time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

func Start(ctx context.Context, name string, log *zap.Logger, m *metrics.Metrics, attrs ...attribute.KeyValue) (context.Context, *UseCase) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "usecase."+name,
		trace.WithAttributes(append(attrs, attribute.String("use_case", name))...))
	return ctx, &UseCase{name: name, span: span, start: time.Now(), log: log, metrics: m}
}

// Set adds attributes once their values are known.
func (u *UseCase) Set(attrs ...attribute.KeyValue) { u.span.SetAttributes(attrs...) }

func (u *UseCase) Done(err error, fields ...zap.Field) {
	latency := time.Since(u.start).Seconds()
	u.metrics.Observe(u.name, latency)

	fields = append(fields,
		zap.String("use_case", u.name),
		zap.String("outcome", metrics.Outcome(err)),
		zap.Float64("latency_seconds", latency),
	)
	if sc := u.span.SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	if err != nil {
		u.span.RecordError(err)
		u.span.SetStatus(codes.Error, err.Error())
		fields = append(fields, zap.Error(err))
	} else {
		u.span.SetStatus(codes.Ok, "")
	}
	u.span.End()
	u.log.Info("use_case_done", fields...)
}
