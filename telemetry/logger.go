package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry carrying a context
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL correlation
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a logger writing JSON to w (stdout if nil)
func NewLogger(service string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewConsoleLogger creates a human-readable logger for interactive runs
func NewConsoleLogger(service string) *Logger {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger bound to ctx for trace propagation
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// Stage-event helpers used by the pipeline

func (l *Logger) LogStageStart(ctx context.Context, instanceID, stage string) {
	l.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Str("stage", stage).
		Msg("stage started")
}

func (l *Logger) LogStageDone(ctx context.Context, instanceID, stage string) {
	l.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Str("stage", stage).
		Msg("stage completed")
}

func (l *Logger) LogStageFailed(ctx context.Context, instanceID, stage string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("instance_id", instanceID).
		Str("stage", stage).
		Msg("stage failed")
}

func (l *Logger) LogAmbiguous(ctx context.Context, instanceID, stage string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("instance_id", instanceID).
		Str("stage", stage).
		Msg("outcome unconfirmed, verify manually")
}
