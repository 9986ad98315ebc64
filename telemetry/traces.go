package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartDecommission starts the root span for one instance's pipeline
func StartDecommission(ctx context.Context, instanceID, name string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, "decommission",
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
			attribute.String("instance.name", name),
		),
	)
}

// EndDecommission records the final outcome on the span and ends it
func EndDecommission(span trace.Span, stage string, ambiguous bool, errMsg string) {
	span.SetAttributes(
		attribute.String("stage.reached", stage),
		attribute.Bool("ambiguous", ambiguous),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}

// StartStage starts a span for one pipeline stage
func StartStage(ctx context.Context, stage, instanceID string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, stage,
		trace.WithAttributes(
			attribute.String("instance.id", instanceID),
		),
	)
}

// EndStage ends the stage span, recording err when the stage failed
func EndStage(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
