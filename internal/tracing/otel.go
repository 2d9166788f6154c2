package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/harun/actuator/"

// Setup installs a tracer provider for serviceName as the global provider
// and returns a func that flushes it and restores the previous one. Extra
// options add exporters or span processors.
func Setup(serviceName string, opts ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	return func(ctx context.Context) error {
		otel.SetTracerProvider(prev)
		return tp.Shutdown(ctx)
	}, nil
}

// ContextAttributes returns span attributes for the turn and action carried by ctx.
func ContextAttributes(ctx context.Context) []attribute.KeyValue {
	tc := FromContext(ctx)
	var attrs []attribute.KeyValue
	if tc.TurnID != "" {
		attrs = append(attrs, attribute.String("actuator.turn_id", tc.TurnID))
	}
	if tc.ConversationID != "" {
		attrs = append(attrs, attribute.String("actuator.conversation_id", tc.ConversationID))
	}
	if tc.ActionName != "" {
		attrs = append(attrs, attribute.String("actuator.action", tc.ActionName))
	}
	return attrs
}

// StartSpan starts a span from component's tracer, tagged with the turn and
// action found in ctx. The first span in a turn also sets its trace ID.
func StartSpan(ctx context.Context, component, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(scope+component).Start(ctx, name,
		trace.WithAttributes(append(ContextAttributes(ctx), attrs...)...),
	)
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}
