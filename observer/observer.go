// Package observer provides OTEL-based observability for the runtime.
//
// It wraps the Agent and ToolRegistry with instrumented versions that emit
// traces, metrics, and logs via OpenTelemetry. Export goes to any
// OTEL-compatible backend through the standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/ciana/parrot/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	TurnsRouted     metric.Int64Counter
	AgentInvokes    metric.Int64Counter
	ToolExecutions  metric.Int64Counter
	SchedulerRuns   metric.Int64Counter
	GatewayRequests metric.Int64Counter

	AgentDuration metric.Float64Histogram
	ToolDuration  metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters, configured via the standard OTEL env vars. The returned
// shutdown function must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("parrot")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	turnsRouted, err := meter.Int64Counter("router.turns",
		metric.WithDescription("Messages routed to the agent"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	agentInvokes, err := meter.Int64Counter("agent.invocations",
		metric.WithDescription("Agent invocation count"),
		metric.WithUnit("{invocation}"))
	if err != nil {
		return nil, err
	}

	toolExecutions, err := meter.Int64Counter("tool.executions",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	schedulerRuns, err := meter.Int64Counter("scheduler.runs",
		metric.WithDescription("Scheduled task executions"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	gatewayRequests, err := meter.Int64Counter("gateway.requests",
		metric.WithDescription("Gateway execute requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	agentDuration, err := meter.Float64Histogram("agent.duration",
		metric.WithDescription("Agent invocation duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:          otel.Tracer(scopeName),
		Meter:           meter,
		Logger:          global.GetLoggerProvider().Logger(scopeName),
		TurnsRouted:     turnsRouted,
		AgentInvokes:    agentInvokes,
		ToolExecutions:  toolExecutions,
		SchedulerRuns:   schedulerRuns,
		GatewayRequests: gatewayRequests,
		AgentDuration:   agentDuration,
		ToolDuration:    toolDuration,
	}, nil
}
