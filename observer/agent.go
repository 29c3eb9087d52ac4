package observer

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	parrot "github.com/ciana/parrot"
)

// ObservedAgent wraps an Agent to emit a span, a counter increment, and a
// duration sample per invocation. Inner operations (tool executions) nest
// under the span via context propagation.
type ObservedAgent struct {
	inner parrot.Agent
	inst  *Instruments
}

// WrapAgent returns an instrumented Agent.
func WrapAgent(inner parrot.Agent, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, inst: inst}
}

func (o *ObservedAgent) Invoke(ctx context.Context, msgs []parrot.AgentMessage, threadID string) (parrot.AgentResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.Int("message.count", len(msgs)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Invoke(ctx, msgs, threadID)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	o.inst.AgentInvokes.Add(ctx, 1, attrs)
	o.inst.AgentDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	return result, err
}

// ObservedTools wraps a ToolRegistry to time and count each execution.
type ObservedTools struct {
	inner *parrot.ToolRegistry
	inst  *Instruments
}

// WrapTools returns an instrumented tool registry.
func WrapTools(inner *parrot.ToolRegistry, inst *Instruments) *ObservedTools {
	return &ObservedTools{inner: inner, inst: inst}
}

func (o *ObservedTools) AllDefinitions() []parrot.ToolDefinition {
	return o.inner.AllDefinitions()
}

func (o *ObservedTools) Execute(ctx context.Context, name string, args json.RawMessage) (parrot.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Error != "":
		status = "tool_error"
		span.SetStatus(codes.Error, result.Error)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("status", status),
	)
	o.inst.ToolExecutions.Add(ctx, 1, attrs)
	o.inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	return result, err
}
