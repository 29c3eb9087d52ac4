package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	parrot "github.com/ciana/parrot"
)

// TurnHook returns a router callback counting turns routed to the agent,
// labeled by channel.
func (inst *Instruments) TurnHook() func(ctx context.Context, channel string) {
	return func(ctx context.Context, channel string) {
		inst.TurnsRouted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", channel)))
	}
}

// RunHook returns a scheduler callback counting task executions by type
// and outcome.
func (inst *Instruments) RunHook() func(ctx context.Context, t parrot.ScheduledTask, err error) {
	return func(ctx context.Context, t parrot.ScheduledTask, err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		inst.SchedulerRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task.type", string(t.Type)),
			attribute.String("status", status)))
	}
}

// RequestHook returns a gateway client callback counting execute requests
// per bridge.
func (inst *Instruments) RequestHook() func(ctx context.Context, bridge string) {
	return func(ctx context.Context, bridge string) {
		inst.GatewayRequests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bridge", bridge)))
	}
}
