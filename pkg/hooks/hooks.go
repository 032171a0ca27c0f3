// Package hooks composes application-supplied types.Hook implementations
// and fans lifecycle callbacks out to an optional asynchronous observer
// feed (the Broker).
package hooks

import (
	"context"

	"github.com/cuemby/stairway/pkg/log"
	"github.com/cuemby/stairway/pkg/types"
)

// Multi dispatches every types.Hook call to a fixed list of hooks, in
// registration order, synchronously on the calling goroutine. A panicking
// hook is recovered and logged so it cannot take down the worker running
// the flight.
type Multi struct {
	hooks []types.Hook
}

// NewMulti returns a Multi wrapping hooks. The returned value itself
// satisfies types.Hook, so the engine only ever holds one hook reference.
func NewMulti(hooks ...types.Hook) *Multi {
	return &Multi{hooks: hooks}
}

func (m *Multi) OnFlightStart(ctx context.Context, fc *types.FlightContext) {
	m.dispatch(fc, "OnFlightStart", func(h types.Hook) { h.OnFlightStart(ctx, fc) })
}

func (m *Multi) OnFlightEnd(ctx context.Context, fc *types.FlightContext, status types.Status) {
	m.dispatch(fc, "OnFlightEnd", func(h types.Hook) { h.OnFlightEnd(ctx, fc, status) })
}

func (m *Multi) OnStepStart(ctx context.Context, fc *types.FlightContext) {
	m.dispatch(fc, "OnStepStart", func(h types.Hook) { h.OnStepStart(ctx, fc) })
}

func (m *Multi) OnStepEnd(ctx context.Context, fc *types.FlightContext, result types.StepResult) {
	m.dispatch(fc, "OnStepEnd", func(h types.Hook) { h.OnStepEnd(ctx, fc, result) })
}

func (m *Multi) OnStateTransition(ctx context.Context, fc *types.FlightContext, from, to types.Status) {
	m.dispatch(fc, "OnStateTransition", func(h types.Hook) { h.OnStateTransition(ctx, fc, from, to) })
}

func (m *Multi) dispatch(fc *types.FlightContext, callback string, invoke func(types.Hook)) {
	for _, h := range m.hooks {
		m.safeInvoke(fc, callback, h, invoke)
	}
}

func (m *Multi) safeInvoke(fc *types.FlightContext, callback string, h types.Hook, invoke func(types.Hook)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFlightID(fc.FlightID).Error().Interface("panic", r).Str("callback", callback).Msg("hook panicked, recovered")
		}
	}()
	invoke(h)
}

var _ types.Hook = (*Multi)(nil)
