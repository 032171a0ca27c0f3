package hooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/stairway/pkg/types"
)

type countingHook struct {
	starts int
}

func (h *countingHook) OnFlightStart(ctx context.Context, fc *types.FlightContext) { h.starts++ }
func (h *countingHook) OnFlightEnd(ctx context.Context, fc *types.FlightContext, status types.Status) {
}
func (h *countingHook) OnStepStart(ctx context.Context, fc *types.FlightContext) {}
func (h *countingHook) OnStepEnd(ctx context.Context, fc *types.FlightContext, result types.StepResult) {
}
func (h *countingHook) OnStateTransition(ctx context.Context, fc *types.FlightContext, from, to types.Status) {
}

type panickingHook struct{}

func (panickingHook) OnFlightStart(ctx context.Context, fc *types.FlightContext) { panic("boom") }
func (panickingHook) OnFlightEnd(ctx context.Context, fc *types.FlightContext, status types.Status) {
}
func (panickingHook) OnStepStart(ctx context.Context, fc *types.FlightContext) {}
func (panickingHook) OnStepEnd(ctx context.Context, fc *types.FlightContext, result types.StepResult) {
}
func (panickingHook) OnStateTransition(ctx context.Context, fc *types.FlightContext, from, to types.Status) {
}

func TestMulti_DispatchesToAllHooksInOrder(t *testing.T) {
	a := &countingHook{}
	b := &countingHook{}
	m := NewMulti(a, b)

	fc := &types.FlightContext{FlightID: "f1"}
	m.OnFlightStart(context.Background(), fc)

	assert.Equal(t, 1, a.starts)
	assert.Equal(t, 1, b.starts)
}

func TestMulti_RecoversPanickingHook(t *testing.T) {
	ok := &countingHook{}
	m := NewMulti(panickingHook{}, ok)

	fc := &types.FlightContext{FlightID: "f1"}
	assert.NotPanics(t, func() {
		m.OnFlightStart(context.Background(), fc)
	})
	assert.Equal(t, 1, ok.starts)
}

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Kind: EventFlightStart, FlightID: "f1"})

	select {
	case evt := <-sub:
		assert.Equal(t, "f1", evt.FlightID)
		assert.Equal(t, EventFlightStart, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishingHook_SatisfiesTypesHook(t *testing.T) {
	b := NewBroker()
	var _ types.Hook = NewPublishingHook(b)
}
