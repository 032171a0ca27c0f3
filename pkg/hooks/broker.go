package hooks

import (
	"context"
	"time"

	"sync"

	"github.com/cuemby/stairway/pkg/types"
)

// EventKind is the type of lifecycle event published to the Broker.
type EventKind string

const (
	EventFlightStart     EventKind = "flight.start"
	EventFlightEnd       EventKind = "flight.end"
	EventStepStart       EventKind = "step.start"
	EventStepEnd         EventKind = "step.end"
	EventStateTransition EventKind = "flight.state_transition"
)

// Event is one published lifecycle occurrence, carrying enough of the
// FlightContext for an external subscriber to render it without reaching
// back into the journal.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	FlightID  string
	ClassName string
	StepIndex int
	Status    string
}

// Subscriber is a channel that receives published events.
type Subscriber chan *Event

// Broker fans lifecycle events out to any number of subscribers. Publish never
// blocks the flight that triggered it; slow or absent subscribers simply
// miss events rather than stall the worker pool.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker returns a Broker with its internal dispatch loop not yet
// started; call Start before the first Publish.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop in a background goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop ends the dispatch loop. Subscriber channels stay open; each is
// closed only by Unsubscribe.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues event for broadcast. If the broker's internal buffer is
// full, the event is dropped rather than blocking the caller.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// PublishingHook adapts a Broker into a types.Hook so Engine can register
// it alongside application hooks via Multi.
type PublishingHook struct {
	broker *Broker
}

// NewPublishingHook returns a types.Hook that publishes every lifecycle
// callback to broker.
func NewPublishingHook(broker *Broker) *PublishingHook {
	return &PublishingHook{broker: broker}
}

func (p *PublishingHook) OnFlightStart(_ context.Context, fc *types.FlightContext) {
	p.broker.Publish(&Event{Kind: EventFlightStart, FlightID: fc.FlightID, ClassName: fc.FlightClass, StepIndex: fc.StepIndex})
}

func (p *PublishingHook) OnFlightEnd(_ context.Context, fc *types.FlightContext, status types.Status) {
	p.broker.Publish(&Event{Kind: EventFlightEnd, FlightID: fc.FlightID, ClassName: fc.FlightClass, StepIndex: fc.StepIndex, Status: string(status)})
}

func (p *PublishingHook) OnStepStart(_ context.Context, fc *types.FlightContext) {
	p.broker.Publish(&Event{Kind: EventStepStart, FlightID: fc.FlightID, ClassName: fc.FlightClass, StepIndex: fc.StepIndex})
}

func (p *PublishingHook) OnStepEnd(_ context.Context, fc *types.FlightContext, result types.StepResult) {
	p.broker.Publish(&Event{Kind: EventStepEnd, FlightID: fc.FlightID, ClassName: fc.FlightClass, StepIndex: fc.StepIndex, Status: result.Kind.String()})
}

func (p *PublishingHook) OnStateTransition(_ context.Context, fc *types.FlightContext, from, to types.Status) {
	p.broker.Publish(&Event{Kind: EventStateTransition, FlightID: fc.FlightID, ClassName: fc.FlightClass, StepIndex: fc.StepIndex, Status: string(from) + "->" + string(to)})
}

var _ types.Hook = (*PublishingHook)(nil)
