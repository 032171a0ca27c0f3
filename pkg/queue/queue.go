// Package queue implements the Work Queue Adapter: a durable, at-least-
// once delivery channel for Ready{flight_id} messages, used when a flight
// is deferred rather than claimed directly by the submitting instance.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// readyMessageVersion is the only message-format version this adapter
// understands. A message with an incompatible major version or an unknown
// enum is nacked rather than processed (spec: wire-format compatibility).
const readyMessageVersion = 1

// readyMessageEnum is the only message kind this engine currently
// produces or consumes.
const readyMessageEnum = "READY"

// readyMessage is the wire shape of a queued message:
// {"messageEnum":"READY","version":1,"flightId":"..."}.
type readyMessage struct {
	MessageEnum string `json:"messageEnum"`
	Version     int    `json:"version"`
	FlightID    string `json:"flightId"`
}

// EncodeReady serializes a Ready{flightID} message for Enqueue.
func EncodeReady(flightID string) (string, error) {
	b, err := json.Marshal(readyMessage{
		MessageEnum: readyMessageEnum,
		Version:     readyMessageVersion,
		FlightID:    flightID,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeReady parses a message previously produced by EncodeReady. It
// returns an error if the enum is unrecognized or the version is not the
// one this adapter understands, signaling the caller to nack.
func DecodeReady(payload string) (flightID string, err error) {
	var msg readyMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", fmt.Errorf("queue: malformed message: %w", err)
	}
	if msg.MessageEnum != readyMessageEnum {
		return "", fmt.Errorf("queue: unknown message enum %q", msg.MessageEnum)
	}
	if msg.Version != readyMessageVersion {
		return "", fmt.Errorf("queue: incompatible message version %d", msg.Version)
	}
	return msg.FlightID, nil
}

// Queue is the abstract work queue adapter. Implementations must provide
// at-least-once delivery: a message is only permanently removed once f
// returns true from Dispatch.
type Queue interface {
	// Enqueue durably appends payload to the queue.
	Enqueue(ctx context.Context, payload string) error

	// Dispatch polls up to max messages and invokes f on each. If f
	// returns true the message is acked (removed); otherwise it is
	// nacked (returned to the queue, eligible for redelivery after its
	// visibility timeout).
	Dispatch(ctx context.Context, max int, f func(payload string) bool) error

	// Close releases any resources held by the adapter.
	Close() error
}
