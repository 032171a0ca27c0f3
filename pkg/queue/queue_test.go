package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeReady_RoundTrips(t *testing.T) {
	payload, err := EncodeReady("flight-1")
	require.NoError(t, err)

	id, err := DecodeReady(payload)
	require.NoError(t, err)
	assert.Equal(t, "flight-1", id)
}

func TestDecodeReady_RejectsUnknownEnum(t *testing.T) {
	_, err := DecodeReady(`{"messageEnum":"SOMETHING_ELSE","version":1,"flightId":"x"}`)
	assert.Error(t, err)
}

func TestDecodeReady_RejectsIncompatibleVersion(t *testing.T) {
	_, err := DecodeReady(`{"messageEnum":"READY","version":2,"flightId":"x"}`)
	assert.Error(t, err)
}

func TestLocalQueue_EnqueueDispatchAck(t *testing.T) {
	q, err := NewLocalQueue(t.TempDir(), time.Minute)
	require.NoError(t, err)
	defer q.Close()

	payload, _ := EncodeReady("flight-1")
	require.NoError(t, q.Enqueue(context.Background(), payload))

	var seen []string
	err = q.Dispatch(context.Background(), 10, func(p string) bool {
		seen = append(seen, p)
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, 1)

	// Acked message must not be redelivered.
	seen = nil
	err = q.Dispatch(context.Background(), 10, func(p string) bool {
		seen = append(seen, p)
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
}

func TestLocalQueue_NackDelaysRedelivery(t *testing.T) {
	q, err := NewLocalQueue(t.TempDir(), 50*time.Millisecond)
	require.NoError(t, err)
	defer q.Close()

	payload, _ := EncodeReady("flight-1")
	require.NoError(t, q.Enqueue(context.Background(), payload))

	calls := 0
	err = q.Dispatch(context.Background(), 10, func(p string) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	err = q.Dispatch(context.Background(), 10, func(p string) bool {
		calls++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "message must stay invisible until the visibility timeout elapses")

	time.Sleep(75 * time.Millisecond)
	err = q.Dispatch(context.Background(), 10, func(p string) bool {
		calls++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
