package progress

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeRoundTripsPayload(t *testing.T) {
	msg, err := newEnvelope(TypeEpoch, EpochPayload{Epoch: 3, Cost: 0.5, Accuracy: 0.9})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	assert.Equal(t, TypeEpoch, env.Type)

	var parsed EpochPayload
	require.NoError(t, json.Unmarshal(env.Payload, &parsed))
	assert.Equal(t, EpochPayload{Epoch: 3, Cost: 0.5, Accuracy: 0.9}, parsed)
}

func TestHubRegisterUnregisterUpdatesClientCount(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 16)}

	hub.register(c)
	assert.Equal(t, 1, hub.ClientCount())

	hub.unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubBroadcastDeliversToEveryClient(t *testing.T) {
	hub := NewHub()
	c1 := &Client{hub: hub, send: make(chan []byte, 16)}
	c2 := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.register(c1)
	hub.register(c2)

	msg := []byte(`{"type":"batch"}`)
	hub.Broadcast(msg)

	assert.Equal(t, msg, <-c1.send)
	assert.Equal(t, msg, <-c2.send)
}

func TestHubBroadcastDropsOnFullClientBuffer(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register(c)

	hub.Broadcast([]byte("first"))
	hub.Broadcast([]byte("second")) // buffer full, dropped rather than blocking

	assert.Equal(t, []byte("first"), <-c.send)
	assert.Len(t, c.send, 0)
}

func TestBroadcasterOnBatchAndOnEpochEncodeEnvelopes(t *testing.T) {
	hub := NewHub()
	c := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.register(c)
	b := NewBroadcaster(hub)

	b.OnBatch(5, 20)
	var env Envelope
	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeBatch, env.Type)
	var batch BatchPayload
	require.NoError(t, json.Unmarshal(env.Payload, &batch))
	assert.Equal(t, BatchPayload{Processed: 5, Total: 20}, batch)

	b.OnEpoch(2, 0.1, 0.8)
	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeEpoch, env.Type)
	var epoch EpochPayload
	require.NoError(t, json.Unmarshal(env.Payload, &epoch))
	assert.Equal(t, EpochPayload{Epoch: 2, Cost: 0.1, Accuracy: 0.8}, epoch)
}
