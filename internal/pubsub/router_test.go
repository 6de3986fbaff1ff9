package pubsub

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn() *Conn {
	return NewConn(DefaultConfig(), staticCreds{token: "tok", userID: 1})
}

func TestRoutePongResolvesHeartbeat(t *testing.T) {
	c := newTestConn()
	nonce, slot, err := c.pending.register(TypePing)
	require.NoError(t, err)
	require.Equal(t, heartbeatNonce, nonce)

	c.route(Frame{Type: TypePong})

	select {
	case f := <-slot:
		assert.Equal(t, TypePong, f.Type)
	default:
		t.Fatal("PONG should resolve the reserved heartbeat slot")
	}

	// A stray PONG with nothing pending is ignored.
	c.route(Frame{Type: TypePong})
}

func TestRouteResponseResolvesExactlyOnce(t *testing.T) {
	c := newTestConn()
	nonce, slot, err := c.pending.register(TypeListen)
	require.NoError(t, err)

	c.route(Frame{Type: TypeResponse, Nonce: nonce})
	select {
	case f := <-slot:
		assert.Equal(t, nonce, f.Nonce)
	default:
		t.Fatal("reply should resolve the pending slot")
	}

	// A duplicate reply and an unknown nonce change nothing.
	c.route(Frame{Type: TypeResponse, Nonce: nonce})
	c.route(Frame{Type: TypeResponse, Nonce: "never-registered"})
	assert.Equal(t, 0, c.pending.size())
}

func TestRouteReconnectRaisesSignal(t *testing.T) {
	c := newTestConn()
	assert.False(t, c.reconnect.IsSet())

	c.route(Frame{Type: TypeReconnect})

	assert.True(t, c.reconnect.IsSet())
	reason, _ := c.reconnectReason.Load().(string)
	assert.Equal(t, "server_request", reason)
}

func TestRouteMessageInvokesHeldHandler(t *testing.T) {
	c := newTestConn()
	payloads := make(chan json.RawMessage, 2)
	topic := NewTopic("events-for-entity.42", func(p json.RawMessage) error {
		payloads <- p
		return nil
	})
	_, _, err := c.registry.commit([]Topic{topic})
	require.NoError(t, err)

	inner := `{"type":"stream-up","server_time":1623456789}`
	data, err := json.Marshal(MessageData{Topic: "events-for-entity.42", Message: inner})
	require.NoError(t, err)

	c.route(Frame{Type: TypeMessage, Data: data})

	require.Len(t, payloads, 1, "handler must run exactly once per frame")
	assert.JSONEq(t, inner, string(<-payloads))
}

func TestRouteMessageUnheldTopicDropped(t *testing.T) {
	c := newTestConn()
	called := false
	topic := NewTopic("events-for-entity.42", func(json.RawMessage) error {
		called = true
		return nil
	})
	_, _, err := c.registry.commit([]Topic{topic})
	require.NoError(t, err)

	data, err := json.Marshal(MessageData{Topic: "events-for-entity.43", Message: `{}`})
	require.NoError(t, err)

	c.route(Frame{Type: TypeMessage, Data: data})

	assert.False(t, called, "handler must not run for an unheld topic")
}

func TestRouteMessageMalformedDropped(t *testing.T) {
	c := newTestConn()
	called := false
	topic := NewTopic("events-for-entity.42", func(json.RawMessage) error {
		called = true
		return nil
	})
	_, _, err := c.registry.commit([]Topic{topic})
	require.NoError(t, err)

	// Envelope that does not decode into a message payload.
	c.route(Frame{Type: TypeMessage, Data: json.RawMessage(`"not-an-object"`)})

	// Inner payload that is not valid JSON.
	data, err := json.Marshal(MessageData{Topic: "events-for-entity.42", Message: `{invalid`})
	require.NoError(t, err)
	c.route(Frame{Type: TypeMessage, Data: data})

	assert.False(t, called)
}

func TestRouteHandlerErrorIsContained(t *testing.T) {
	c := newTestConn()
	topic := NewTopic("events-for-entity.42", func(json.RawMessage) error {
		return errors.New("handler exploded")
	})
	_, _, err := c.registry.commit([]Topic{topic})
	require.NoError(t, err)

	data, err := json.Marshal(MessageData{Topic: "events-for-entity.42", Message: `{}`})
	require.NoError(t, err)

	// Must log and continue, never panic or end the connection.
	c.route(Frame{Type: TypeMessage, Data: data})
}

func TestRouteUnknownTypeDropped(t *testing.T) {
	c := newTestConn()
	c.route(Frame{Type: "WHISPER"})
	c.route(Frame{})
}
