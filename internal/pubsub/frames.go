package pubsub

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators used by the push service.
const (
	TypePing      = "PING"
	TypePong      = "PONG"
	TypeListen    = "LISTEN"
	TypeUnlisten  = "UNLISTEN"
	TypeMessage   = "MESSAGE"
	TypeResponse  = "RESPONSE"
	TypeReconnect = "RECONNECT"
)

// heartbeatNonce is the reserved correlation token for heartbeat requests.
// PING frames go out without a nonce field; the PONG reply resolves this
// reserved slot instead.
const heartbeatNonce = "PING"

// Request is an outbound frame. The connection pump stamps Nonce before
// transmission; callers leave it empty.
type Request struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// ListenData is the payload of LISTEN and UNLISTEN requests.
type ListenData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token,omitempty"`
}

// Frame is a decoded inbound frame.
type Frame struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Err converts the error string carried by a RESPONSE frame, if any.
func (f Frame) Err() error {
	if f.Error != "" {
		return fmt.Errorf("service error: %s", f.Error)
	}
	return nil
}

// MessageData is the envelope of a MESSAGE frame: the topic key plus the
// inner payload, which the service encodes as a JSON string that must be
// decoded again before dispatch.
type MessageData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}
