package pubsub

import "encoding/json"

// route classifies one inbound frame and dispatches it. Protocol-level
// surprises (unknown types, unmatched nonces, unheld topics) are logged
// and dropped; they never end the connection.
func (c *Conn) route(f Frame) {
	switch f.Type {
	case TypePong:
		if !c.pending.resolve(heartbeatNonce, f) {
			c.logger.Debug().Msg("PONG with no pending heartbeat")
		}
		c.metrics.PendingRequests.Set(float64(c.pending.size()))
	case TypeResponse:
		if !c.pending.resolve(f.Nonce, f) {
			c.logger.Debug().Str("nonce", f.Nonce).Msg("Response with no pending request")
			c.metrics.DroppedFramesTotal.WithLabelValues("unmatched_nonce").Inc()
		}
		c.metrics.PendingRequests.Set(float64(c.pending.size()))
	case TypeReconnect:
		c.logger.Info().Msg("Server requested reconnect")
		c.requestReconnect("server_request")
	case TypeMessage:
		c.dispatch(f)
	default:
		c.logger.Warn().Str("type", f.Type).Msg("Unrecognized frame type")
		c.metrics.DroppedFramesTotal.WithLabelValues("unknown_type").Inc()
	}
}

// dispatch decodes a MESSAGE frame and invokes the matching topic handler
// with the decoded inner payload.
func (c *Conn) dispatch(f Frame) {
	var msg MessageData
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("Malformed MESSAGE envelope")
		c.metrics.DroppedFramesTotal.WithLabelValues("malformed").Inc()
		return
	}

	topic, ok := c.registry.lookup(msg.Topic)
	if !ok {
		c.logger.Warn().Str("topic", msg.Topic).Msg("Message for unheld topic dropped")
		c.metrics.DroppedFramesTotal.WithLabelValues("unheld_topic").Inc()
		return
	}

	// The inner payload arrives as a JSON-encoded string.
	payload := json.RawMessage(msg.Message)
	if !json.Valid(payload) {
		c.logger.Warn().Str("topic", msg.Topic).Msg("Invalid inner payload dropped")
		c.metrics.DroppedFramesTotal.WithLabelValues("malformed").Inc()
		return
	}

	if err := topic.handler(payload); err != nil {
		c.logger.Error().Err(err).Str("topic", msg.Topic).Msg("Topic handler failed")
	}
}
