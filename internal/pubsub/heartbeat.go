package pubsub

import (
	"context"
	"time"
)

// heartbeat keeps one connection instance alive. It sends a PING through
// the correlator at a fixed interval and raises the reconnect signal when
// the PONG does not arrive within the timeout. The goroutine ends with its
// connection; the next successful connect starts a fresh monitor.
func (c *Conn) heartbeat(ctx context.Context) {
	for {
		reply, err := c.Send(ctx, Request{Type: TypePing})
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("Heartbeat send failed")
			}
			return
		}

		select {
		case <-reply:
		case <-time.After(c.config.PingTimeout):
			c.logger.Warn().Dur("timeout", c.config.PingTimeout).Msg("Heartbeat timed out")
			c.requestReconnect("heartbeat_timeout")
			return
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(c.config.PingInterval):
		case <-ctx.Done():
			return
		}
	}
}
