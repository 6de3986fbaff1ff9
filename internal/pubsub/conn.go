package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dropwatch/internal/logging"
	"dropwatch/internal/metrics"
	"dropwatch/internal/syncx"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("pubsub: connection closed")

// Config contains PubSub connection configuration
type Config struct {
	// WebSocket endpoint of the push service
	URL string

	// Heartbeat cadence and reply deadline
	PingInterval time.Duration
	PingTimeout  time.Duration

	// Subscription ceiling of a single connection
	MaxTopics int

	// Outbound queue depth
	SendBuffer int

	// Reconnect backoff bounds; the delay doubles up to the ceiling and
	// resets after a successful dial
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		URL:              "wss://pubsub-edge.twitch.tv/v1",
		PingInterval:     3 * time.Minute,
		PingTimeout:      10 * time.Second,
		MaxTopics:        50,
		SendBuffer:       32,
		ReconnectMinWait: time.Second,
		ReconnectMaxWait: 3 * time.Minute,
	}
}

// Credentials supplies the bearer token and account id used for
// account-scoped subscriptions. Connect blocks until they are ready.
type Credentials interface {
	WaitReady(ctx context.Context) error
	AccessToken() string
	UserID() int64
}

// outbound pairs a queued request with its correlation nonce.
type outbound struct {
	nonce string
	req   Request
}

// exitReason classifies why a connection instance ended.
type exitReason string

const (
	exitLocal     exitReason = "local_close"
	exitContext   exitReason = "context_done"
	exitRemote    exitReason = "remote_close"
	exitError     exitReason = "transport_error"
	exitReconnect exitReason = "reconnect_request"
)

// Conn maintains one long-lived connection to the push service. It owns
// the reconnect loop, the subscription registry, request correlation and
// the heartbeat, and routes inbound frames to topic handlers.
type Conn struct {
	config   Config
	creds    Credentials
	registry *registry
	pending  *pending

	ready           *syncx.Gate
	reconnect       *syncx.Gate
	reconnectReason atomic.Value

	sendq  chan outbound
	closed atomic.Bool
	dialer *websocket.Dialer

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewConn creates a connection manager. It does not dial; call Connect.
func NewConn(config Config, creds Credentials) *Conn {
	def := DefaultConfig()
	if config.URL == "" {
		config.URL = def.URL
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = def.PingTimeout
	}
	if config.MaxTopics <= 0 {
		config.MaxTopics = def.MaxTopics
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	if config.ReconnectMinWait <= 0 {
		config.ReconnectMinWait = def.ReconnectMinWait
	}
	if config.ReconnectMaxWait <= 0 {
		config.ReconnectMaxWait = def.ReconnectMaxWait
	}

	return &Conn{
		config:    config,
		creds:     creds,
		registry:  newRegistry(config.MaxTopics),
		pending:   newPending(),
		ready:     syncx.NewGate(),
		reconnect: syncx.NewGate(),
		sendq:     make(chan outbound, config.SendBuffer),
		dialer:    websocket.DefaultDialer,
		logger:    logging.Component("pubsub"),
		metrics:   metrics.GetMetrics(),
	}
}

// Connect establishes the connection and serves it until the context ends
// or Close is called. Transient failures, remote closes and server-side
// reconnect requests retry with capped exponential backoff; only a local
// close is terminal.
func (c *Conn) Connect(ctx context.Context) error {
	if err := c.creds.WaitReady(ctx); err != nil {
		return fmt.Errorf("waiting for credentials: %w", err)
	}

	wait := c.config.ReconnectMinWait
	for {
		if c.closed.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ws, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Connection failed")
			c.metrics.ReconnectsTotal.WithLabelValues("dial_error").Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait = nextWait(wait, c.config.ReconnectMaxWait)
			continue
		}
		wait = c.config.ReconnectMinWait
		c.logger.Info().Str("url", c.config.URL).Msg("Connected")

		switch reason := c.serve(ctx, ws); reason {
		case exitLocal:
			c.logger.Info().Msg("Connection closed")
			return nil
		case exitContext:
			return ctx.Err()
		default:
			c.metrics.ReconnectsTotal.WithLabelValues(string(reason)).Inc()
			c.logger.Warn().Str("reason", string(reason)).Msg("Reconnecting")
		}
	}
}

// serve runs one connection instance: it drains stale outbound frames,
// raises readiness, starts the reader and heartbeat, re-announces held
// topics and pumps frames until the instance ends. Topic handlers run on
// this goroutine, so dispatch is serial across frames.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) exitReason {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Requests queued against the previous connection ride abandoned
	// correlation slots; drop them instead of replaying.
drain:
	for {
		select {
		case out := <-c.sendq:
			c.logger.Debug().Str("type", out.req.Type).Msg("Dropped stale outbound frame")
		default:
			break drain
		}
	}

	c.reconnect.Clear()
	c.ready.Set()
	c.metrics.PubSubConnected.Set(1)
	defer func() {
		c.ready.Clear()
		c.metrics.PubSubConnected.Set(0)
		ws.Close()
		if dropped := c.pending.discard(); dropped > 0 {
			c.logger.Debug().Int("count", dropped).Msg("Abandoned pending requests")
		}
		c.metrics.PendingRequests.Set(0)
	}()

	frames := make(chan Frame)
	readErr := make(chan error, 1)
	go c.readLoop(connCtx, ws, frames, readErr)
	go c.heartbeat(connCtx)

	if err := c.announce(connCtx); err != nil {
		c.logger.Warn().Err(err).Msg("Re-announce failed")
	}

	for {
		select {
		case f := <-frames:
			c.route(f)
		case out := <-c.sendq:
			if out.nonce != heartbeatNonce {
				out.req.Nonce = out.nonce
			}
			if err := ws.WriteJSON(out.req); err != nil {
				c.logger.Warn().Err(err).Msg("Write failed")
				return exitError
			}
			c.metrics.FramesSentTotal.WithLabelValues(out.req.Type).Inc()
		case err := <-readErr:
			return c.classify(err)
		case <-c.reconnect.Done():
			if c.closed.Load() {
				c.sendClose(ws)
				return exitLocal
			}
			reason, _ := c.reconnectReason.Load().(string)
			c.logger.Info().Str("reason", reason).Msg("Reconnect requested")
			if reason != "" {
				return exitReason(reason)
			}
			return exitReconnect
		case <-ctx.Done():
			c.sendClose(ws)
			return exitContext
		}
	}
}

// readLoop decodes inbound frames until the connection errors out. A
// malformed frame is treated as a transport failure and reconnects.
func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, frames chan<- Frame, readErr chan<- error) {
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			select {
			case readErr <- err:
			case <-ctx.Done():
			}
			return
		}
		c.metrics.FramesReceivedTotal.WithLabelValues(f.Type).Inc()
		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

// classify maps a read error to the fate of the connection: local closes
// terminate, everything else reconnects.
func (c *Conn) classify(err error) exitReason {
	switch {
	case c.closed.Load():
		return exitLocal
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Warn().Err(err).Msg("Connection closed by server")
		return exitRemote
	default:
		c.logger.Warn().Err(err).Msg("Connection error")
		return exitError
	}
}

// announce replays the full held subscription set on a fresh connection.
func (c *Conn) announce(ctx context.Context) error {
	keys := c.registry.keys()
	if len(keys) == 0 {
		return nil
	}
	req := Request{
		Type: TypeListen,
		Data: ListenData{Topics: keys, AuthToken: c.creds.AccessToken()},
	}
	if _, err := c.Send(ctx, req); err != nil {
		return err
	}
	c.logger.Info().Int("topics", len(keys)).Msg("Re-announced subscriptions")
	return nil
}

// sendClose performs a best-effort clean close handshake.
func (c *Conn) sendClose(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// requestReconnect raises the reconnect signal with a reason for the logs
// and metrics. The pump exits its current instance and redials.
func (c *Conn) requestReconnect(reason string) {
	c.reconnectReason.Store(reason)
	c.reconnect.Set()
}

// Close terminates the connection permanently. Connect returns once the
// current pump iteration winds down.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.requestReconnect(string(exitLocal))
}

// Send issues a request and returns the channel its correlated reply will
// arrive on. It waits for connection readiness first. The caller owns the
// reply timeout: slots are abandoned unresolved if the connection drops.
func (c *Conn) Send(ctx context.Context, req Request) (<-chan Frame, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.ready.Wait(ctx); err != nil {
		return nil, err
	}
	nonce, slot, err := c.pending.register(req.Type)
	if err != nil {
		return nil, err
	}
	c.metrics.PendingRequests.Set(float64(c.pending.size()))
	select {
	case c.sendq <- outbound{nonce: nonce, req: req}:
		return slot, nil
	case <-ctx.Done():
		c.pending.remove(nonce)
		return nil, ctx.Err()
	}
}

// AddTopics registers topics on the live connection, deduplicated by key;
// repeats are a no-op. A batch that would exceed the subscription ceiling
// fails with ErrTooManyTopics and leaves the held set unchanged; otherwise
// one LISTEN carrying the full updated membership is emitted.
func (c *Conn) AddTopics(ctx context.Context, topics ...Topic) error {
	if len(topics) == 0 || !c.registry.hasNew(topics) {
		return nil
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.ready.Wait(ctx); err != nil {
		return err
	}
	added, keys, err := c.registry.commit(topics)
	if err != nil {
		return err
	}
	if added == 0 {
		return nil
	}
	c.metrics.TopicsHeld.Set(float64(len(keys)))
	req := Request{
		Type: TypeListen,
		Data: ListenData{Topics: keys, AuthToken: c.creds.AccessToken()},
	}
	if _, err := c.Send(ctx, req); err != nil {
		return err
	}
	c.logger.Info().Int("added", added).Int("held", len(keys)).Msg("Topics registered")
	return nil
}

// WaitReady blocks until the connection is usable for sending.
func (c *Conn) WaitReady(ctx context.Context) error {
	return c.ready.Wait(ctx)
}

// Ready reports whether the connection is currently usable.
func (c *Conn) Ready() bool {
	return c.ready.IsSet()
}

// Topics returns the held subscription keys in sorted order.
func (c *Conn) Topics() []string {
	return c.registry.keys()
}

// nextWait doubles the reconnect delay up to the ceiling.
func nextWait(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
