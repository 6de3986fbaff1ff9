package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dropwatch/internal/api"
	"dropwatch/internal/channel"
	"dropwatch/internal/config"
	"dropwatch/internal/logging"
	"dropwatch/internal/metrics"
	"dropwatch/internal/pubsub"
	"dropwatch/internal/store"
	"dropwatch/internal/telemetry"
	"dropwatch/internal/twitch"
	"dropwatch/internal/watcher"
)

// Engine wires the components together and owns their lifecycle: the
// push connection, the watch scheduler, the diagnostics server and the
// bootstrap that connects them to the account.
type Engine struct {
	config    *config.Config
	store     *store.Store
	auth      *twitch.Auth
	client    *twitch.Client
	conn      *pubsub.Conn
	channels  *channel.Set
	scheduler *watcher.Scheduler
	api       *api.Server

	telemetryFn func(context.Context) error
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// CreateEngine constructs every component from the configuration. No
// network activity happens until Start.
func CreateEngine(cfg *config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewStore(cfg.ToStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	twitchCfg := cfg.ToTwitchConfig()
	auth := twitch.NewAuth(twitchCfg, st, cfg.Auth.Token)

	client, err := twitch.NewClient(twitchCfg, auth)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Twitch client: %w", err)
	}

	conn := pubsub.NewConn(cfg.ToPubSubConfig(), auth)
	channels := channel.NewSet()
	scheduler := watcher.NewScheduler(cfg.ToWatcherConfig(), client, channels, st)
	apiServer := api.NewServer(cfg.ToAPIConfig(), conn, channels, scheduler, st)

	return &Engine{
		config:    cfg,
		store:     st,
		auth:      auth,
		client:    client,
		conn:      conn,
		channels:  channels,
		scheduler: scheduler,
		api:       apiServer,
		logger:    logging.Component("engine"),
		metrics:   metrics.GetMetrics(),
	}, nil
}

// Start runs the engine until the context is cancelled or a component
// fails terminally.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().
		Strs("channels", e.config.Channels).
		Msg("Starting dropwatch engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.conn.Connect(ctx)
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	g.Go(func() error {
		if err := e.bootstrap(ctx); err != nil {
			return err
		}
		return e.scheduler.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Engine shut down")
	return nil
}

// bootstrap brings the account online: validate the session, register
// the account topics, claim anything already pending and register the
// tracked channels. Transient failures retry; a rejected token or an
// exceeded topic ceiling is fatal because retrying cannot fix either.
func (e *Engine) bootstrap(ctx context.Context) error {
	retry := e.config.Engine.BootstrapRetry.Std()
	if retry <= 0 {
		retry = 5 * time.Second
	}

	for {
		err := e.bootstrapOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, twitch.ErrNoToken) ||
			errors.Is(err, twitch.ErrUnauthorized) ||
			errors.Is(err, pubsub.ErrTooManyTopics) {
			return fmt.Errorf("bootstrap failed: %w", err)
		}

		e.logger.Warn().Err(err).Dur("retry_in", retry).Msg("Bootstrap attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// bootstrapOnce is one attempt. Every step is idempotent, so a retry
// resumes where the previous attempt got cut off.
func (e *Engine) bootstrapOnce(ctx context.Context) error {
	if err := e.auth.EnsureSession(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if err := e.conn.AddTopics(ctx, e.scheduler.UserTopics(e.auth.UserID())...); err != nil {
		return fmt.Errorf("account topics: %w", err)
	}

	if err := e.scheduler.RefreshInventory(ctx); err != nil {
		return fmt.Errorf("inventory: %w", err)
	}

	for _, login := range e.config.Channels {
		ch, err := e.resolveChannel(ctx, login)
		if err != nil {
			return fmt.Errorf("channel %s: %w", login, err)
		}
		e.channels.Add(ch)
		if err := e.conn.AddTopics(ctx, e.scheduler.ChannelTopics(ch)...); err != nil {
			return fmt.Errorf("channel %s topics: %w", login, err)
		}
	}

	e.logger.Info().Int("channels", e.channels.Len()).Msg("Bootstrap complete")
	return nil
}

// resolveChannel looks up a configured login and loads its live state.
func (e *Engine) resolveChannel(ctx context.Context, login string) (*channel.Channel, error) {
	if existing := e.findChannel(login); existing != nil {
		return existing, nil
	}

	id, err := e.client.FetchChannelID(ctx, login)
	if err != nil {
		return nil, err
	}
	ch := channel.New(id, login, "")

	stream, err := e.client.FetchStream(ctx, login)
	if err != nil {
		return nil, err
	}
	ch.SetStream(stream)
	return ch, nil
}

// findChannel returns an already-registered channel by login.
func (e *Engine) findChannel(login string) *channel.Channel {
	for _, ch := range e.channels.All() {
		if ch.Login() == login {
			return ch
		}
	}
	return nil
}

// Shutdown stops the engine in reverse dependency order.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down diagnostics server")
	}

	e.conn.Close()

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	if err := e.store.Close(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to close store")
		return err
	}
	return nil
}
