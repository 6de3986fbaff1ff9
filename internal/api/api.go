package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dropwatch/internal/channel"
	"dropwatch/internal/logging"
	"dropwatch/internal/store"
	"dropwatch/internal/telemetry"
	"dropwatch/internal/twitch"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Whether to expose the /metrics endpoint
	MetricsEnabled bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8420",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MetricsEnabled: true,
	}
}

// Connection is the slice of the push connection the API reports on.
type Connection interface {
	Ready() bool
	Topics() []string
}

// Watcher exposes the engagement state of the scheduler.
type Watcher interface {
	Watching() *channel.Snapshot
	InterestGames() []twitch.Game
}

// ClaimLister reads the claim ledger. May be nil.
type ClaimLister interface {
	Claims() ([]store.Claim, error)
}

// Server is the read-only diagnostics surface: connection state,
// channel snapshots, held topics and the claim ledger. It never mutates
// engine state.
type Server struct {
	config   Config
	conn     Connection
	channels *channel.Set
	watcher  Watcher
	claims   ClaimLister
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer creates the diagnostics server.
func NewServer(config Config, conn Connection, channels *channel.Set, watcher Watcher, claims ClaimLister) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	return &Server{
		config:   config,
		conn:     conn,
		channels: channels,
		watcher:  watcher,
		claims:   claims,
		logger:   logging.Component("api"),
	}
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("Starting diagnostics server")

	server := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.server = server

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Diagnostics server error")
		}
	}()

	<-ctx.Done()
	return nil
}

// Router builds the route tree. Exposed separately so tests can drive
// it without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.HTTPMiddleware())
	r.Use(telemetry.HTTPMiddleware("dropwatch"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.conn.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("connecting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/channels", s.handleChannels)
		r.Get("/topics", s.handleTopics)
		r.Get("/claims", s.handleClaims)
	})

	return r
}

// StatusResponse summarizes the connection and engagement state.
type StatusResponse struct {
	Connected      bool              `json:"connected"`
	Topics         int               `json:"topics"`
	Channels       int               `json:"channels"`
	ChannelsOnline int               `json:"channels_online"`
	Watching       *channel.Snapshot `json:"watching,omitempty"`
	InterestGames  []string          `json:"interest_games"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshots := s.channels.Snapshots()
	online := 0
	for _, snap := range snapshots {
		if snap.Online {
			online++
		}
	}

	games := s.watcher.InterestGames()
	titles := make([]string, 0, len(games))
	for _, g := range games {
		titles = append(titles, g.Title())
	}

	sendJSON(w, http.StatusOK, StatusResponse{
		Connected:      s.conn.Ready(),
		Topics:         len(s.conn.Topics()),
		Channels:       len(snapshots),
		ChannelsOnline: online,
		Watching:       s.watcher.Watching(),
		InterestGames:  titles,
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"channels": s.channels.Snapshots(),
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"topics": s.conn.Topics(),
	})
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	if s.claims == nil {
		sendJSON(w, http.StatusOK, map[string]any{"claims": []store.Claim{}})
		return
	}
	claims, err := s.claims.Claims()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list claims")
		sendError(w, http.StatusInternalServerError, "failed to list claims")
		return
	}
	if claims == nil {
		claims = []store.Claim{}
	}
	sendJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// sendJSON writes a JSON response body
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sendError writes a JSON error response
func sendError(w http.ResponseWriter, status int, errMsg string) {
	sendJSON(w, status, map[string]string{"error": errMsg})
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down diagnostics server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
