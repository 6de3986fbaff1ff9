package twitch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"dropwatch/internal/channel"
	"dropwatch/internal/logging"
	"dropwatch/internal/metrics"
)

// dropsTagID marks streams that currently award drops.
const dropsTagID = "c2542d6d-cd10-4532-919b-3d19f30a768b"

// claimCacheSize bounds the recently-claimed id cache used to suppress
// duplicate claim calls.
const claimCacheSize = 256

// Config contains Twitch client configuration
type Config struct {
	// GQLURL is the GraphQL endpoint
	GQLURL string
	// ValidateURL is the OAuth token validation endpoint
	ValidateURL string
	// WatchURL receives minute-watched events
	WatchURL string
	// ClientID identifies the client the token was issued for
	ClientID string
	// UserAgent is sent on every request
	UserAgent string
	// Timeout bounds individual HTTP calls
	Timeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		GQLURL:      "https://gql.twitch.tv/gql",
		ValidateURL: "https://id.twitch.tv/oauth2/validate",
		WatchURL:    "https://spade.twitch.tv/track",
		ClientID:    "kimne78kx3ncx6brgo4mv6wki5h1ko",
		UserAgent:   "Twitch Drops App",
		Timeout:     15 * time.Second,
	}
}

// Client executes Twitch API operations for one account.
type Client struct {
	config  Config
	auth    *Auth
	client  *http.Client
	claimed *lru.Cache
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a client around an account session.
func NewClient(config Config, auth *Auth) (*Client, error) {
	def := DefaultConfig()
	if config.GQLURL == "" {
		config.GQLURL = def.GQLURL
	}
	if config.ValidateURL == "" {
		config.ValidateURL = def.ValidateURL
	}
	if config.WatchURL == "" {
		config.WatchURL = def.WatchURL
	}
	if config.ClientID == "" {
		config.ClientID = def.ClientID
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}

	claimed, err := lru.New(claimCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create claim cache: %w", err)
	}

	return &Client{
		config:  config,
		auth:    auth,
		client:  &http.Client{Timeout: config.Timeout},
		claimed: claimed,
		logger:  logging.Component("twitch"),
		metrics: metrics.GetMetrics(),
	}, nil
}

// streamInfoResponse mirrors the parts of the stream overlay query the
// client reads.
type streamInfoResponse struct {
	User *struct {
		ID                string `json:"id"`
		BroadcastSettings struct {
			Title string `json:"title"`
			Game  struct {
				ID          string `json:"id"`
				Name        string `json:"name"`
				DisplayName string `json:"displayName"`
			} `json:"game"`
		} `json:"broadcastSettings"`
		Stream *struct {
			ID           string `json:"id"`
			ViewersCount int    `json:"viewersCount"`
			Tags         []struct {
				ID string `json:"id"`
			} `json:"tags"`
		} `json:"stream"`
	} `json:"user"`
}

// FetchStream loads the live state of a channel. A nil stream with nil
// error means the channel is offline.
func (c *Client) FetchStream(ctx context.Context, login string) (*channel.Stream, error) {
	var out streamInfoResponse
	op := opStreamInfo.WithVariables(map[string]any{"channel": login})
	if err := c.gql(ctx, op, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("unknown channel %q", login)
	}
	if out.User.Stream == nil {
		return nil, nil
	}

	drops := false
	for _, tag := range out.User.Stream.Tags {
		if tag.ID == dropsTagID {
			drops = true
			break
		}
	}

	game := out.User.BroadcastSettings.Game.DisplayName
	if game == "" {
		game = out.User.BroadcastSettings.Game.Name
	}

	return &channel.Stream{
		ID:           out.User.Stream.ID,
		GameID:       out.User.BroadcastSettings.Game.ID,
		Game:         game,
		Title:        out.User.BroadcastSettings.Title,
		ViewerCount:  out.User.Stream.ViewersCount,
		DropsEnabled: drops,
	}, nil
}

// FetchChannelID resolves a login to its numeric channel id.
func (c *Client) FetchChannelID(ctx context.Context, login string) (int64, error) {
	var out struct {
		User *struct {
			ID    string `json:"id"`
			Login string `json:"login"`
		} `json:"user"`
	}
	op := opChannelID.WithVariables(map[string]any{"channelLogin": login})
	if err := c.gql(ctx, op, &out); err != nil {
		return 0, err
	}
	if out.User == nil {
		return 0, fmt.Errorf("unknown channel %q", login)
	}
	id, err := strconv.ParseInt(out.User.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse channel id %q: %w", out.User.ID, err)
	}
	return id, nil
}

// IsLive reports whether a channel currently broadcasts, without
// fetching the full stream state.
func (c *Client) IsLive(ctx context.Context, channelID int64) (bool, error) {
	var out struct {
		User *struct {
			Stream *struct {
				ID string `json:"id"`
			} `json:"stream"`
		} `json:"user"`
	}
	op := opIsStreamLive.WithVariables(map[string]any{"id": strconv.FormatInt(channelID, 10)})
	if err := c.gql(ctx, op, &out); err != nil {
		return false, err
	}
	return out.User != nil && out.User.Stream != nil, nil
}

// SendWatch reports a minute of watch time for the channel's current
// stream, the same event the web player emits.
func (c *Client) SendWatch(ctx context.Context, ch *channel.Channel) error {
	stream := ch.Stream()
	if stream == nil {
		return fmt.Errorf("channel %s has no active stream", ch.Login())
	}

	event := []map[string]any{{
		"event": "minute-watched",
		"properties": map[string]any{
			"broadcast_id": stream.ID,
			"channel_id":   ch.ID(),
			"channel":      ch.Login(),
			"hidden":       false,
			"live":         true,
			"location":     "channel",
			"logged_in":    true,
			"muted":        false,
			"player":       "site",
			"user_id":      c.auth.UserID(),
		},
	}}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode watch event: %w", err)
	}

	form := url.Values{"data": {base64.StdEncoding.EncodeToString(raw)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WatchURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create watch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send watch event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("watch endpoint returned status %d", resp.StatusCode)
	}
	c.metrics.WatchPingsTotal.Inc()
	return nil
}
