package channel

import (
	"sync"
)

// Stream is the live broadcast state of a channel.
type Stream struct {
	ID           string
	GameID       string
	Game         string
	Title        string
	ViewerCount  int
	DropsEnabled bool
}

// Channel is one tracked broadcaster. Stream state is mutated both by
// pushed-event handlers and by on-demand refreshes, so access is guarded;
// readers take snapshots.
type Channel struct {
	id          int64
	login       string
	displayName string

	mu     sync.RWMutex
	stream *Stream
}

// New creates a tracked channel. displayName may be empty until the first
// profile fetch fills it in.
func New(id int64, login, displayName string) *Channel {
	return &Channel{id: id, login: login, displayName: displayName}
}

// ID returns the numeric channel id used in topic keys.
func (c *Channel) ID() int64 { return c.id }

// Login returns the channel login name used in request variables.
func (c *Channel) Login() string { return c.login }

// DisplayName returns the presentation name, falling back to the login.
func (c *Channel) DisplayName() string {
	if c.displayName == "" {
		return c.login
	}
	return c.displayName
}

// Online reports whether the channel is currently live.
func (c *Channel) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil
}

// Game returns the current category name, or "" when offline.
func (c *Channel) Game() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil {
		return ""
	}
	return c.stream.Game
}

// GameID returns the current category id, or "" when offline.
func (c *Channel) GameID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil {
		return ""
	}
	return c.stream.GameID
}

// DropsEnabled reports whether the current broadcast has drops enabled.
func (c *Channel) DropsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil && c.stream.DropsEnabled
}

// Stream returns a copy of the current stream state, or nil when offline.
func (c *Channel) Stream() *Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil {
		return nil
	}
	s := *c.stream
	return &s
}

// SetStream replaces the live state. A nil stream marks the channel
// offline.
func (c *Channel) SetStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = s
}

// SetOffline clears the live state.
func (c *Channel) SetOffline() {
	c.SetStream(nil)
}

// SetViewers updates the viewer count of a live stream. It reports whether
// the update applied; offline channels reject it.
func (c *Channel) SetViewers(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return false
	}
	c.stream.ViewerCount = n
	return true
}

// Snapshot is an immutable view of a channel for presentation.
type Snapshot struct {
	ID           int64  `json:"id"`
	Login        string `json:"login"`
	DisplayName  string `json:"display_name,omitempty"`
	Online       bool   `json:"online"`
	GameID       string `json:"game_id,omitempty"`
	Game         string `json:"game,omitempty"`
	Title        string `json:"title,omitempty"`
	ViewerCount  int    `json:"viewer_count"`
	DropsEnabled bool   `json:"drops_enabled"`
}

// Snapshot captures the channel state at a point in time.
func (c *Channel) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		ID:          c.id,
		Login:       c.login,
		DisplayName: c.displayName,
	}
	if c.stream != nil {
		snap.Online = true
		snap.GameID = c.stream.GameID
		snap.Game = c.stream.Game
		snap.Title = c.stream.Title
		snap.ViewerCount = c.stream.ViewerCount
		snap.DropsEnabled = c.stream.DropsEnabled
	}
	return snap
}

// Set is the ordered collection of tracked channels. Registration order is
// stable and determines engagement priority.
type Set struct {
	mu    sync.RWMutex
	order []*Channel
	byID  map[int64]*Channel
}

// NewSet returns an empty channel set.
func NewSet() *Set {
	return &Set{byID: make(map[int64]*Channel)}
}

// Add registers a channel. A channel with an already-known id is ignored
// so the original position keeps its priority.
func (s *Set) Add(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ch.ID()]; ok {
		return
	}
	s.byID[ch.ID()] = ch
	s.order = append(s.order, ch)
}

// Get returns the channel with the given id.
func (s *Set) Get(id int64) (*Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.byID[id]
	return ch, ok
}

// All returns the channels in registration order.
func (s *Set) All() []*Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Channel, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of tracked channels.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshots captures every channel in registration order.
func (s *Set) Snapshots() []Snapshot {
	channels := s.All()
	out := make([]Snapshot, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.Snapshot())
	}
	return out
}
