package watcher

import (
	"sync"

	"dropwatch/internal/twitch"
)

// interestSet holds the games that currently have earnable drops.
// Channels playing anything else are not worth watching.
type interestSet struct {
	mu    sync.RWMutex
	games []twitch.Game
	ids   map[string]bool
}

func newInterestSet() *interestSet {
	return &interestSet{ids: make(map[string]bool)}
}

// Replace swaps the whole set.
func (s *interestSet) Replace(games []twitch.Game) {
	ids := make(map[string]bool, len(games))
	for _, g := range games {
		ids[g.ID] = true
	}
	s.mu.Lock()
	s.games = games
	s.ids = ids
	s.mu.Unlock()
}

// Has reports whether the game id is of interest.
func (s *interestSet) Has(gameID string) bool {
	if gameID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[gameID]
}

// Games returns the set in first-seen order.
func (s *interestSet) Games() []twitch.Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]twitch.Game, len(s.games))
	copy(out, s.games)
	return out
}
