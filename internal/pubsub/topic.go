package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrTooManyTopics is returned when an add would push the held topic set
// past the connection's subscription ceiling. The held set is left
// unchanged; the deployment has outgrown a single connection and the
// client deliberately does not shard.
var ErrTooManyTopics = errors.New("pubsub: too many topics")

// Handler consumes the decoded inner payload of a pushed event.
type Handler func(payload json.RawMessage) error

// Topic is one logical subscription: the key naming a pushed-event stream
// and the handler invoked for its events. Identity is the key alone, so
// topics can be deduplicated and looked up without comparing handlers.
type Topic struct {
	key     string
	handler Handler
}

// NewTopic builds a topic from its wire key and handler.
func NewTopic(key string, handler Handler) Topic {
	return Topic{key: key, handler: handler}
}

// Key returns the wire key of the topic.
func (t Topic) Key() string { return t.key }

func (t Topic) String() string { return t.key }

// registry tracks the topics held on the connection and enforces the
// subscription ceiling.
type registry struct {
	mu     sync.Mutex
	limit  int
	topics map[string]Topic
}

func newRegistry(limit int) *registry {
	return &registry{
		limit:  limit,
		topics: make(map[string]Topic),
	}
}

// hasNew reports whether any of the given topics is not yet held.
func (r *registry) hasNew(topics []Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range topics {
		if _, ok := r.topics[t.key]; !ok {
			return true
		}
	}
	return false
}

// commit adds the not-yet-held topics. It fails without mutating anything
// when the union would exceed the ceiling. It returns how many topics were
// added and the full membership keys after the commit.
func (r *registry) commit(topics []Topic) (int, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make([]Topic, 0, len(topics))
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := r.topics[t.key]; ok {
			continue
		}
		if _, ok := seen[t.key]; ok {
			continue
		}
		seen[t.key] = struct{}{}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return 0, r.sortedKeys(), nil
	}
	if len(r.topics)+len(fresh) > r.limit {
		return 0, nil, fmt.Errorf("%w: holding %d, adding %d exceeds the ceiling of %d",
			ErrTooManyTopics, len(r.topics), len(fresh), r.limit)
	}
	for _, t := range fresh {
		r.topics[t.key] = t
	}
	return len(fresh), r.sortedKeys(), nil
}

// lookup returns the held topic for a key.
func (r *registry) lookup(key string) (Topic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[key]
	return t, ok
}

// keys returns the held topic keys in sorted order.
func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedKeys()
}

func (r *registry) sortedKeys() []string {
	keys := make([]string, 0, len(r.topics))
	for k := range r.topics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.topics)
}
