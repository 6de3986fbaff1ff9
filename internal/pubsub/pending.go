package pubsub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrHeartbeatPending is returned when a heartbeat request is issued while
// the previous one has not been resolved: the reserved token allows at most
// one outstanding heartbeat.
var ErrHeartbeatPending = errors.New("pubsub: heartbeat already pending")

// generateNonce creates correlation tokens; overridable in tests.
var generateNonce = uuid.NewString

// pending correlates outbound request nonces with their eventual reply
// frames. Result slots are buffered so resolution never blocks the pump.
type pending struct {
	mu    sync.Mutex
	slots map[string]chan Frame
}

func newPending() *pending {
	return &pending{slots: make(map[string]chan Frame)}
}

// register creates a result slot for a request of the given type and
// returns the assigned nonce. Heartbeat requests use the reserved nonce;
// all others get a fresh token unique among the pending ones.
func (p *pending) register(reqType string) (string, chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonce := heartbeatNonce
	if reqType == TypePing {
		if _, exists := p.slots[heartbeatNonce]; exists {
			return "", nil, ErrHeartbeatPending
		}
	} else {
		for {
			nonce = generateNonce()
			if _, exists := p.slots[nonce]; !exists {
				break
			}
		}
	}

	slot := make(chan Frame, 1)
	p.slots[nonce] = slot
	return nonce, slot, nil
}

// resolve delivers a reply to the slot registered under nonce and removes
// it. It reports false for unknown nonces; duplicate replies land there
// too, because the first resolution removes the slot.
func (p *pending) resolve(nonce string, f Frame) bool {
	p.mu.Lock()
	slot, ok := p.slots[nonce]
	if ok {
		delete(p.slots, nonce)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	slot <- f
	return true
}

// remove drops a single slot without resolving it.
func (p *pending) remove(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.slots, nonce)
}

// discard drops every pending slot without resolving it. Called when a
// connection instance ends; awaiting callers observe their own timeouts
// and retry with fresh requests.
func (p *pending) discard() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.slots)
	if n > 0 {
		p.slots = make(map[string]chan Frame)
	}
	return n
}

func (p *pending) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
