// Package frames delivers decoded preview frames to subscribers with
// latest-frame-wins semantics: a slow subscriber sees the newest frame and
// skips the ones it missed, and a publisher never blocks.
package frames

import (
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one decoded picture. Once published it belongs to the consumers
// and must not be modified.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Image     image.Image
	JPEG      []byte
}

// Hub fans frames out to subscriptions and remembers the newest one.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	latest *Frame
	closed bool
	seq    atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscription is a single-slot mailbox fed by a Hub.
type Subscription struct {
	hub     *Hub
	ch      chan *Frame
	dropped atomic.Uint64
	once    sync.Once
}

// C yields frames. It is closed by Unsubscribe or when the hub closes.
func (s *Subscription) C() <-chan *Frame { return s.ch }

// Dropped counts frames that were replaced before being received.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if _, ok := s.hub.subs[s]; ok {
			delete(s.hub.subs, s)
			close(s.ch)
		}
	})
}

// Subscribe returns a new subscription. The newest frame, if any, is
// already waiting in it. After Close the subscription is returned closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan *Frame, 1)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	if h.latest != nil {
		s.ch <- h.latest
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish stamps f with the next sequence number and delivers it, replacing
// any frame a subscriber has not yet taken.
func (h *Hub) Publish(f *Frame) {
	if f == nil {
		return
	}
	f.Seq = h.seq.Add(1)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = f
	for s := range h.subs {
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		s.ch <- f
	}
}

// Latest returns the newest published frame or nil.
func (h *Hub) Latest() *Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribers returns the number of attached subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
