// Package watch implements the fan-out machinery behind store subscriptions.
//
// Each subscriber owns a single-slot mailbox drained by a dedicated
// goroutine. Writers overwrite the slot, so a slow subscriber observes a
// coalesced stream: versions only move forward and the latest snapshot is
// never lost, but intermediate values may be skipped. Posting to the mailbox
// never blocks on a callback in flight.
package watch

import (
	"sync"

	"github.com/louisbranch/chartdetectives/internal/game/storage"
)

// Hub routes session snapshots to registered subscribers.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	streams map[string]map[uint64]*subscriber
}

type subscriber struct {
	// slotMu guards pending, closed, and lastVersion; deliverMu serializes
	// callback execution against stop so cancel can guarantee no further
	// callbacks.
	slotMu  sync.Mutex
	pending *storage.Snapshot
	closed  bool
	// lastVersion is the highest version seeded or offered so far. Offers at
	// or below it are stale commits racing in behind a newer one and are
	// dropped, keeping the delivered version sequence strictly increasing.
	lastVersion uint64
	deliverMu   sync.Mutex
	wake        chan struct{}
	done        chan struct{}
	fn          storage.SubscribeFunc
}

// NewHub returns an empty hub ready for subscriptions.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]map[uint64]*subscriber)}
}

// Subscribe registers fn for sessionID and immediately queues initial for
// delivery. The returned cancel function blocks until no further callbacks
// will fire.
func (h *Hub) Subscribe(sessionID string, initial storage.Snapshot, fn storage.SubscribeFunc) func() {
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		fn:   fn,
	}
	sub.pending = &initial
	sub.lastVersion = initial.Version
	sub.wake <- struct{}{}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	stream, ok := h.streams[sessionID]
	if !ok {
		stream = make(map[uint64]*subscriber)
		h.streams[sessionID] = stream
	}
	stream[id] = sub
	h.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if stream, ok := h.streams[sessionID]; ok {
				delete(stream, id)
				if len(stream) == 0 {
					delete(h.streams, sessionID)
				}
			}
			h.mu.Unlock()
			sub.stop()
		})
	}
}

// Notify queues snap for every subscriber of sessionID, overwriting any
// undelivered snapshot.
func (h *Hub) Notify(sessionID string, snap storage.Snapshot) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.streams[sessionID]))
	for _, sub := range h.streams[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(snap)
	}
}

// Close stops every subscriber and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscriber
	for _, stream := range h.streams {
		for _, sub := range stream {
			all = append(all, sub)
		}
	}
	h.streams = make(map[string]map[uint64]*subscriber)
	h.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}

func (s *subscriber) offer(snap storage.Snapshot) {
	s.slotMu.Lock()
	if s.closed || snap.Version <= s.lastVersion {
		s.slotMu.Unlock()
		return
	}
	s.pending = &snap
	s.lastVersion = snap.Version
	s.slotMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.slotMu.Lock()
		snap := s.pending
		s.pending = nil
		s.slotMu.Unlock()
		if snap == nil {
			continue
		}
		s.deliverMu.Lock()
		s.slotMu.Lock()
		closed := s.closed
		s.slotMu.Unlock()
		if !closed {
			s.fn(*snap)
		}
		s.deliverMu.Unlock()
	}
}

func (s *subscriber) stop() {
	s.slotMu.Lock()
	s.closed = true
	s.slotMu.Unlock()
	// Wait out any callback in flight before returning.
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	close(s.done)
}
