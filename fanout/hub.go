// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanout distributes domain events to stream subscribers and
// in-process callbacks.
//
// Stream subscribers (the SSE endpoint) each own a bounded channel.
// Broadcast never blocks: a subscriber whose buffer is full is dropped,
// its channel closed, and it must resubscribe. There is no replay.
// Callbacks (the router) run synchronously in registration order; a
// callback that panics or returns an error is logged and the rest
// still run.
package fanout

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/syncengine"
)

const defaultBuffer = 64

// Kind names an event on the wire. The SSE endpoint uses it as the
// event field.
type Kind string

const (
	KindInvitations Kind = "invitations"
	KindMessage     Kind = "message"
)

// Event is one broadcast. Exactly one of Invitations or Message is
// meaningful, selected by Kind.
type Event struct {
	Kind        Kind                    `json:"kind"`
	Invitations []syncengine.Invitation `json:"invitations,omitempty"`
	Message     *syncengine.Message     `json:"message,omitempty"`
}

// Callback handles an event in-process.
type Callback func(Event) error

// Hub fans events out. The zero value is not usable; call NewHub.
type Hub struct {
	buffer int
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	callbacks   []Callback
}

// NewHub returns a Hub whose subscribers buffer up to buffer events.
// A non-positive buffer uses 64.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		buffer:      buffer,
		logger:      logger,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription is one stream subscriber.
type Subscription struct {
	hub    *Hub
	events chan Event
	closed bool // guarded by hub.mu
}

// Events returns the subscriber's channel. It is closed when the
// subscription is closed or dropped.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes. Idempotent.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

// Subscribe registers a stream subscriber.
func (h *Hub) Subscribe() *Subscription {
	subscription := &Subscription{hub: h, events: make(chan Event, h.buffer)}
	h.mu.Lock()
	h.subscribers[subscription] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()
	metrics.FanoutSubscribers.Set(float64(count))
	return subscription
}

func (h *Hub) removeLocked(subscription *Subscription) {
	if subscription.closed {
		return
	}
	subscription.closed = true
	delete(h.subscribers, subscription)
	close(subscription.events)
	metrics.FanoutSubscribers.Set(float64(len(h.subscribers)))
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// OnEvent registers an in-process callback.
func (h *Hub) OnEvent(callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, callback)
}

// Broadcast delivers event to every subscriber and callback.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	for subscription := range h.subscribers {
		select {
		case subscription.events <- event:
		default:
			metrics.FanoutDroppedTotal.Inc()
			h.logger.Warn("dropping slow event subscriber", "kind", event.Kind)
			h.removeLocked(subscription)
		}
	}
	callbacks := slices.Clone(h.callbacks)
	h.mu.Unlock()

	for index, callback := range callbacks {
		if err := h.invoke(callback, event); err != nil {
			metrics.FanoutCallbackErrorsTotal.Inc()
			h.logger.Error("event callback failed",
				"callback", index,
				"kind", event.Kind,
				"error", err,
			)
		}
	}
}

func (h *Hub) invoke(callback Callback, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return callback(event)
}

// Source is the listener surface of a sync engine.
type Source interface {
	OnMessage(func(syncengine.Message))
	OnInvitations(func([]syncengine.Invitation))
}

// Bridge registers the hub as a listener on source so every sync
// event is broadcast.
func (h *Hub) Bridge(source Source) {
	source.OnMessage(func(message syncengine.Message) {
		h.Broadcast(Event{Kind: KindMessage, Message: &message})
	})
	source.OnInvitations(func(invitations []syncengine.Invitation) {
		h.Broadcast(Event{Kind: KindInvitations, Invitations: invitations})
	})
}
