// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"

	"modelinstall/pkg/install"
)

// Event is one published notification.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// Hub fans events out to any number of subscriber channels. A slow
// subscriber never blocks a publish: sends are best-effort.
type Hub struct {
	mu        sync.RWMutex
	listeners []chan Event
	onEvent   func(Event) // optional synchronous sink
}

var _ install.EventBus = (*Hub)(nil)

// New builds an empty Hub.
func New() *Hub {
	return &Hub{}
}

// OnEvent registers a synchronous sink invoked on every Publish, in
// addition to channel subscribers. A later call replaces the earlier
// sink.
func (h *Hub) OnEvent(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

// Subscribe returns a buffered channel that receives every event
// published after this call.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 100)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Safe to call once per channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish implements install.EventBus.
func (h *Hub) Publish(eventType string, payload any) {
	ev := Event{Type: eventType, Payload: payload, Time: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop rather than block the publisher
		}
	}
	if h.onEvent != nil {
		h.onEvent(ev)
	}
}
