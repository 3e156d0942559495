// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := New()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish("install-completed", map[string]any{"id": 1})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != "install-completed" {
				t.Fatalf("unexpected event type %s", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("expected event on subscriber channel")
		}
	}
}

func TestHubUnsubscribeCloses(t *testing.T) {
	h := New()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := New()
	ch := h.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			h.Publish("tick", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	_ = ch
}

func TestHubOnEventSink(t *testing.T) {
	h := New()
	var got Event
	h.OnEvent(func(ev Event) { got = ev })

	h.Publish("install-error", "boom")
	if got.Type != "install-error" || got.Payload != "boom" {
		t.Fatalf("sink did not receive event: %#v", got)
	}
}
