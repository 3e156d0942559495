// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetchqueue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingCallbacks struct {
	mu          sync.Mutex
	started     bool
	completed   bool
	cancelled   bool
	errored     error
	contentType string
	bytes       int64
	done        chan struct{}
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{done: make(chan struct{})}
}

func (c *recordingCallbacks) OnStart(partID string, totalBytes int64) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
}

func (c *recordingCallbacks) OnProgress(partID string, bytes, totalBytes int64) {
	c.mu.Lock()
	c.bytes = bytes
	c.mu.Unlock()
}

func (c *recordingCallbacks) OnComplete(partID string, contentType string) {
	c.mu.Lock()
	c.completed = true
	c.contentType = contentType
	c.mu.Unlock()
	close(c.done)
}

func (c *recordingCallbacks) OnError(partID string, err error) {
	c.mu.Lock()
	c.errored = err
	c.mu.Unlock()
	close(c.done)
}

func (c *recordingCallbacks) OnCancelled(partID string) {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	close(c.done)
}

func TestQueueDownloadSingle(t *testing.T) {
	body := []byte("model weights go here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}))
	defer srv.Close()

	q := New(WithConcurrency(2), WithRetries(0))
	dir := t.TempDir()
	cb := newRecordingCallbacks()

	if err := q.Enqueue(context.Background(), "part-1", srv.URL, dir, "f.bin", "", cb); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cb.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download")
	}

	if !cb.completed {
		t.Fatalf("expected completion, errored=%v cancelled=%v", cb.errored, cb.cancelled)
	}
	data, err := os.ReadFile(filepath.Join(dir, "f.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(body) {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestQueueDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	q := New(WithConcurrency(1), WithRetries(0))
	dir := t.TempDir()
	cb := newRecordingCallbacks()

	if err := q.Enqueue(context.Background(), "part-1", srv.URL, dir, "f.bin", "", cb); err != nil {
		t.Fatal(err)
	}

	select {
	case <-cb.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error")
	}
	if cb.errored == nil {
		t.Fatal("expected an error")
	}
}

func TestQueueCancel(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.(http.Flusher).Flush()
		<-unblock
	}))
	defer srv.Close()
	defer close(unblock)

	q := New(WithConcurrency(1), WithRetries(0))
	dir := t.TempDir()
	cb := newRecordingCallbacks()

	if err := q.Enqueue(context.Background(), "part-1", srv.URL, dir, "f.bin", "", cb); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	q.Cancel("part-1")

	select {
	case <-cb.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
	if !cb.cancelled {
		t.Fatalf("expected cancellation, completed=%v errored=%v", cb.completed, cb.errored)
	}
}
