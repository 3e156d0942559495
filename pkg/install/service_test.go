// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T, probe Probe, dq *fakeDownloadQueue, fetchers ...MetadataFetcher) (*Service, *fakeEventBus, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{ModelsRoot: root, ConvertCacheRoot: filepath.Join(root, "..", "cache"), HashAlgorithm: "sha256"}
	records := newFakeRecordStore()
	events := &fakeEventBus{}
	s := New(cfg, records, dq, probe, events, WithMetadataFetchers(fetchers...))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, events, root
}

func TestLocalInplaceRegistration(t *testing.T) {
	root := t.TempDir()
	modelFile := filepath.Join(root, "m.ckpt")
	if err := os.WriteFile(modelFile, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, events, _ := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, newFakeDownloadQueue())

	job, err := s.ImportModel(context.Background(), LocalSource{Path: modelFile, Inplace: true}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}

	snap, err := s.WaitForJob(job.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (err=%s)", snap.Status, snap.Error)
	}
	if snap.ConfigOut == nil || snap.ConfigOut.Path != modelFile {
		t.Fatalf("expected absolute path preserved, got %#v", snap.ConfigOut)
	}
	if events.count("install-completed") != 1 {
		t.Fatalf("expected exactly one install-completed event")
	}
}

func TestLocalCopyInstallAndDuplicate(t *testing.T) {
	srcDir := t.TempDir()
	modelFile := filepath.Join(srcDir, "m.safetensors")
	if err := os.WriteFile(modelFile, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, _, root := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, newFakeDownloadQueue())

	job, err := s.ImportModel(context.Background(), LocalSource{Path: modelFile, Inplace: false}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.WaitForJob(job.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (err=%s)", snap.Status, snap.Error)
	}
	wantPath := filepath.Join("sdxl", "main", "m.safetensors")
	if snap.ConfigOut.Path != wantPath {
		t.Fatalf("expected %s, got %s", wantPath, snap.ConfigOut.Path)
	}
	if _, err := os.Stat(filepath.Join(root, "sdxl", "main", "m.safetensors")); err != nil {
		t.Fatalf("expected file copied into place: %v", err)
	}

	// second install of the same file should fail with Duplicate.
	job2, err := s.ImportModel(context.Background(), LocalSource{Path: modelFile, Inplace: false}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	snap2, err := s.WaitForJob(job2.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if snap2.Status != StatusError || snap2.ErrorType != KindDuplicate {
		t.Fatalf("expected Duplicate error, got status=%s type=%s", snap2.Status, snap2.ErrorType)
	}
}

func TestMultiPartDownloadAggregation(t *testing.T) {
	dq := newFakeDownloadQueue()
	files := []RemoteFile{
		{URL: "https://huggingface.co/a/b/resolve/main/f1.bin", Path: "f1.bin", Size: 100},
		{URL: "https://huggingface.co/a/b/resolve/main/f2.bin", Path: "f2.bin", Size: 100},
		{URL: "https://huggingface.co/a/b/resolve/main/f3.bin", Path: "f3.bin", Size: 100},
	}
	for _, f := range files {
		dq.script(f.URL, &scriptedPart{totalBytes: f.Size, autoRun: false})
	}
	fetcher := &fakeMetadataFetcher{files: files}

	s, events, root := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, dq, fetcher)

	job, err := s.ImportModel(context.Background(), RepoSource{RepoID: "a/b"}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond) // let expandRemote register parts

	snap, _ := s.GetJobByID(job.ID)
	if len(snap.Parts) != 3 {
		t.Fatalf("expected 3 parts tracked, got %d", len(snap.Parts))
	}

	partIDs := make([]string, 0, 3)
	s.mu.Lock()
	for id := range s.jobs[job.ID].downloadParts {
		partIDs = append(partIDs, id)
	}
	s.mu.Unlock()

	for _, id := range partIDs {
		dq.driveManual(id, func(cb DownloadCallbacks) { cb.OnStart(id, 100) })
	}
	snap, _ = s.GetJobByID(job.ID)
	if snap.Status != StatusDownloading {
		t.Fatalf("expected DOWNLOADING after first start, got %s", snap.Status)
	}

	for _, id := range partIDs {
		dq.driveManual(id, func(cb DownloadCallbacks) { cb.OnProgress(id, 100, 100) })
	}
	snap, _ = s.GetJobByID(job.ID)
	if snap.Bytes != 300 {
		t.Fatalf("expected aggregate bytes 300, got %d", snap.Bytes)
	}

	for _, id := range partIDs {
		dq.driveManual(id, func(cb DownloadCallbacks) { cb.OnComplete(id, "application/octet-stream") })
	}
	if events.count("install-downloads-done") != 1 {
		t.Fatalf("expected exactly one install-downloads-done event, got %d", events.count("install-downloads-done"))
	}

	final, err := s.WaitForJob(job.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (err=%s)", final.Status, final.Error)
	}
	leftover, err := filepath.Glob(filepath.Join(root, "tmpinstall_*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftover) != 0 {
		t.Fatalf("expected scratch dir removed, found %v", leftover)
	}
}

func TestHTMLAuthWallFailsJob(t *testing.T) {
	dq := newFakeDownloadQueue()
	files := []RemoteFile{
		{URL: "https://huggingface.co/a/b/resolve/main/f1.bin", Path: "f1.bin", Size: 50},
		{URL: "https://huggingface.co/a/b/resolve/main/f2.bin", Path: "f2.bin", Size: 50},
	}
	dq.script(files[0].URL, &scriptedPart{totalBytes: 50, contentType: "text/html; charset=utf-8", autoRun: true})
	dq.script(files[1].URL, &scriptedPart{totalBytes: 50, autoRun: false})
	fetcher := &fakeMetadataFetcher{files: files}

	s, _, _ := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, dq, fetcher)

	job, err := s.ImportModel(context.Background(), RepoSource{RepoID: "a/b"}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}

	final, err := s.WaitForJob(job.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusError || final.ErrorType != KindInvalidModelConfig {
		t.Fatalf("expected InvalidModelConfig error, got status=%s type=%s", final.Status, final.ErrorType)
	}
}

func TestCancelMidDownload(t *testing.T) {
	dq := newFakeDownloadQueue()
	files := []RemoteFile{
		{URL: "https://huggingface.co/a/b/resolve/main/f1.bin", Path: "f1.bin", Size: 100},
		{URL: "https://huggingface.co/a/b/resolve/main/f2.bin", Path: "f2.bin", Size: 100},
	}
	dq.script(files[0].URL, &scriptedPart{totalBytes: 100, autoRun: false})
	dq.script(files[1].URL, &scriptedPart{totalBytes: 100, autoRun: false})
	fetcher := &fakeMetadataFetcher{files: files}

	s, events, _ := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, dq, fetcher)

	job, err := s.ImportModel(context.Background(), RepoSource{RepoID: "a/b"}, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	var partIDs []string
	s.mu.Lock()
	for id := range s.jobs[job.ID].downloadParts {
		partIDs = append(partIDs, id)
	}
	s.mu.Unlock()

	dq.driveManual(partIDs[0], func(cb DownloadCallbacks) { cb.OnStart(partIDs[0], 100) })
	dq.driveManual(partIDs[0], func(cb DownloadCallbacks) { cb.OnProgress(partIDs[0], 40, 100) })

	if err := s.CancelJob(job.ID); err != nil {
		t.Fatal(err)
	}

	// cascadeCancelLocked -> s.downloads.Cancel makes fakeDownloadQueue
	// deliver OnCancelled to every non-terminal part on its own
	// goroutine; once every part is terminal the job is pushed to the
	// install queue for the worker's cleanup visit.

	final, err := s.WaitForJob(job.ID, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", final.Status)
	}
	// CancelJob sets CANCELLED at once, so WaitForJob can return before
	// the worker has emitted install-cancelled; wait for that visit.
	if err := s.WaitForInstalls(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if events.count("install-cancelled") != 1 {
		t.Fatalf("expected exactly one install-cancelled event, got %d", events.count("install-cancelled"))
	}
}

func TestDedupNonTerminalSource(t *testing.T) {
	dq := newFakeDownloadQueue()
	files := []RemoteFile{{URL: "https://huggingface.co/a/b/resolve/main/f1.bin", Path: "f1.bin", Size: 100}}
	dq.script(files[0].URL, &scriptedPart{totalBytes: 100, autoRun: false})
	fetcher := &fakeMetadataFetcher{files: files}

	s, _, _ := newTestService(t, &fakeProbe{base: "sdxl", typ: "main"}, dq, fetcher)

	src := RepoSource{RepoID: "a/b"}
	job1, err := s.ImportModel(context.Background(), src, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	job2, err := s.ImportModel(context.Background(), src, ConfigOverrides{})
	if err != nil {
		t.Fatal(err)
	}
	if job1.ID != job2.ID {
		t.Fatalf("expected dedup to return the same job, got %d and %d", job1.ID, job2.ID)
	}
}
