// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Service is the model install coordinator. The zero value is not
// usable; construct with New.
type Service struct {
	cfg      Config
	logger   Logger
	records  RecordStore
	downloads DownloadQueue
	probe    Probe
	fetchers []MetadataFetcher
	events   EventBus
	tokens   TokenCache

	mu            sync.Mutex
	jobs          map[int64]*InstallJob
	nextID        int64
	downloadCache map[string]int64 // part id -> job id

	installQueue     *installQueue
	downloadsChanged *latch
	installCompleted *latch

	started    bool
	stopping   bool
	workerDone sync.WaitGroup
	cancelCtx  context.CancelFunc
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithLogger overrides the default stdlib logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.logger = l } }

// WithTokenCache supplies a token cache consulted when a Repo source
// has no explicit access token.
func WithTokenCache(t TokenCache) Option { return func(s *Service) { s.tokens = t } }

// WithMetadataFetchers registers one or more MetadataFetchers, tried
// in order against each remote source.
func WithMetadataFetchers(f ...MetadataFetcher) Option {
	return func(s *Service) { s.fetchers = append(s.fetchers, f...) }
}

// New constructs a Service. records, downloads, probe and events are
// required collaborators.
func New(cfg Config, records RecordStore, downloads DownloadQueue, probe Probe, events EventBus, opts ...Option) *Service {
	s := &Service{
		cfg:              cfg,
		logger:           defaultLogger(),
		records:          records,
		downloads:        downloads,
		probe:            probe,
		events:           events,
		jobs:             make(map[int64]*InstallJob),
		downloadCache:    make(map[string]int64),
		installQueue:     newInstallQueue(),
		downloadsChanged: newLatch(),
		installCompleted: newLatch(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) publish(eventType string, payload any) {
	if s.events != nil {
		s.events.Publish(eventType, payload)
	}
}

func (s *Service) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// enqueueInstall pushes job into the install queue, unless the
// service is stopping, in which case Stop has already cancelled every
// non-terminal job and there is nothing further to do. Callers that
// already hold s.mu (the callback bridge) must call this directly;
// callers outside the lock must take it first.
func (s *Service) enqueueInstall(job *InstallJob) {
	if s.stopping {
		return
	}
	s.installQueue.push(job)
}

func (s *Service) dequeueInstall(timeout time.Duration) (*InstallJob, bool) {
	return s.installQueue.pop(timeout)
}

// Start installs a signal handler, spawns the worker, scrubs leftover
// scratch dirs, runs the legacy migration, and (if configured) scans
// for orphan and missing models. Calling Start twice fails with
// ErrAlreadyStarted.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return newErr(KindAlreadyStarted, "service already started", nil)
	}
	s.started = true
	s.stopping = false
	s.mu.Unlock()

	workerCtx, cancel := context.WithCancel(context.Background())
	s.cancelCtx = cancel

	sigCtx, stopSig := signal.NotifyContext(workerCtx, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCtx.Done()
		stopSig()
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Printf("install service: stop on signal: %v", err)
		}
	}()

	s.workerDone.Add(1)
	go s.runWorker(workerCtx)

	if err := s.scrubScratchDirs(); err != nil {
		s.logger.Printf("install service: scratch dir scrub: %v", err)
	}
	if err := s.migrateLegacyYAML(ctx); err != nil {
		s.logger.Printf("install service: legacy migration: %v", err)
	}
	if s.cfg.StartupScan {
		s.scanOrphans(ctx)
	}
	s.warnMissingModels(ctx)

	return nil
}

// Stop signals the worker to exit after its current item, cancels
// every non-terminal job, drains the install queue without blocking,
// clears the download cache, and joins the worker goroutine. Fails
// with ErrNotStarted if Start was never called.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return newErr(KindNotStarted, "service was never started", nil)
	}
	s.stopping = true
	for _, job := range s.jobs {
		if !job.InTerminalState() {
			s.cascadeCancelLocked(job)
		}
	}
	for k := range s.downloadCache {
		delete(s.downloadCache, k)
	}
	s.mu.Unlock()

	s.installQueue.drainNonBlocking()
	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	s.workerDone.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// ImportModel creates a new InstallJob for source. If a non-terminal
// job with an identical source already exists, that job is returned
// instead (invariant 5).
func (s *Service) ImportModel(ctx context.Context, source Source, overrides ConfigOverrides) (*InstallJob, error) {
	s.mu.Lock()
	for _, j := range s.jobs {
		if !j.InTerminalState() && sourcesEqual(j.Source, source) {
			s.mu.Unlock()
			return j, nil
		}
	}

	s.nextID++
	job := &InstallJob{
		ID:        s.nextID,
		Source:    source,
		ConfigIn:  overrides,
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
	}
	if local, ok := source.(LocalSource); ok {
		job.LocalPath = local.Path
		job.Inplace = local.Inplace
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	switch source.(type) {
	case LocalSource:
		s.mu.Lock()
		s.enqueueInstall(job)
		s.mu.Unlock()
	default:
		if err := s.expandRemote(ctx, job); err != nil {
			s.failJob(job, err)
			s.mu.Lock()
			s.enqueueInstall(job)
			s.mu.Unlock()
		}
	}

	return job, nil
}

func sourcesEqual(a, b Source) bool {
	return a.String() == b.String() && sourceTypeOf(a) == sourceTypeOf(b)
}

// ListJobs returns a snapshot of every job currently tracked.
func (s *Service) ListJobs() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// GetJobByID returns the job with the given id, or ErrNotFound.
func (s *Service) GetJobByID(id int64) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, newErr(KindNotFound, fmt.Sprintf("no job with id %d", id), nil)
	}
	return j.snapshot(), nil
}

// GetJobBySource returns every job (possibly none) whose source
// stringifies identically to source.
func (s *Service) GetJobBySource(source Source) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Snapshot
	for _, j := range s.jobs {
		if sourcesEqual(j.Source, source) {
			out = append(out, j.snapshot())
		}
	}
	return out
}

// WaitForJob blocks until the job reaches a terminal state or timeout
// elapses (0 waits forever), polling the install-completed latch every
// five seconds as the spec's wait_for_job does.
func (s *Service) WaitForJob(id int64, timeout time.Duration) (Snapshot, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		snap, err := s.GetJobByID(id)
		if err != nil {
			return Snapshot{}, err
		}
		if snap.Status == StatusCompleted || snap.Status == StatusError || snap.Status == StatusCancelled {
			return snap, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Snapshot{}, newErr(KindTimeout, "wait_for_job exceeded timeout", nil)
		}
		wait := 5 * time.Second
		if !deadline.IsZero() {
			if remain := time.Until(deadline); remain < wait {
				wait = remain
			}
		}
		s.installCompleted.Wait(wait)
	}
}

// WaitForInstalls blocks until the download cache is empty and the
// install queue has been fully drained.
func (s *Service) WaitForInstalls(timeout time.Duration) error {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		s.mu.Lock()
		empty := len(s.downloadCache) == 0
		s.mu.Unlock()
		if empty {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return newErr(KindTimeout, "wait_for_installs exceeded timeout", nil)
		}
		s.downloadsChanged.Wait(250 * time.Millisecond)
		s.downloadsChanged.Clear()
	}

	joined := make(chan struct{})
	go func() {
		s.installQueue.join()
		close(joined)
	}()
	if deadline.IsZero() {
		<-joined
		return nil
	}
	select {
	case <-joined:
		return nil
	case <-time.After(time.Until(deadline)):
		return newErr(KindTimeout, "wait_for_installs exceeded timeout", nil)
	}
}

// CancelJob marks job id cancelled and cascades the cancel to every
// in-flight download part. Idempotent.
func (s *Service) CancelJob(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return newErr(KindNotFound, fmt.Sprintf("no job with id %d", id), nil)
	}
	if job.InTerminalState() {
		return nil
	}
	s.cascadeCancelLocked(job)
	return nil
}

// PruneJobs drops every terminal entry from the job table.
func (s *Service) PruneJobs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if j.InTerminalState() {
			delete(s.jobs, id)
		}
	}
}

// Delete fetches the record for key; if its file lives under the
// models root it is physically removed (directory -> recursive
// remove, file/symlink -> unlink), then the record itself is
// unregistered. A record pointing outside the models root is only
// unregistered.
func (s *Service) Delete(ctx context.Context, key string) error {
	cfg, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}
	abs := s.absoluteModelPath(cfg.Path)
	if s.pathUnderModelsRoot(abs) {
		if err := removeAll(abs); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return s.records.Delete(ctx, key)
}

// UnconditionallyDelete always removes the backing file before
// unregistering the record, regardless of whether it lives under the
// models root.
func (s *Service) UnconditionallyDelete(ctx context.Context, key string) error {
	cfg, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}
	abs := s.absoluteModelPath(cfg.Path)
	if err := removeAll(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return s.records.Delete(ctx, key)
}

// SyncModelPath re-homes a model's file to its canonical
// <base>/<type>/<name> location if the record's stored path has
// drifted from it, collision-safe.
func (s *Service) SyncModelPath(ctx context.Context, key string) error {
	cfg, err := s.records.Get(ctx, key)
	if err != nil {
		return err
	}
	abs := s.absoluteModelPath(cfg.Path)
	if !s.pathUnderModelsRoot(abs) {
		return nil
	}

	canonical := filepath.Join(s.cfg.ModelsRoot, cfg.Base, cfg.Type, filepath.Base(abs))
	if canonical == abs {
		return nil
	}

	moved, err := movePath(abs, canonical)
	if err != nil {
		return err
	}
	cfg.Path = relativizeToRoot(moved, s.cfg.ModelsRoot)
	return s.records.Update(ctx, key, cfg)
}

// DownloadAndCache hashes source with SHA-256 (first 32 hex chars) to
// pick a directory under the convert-cache root, reusing any file
// already there; otherwise it enqueues a single download and blocks
// until it finishes.
func (s *Service) DownloadAndCache(ctx context.Context, rawURL, accessToken string, timeout time.Duration) (string, error) {
	sum := sha256.Sum256([]byte(rawURL))
	dir := filepath.Join(s.cfg.ConvertCacheRoot, hex.EncodeToString(sum[:])[:32])

	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return filepath.Join(dir, entries[0].Name()), nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	done := make(chan error, 1)
	resultPath := filepath.Join(dir, filepath.Base(rawURL))
	partID := fmt.Sprintf("cache-%d", time.Now().UnixNano())
	cb := singleDownloadCallbacks{onDone: func(err error) { done <- err }}
	if err := s.downloads.Enqueue(ctx, partID, rawURL, dir, filepath.Base(rawURL), accessToken, cb); err != nil {
		return "", newErr(KindDownloadFailed, "enqueue failed", err)
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case err := <-done:
		if err != nil {
			return "", newErr(KindDownloadFailed, "download_and_cache failed", err)
		}
		return resultPath, nil
	case <-timer:
		s.downloads.Cancel(partID)
		return "", newErr(KindTimeout, "download_and_cache exceeded timeout", nil)
	}
}

func (s *Service) absoluteModelPath(recordedPath string) string {
	if filepath.IsAbs(recordedPath) {
		return recordedPath
	}
	return filepath.Join(s.cfg.ModelsRoot, recordedPath)
}

func (s *Service) pathUnderModelsRoot(path string) bool {
	_, ok := isUnderRoot(path, s.cfg.ModelsRoot)
	return ok
}

// singleDownloadCallbacks adapts DownloadAndCache's one-shot download
// to the DownloadCallbacks interface.
type singleDownloadCallbacks struct {
	onDone func(err error)
}

func (c singleDownloadCallbacks) OnStart(partID string, totalBytes int64)      {}
func (c singleDownloadCallbacks) OnProgress(partID string, bytes, total int64) {}
func (c singleDownloadCallbacks) OnComplete(partID string, contentType string) { c.onDone(nil) }
func (c singleDownloadCallbacks) OnError(partID string, err error)             { c.onDone(err) }
func (c singleDownloadCallbacks) OnCancelled(partID string)                   { c.onDone(newErr(KindTimeout, "cancelled", nil)) }
