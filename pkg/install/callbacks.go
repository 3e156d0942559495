// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"path/filepath"
	"strings"
)

// serviceCallbacks adapts *Service to DownloadCallbacks. Every method
// runs under s.mu for its entire body, per the coarse-lock concurrency
// model: callback bodies are bookkeeping only, never blocking I/O, so
// holding the lock across them is safe.
type serviceCallbacks struct {
	s *Service
}

func (s *Service) downloadCallbacks() DownloadCallbacks { return serviceCallbacks{s: s} }

func (c serviceCallbacks) jobForPart(partID string) (*InstallJob, *downloadPart, bool) {
	jobID, ok := c.s.downloadCache[partID]
	if !ok {
		return nil, nil, false
	}
	job, ok := c.s.jobs[jobID]
	if !ok {
		return nil, nil, false
	}
	part, ok := job.downloadParts[partID]
	return job, part, ok
}

// OnStart marks the job DOWNLOADING and, the first time any part
// starts, narrows local_path from the bare scratch dir down to its
// first real path component (the directory name the server disclosed
// via content-disposition/tree listing).
func (c serviceCallbacks) OnStart(partID string, totalBytes int64) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	job, part, ok := c.jobForPart(partID)
	if !ok {
		return
	}
	part.TotalBytes = totalBytes

	job.Status = StatusDownloading
	if job.LocalPath == job.ScratchDir {
		rel, err := filepath.Rel(job.ScratchDir, part.LocalPath)
		if err == nil {
			first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
			if first != "" && first != "." {
				job.LocalPath = filepath.Join(job.ScratchDir, first)
			}
		}
	}
	if job.TotalBytes == 0 {
		var sum int64
		for _, p := range job.downloadParts {
			sum += p.TotalBytes
		}
		job.TotalBytes = sum
	}

	c.s.publishDownloading(job)
}

// OnProgress recomputes the job's aggregate bytes, unless the job has
// already been cancelled, in which case it cascades the cancel to
// every sibling part instead.
func (c serviceCallbacks) OnProgress(partID string, bytes, totalBytes int64) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	job, part, ok := c.jobForPart(partID)
	if !ok {
		return
	}

	if job.cancelled() {
		c.s.cascadeCancelLocked(job)
		return
	}

	part.Bytes = bytes
	if totalBytes > 0 {
		part.TotalBytes = totalBytes
	}
	job.Bytes = sumPartBytes(job)
	c.s.publishDownloading(job)
}

// OnComplete retires the part from the download cache and, once every
// part of the job is done while it is still DOWNLOADING, promotes the
// job to DOWNLOADS_DONE and pushes it into the install queue.
func (c serviceCallbacks) OnComplete(partID string, contentType string) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	job, part, ok := c.jobForPart(partID)
	if !ok {
		return
	}
	part.Terminal = true
	part.ContentType = contentType
	part.Bytes = part.TotalBytes
	delete(c.s.downloadCache, partID)

	if strings.Contains(strings.ToLower(contentType), "text/html") {
		job.Err = newErr(KindInvalidModelConfig, "downloaded part looks like an HTML page (auth wall?)", nil)
		job.ErrorType = KindInvalidModelConfig
		c.s.cascadeCancelLocked(job)
		c.s.downloadsChanged.Signal()
		return
	}

	job.Bytes = sumPartBytes(job)

	if job.downloading() && job.allPartsTerminal() {
		job.Status = StatusDownloadsDone
		c.s.publish("install-downloads-done", job.snapshot())
		c.s.enqueueInstall(job)
	}
	c.s.downloadsChanged.Signal()
}

// OnError records the failure on the job and cascades cancellation to
// any sibling parts still in flight.
func (c serviceCallbacks) OnError(partID string, err error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	job, part, ok := c.jobForPart(partID)
	if !ok {
		return
	}
	part.Terminal = true
	part.Errored = true
	delete(c.s.downloadCache, partID)

	if job.Err == nil {
		job.Err = newErr(KindDownloadFailed, "part download failed", err)
		job.ErrorType = KindDownloadFailed
	}
	c.s.cascadeCancelLocked(job)
	c.s.downloadsChanged.Signal()
}

// OnCancelled retires the part; if the job was not already marked
// errored, it is marked cancelled. Once every part is terminal the job
// is pushed into the install queue for cleanup.
func (c serviceCallbacks) OnCancelled(partID string) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	job, part, ok := c.jobForPart(partID)
	if !ok {
		return
	}
	part.Terminal = true
	part.Cancelled = true
	delete(c.s.downloadCache, partID)

	if !job.errored() {
		job.Status = StatusCancelled
	}
	if job.allPartsTerminal() {
		c.s.enqueueInstall(job)
	}
	c.s.downloadsChanged.Signal()
}

func sumPartBytes(job *InstallJob) int64 {
	var sum int64
	for _, p := range job.downloadParts {
		sum += p.Bytes
	}
	return sum
}

// cascadeCancelLocked submits a cancel for every non-terminal part of
// job. Must be called with s.mu held; DownloadQueue.Cancel must be
// non-blocking so this never re-enters the lock. If job.Err is already
// set (an error triggered the cascade) the job ends in ERROR rather
// than CANCELLED.
func (s *Service) cascadeCancelLocked(job *InstallJob) {
	if job.Err != nil {
		job.Status = StatusError
	} else {
		job.Status = StatusCancelled
	}
	for id, p := range job.downloadParts {
		if !p.Terminal {
			s.downloads.Cancel(id)
		}
	}
	if job.allPartsTerminal() {
		s.enqueueInstall(job)
	}
}

func (s *Service) publishDownloading(job *InstallJob) {
	s.publish("install-downloading", job.snapshot())
}
