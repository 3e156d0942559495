// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"context"
	"time"
)

// installQueueTimeout bounds each dequeue attempt so the worker
// notices the stop signal promptly even when idle.
const installQueueTimeout = time.Second

// runWorker is the single background consumer of the install queue.
// It exits once s.stopping is signalled and the current item (if any)
// has finished.
func (s *Service) runWorker(ctx context.Context) {
	defer s.workerDone.Done()

	for {
		job, ok := s.dequeueInstall(installQueueTimeout)
		if !ok {
			if s.isStopping() {
				return
			}
			continue
		}

		s.processJob(ctx, job)
		s.installQueue.itemDone(job)

		if s.isStopping() {
			return
		}
	}
}

// processJob runs exactly one worker visit for job: it dispatches on
// status, traps any error into the ERROR state, and unconditionally
// cleans up the scratch dir and signals completion on exit.
func (s *Service) processJob(ctx context.Context, job *InstallJob) {
	defer func() {
		s.mu.Lock()
		scratch := job.ScratchDir
		s.mu.Unlock()
		if scratch != "" {
			if err := removeAll(scratch); err != nil {
				s.logger.Printf("install job %d: failed to remove scratch dir %s: %v", job.ID, scratch, err)
			}
		}
		s.installCompleted.Signal()
		s.installCompleted.Clear()
	}()

	s.mu.Lock()
	status := job.Status
	s.mu.Unlock()

	switch status {
	case StatusCancelled:
		s.publish("install-cancelled", job.snapshot())
		return
	case StatusError:
		s.publishError(job)
		return
	case StatusWaiting, StatusDownloadsDone:
		if err := s.registerOrInstall(ctx, job); err != nil {
			s.failJob(job, err)
		}
	default:
		// Any other status reaching the worker (e.g. a part callback
		// re-enqueued a still-downloading job) is a no-op visit.
	}
}

// failJob transitions job to ERROR and emits the error event. Called
// whenever registerOrInstall or expandRemote raise.
func (s *Service) failJob(job *InstallJob, err error) {
	s.mu.Lock()
	job.Status = StatusError
	job.Err = err
	job.ErrorType = errKind(err)
	s.mu.Unlock()
	s.publishError(job)
}

func (s *Service) publishError(job *InstallJob) {
	s.publish("install-error", job.snapshot())
}
