// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"sync"
	"time"
)

// installQueue is a single-consumer work queue emulating queue.Queue's
// task_done()/join() pair: Join blocks until every enqueued item has
// been retired via itemDone. inQueue enforces invariant 3 ("a job is
// in the install queue at most once at a time").
type installQueue struct {
	mu      sync.Mutex
	ch      chan *InstallJob
	wg      sync.WaitGroup
	inQueue map[int64]bool
}

func newInstallQueue() *installQueue {
	return &installQueue{
		ch:      make(chan *InstallJob, 4096),
		inQueue: make(map[int64]bool),
	}
}

// push enqueues job unless it is already queued, returning whether it
// was actually enqueued.
func (q *installQueue) push(job *InstallJob) bool {
	q.mu.Lock()
	if q.inQueue[job.ID] {
		q.mu.Unlock()
		return false
	}
	q.inQueue[job.ID] = true
	q.mu.Unlock()

	q.wg.Add(1)
	q.ch <- job
	return true
}

// pop waits up to timeout for an item. The returned job is still
// marked "in queue" until itemDone is called for it.
func (q *installQueue) pop(timeout time.Duration) (*InstallJob, bool) {
	select {
	case job := <-q.ch:
		return job, true
	case <-time.After(timeout):
		return nil, false
	}
}

// itemDone retires job from the queue's bookkeeping; join returns once
// every pushed item has been retired this way.
func (q *installQueue) itemDone(job *InstallJob) {
	q.mu.Lock()
	delete(q.inQueue, job.ID)
	q.mu.Unlock()
	q.wg.Done()
}

// join blocks until every pushed item has been retired.
func (q *installQueue) join() {
	q.wg.Wait()
}

// drainNonBlocking removes every currently queued item without
// processing it, used by Stop to flush without blocking on the
// worker.
func (q *installQueue) drainNonBlocking() {
	for {
		select {
		case job := <-q.ch:
			q.itemDone(job)
		default:
			return
		}
	}
}
