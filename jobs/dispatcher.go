//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package jobs

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
)

type enqueued struct {
	job     Job
	awaiter *Awaiter
}

// fifo is one target's dedicated worker: an unbounded queue plus the
// goroutine draining it. The queue must never apply back-pressure to the
// submitter — a session's ioctl-handling goroutine enqueues a job and moves
// on, and must not block behind a slow or stalled target. The worker
// goroutine runs with a locked OS thread because run()'d jobs may re-exec
// via action.Subinvoke, and the teacher's own nsenter shim requires the
// forking goroutine to own its OS thread exclusively.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      []enqueued
	closed bool
	done   chan struct{}
}

func newFifo() *fifo {
	f := &fifo{done: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push appends item to the queue and wakes the worker. It reports false
// (without enqueuing) once the fifo has been closed.
func (f *fifo) push(item enqueued) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.q = append(f.q, item)
	f.mu.Unlock()
	f.cond.Signal()
	return true
}

// pop blocks until an item is available or the fifo is closed, in which
// case it reports ok=false once the queue has fully drained.
func (f *fifo) pop() (item enqueued, stillClosing bool, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.q) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.q) == 0 {
		return enqueued{}, false, false
	}
	item, f.q = f.q[0], f.q[1:]
	return item, f.closed, true
}

// Dispatcher owns one fifo per distinct Target.Key() value, created lazily
// on first Dispatch call for that target, and never removed for the
// lifetime of the Dispatcher (a container target can always reappear).
type Dispatcher struct {
	mu       sync.Mutex
	fifos    map[string]*fifo
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher bound to parent; canceling parent
// (or calling Close) stops every worker goroutine once its current job
// returns.
func NewDispatcher(parent context.Context) *Dispatcher {
	ctx, cancel := context.WithCancel(parent)
	return &Dispatcher{
		fifos:  make(map[string]*fifo),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch enqueues job onto the FIFO for job.Target(), creating that FIFO
// if this is the first job ever routed there, and returns an Awaiter the
// caller can Wait() on.
func (d *Dispatcher) Dispatch(job Job) *Awaiter {
	awaiter := NewAwaiter()

	f := d.fifoFor(job.Target())

	if !f.push(enqueued{job: job, awaiter: awaiter}) {
		// Worker already torn down (Dispatcher closing). Honor
		// ExecuteAfterCancellation by running the job inline instead of
		// silently dropping it.
		if job.ExecuteAfterCancellation() {
			awaiter.markStarted()
			err := job.Run(context.Background())
			awaiter.markFinished(err)
		} else {
			awaiter.markStarted()
			awaiter.markFinished(context.Canceled)
		}
	}

	return awaiter
}

func (d *Dispatcher) fifoFor(t Target) *fifo {
	key := t.Key()

	d.mu.Lock()
	f, ok := d.fifos[key]
	if !ok {
		f = newFifo()
		d.fifos[key] = f
		d.wg.Add(1)
		go d.runFifo(f)
	}
	d.mu.Unlock()

	return f
}

// runFifo is the dedicated worker goroutine for a single target's FIFO. It
// watches d.ctx in a side goroutine so a pop() blocked waiting for the next
// job wakes up as soon as the Dispatcher starts shutting down; jobs still
// queued at that point run (or are canceled) per ExecuteAfterCancellation
// rather than being dropped.
func (d *Dispatcher) runFifo(f *fifo) {
	defer d.wg.Done()
	defer close(f.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	go func() {
		<-d.ctx.Done()
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.cond.Broadcast()
	}()

	for {
		item, closing, ok := f.pop()
		if !ok {
			return
		}
		if closing {
			if item.job.ExecuteAfterCancellation() {
				// d.ctx is already canceled here; give the job a live
				// context so it can still do its work.
				d.runOne(context.Background(), item)
			} else {
				item.awaiter.markStarted()
				item.awaiter.markFinished(context.Canceled)
			}
			continue
		}
		d.runOne(d.ctx, item)
	}
}

func (d *Dispatcher) runOne(ctx context.Context, item enqueued) {
	item.awaiter.markStarted()
	logrus.Debugf("jobs: running %s", item.job.Desc())
	err := item.job.Run(ctx)
	if err != nil {
		logrus.Warnf("jobs: %s failed: %v", item.job.Desc(), err)
	}
	item.awaiter.markFinished(err)
}

// Close cancels the Dispatcher's context; in-flight jobs finish, queued
// jobs are drained per ExecuteAfterCancellation, and Close does not return
// until every worker goroutine has exited.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.cancel()
	})
	d.wg.Wait()
}
