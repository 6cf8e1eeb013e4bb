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

import "sync"

// awaiterState is the lifecycle a submitted Job's awaiter walks through:
// a job is always Initialized the instant it's enqueued, Started the
// instant its worker goroutine picks it up, and Finished once run()
// returns, at which point Err is readable without further synchronization.
type awaiterState int

const (
	stateInitialized awaiterState = iota
	stateStarted
	stateFinished
)

// Awaiter lets a caller block until a Job it submitted has finished, and
// retrieve its error. It is safe to call Wait from multiple goroutines.
type Awaiter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state awaiterState
	err   error
}

// NewAwaiter returns a fresh Awaiter in the Initialized state.
func NewAwaiter() *Awaiter {
	a := &Awaiter{state: stateInitialized}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// markStarted transitions Initialized -> Started; called by the worker
// goroutine just before it invokes the job's run().
func (a *Awaiter) markStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateStarted
	a.cond.Broadcast()
}

// markFinished transitions -> Finished and records err; called by the
// worker goroutine immediately after run() returns.
func (a *Awaiter) markFinished(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateFinished
	a.err = err
	a.cond.Broadcast()
}

// Wait blocks until the job has finished and returns its error.
func (a *Awaiter) Wait() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.state != stateFinished {
		a.cond.Wait()
	}
	return a.err
}
