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

import "context"

// Job is one unit of ActionExecutor-level work routed through the
// Dispatcher's per-target FIFO queues.
type Job interface {
	// Desc is a short human-readable description, used only for logging.
	Desc() string

	// Target selects which FIFO this job is queued on.
	Target() Target

	// ExecuteAfterCancellation reports whether run() must still be
	// attempted even if the Dispatcher is shutting down. RemoveDeviceJob
	// sets this true: a session's device node and udev record must be torn
	// down even if the daemon is exiting, or the host accumulates stale
	// /dev nodes across restarts.
	ExecuteAfterCancellation() bool

	// Run performs the job's work. It is called from the dedicated
	// worker goroutine owning this job's target FIFO, except when the
	// Dispatcher is already shut down: Dispatch then runs an
	// ExecuteAfterCancellation job inline on the caller's goroutine.
	Run(ctx context.Context) error
}
