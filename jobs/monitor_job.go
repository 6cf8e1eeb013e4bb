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

	"github.com/joleuger/vuinputd/udev"
)

// MonitorBackgroundLoopJob runs UdevMonitorLoop for the lifetime of the
// daemon. DaemonMain dispatches exactly one of these onto BackgroundTarget
// at startup, mirroring the reference implementation's
// "JOB_DISPATCHER...dispatch(Box::new(MonitorBackgroundLoop::new()))" call.
type MonitorBackgroundLoopJob struct {
	store *udev.Store
}

// NewMonitorBackgroundLoopJob constructs the job that keeps store populated
// from the host's udev netlink multicast stream.
func NewMonitorBackgroundLoopJob(store *udev.Store) *MonitorBackgroundLoopJob {
	return &MonitorBackgroundLoopJob{store: store}
}

func (j *MonitorBackgroundLoopJob) Desc() string { return "monitor-udev-background-loop" }

func (j *MonitorBackgroundLoopJob) Target() Target { return BackgroundTarget }

// ExecuteAfterCancellation is false: once the dispatcher is shutting down
// there is no more point feeding the store, and the loop already honors
// ctx cancellation to return promptly on its own.
func (j *MonitorBackgroundLoopJob) ExecuteAfterCancellation() bool { return false }

func (j *MonitorBackgroundLoopJob) Run(ctx context.Context) error {
	return udev.UdevMonitorLoop(ctx, j.store)
}
