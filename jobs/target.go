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

// Package jobs implements the Dispatcher: a per-target FIFO queue of
// ActionExecutor work, each with its own dedicated worker goroutine so a
// slow container's job queue can never starve another container's, or the
// host's.
package jobs

import (
	"github.com/joleuger/vuinputd/domain"
)

// TargetKind discriminates where a Job must run.
type TargetKind int

const (
	// TargetHost runs the job in the daemon's own namespaces, no re-exec.
	TargetHost TargetKind = iota
	// TargetBackgroundLoop is the dispatcher's own maintenance queue (udev
	// monitor cleanup, store GC) rather than anything tied to a session.
	TargetBackgroundLoop
	// TargetContainer runs the job inside a specific container's
	// namespaces, via action.Subinvoke.
	TargetContainer
)

// Target names where a Job executes. Two Targets route to the same FIFO
// iff Key() is equal.
type Target struct {
	Kind    TargetKind
	Process domain.RequestingProcess // meaningful only when Kind == TargetContainer
}

// HostTarget is the shared Target value for host-placed work.
var HostTarget = Target{Kind: TargetHost}

// BackgroundTarget is the shared Target value for dispatcher-internal
// maintenance work.
var BackgroundTarget = Target{Kind: TargetBackgroundLoop}

// ContainerTarget routes a job into rp's namespace FIFO.
func ContainerTarget(rp domain.RequestingProcess) Target {
	return Target{Kind: TargetContainer, Process: rp}
}

// Key returns the comparable FIFO-selection key for t.
func (t Target) Key() string {
	switch t.Kind {
	case TargetHost:
		return "host"
	case TargetBackgroundLoop:
		return "background"
	case TargetContainer:
		return "container:" + t.Process.RoutingKey()
	default:
		return "unknown"
	}
}
