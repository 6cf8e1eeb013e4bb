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

	"github.com/joleuger/vuinputd/action"
	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/realizer"
)

// Runtime bundles the dependencies every ActionRecord-backed job needs to
// run either inline (host placement) or via a re-exec'd subprocess
// (container placement).
type Runtime struct {
	ExePath string
	FS      realizer.FS
	Mknod   realizer.Mknodder
}

// runAction executes rec either directly (TargetHost, TargetBackgroundLoop)
// or by re-exec'ing into the target container's namespaces
// (TargetContainer), per spec.md's ActionExecutor dispatch.
func runAction(ctx context.Context, rt Runtime, target Target, rec domain.ActionRecord) error {
	if target.Kind == TargetContainer {
		return action.Subinvoke(ctx, rt.ExePath, target.Process.NSRoot, rec)
	}
	return action.Execute(rt.FS, rt.Mknod, rec)
}

// MknodDeviceJob creates (or repairs) a device node, on the host or inside
// a container depending on the owning session's placement.
type MknodDeviceJob struct {
	rt     Runtime
	target Target
	rec    domain.ActionRecord
}

// NewMknodDeviceJob constructs the job for creating path as a character
// device with the given major/minor, routed to target.
func NewMknodDeviceJob(rt Runtime, target Target, path string, major, minor uint32) *MknodDeviceJob {
	return &MknodDeviceJob{
		rt:     rt,
		target: target,
		rec:    domain.ActionRecord{Kind: domain.ActionMknodDevice, Path: path, Major: major, Minor: minor},
	}
}

func (j *MknodDeviceJob) Desc() string                    { return "mknod-device " + j.rec.Path }
func (j *MknodDeviceJob) Target() Target                  { return j.target }
func (j *MknodDeviceJob) ExecuteAfterCancellation() bool   { return false }
func (j *MknodDeviceJob) Run(ctx context.Context) error    { return runAction(ctx, j.rt, j.target, j.rec) }

// RemoveDeviceJob removes a previously created device node. It must still
// run during daemon shutdown — otherwise a crashed or restarting daemon
// leaves stale /dev nodes behind that the next session's UI_DEV_CREATE
// would then have to detect and repair instead of simply finding absent.
type RemoveDeviceJob struct {
	rt     Runtime
	target Target
	rec    domain.ActionRecord
}

// NewRemoveDeviceJob constructs the job for removing path, routed to
// target. The job takes no placement: routing depends only on target.Kind.
// A TargetContainer job re-execs into the container exactly like
// MknodDeviceJob; any other target removes path inline in the daemon's own
// mount namespace. No host-side directory prefix is added to path.
func NewRemoveDeviceJob(rt Runtime, target Target, path string, major, minor uint32) *RemoveDeviceJob {
	return &RemoveDeviceJob{
		rt:     rt,
		target: target,
		rec:    domain.ActionRecord{Kind: domain.ActionRemoveDevice, Path: path, Major: major, Minor: minor},
	}
}

func (j *RemoveDeviceJob) Desc() string                  { return "remove-device " + j.rec.Path }
func (j *RemoveDeviceJob) Target() Target                { return j.target }
func (j *RemoveDeviceJob) ExecuteAfterCancellation() bool { return true }
func (j *RemoveDeviceJob) Run(ctx context.Context) error  { return runAction(ctx, j.rt, j.target, j.rec) }

// WriteUdevDataJob writes (or, if content is nil, deletes) the sanitized
// udev runtime-data record for a device, routed to target.
type WriteUdevDataJob struct {
	rt     Runtime
	target Target
	rec    domain.ActionRecord
}

// NewWriteUdevDataJob constructs the job. A nil content deletes the
// record instead of writing one.
func NewWriteUdevDataJob(rt Runtime, target Target, content *string, major, minor uint32) *WriteUdevDataJob {
	return &WriteUdevDataJob{
		rt:     rt,
		target: target,
		rec:    domain.ActionRecord{Kind: domain.ActionWriteUdevRuntimeData, RuntimeData: content, Major: major, Minor: minor},
	}
}

func (j *WriteUdevDataJob) Desc() string                  { return "write-udev-data" }
func (j *WriteUdevDataJob) Target() Target                { return j.target }
func (j *WriteUdevDataJob) ExecuteAfterCancellation() bool { return false }
func (j *WriteUdevDataJob) Run(ctx context.Context) error  { return runAction(ctx, j.rt, j.target, j.rec) }
