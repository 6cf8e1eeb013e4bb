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
	"time"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/realizer"
	"github.com/joleuger/vuinputd/udev"
)

// udevPollAttempts and udevPollInterval bound how long EmitUdevEventJob
// waits for the kernel's own udev monitor broadcast to reach the Store
// after UI_DEV_CREATE: 50 attempts at 100ms apart, 5 seconds total, matches
// how long a slow udev run on a loaded host can take to process a new
// input device.
const (
	udevPollAttempts = 50
	udevPollInterval = 100 * time.Millisecond
)

// EmitUdevEventJob waits for the host's own udev to observe the device
// vuinputd just created, then relays a sanitized copy of that record into
// the target (a container's runtime-data file plus a translated netlink
// broadcast, or the host's own runtime-data file).
type EmitUdevEventJob struct {
	rt      Runtime
	target  Target
	store   *udev.Store
	syspath string
	major   uint32
	minor   uint32
}

// NewEmitUdevEventJob constructs the job; syspath is the
// /sys/devices/virtual/input/inputN path of the created device, the key
// the Store files its events under.
func NewEmitUdevEventJob(rt Runtime, target Target, store *udev.Store, syspath string, major, minor uint32) *EmitUdevEventJob {
	return &EmitUdevEventJob{rt: rt, target: target, store: store, syspath: syspath, major: major, minor: minor}
}

func (j *EmitUdevEventJob) Desc() string                  { return "emit-udev-event " + j.syspath }
func (j *EmitUdevEventJob) Target() Target                { return j.target }
func (j *EmitUdevEventJob) ExecuteAfterCancellation() bool { return false }

// Run polls for two independent signals that the device is fully up:
// the netlink broadcast the host's own udev emitted (observed via Store)
// and the runtime-data record udev wrote under /run/udev/data. Once both
// are in hand it writes a copy of the host's real runtime-data record into
// the target (a container's runtime-data file, or the host's own under a
// different prefix) and relays the netlink properties themselves.
func (j *EmitUdevEventJob) Run(ctx context.Context) error {
	netlinkData, runtimeData, err := j.awaitSignals(ctx)
	if err != nil {
		return err
	}
	if netlinkData == nil {
		// The store entry was tombstoned (device already removed) before
		// both signals arrived; nothing left to relay.
		return nil
	}

	writeRec := domain.ActionRecord{
		Kind:        domain.ActionWriteUdevRuntimeData,
		RuntimeData: &runtimeData,
		Major:       j.major,
		Minor:       j.minor,
	}
	if err := runAction(ctx, j.rt, j.target, writeRec); err != nil {
		return err
	}

	netlinkRec := domain.ActionRecord{
		Kind:           domain.ActionEmitNetlinkMessage,
		NetlinkMessage: netlinkData,
	}
	return runAction(ctx, j.rt, j.target, netlinkRec)
}

// awaitSignals polls the Store for j.syspath's Add record and the host's
// /run/udev/data record for (major, minor), up to udevPollAttempts times
// udevPollInterval apart, until both are observed. It returns
// (nil, "", nil) if the Store entry is tombstoned or already carries
// remove data (the device was removed before both signals arrived, so
// there is nothing left to relay), ctx.Err() if ctx is canceled, and
// ErrStoreMiss if the attempts run out with one or both signals still
// missing.
func (j *EmitUdevEventJob) awaitSignals(ctx context.Context) (map[string]string, string, error) {
	var netlinkData map[string]string
	var runtimeData string
	haveRuntimeData := false

	for attempt := 0; attempt < udevPollAttempts; attempt++ {
		if netlinkData == nil {
			if entry, ok := j.store.Take(j.syspath); ok {
				if entry.Tombstone || entry.RemoveData != nil {
					return nil, "", nil
				}
				netlinkData = entry.AddData
			}
		}
		if !haveRuntimeData {
			if data, err := realizer.ReadUdevData(j.major, j.minor); err == nil {
				runtimeData = data
				haveRuntimeData = true
			}
		}

		if netlinkData != nil && haveRuntimeData {
			return netlinkData, runtimeData, nil
		}

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(udevPollInterval):
		}
	}

	return nil, "", domain.ErrStoreMiss
}
