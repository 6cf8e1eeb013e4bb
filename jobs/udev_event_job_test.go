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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joleuger/vuinputd/udev"
)

// TestEmitUdevEventJobGivesUpWhenAlreadyRemoved proves awaitSignals bails
// out immediately (without running the full poll budget) once the Store
// shows the device was removed before both signals arrived.
func TestEmitUdevEventJobGivesUpWhenAlreadyRemoved(t *testing.T) {
	store := udev.NewStore(time.Minute)
	syspath := "/sys/devices/virtual/input/input9"
	store.OnEvent(udev.Event{Syspath: syspath, Kind: udev.KindAdd, Payload: map[string]string{"ACTION": "add"}})
	store.OnEvent(udev.Event{Syspath: syspath, Kind: udev.KindRemove, Payload: map[string]string{"ACTION": "remove"}})

	job := NewEmitUdevEventJob(Runtime{}, HostTarget, store, syspath, 13, 64)

	netlinkData, runtimeData, err := job.awaitSignals(context.Background())
	require.NoError(t, err)
	require.Nil(t, netlinkData)
	require.Empty(t, runtimeData)
}

// TestEmitUdevEventJobAwaitSignalsTimesOutWithoutRuntimeData exercises the
// case where the netlink signal arrives but /run/udev/data never does (as
// in this sandbox, which has no real udev running); the poll must respect
// ctx cancellation rather than running its full 5-second budget.
func TestEmitUdevEventJobAwaitSignalsTimesOutWithoutRuntimeData(t *testing.T) {
	store := udev.NewStore(time.Minute)
	syspath := "/sys/devices/virtual/input/input9"
	store.OnEvent(udev.Event{Syspath: syspath, Kind: udev.KindAdd, Payload: map[string]string{"ACTION": "add"}})

	job := NewEmitUdevEventJob(Runtime{}, HostTarget, store, syspath, 13, 64)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, _, err := job.awaitSignals(ctx)
	require.Error(t, err)
}

func TestEmitUdevEventJobDescAndTarget(t *testing.T) {
	store := udev.NewStore(time.Minute)
	syspath := "/sys/devices/virtual/input/input9"
	job := NewEmitUdevEventJob(Runtime{}, HostTarget, store, syspath, 13, 64)

	require.Contains(t, job.Desc(), "input9")
	require.Equal(t, HostTarget, job.Target())
	require.False(t, job.ExecuteAfterCancellation())
}
