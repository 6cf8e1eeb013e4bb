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

package domain

// DeviceIdentity is created only after a successful UI_DEV_CREATE and is
// immutable thereafter for the owning session.
type DeviceIdentity struct {
	Syspath string
	Devnode string
	Devname string
	Major   uint32
	Minor   uint32
}

// FileHandle is an opaque identifier minted monotonically at session open.
// It is never reused for the lifetime of the daemon process.
type FileHandle uint64

// Placement selects where created device nodes and udev metadata live.
type Placement string

const (
	PlacementInContainer Placement = "in-container"
	PlacementOnHost       Placement = "on-host"
	PlacementNone         Placement = "none"
)

// Policy selects the per-event filtering rule applied to outbound writes.
type Policy string

const (
	PolicyNone          Policy = "none"
	PolicyMuteSysRq      Policy = "mute-sysrq"
	PolicySanitized      Policy = "sanitized"
	PolicyStrictGamepad  Policy = "strict-gamepad"
)

// GlobalConfig is initialized once at daemon startup and read by every
// component thereafter; it is never reassigned.
type GlobalConfig struct {
	Policy    Policy
	Placement Placement
	Devname   string
}
