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

import "errors"

// Sentinel error kinds surfaced by the core, per the error-handling design.
var (
	// ErrHostUinputUnavailable: /dev/uinput open failed at session open.
	ErrHostUinputUnavailable = errors.New("vuinputd: host /dev/uinput unavailable")

	// ErrUnknownIoctl: the ioctl command is not part of the uinput protocol.
	ErrUnknownIoctl = errors.New("vuinputd: unknown ioctl command")

	// ErrTransientWrite: a write to the host fd returned a short count or errno.
	ErrTransientWrite = errors.New("vuinputd: transient write error")

	// ErrNamespaceGone: the target namespace directory vanished before setns.
	ErrNamespaceGone = errors.New("vuinputd: target namespace no longer exists")

	// ErrStoreMiss: the device never appeared in the udev monitor feed.
	ErrStoreMiss = errors.New("vuinputd: udev event store miss")

	// ErrConfig: CLI argument validation failed.
	ErrConfig = errors.New("vuinputd: invalid configuration")
)
