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

import "fmt"

// Pid is a tagged reference to a process: either the caller's own process,
// or an explicit numeric pid obtained from the CUSE request context.
type Pid struct {
	self  bool
	value int32
}

// SelfPid refers to the vuinputd process itself.
var SelfPid = Pid{self: true}

// PidOf wraps an explicit pid.
func PidOf(pid int32) Pid {
	return Pid{value: pid}
}

// IsSelf reports whether this Pid refers to the daemon's own process.
func (p Pid) IsSelf() bool {
	return p.self
}

// Value returns the numeric pid; only meaningful when !IsSelf().
func (p Pid) Value() int32 {
	return p.value
}

// Path returns the /proc/<pid> directory for this Pid.
func (p Pid) Path() string {
	if p.self {
		return "/proc/self"
	}
	return fmt.Sprintf("/proc/%d", p.value)
}

func (p Pid) String() string {
	if p.self {
		return "self"
	}
	return fmt.Sprintf("%d", p.value)
}

// RequestingProcess is the resolved identity of whatever process opened a
// DeviceSession. It is immutable once constructed and doubles as a job
// routing key (Container(RequestingProcess)) and as the source of
// namespace paths an action subprocess must join.
//
// Invariant: NSRoot names a process whose Namespaces.EqualMntAndNet matches
// Namespaces; walking further up the process tree would change at least one
// of (mnt, net).
type RequestingProcess struct {
	// NSPath is /proc/<pid>/ns for the caller itself.
	NSPath string
	// NSRoot is /proc/<pid>/ns for the outermost ancestor sharing the
	// caller's (mnt, net) namespaces. Equals NSPath when the caller is
	// already the root (e.g. the daemon's own process, or an un-contained
	// caller).
	NSRoot string
	// Namespaces are the caller's own namespace inodes.
	Namespaces NamespaceInodes
	// IsCompat is true when the caller is a 32-bit ELF binary running on
	// a 64-bit kernel.
	IsCompat bool
}

// CrossNamespace reports whether this requesting process lives in a
// different (mnt, net) namespace pair than the daemon itself.
func (rp RequestingProcess) CrossNamespace(self NamespaceInodes) bool {
	return !rp.Namespaces.EqualMntAndNet(self)
}

// RoutingKey is the comparable identity used to key per-target job queues.
// Only NSRoot participates: two requesting processes that share an nsroot
// route to the same FIFO, regardless of which particular descendant pid
// happened to open the session.
func (rp RequestingProcess) RoutingKey() string {
	return rp.NSRoot
}
