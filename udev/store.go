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

// Package udev implements the UdevEventStore (a per-syspath aggregation of
// observed kernel uevents) and the UdevMonitorLoop that feeds it, plus the
// libudev-compatible kobject-uevent netlink framing both the monitor loop
// and ActionExecutor's EmitNetlinkMessage use.
package udev

import (
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// EventKind distinguishes an Add from a Remove kernel uevent.
type EventKind int

const (
	KindAdd EventKind = iota
	KindRemove
)

// Event is one observed kernel uevent, already translated into the
// ID_INPUT_*/no-ID_SEAT form consumers inside a container expect.
type Event struct {
	Syspath string
	Kind    EventKind
	Payload map[string]string
}

// Entry is the per-syspath aggregation state. tombstone ⇒ no further state
// changes are observable via Take; RemoveData present after Take ⇒
// tombstone becomes true.
type Entry struct {
	Seqnum       uint64
	AddData      map[string]string
	RemoveData   map[string]string
	AddProcessed bool
	Tombstone    bool
	LastUpdate   time.Time
}

// Store is a mapping syspath -> Entry plus a TTL. Its internal index is an
// immutable radix tree (as the teacher's own container-state indices are).
// Every access, including Cleanup's whole sweep, holds mu.
type Store struct {
	mu      sync.Mutex
	tree    *iradix.Tree
	ttl     time.Duration
	seqnum  uint64
	nowFunc func() time.Time
}

// NewStore constructs an empty store with the given entry TTL.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		tree:    iradix.New(),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// OnEvent upserts the entry for ev.Syspath: bumps seqnum and LastUpdate,
// clears tombstone, and replaces AddData (resetting AddProcessed/RemoveData)
// for an Add, or sets RemoveData for a Remove.
func (s *Store) OnEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqnum++

	var entry Entry
	if raw, ok := s.tree.Get([]byte(ev.Syspath)); ok {
		entry = raw.(Entry)
	}

	entry.Seqnum = s.seqnum
	entry.LastUpdate = s.nowFunc()
	entry.Tombstone = false

	switch ev.Kind {
	case KindAdd:
		entry.AddData = ev.Payload
		entry.AddProcessed = false
		entry.RemoveData = nil
	case KindRemove:
		entry.RemoveData = ev.Payload
	}

	tree, _, _ := s.tree.Insert([]byte(ev.Syspath), entry)
	s.tree = tree
}

// Take clones the current entry for syspath. If it isn't already
// tombstoned, Take marks AddProcessed and, if RemoveData is present, sets
// Tombstone. Returns (Entry{}, false) if the syspath was never observed.
func (s *Store) Take(syspath string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.tree.Get([]byte(syspath))
	if !ok {
		return Entry{}, false
	}
	entry := raw.(Entry)
	result := entry

	if !entry.Tombstone {
		entry.AddProcessed = true
		if entry.RemoveData != nil {
			entry.Tombstone = true
		}
		tree, _, _ := s.tree.Insert([]byte(syspath), entry)
		s.tree = tree
		result = entry
	}

	return result, true
}

// Cleanup retains non-tombstoned entries updated within the TTL; tombstones
// are removed unconditionally.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	newTree := iradix.New()

	iter := s.tree.Root().Iterator()
	for {
		k, raw, ok := iter.Next()
		if !ok {
			break
		}
		entry := raw.(Entry)
		if entry.Tombstone {
			continue
		}
		if now.Sub(entry.LastUpdate) > s.ttl {
			continue
		}
		newTree, _, _ = newTree.Insert(k, entry)
	}

	s.tree = newTree
}

// Len reports the number of syspaths currently tracked; used by tests.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}
