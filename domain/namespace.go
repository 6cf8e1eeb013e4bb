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

// Aliases to leverage strong-typing.
type NStype = string

// NStype defines all namespace types exposed under /proc/<pid>/ns.
const (
	NStypeCgroup          NStype = "cgroup"
	NStypeIpc             NStype = "ipc"
	NStypeNet             NStype = "net"
	NStypePid             NStype = "pid"
	NStypePidForChildren  NStype = "pid_for_children"
	NStypeUts             NStype = "uts"
	NStypeUser            NStype = "user"
	NStypeMount           NStype = "mnt"
	NStypeTime            NStype = "time"
	NStypeTimeForChildren NStype = "time_for_children"
)

// AllNSs lists every namespace kind vuinputd reads out of /proc/<pid>/ns.
var AllNSs = []NStype{
	NStypeNet,
	NStypeUts,
	NStypeIpc,
	NStypePid,
	NStypePidForChildren,
	NStypeUser,
	NStypeMount,
	NStypeCgroup,
	NStypeTime,
	NStypeTimeForChildren,
}

// Inode is the identity of a namespace as observed through a /proc/<pid>/ns/*
// symlink. Two processes are in the same namespace iff their Inode for that
// namespace kind is equal; the pid path that exposed it carries no identity
// of its own.
type Inode = uint64

// NamespaceInodes holds the inode numbers of every namespace kind for one
// process. Fields are zero when the kernel didn't expose that namespace
// (e.g. time/time_for_children on older kernels).
type NamespaceInodes struct {
	Net             Inode
	Uts             Inode
	Ipc             Inode
	Pid             Inode
	PidForChildren  Inode
	User            Inode
	Mnt             Inode
	Cgroup          Inode
	Time            Inode
	TimeForChildren Inode
}

// EqualMntAndNet reports whether two namespace-inode sets share the same
// mount and network namespace. Routing and nsroot-walk equality are defined
// only over this pair; the other eight namespace kinds are observational.
func (n NamespaceInodes) EqualMntAndNet(o NamespaceInodes) bool {
	return n.Mnt == o.Mnt && n.Net == o.Net
}
