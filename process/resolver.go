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

// Package process resolves a kernel-supplied pid into a RequestingProcess:
// its namespace identity, the outermost ancestor sharing its (mnt, net)
// namespaces, and whether it's a 32-bit compat binary.
package process

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/eventcompat"
)

var nsInodeRe = regexp.MustCompile(`:\[(\d+)\]$`)

// nsField maps a domain.NStype to the field of NamespaceInodes it fills.
type nsField struct {
	kind NsSetter
}

// NsSetter assigns one namespace inode into a NamespaceInodes value.
type NsSetter func(n *domain.NamespaceInodes, v domain.Inode)

var nsSetters = map[domain.NStype]NsSetter{
	domain.NStypeNet:             func(n *domain.NamespaceInodes, v domain.Inode) { n.Net = v },
	domain.NStypeUts:             func(n *domain.NamespaceInodes, v domain.Inode) { n.Uts = v },
	domain.NStypeIpc:             func(n *domain.NamespaceInodes, v domain.Inode) { n.Ipc = v },
	domain.NStypePid:             func(n *domain.NamespaceInodes, v domain.Inode) { n.Pid = v },
	domain.NStypePidForChildren:  func(n *domain.NamespaceInodes, v domain.Inode) { n.PidForChildren = v },
	domain.NStypeUser:            func(n *domain.NamespaceInodes, v domain.Inode) { n.User = v },
	domain.NStypeMount:           func(n *domain.NamespaceInodes, v domain.Inode) { n.Mnt = v },
	domain.NStypeCgroup:          func(n *domain.NamespaceInodes, v domain.Inode) { n.Cgroup = v },
	domain.NStypeTime:            func(n *domain.NamespaceInodes, v domain.Inode) { n.Time = v },
	domain.NStypeTimeForChildren: func(n *domain.NamespaceInodes, v domain.Inode) { n.TimeForChildren = v },
}

// GetNsInodes reads every /proc/<pid>/ns/<kind> symlink for pid and parses
// the "[inode]" suffix each one carries. Namespace kinds the running kernel
// doesn't expose (e.g. time on older kernels) are silently left at zero.
func GetNsInodes(pid domain.Pid) (domain.NamespaceInodes, error) {
	var out domain.NamespaceInodes

	for _, kind := range domain.AllNSs {
		nsPath := filepath.Join(pid.Path(), "ns", kind)

		link, err := os.Readlink(nsPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return out, fmt.Errorf("readlink %s: %w", nsPath, err)
		}

		m := nsInodeRe.FindStringSubmatch(link)
		if m == nil {
			return out, fmt.Errorf("unexpected ns link format %q for %s", link, nsPath)
		}

		inode, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return out, fmt.Errorf("parse ns inode %q: %w", m[1], err)
		}

		nsSetters[kind](&out, inode)
	}

	return out, nil
}

// GetPPid parses the "PPid:" line of /proc/<pid>/status.
func GetPPid(pid int32) (int32, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "PPid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return 0, fmt.Errorf("malformed PPid line %q", line)
		}
		v, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return 0, err
		}
		return int32(v), nil
	}
	if err := s.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("PPid not found in /proc/%d/status", pid)
}

// elfMagic is the 4-byte ELF file identification prefix.
var elfMagic = [4]byte{0x7F, 'E', 'L', 'F'}

const (
	elfClass32 = 1
	elfClass64 = 2
)

// IsCompat inspects the EI_CLASS byte of /proc/<pid>/exe's ELF header to
// determine whether pid is a 32-bit binary running on a 64-bit kernel.
func IsCompat(pid int32) (bool, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		return false, err
	}
	defer f.Close()

	var hdr [5]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return false, err
	}

	if hdr[0] != elfMagic[0] || hdr[1] != elfMagic[1] || hdr[2] != elfMagic[2] || hdr[3] != elfMagic[3] {
		return false, fmt.Errorf("not an ELF binary")
	}

	return hdr[4] == elfClass32, nil
}

// Resolve derives the RequestingProcess for pid: its own namespace inodes,
// the outermost ancestor sharing its (mnt, net) pair (nsroot), and its
// bitness. For the daemon's own pid, no parent walk is performed and
// nsroot equals nspath (spec.md §4.D). Failure to read any piece of /proc
// does not abort resolution: the caller falls back to being treated as
// "self namespace" with compat assumed false, logged as a warning, which
// matches the robustness requirement in spec.md §4.D (a vanished /proc
// entry for a racing client must not crash the open() path).
func Resolve(pid domain.Pid) domain.RequestingProcess {
	nsPath := filepath.Join(pid.Path(), "ns")

	nsInodes, err := GetNsInodes(pid)
	if err != nil {
		logrus.Warnf("process: failed to read namespace inodes for %s: %v; treating as self namespace", pid, err)
		selfNSPath := filepath.Join(domain.SelfPid.Path(), "ns")
		selfInodes, _ := GetNsInodes(domain.SelfPid)
		return domain.RequestingProcess{NSPath: selfNSPath, NSRoot: selfNSPath, Namespaces: selfInodes}
	}

	compat := false
	if !pid.IsSelf() {
		compat, err = IsCompat(pid.Value())
		if err != nil {
			logrus.Warnf("process: failed to determine bitness for %s: %v; assuming native", pid, err)
			compat = false
		}
		if compat && eventcompat.Uses64BitTime() {
			compat = false
		}
	}

	rp := domain.RequestingProcess{
		NSPath:     nsPath,
		NSRoot:     nsPath,
		Namespaces: nsInodes,
		IsCompat:   compat,
	}

	if pid.IsSelf() {
		return rp
	}

	rp.NSRoot = walkToNsroot(pid.Value(), nsInodes, nsPath)
	return rp
}

// walkToNsroot follows PPid upward as long as the ancestor's (mnt, net)
// inodes match childInodes; the terminal ancestor's /proc/<pid>/ns path is
// the nsroot. Any failure along the walk (ancestor already reaped, /proc
// race) stops the walk at the last successfully resolved ancestor rather
// than failing resolution outright.
func walkToNsroot(pid int32, childInodes domain.NamespaceInodes, fallback string) string {
	cur := pid
	curNsPath := fallback

	for {
		ppid, err := GetPPid(cur)
		if err != nil || ppid <= 1 {
			return curNsPath
		}

		parentInodes, err := GetNsInodes(domain.PidOf(ppid))
		if err != nil {
			return curNsPath
		}

		if !parentInodes.EqualMntAndNet(childInodes) {
			return curNsPath
		}

		cur = ppid
		curNsPath = filepath.Join(domain.PidOf(ppid).Path(), "ns")
	}
}
