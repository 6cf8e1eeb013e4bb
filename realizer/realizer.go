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

// Package realizer provides the small idempotent filesystem primitives
// ActionExecutor and DaemonMain build on: creating/removing device nodes,
// writing/deleting udev runtime-data files, and bootstrapping the
// directory structure a container's udev tree needs.
package realizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// FS is the filesystem interface every realizer routine goes through, so
// tests can substitute afero.NewMemMapFs() for the real one. mknod(2) has
// no afero equivalent, so EnsureInputDevice/RemoveInputDevice additionally
// accept a Mknodder for that one syscall.
type FS = afero.Fs

// Mknodder creates a character device node; satisfied by OSMknod in
// production and by a recording fake in tests.
type Mknodder interface {
	Mknod(path string, mode uint32, dev int) error
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
}

// OSMknod is the production Mknodder, backed directly by the kernel.
type OSMknod struct{}

func (OSMknod) Mknod(path string, mode uint32, dev int) error {
	return unix.Mknod(path, mode, dev)
}

func (OSMknod) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (OSMknod) Remove(path string) error {
	return os.Remove(path)
}

// Makedev mirrors the kernel's MKDEV(major, minor) macro.
func Makedev(major, minor uint32) int {
	return int(unix.Mkdev(major, minor))
}

// EnsureInputDevice creates path as a character device with the given
// major/minor if it doesn't already exist with exactly that identity; if a
// node exists with a mismatched type or rdev it is removed and recreated.
// Mode is always 0o666, matching the permissions /dev/input/event* nodes
// carry on the host.
func EnsureInputDevice(m Mknodder, path string, major, minor uint32) error {
	wantDev := Makedev(major, minor)

	if fi, err := m.Stat(path); err == nil {
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			isChr := fi.Mode()&os.ModeCharDevice != 0
			if isChr && int(st.Rdev) == wantDev {
				if fi.Mode().Perm() != 0o666 {
					return os.Chmod(path, 0o666)
				}
				return nil
			}
		}
		if err := m.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("realizer: remove stale node %s: %w", path, err)
		}
	}

	if err := m.Mknod(path, unix.S_IFCHR|0o666, wantDev); err != nil {
		return fmt.Errorf("realizer: mknod %s: %w", path, err)
	}

	return nil
}

// RemoveInputDevice unlinks path, tolerating ENOENT.
func RemoveInputDevice(m Mknodder, path string) error {
	if err := m.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("realizer: remove %s: %w", path, err)
	}
	return nil
}

// EnsureUdevStructure creates prefix/udev/data and, if missing, an empty
// prefix/udev/control with a user-visible warning (udev consumers probe
// for the control socket's existence as a liveness signal).
func EnsureUdevStructure(fs FS, prefix string) error {
	dataDir := prefix + "/udev/data"
	if err := fs.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("realizer: mkdir %s: %w", dataDir, err)
	}

	control := prefix + "/udev/control"
	if exists, err := afero.Exists(fs, control); err != nil {
		return err
	} else if !exists {
		logrus.Warnf("realizer: %s does not exist; creating an empty placeholder", control)
		f, err := fs.Create(control)
		if err != nil {
			return fmt.Errorf("realizer: create %s: %w", control, err)
		}
		f.Close()
	}

	return nil
}

// EnsureHostFSStructure bootstraps the full directory tree an on-host or
// in-container placement needs: <prefix>/dev-input, <prefix>/udev/data,
// and <prefix>/udev/control — supplementing spec.md with the original
// implementation's host_fs.rs bootstrap step, run once at daemon startup.
func EnsureHostFSStructure(fs FS, prefix string) error {
	if err := fs.MkdirAll(prefix+"/dev-input", 0o755); err != nil {
		return fmt.Errorf("realizer: mkdir %s/dev-input: %w", prefix, err)
	}
	return EnsureUdevStructure(fs, prefix)
}

// CheckPathAllowsCharDevs parses /proc/self/mountinfo and logs a warning if
// the mount containing path carries the "nodev" option, which would make
// any mknod'd character device under it unusable.
func CheckPathAllowsCharDevs(path string) error {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return err
	}
	defer f.Close()

	var bestMount, bestOpts string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		mountPoint := fields[4]
		opts := fields[5]
		if strings.HasPrefix(path, mountPoint) && len(mountPoint) > len(bestMount) {
			bestMount = mountPoint
			bestOpts = opts
		}
	}
	if err := s.Err(); err != nil {
		return err
	}

	if bestMount != "" {
		for _, o := range strings.Split(bestOpts, ",") {
			if o == "nodev" {
				logrus.Warnf("realizer: mount %s covering %s is mounted nodev; device nodes created there will not work", bestMount, path)
			}
		}
	}

	return nil
}

// sanitizeUdevData applies the udev runtime-data transform: lines
// containing "ID_SEAT=" or "seat_" are dropped; ID_VUINPUT_KEYBOARD=1 and
// ID_VUINPUT_MOUSE=1 are renamed to their ID_INPUT_* equivalents.
func sanitizeUdevData(content string) string {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ID_SEAT=") || strings.Contains(line, "seat_") {
			continue
		}
		switch line {
		case "ID_VUINPUT_KEYBOARD=1":
			line = "ID_INPUT_KEYBOARD=1"
		case "ID_VUINPUT_MOUSE=1":
			line = "ID_INPUT_MOUSE=1"
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.String()
}

func udevDataPath(prefix string, major, minor uint32) string {
	return fmt.Sprintf("%s/udev/data/c%d:%d", prefix, major, minor)
}

// WriteUdevData sanitizes content and writes it to
// <prefix>/udev/data/c<major>:<minor>.
func WriteUdevData(fs FS, prefix, content string, major, minor uint32) error {
	if err := EnsureUdevStructure(fs, prefix); err != nil {
		return err
	}
	sanitized := sanitizeUdevData(content)
	return afero.WriteFile(fs, udevDataPath(prefix, major, minor), []byte(sanitized), 0o644)
}

// DeleteUdevData unlinks <prefix>/udev/data/c<major>:<minor>.
func DeleteUdevData(fs FS, prefix string, major, minor uint32) error {
	path := udevDataPath(prefix, major, minor)
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("realizer: remove %s: %w", path, err)
	}
	return nil
}

// ReadUdevData reads the host's own real udev record for (major, minor),
// always from the real host path regardless of placement — this is what
// EmitUdevEventJob copies from before sanitizing it into the container.
func ReadUdevData(major, minor uint32) (string, error) {
	b, err := os.ReadFile(fmt.Sprintf("/run/udev/data/c%d:%d", major, minor))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// FetchDeviceNode scans syspath for the "eventN" child entry UI_DEV_CREATE
// produces and returns its /dev/input/eventN path.
func FetchDeviceNode(syspath string) (string, error) {
	entries, err := os.ReadDir(syspath)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "event") {
			return "/dev/input/" + e.Name(), nil
		}
	}
	return "", fmt.Errorf("realizer: no event node found under %s", syspath)
}

// ParseMajorMinor decodes a device node's rdev the way fetch_major_minor
// does in the reference implementation.
func ParseMajorMinor(rdev uint64) (major, minor uint32) {
	major = uint32((rdev >> 8) & 0xfff)
	minor = uint32((rdev & 0xff) | ((rdev >> 12) & 0xfff00))
	return
}
