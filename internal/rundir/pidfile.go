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

// Package rundir manages vuinputd's /run/vuinputd state directory and
// pidfile, the same three-call shape (Check/Create/Destroy) the teacher's
// daemon wires around libutils' pidfile helpers. That package lives in a
// sibling, non-public nestybox-libs module this repo has no replace
// directive for, so the logic is reimplemented directly here against the
// standard library rather than imported — see DESIGN.md.
package rundir

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// EnsureDir creates dir (and any missing parents) with the permissions a
// root-owned runtime directory under /run needs.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rundir: mkdir %s: %w", dir, err)
	}
	return nil
}

// CheckPidFile returns an error if path names a pidfile belonging to a
// still-running process, so a second vuinputd instance refuses to start.
// A pidfile referencing a dead pid is treated as stale and ignored.
func CheckPidFile(name, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rundir: read %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		logrus.Warnf("rundir: pidfile %s has unparseable content, treating as stale: %v", path, err)
		return nil
	}

	if processAlive(pid) {
		return fmt.Errorf("%s is already running (pid %d, pidfile %s)", name, pid, path)
	}

	return nil
}

// CreatePidFile writes the caller's own pid to path, truncating any stale
// content CheckPidFile already determined was safe to discard.
func CreatePidFile(name, path string) error {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("rundir: write pidfile %s for %s: %w", path, name, err)
	}
	return nil
}

// DestroyPidFile removes path, tolerating ENOENT.
func DestroyPidFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rundir: remove pidfile %s: %w", path, err)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
