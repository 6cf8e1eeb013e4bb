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

// Package nsenter joins the mount and network namespaces of a target
// container root so that an ActionRecord can run as if invoked from inside
// the container. It must only ever be called from a freshly re-exec'd,
// single-threaded child process: joining the mount namespace of a
// multi-threaded process is refused by the kernel.
package nsenter

import (
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/joleuger/vuinputd/domain"
)

// PrepareSingleThreaded pins the calling goroutine to its OS thread and
// asks the Go scheduler to run on a single OS thread. cmd/vuinputd calls it
// from its CLI action as soon as the flags select action-subprocess mode,
// before JoinNamespaces — mirrors the
// re-exec'd-child constraint the kernel's setns(CLONE_NEWNS) imposes
// (rejects joins from a multithreaded process) the same way runc's nsenter
// shim arranges single-threadedness before touching namespaces.
func PrepareSingleThreaded() {
	runtime.GOMAXPROCS(1)
	runtime.LockOSThread()
}

// JoinNamespaces opens nsDir/net and nsDir/mnt and joins each via setns,
// network first then mount, matching the order the in-namespace action
// actually needs (the mount join must happen last since it's what makes
// the action's file-path arguments resolve inside the container). If nsDir
// no longer exists — the container root exited before the caller got here
// — this returns domain.ErrNamespaceGone and the caller is expected to
// treat that as a successful no-op, not a failure.
func JoinNamespaces(nsDir string) error {
	if _, err := os.Stat(nsDir); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNamespaceGone
		}
		return err
	}

	if err := joinOne(filepath.Join(nsDir, "net"), unix.CLONE_NEWNET); err != nil {
		return err
	}
	if err := joinOne(filepath.Join(nsDir, "mnt"), unix.CLONE_NEWNS); err != nil {
		return err
	}

	return nil
}

func joinOne(path string, cloneFlag int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNamespaceGone
		}
		return err
	}
	defer f.Close()

	return unix.Setns(int(f.Fd()), cloneFlag)
}
