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

// Package action implements ActionRecord execution, either directly in the
// current process or by re-exec'ing the daemon binary with --action and
// --target-namespace so the action runs inside a container's mount+net
// namespace.
package action

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/realizer"
	"github.com/joleuger/vuinputd/udev"
)

// Execute runs a decoded ActionRecord in the current process. It is called
// both by the re-exec'd child (after joining the target namespace) and
// directly by jobs whose target is Host (no namespace join needed).
func Execute(fs realizer.FS, mk realizer.Mknodder, rec domain.ActionRecord) error {
	switch rec.Kind {
	case domain.ActionMknodDevice:
		return realizer.EnsureInputDevice(mk, rec.Path, rec.Major, rec.Minor)

	case domain.ActionRemoveDevice:
		return realizer.RemoveInputDevice(mk, rec.Path)

	case domain.ActionWriteUdevRuntimeData:
		if rec.RuntimeData == nil {
			return realizer.DeleteUdevData(fs, udevPrefixFromAction(rec), rec.Major, rec.Minor)
		}
		return realizer.WriteUdevData(fs, udevPrefixFromAction(rec), *rec.RuntimeData, rec.Major, rec.Minor)

	case domain.ActionEmitNetlinkMessage:
		return udev.SendMonitorMessage(rec.NetlinkMessage)

	default:
		return fmt.Errorf("action: unknown kind %q", rec.Kind)
	}
}

// udevPrefixFromAction recovers the host-fs prefix an in-container
// WriteUdevRuntimeData action writes under. The wire record only carries
// major/minor; the prefix is always the container's own /run tree because
// the action executes after JoinNamespaces has already entered that
// container's mount namespace, so "/run" resolves correctly without
// needing to thread the prefix across the subprocess boundary.
func udevPrefixFromAction(rec domain.ActionRecord) string {
	_ = rec
	return "/run"
}

// Subinvoke re-execs the current binary with --action-base64 <base64 of the
// record's JSON> and, if nsDir
// is non-empty, --target-namespace <nsDir>, and waits for it to exit. It is
// the ActionExecutor's "run in subprocess" mode described in spec.md §4.F;
// the dispatcher always calls this from its single dedicated goroutine
// (see jobs.Dispatcher) so the fork point is never contended by another
// concurrent fork.
func Subinvoke(ctx context.Context, exePath, nsDir string, rec domain.ActionRecord) error {
	encoded, err := rec.EncodeJSON()
	if err != nil {
		return fmt.Errorf("action: encode record: %w", err)
	}

	args := []string{"--action-base64", base64.StdEncoding.EncodeToString([]byte(encoded))}
	if nsDir != "" {
		args = append(args, "--target-namespace", nsDir)
	}

	cmd := exec.CommandContext(ctx, exePath, args...)
	cmd.Stdin = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		logrus.Warnf("action: subinvocation of %s failed: %v (stderr: %s)", rec.Kind, err, stderr.String())
		return err
	}

	return nil
}
