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

// Package vtguard addresses the console VT stealing keyboard input away
// from vuinputd's synthesized devices: CheckVTStatus is a read-only
// diagnostic run once at daemon startup, and MuteKeyboard is what the
// "--vt-guard" CLI mode performs before handing control to a display
// manager.
package vtguard

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// See include/uapi/linux/kd.h.
const (
	kdgkbmode = 0x4B44
	kdskbmode = 0x4B45
	kOff      = 0x04
)

const vtDevice = "/dev/tty1"

// CheckVTStatus opens /dev/tty1 read-only and logs whether its keyboard
// mode is already K_OFF. It never fails the caller: a missing /dev/tty1
// (e.g. on a headless host) is informational, not an error.
func CheckVTStatus() {
	f, err := os.Open(vtDevice)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("vtguard: %s not present, no VT-related input problem", vtDevice)
			return
		}
		logrus.Errorf("vtguard: failed to open %s: %v", vtDevice, err)
		return
	}
	defer f.Close()

	mode, err := ioctlGet(int(f.Fd()), kdgkbmode)
	if err != nil {
		logrus.Errorf("vtguard: KDGKBMODE ioctl failed: %v", err)
		return
	}

	if mode == kOff {
		logrus.Infof("vtguard: %s keyboard mode is K_OFF, VT input is disabled", vtDevice)
	} else {
		logrus.Warnf("vtguard: %s keyboard mode is active (mode=%d), VT may consume input", vtDevice, mode)
	}
}

// MuteKeyboard opens /dev/tty1 read-write and sets its keyboard mode to
// K_OFF, so console VTs stop consuming the events vuinputd's synthesized
// devices emit. Intended to run once, early, ahead of a display manager.
func MuteKeyboard() error {
	f, err := os.OpenFile(vtDevice, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("vtguard: open %s: %w", vtDevice, err)
	}
	defer f.Close()

	if err := ioctlSet(int(f.Fd()), kdskbmode, kOff); err != nil {
		return fmt.Errorf("vtguard: KDSKBMODE ioctl failed: %w", err)
	}

	logrus.Info("vtguard: keyboard muted")
	return nil
}

func ioctlGet(fd int, req uint) (uint64, error) {
	var mode uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(&mode)))
	if errno != 0 {
		return 0, errno
	}
	return mode, nil
}

func ioctlSet(fd int, req uint, value uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), value)
	if errno != 0 {
		return errno
	}
	return nil
}
