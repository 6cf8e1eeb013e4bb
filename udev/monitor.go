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

package udev

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// devpathRe extracts the synthetic input/eventN numbering
// UdevMonitorLoop uses to recognize events vuinputd itself created.
var devpathRe = regexp.MustCompile(`^/devices/virtual/input/input(\d+)/event(\d+)$`)

// cleanupInterval is how often Store.Cleanup runs in the background.
const cleanupInterval = 60 * time.Second

// recvBufSize is generous for a kobject-uevent message, which in practice
// never carries more than a few dozen short properties.
const recvBufSize = 16 * 1024

// UdevMonitorLoop opens a libudev-compatible monitor socket, filters
// received kernel uevents down to ones vuinputd cares about, translates
// ID_VUINPUT_* properties to ID_INPUT_* and drops ID_SEAT/seat_ properties,
// and feeds the result into store. It runs until ctx is canceled.
func UdevMonitorLoop(ctx context.Context, store *Store) error {
	fd, err := openMonitorSocket(udevMonitorGroup)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.Cleanup()
			}
		}
	}()

	buf := make([]byte, recvBufSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}

		ev, ok := decodeUevent(buf[:n])
		if !ok {
			continue
		}

		store.OnEvent(ev)
	}
}

// decodeUevent parses a raw kobject-uevent netlink payload (the libudev
// monitor header followed by NUL-separated key=value properties) into an
// Event, translating ID_VUINPUT_* -> ID_INPUT_* and dropping
// ID_SEAT/seat_ properties along the way. Returns ok=false for payloads
// that don't look like a libudev-framed message, or whose DEVPATH doesn't
// match the synthetic input-device form vuinputd produces.
func decodeUevent(raw []byte) (Event, bool) {
	if len(raw) < monitorHeaderSize || !bytes.HasPrefix(raw, []byte("libudev\x00")) {
		return Event{}, false
	}

	body := raw[monitorHeaderSize:]
	props := map[string]string{}
	action := ""
	devpath := ""

	for _, field := range bytes.Split(body, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		kv := strings.SplitN(string(field), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]

		switch {
		case key == "ACTION":
			action = val
		case key == "DEVPATH":
			devpath = val
		case key == "ID_SEAT" || strings.HasPrefix(key, "seat_"):
			continue
		case strings.HasPrefix(key, "ID_VUINPUT_"):
			key = "ID_INPUT_" + strings.TrimPrefix(key, "ID_VUINPUT_")
		}

		props[key] = val
	}

	m := devpathRe.FindStringSubmatch(devpath)
	if m == nil {
		return Event{}, false
	}

	var kind EventKind
	switch action {
	case "add":
		kind = KindAdd
	case "remove":
		kind = KindRemove
	default:
		logrus.Debugf("udev: ignoring uevent with action %q for %s", action, devpath)
		return Event{}, false
	}

	// The kernel's DEVPATH names the eventN child node itself
	// (/devices/virtual/input/inputN/eventM); the Store and
	// cuseserver.handleDevCreate both key on the parent inputN node's
	// canonical sysfs path, so canonicalize it here.
	syspath := fmt.Sprintf("/sys/devices/virtual/input/input%s", m[1])

	return Event{Syspath: syspath, Kind: kind, Payload: props}, true
}

// eventNumber extracts the "N" from a /devices/virtual/input/inputM/eventN
// syspath, for callers that need to correlate a uevent back to the
// /dev/input/eventN node it describes.
func eventNumber(syspath string) (int, bool) {
	m := devpathRe.FindStringSubmatch(syspath)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}
