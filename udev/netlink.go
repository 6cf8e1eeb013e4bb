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
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// monitorHeaderSize is the fixed size of the libudev monitor header that
// precedes every kobject-uevent netlink payload.
const monitorHeaderSize = 40

// monitorMagic is the libudev monitor magic number, sent big-endian.
const monitorMagic uint32 = 0xFEEDCAFE

// maxNetlinkPayload bounds the payload size sendmsg will accept in one
// message; vuinputd only ever emits small property sets, so this is a
// sanity check, not a real constraint in practice.
const maxNetlinkPayload = 64 * 1024

// inputSubsystemHash is the murmur2-compatible 32-bit hash libudev uses for
// the "input" subsystem string. vuinputd only ever synthesizes input
// devices, so the hash is hard-coded rather than computed — implementers
// adding other subsystems must implement murmur2 compatibly with libudev.
const inputSubsystemHash uint32 = 3248653424

// buildMonitorHeader renders the 40-byte libudev monitor header for a
// payload of the given length, filtered to the "input" subsystem.
func buildMonitorHeader(payloadLen int) []byte {
	h := make([]byte, monitorHeaderSize)
	copy(h[0:8], []byte("libudev\x00"))

	// nl.NetlinkRequest's own encoding helpers are for NETLINK_ROUTE request
	// headers; vishvananda/netlink/nl is reused here purely for its
	// byte-order primitives (nl.NativeEndian is little-endian on every
	// architecture vuinputd targets, matching the header's declared
	// little-endian multi-byte fields other than magic).
	endian := nl.NativeEndian()

	binary.BigEndian.PutUint32(h[8:12], monitorMagic)
	endian.PutUint32(h[12:16], monitorHeaderSize)
	endian.PutUint32(h[16:20], monitorHeaderSize)
	endian.PutUint32(h[20:24], uint32(payloadLen))
	binary.BigEndian.PutUint32(h[24:28], inputSubsystemHash)
	endian.PutUint32(h[28:32], 0) // filter_devtype_hash
	endian.PutUint32(h[32:36], 0) // filter_tag_bloom_hi
	endian.PutUint32(h[36:40], 0) // filter_tag_bloom_lo

	return h
}

// encodeProperties renders a property map as NUL-separated "key=value"
// strings. Keys are sorted so the wire form is deterministic (and tests
// reproducible); libudev does not require any particular order.
func encodeProperties(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(props[k])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// openMonitorSocket opens an AF_NETLINK/NETLINK_KOBJECT_UEVENT socket bound
// to the given multicast groups (udevMonitorGroup for the monitor loop, 0
// for sending), pid 0 so the kernel assigns one.
func openMonitorSocket(groups uint32) (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJ_UEVENT)
	if err != nil {
		return -1, fmt.Errorf("udev: open netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: groups}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("udev: bind netlink socket: %w", err)
	}

	return fd, nil
}

// udevMonitorGroup is the kobject-uevent multicast group used by udev
// monitors ("udev", as opposed to group 1 which carries raw kernel
// events).
const udevMonitorGroup = 2

// SendMonitorMessage opens a NETLINK_KOBJECT_UEVENT socket, binds it, and
// sends one libudev-monitor-framed message carrying props. This is the
// EmitNetlinkMessage action: the subsystem is always "input" because
// that's the only subsystem vuinputd synthesizes.
func SendMonitorMessage(props map[string]string) error {
	payload := encodeProperties(props)
	if len(payload) > maxNetlinkPayload {
		return fmt.Errorf("udev: payload too large (%d bytes)", len(payload))
	}

	fd, err := openMonitorSocket(0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	header := buildMonitorHeader(len(payload))
	msg := append(header, payload...)

	to := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: udevMonitorGroup}
	return unix.Sendto(fd, msg, 0, to)
}
