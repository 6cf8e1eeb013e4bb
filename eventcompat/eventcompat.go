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

// Package eventcompat translates between the 32-bit compat input_event
// layout written by 32-bit ELF clients and the kernel's native 64-bit
// layout the host /dev/uinput fd expects.
package eventcompat

import (
	"encoding/binary"
	"runtime"
)

// Native is the kernel's struct input_event on a 64-bit kernel, serialized
// exactly as the host fd expects it: sec/usec as i64, then u16 type, u16
// code, i32 value — 24 bytes on every architecture vuinputd targets.
type Native struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Compat is the 32-bit client's struct input_event: sec/usec as u32 — 16
// bytes.
type Compat struct {
	Sec   uint32
	Usec  uint32
	Type  uint16
	Code  uint16
	Value int32
}

// SizeofNative and SizeofCompat are the wire sizes consumed from a write(2)
// buffer per record.
const (
	SizeofNative = 24
	SizeofCompat = 16
)

// Uses64BitTime reports whether a 32-bit client on this architecture
// already uses the native 64-bit time layout (and is therefore treated as
// native rather than compat). x86_64 and ppc64 32-bit ABIs keep 32-bit
// time_t; every other 32-bit ABI (arm, riscv32, etc.) uses 64-bit time.
func Uses64BitTime() bool {
	switch runtime.GOARCH {
	case "amd64", "ppc64", "ppc64le":
		return false
	default:
		return true
	}
}

// DecodeCompat parses one 16-byte compat record.
func DecodeCompat(b []byte) Compat {
	return Compat{
		Sec:   binary.LittleEndian.Uint32(b[0:4]),
		Usec:  binary.LittleEndian.Uint32(b[4:8]),
		Type:  binary.LittleEndian.Uint16(b[8:10]),
		Code:  binary.LittleEndian.Uint16(b[10:12]),
		Value: int32(binary.LittleEndian.Uint32(b[12:16])),
	}
}

// EncodeNative serializes one native record into a 24-byte buffer.
func EncodeNative(n Native) []byte {
	b := make([]byte, SizeofNative)
	binary.LittleEndian.PutUint64(b[0:8], uint64(n.Sec))
	binary.LittleEndian.PutUint64(b[8:16], uint64(n.Usec))
	binary.LittleEndian.PutUint16(b[16:18], n.Type)
	binary.LittleEndian.PutUint16(b[18:20], n.Code)
	binary.LittleEndian.PutUint32(b[20:24], uint32(n.Value))
	return b
}

// DecodeNative parses one 24-byte native record (used by tests and by
// DevicePolicy, which inspects the record after widening).
func DecodeNative(b []byte) Native {
	return Native{
		Sec:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Usec:  int64(binary.LittleEndian.Uint64(b[8:16])),
		Type:  binary.LittleEndian.Uint16(b[16:18]),
		Code:  binary.LittleEndian.Uint16(b[18:20]),
		Value: int32(binary.LittleEndian.Uint32(b[20:24])),
	}
}

// ToNative widens a compat record into the native layout losslessly: the
// bitness is fixed at session open and never re-probed, so this conversion
// never needs to consult the architecture itself.
func ToNative(c Compat) Native {
	return Native{
		Sec:   int64(c.Sec),
		Usec:  int64(c.Usec),
		Type:  c.Type,
		Code:  c.Code,
		Value: c.Value,
	}
}

// ToCompat narrows a native record back to compat form, truncating
// sec/usec. Used only by the round-trip law in tests: widening a compat
// event and narrowing back yields the original when sec/usec fit in 32
// bits, which they always do for values the kernel itself produced.
func ToCompat(n Native) Compat {
	return Compat{
		Sec:   uint32(n.Sec),
		Usec:  uint32(n.Usec),
		Type:  n.Type,
		Code:  n.Code,
		Value: n.Value,
	}
}
