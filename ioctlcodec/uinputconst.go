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

// Package ioctlcodec classifies and normalizes the fixed set of ioctl
// commands the Linux uinput character device accepts, so CuseServer knows
// when it must ask the bridge for a retry iovec before it can execute a
// command against the host fd.
package ioctlcodec

// Linux generic ioctl command encoding (include/uapi/asm-generic/ioctl.h),
// reproduced here because vuinputd does not carry a dependency that already
// exports it: encoding/decoding the uinput ioctl number space is exactly the
// "typed uinput ioctl wrappers" collaborator spec.md names as external and
// out of scope, but the *codec* that classifies commands is the core.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint32 {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func ior(typ, nr, size uint32) uint32  { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uint32) uint32  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uint32) uint32 { return ioc(iocRead|iocWrite, typ, nr, size) }
func io(typ, nr uint32) uint32         { return ioc(iocNone, typ, nr, 0) }

const uinputIOCBase uint32 = 'U'

// Fixed-size struct sizes referenced by the uinput protocol (bytes).
const (
	// SizeofUinputSetup is struct uinput_setup: struct input_id id (4 x
	// __u16 = 8 bytes), char name[80], __u32 ff_effects_max.
	SizeofUinputSetup = 92
	// SizeofUinputAbsSetup is struct uinput_abs_setup: __u16 code (plus 2
	// bytes of alignment padding before the __s32-aligned struct that
	// follows) + struct input_absinfo (6 x __s32 = 24 bytes).
	SizeofUinputAbsSetup   = 28
	SizeofUinputFFUpload   = 1736
	SizeofUinputFFErase    = 12
	SizeofInputEventNative = 24
	SizeofInputEventCompat = 16
	// SizeofUinputUserDev is the legacy struct uinput_user_dev: char
	// name[80], struct input_id id (8 bytes), __u32 ff_effects_max, then
	// four __s32 absmax/absmin/absfuzz/absflat[ABS_CNT] arrays
	// (ABS_CNT == 64, so 4 x 64 x 4 = 1024 bytes).
	SizeofUinputUserDev = 80 + 8 + 4 + 4*AbsCnt*4

	uiSetMaxNameSize = 80

	// UiSetMaxNameSize is UINPUT_MAX_NAME_SIZE, exported for the field
	// widths CuseServer's legacy-write translation copies.
	UiSetMaxNameSize = uiSetMaxNameSize

	// AbsCnt is ABS_CNT from <linux/input-event-codes.h>, the fixed axis
	// count the legacy uinput_user_dev struct's abs arrays are sized to.
	AbsCnt = 64

	// Byte offsets of uinput_user_dev's fields, used to translate a
	// legacy write into UI_DEV_SETUP + UI_ABS_SETUP.
	UinputUserDevNameOff      = 0
	UinputUserDevIDOff        = 80
	UinputUserDevVersionOff   = UinputUserDevIDOff + 6 // id.version is the 4th u16
	UinputUserDevFFEffectsOff = 88
	UinputUserDevAbsmaxOff    = 92
	UinputUserDevAbsminOff    = UinputUserDevAbsmaxOff + AbsCnt*4
	UinputUserDevAbsfuzzOff   = UinputUserDevAbsminOff + AbsCnt*4
	UinputUserDevAbsflatOff   = UinputUserDevAbsfuzzOff + AbsCnt*4

	// Byte offsets of uinput_setup's fields.
	UinputSetupIDOff        = 0
	UinputSetupNameOff      = 8
	UinputSetupFFEffectsOff = 88

	// Byte offsets of uinput_abs_setup's fields.
	UinputAbsSetupCodeOff       = 0
	UinputAbsSetupValueOff      = 4
	UinputAbsSetupMinimumOff    = 8
	UinputAbsSetupMaximumOff    = 12
	UinputAbsSetupFuzzOff       = 16
	UinputAbsSetupFlatOff       = 20
	UinputAbsSetupResolutionOff = 24

	// sysNameLen is the fixed reply buffer size the reference
	// implementation hard-asserts; used as a fallback when a command
	// encodes no explicit size (see SPEC_FULL.md's UI_GET_SYSNAME note).
	sysNameLen = 64
)

// Command identifiers as seen after Normalize() masks off any variable
// size field. These match the nr portion of the corresponding ioctl(2)
// request number.
const (
	CmdDevCreate     = 1
	CmdDevDestroy    = 2
	CmdDevSetup      = 3
	CmdAbsSetup      = 4
	CmdSetEVBit      = 100
	CmdSetKeyBit     = 101
	CmdSetRelBit     = 102
	CmdSetAbsBit     = 103
	CmdSetMscBit     = 104
	CmdSetLedBit     = 105
	CmdSetSndBit     = 106
	CmdSetFFBit      = 107
	CmdSetPhys       = 108
	CmdSetSwBit      = 109
	CmdSetPropBit    = 110
	CmdBeginFFUpload = 200
	CmdEndFFUpload   = 201
	CmdBeginFFErase  = 202
	CmdEndFFErase    = 203
	CmdGetSysname    = 44
	CmdGetVersion    = 45
)

// uinputRequest is the full ioctl(2) request number for a command, built
// the way <linux/uinput.h> builds it. The exported UI*Req values below are
// taken from it, and cuseserver matches incoming requests against them.
var uinputRequest = map[uint32]uint32{
	CmdDevCreate:     io(uinputIOCBase, CmdDevCreate),
	CmdDevDestroy:    io(uinputIOCBase, CmdDevDestroy),
	CmdDevSetup:      iow(uinputIOCBase, CmdDevSetup, SizeofUinputSetup),
	CmdAbsSetup:      iow(uinputIOCBase, CmdAbsSetup, SizeofUinputAbsSetup),
	CmdSetEVBit:      iow(uinputIOCBase, CmdSetEVBit, 4),
	CmdSetKeyBit:     iow(uinputIOCBase, CmdSetKeyBit, 4),
	CmdSetRelBit:     iow(uinputIOCBase, CmdSetRelBit, 4),
	CmdSetAbsBit:     iow(uinputIOCBase, CmdSetAbsBit, 4),
	CmdSetMscBit:     iow(uinputIOCBase, CmdSetMscBit, 4),
	CmdSetLedBit:     iow(uinputIOCBase, CmdSetLedBit, 4),
	CmdSetSndBit:     iow(uinputIOCBase, CmdSetSndBit, 4),
	CmdSetFFBit:      iow(uinputIOCBase, CmdSetFFBit, 4),
	CmdSetPhys:       iow(uinputIOCBase, CmdSetPhys, 8),
	CmdSetSwBit:      iow(uinputIOCBase, CmdSetSwBit, 4),
	CmdSetPropBit:    iow(uinputIOCBase, CmdSetPropBit, 4),
	CmdBeginFFUpload: iowr(uinputIOCBase, CmdBeginFFUpload, SizeofUinputFFUpload),
	CmdEndFFUpload:   iow(uinputIOCBase, CmdEndFFUpload, SizeofUinputFFUpload),
	CmdBeginFFErase:  iowr(uinputIOCBase, CmdBeginFFErase, SizeofUinputFFErase),
	CmdEndFFErase:    iow(uinputIOCBase, CmdEndFFErase, SizeofUinputFFErase),
	CmdGetVersion:    ior(uinputIOCBase, CmdGetVersion, 4),
}

// Exported full ioctl(2) request numbers for the handful of commands
// CuseServer issues directly against the host fd outside the
// Classify/Normalize retry table (UI_DEV_CREATE/DESTROY take no data,
// UI_DEV_SETUP's and UI_ABS_SETUP's request numbers are reused verbatim for
// the legacy uinput_user_dev translation, and UI_GET_SYSNAME is encoded
// here with the hard-coded 64-byte reply CuseServer always requests).
var (
	UIDevCreateReq  = uintptr(uinputRequest[CmdDevCreate])
	UIDevDestroyReq = uintptr(uinputRequest[CmdDevDestroy])
	UIDevSetupReq   = uintptr(uinputRequest[CmdDevSetup])
	UIAbsSetupReq   = uintptr(uinputRequest[CmdAbsSetup])
	UIGetSysnameReq = uintptr(ior(uinputIOCBase, CmdGetSysname, sysNameLen))
)
