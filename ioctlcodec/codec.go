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

package ioctlcodec

// Disposition is what the CuseServer must do before it can execute a
// classified command against the host fd.
type Disposition int

const (
	// Ready means the command is already fully classified and can be
	// executed now (fixed-size in/out buffers, if any, were supplied by
	// the bridge along with the request).
	Ready Disposition = iota
	// NeedIn means the server must ask the bridge to fetch `Len` bytes
	// of input from the client before retrying.
	NeedIn
	// NeedOut means the server must ask the bridge to reserve `Len`
	// bytes of output buffer before retrying.
	NeedOut
	// NeedInOut combines both directions.
	NeedInOut
)

// Classification is the result of classifying one ioctl command.
type Classification struct {
	Disposition Disposition
	Cmd         uint32 // normalized command identifier (size bits masked off)
	InLen       int
	OutLen      int
}

// Normalize masks off the size field embedded in the raw ioctl request
// number, returning the bare nr the command table is keyed by. UI_GET_SYSNAME
// is variable-length by design, so its size field must always be masked to
// recover CmdGetSysname.
func Normalize(rawCmd uint32) uint32 {
	return (rawCmd >> iocNRShift) & ((1 << iocNRBits) - 1)
}

// sizeOf extracts the size field embedded in a raw ioctl request number.
func sizeOf(rawCmd uint32) int {
	return int((rawCmd >> iocSizeShift) & ((1 << iocSizeBits) - 1))
}

// Classify inspects a raw ioctl command as delivered by the CUSE bridge and
// determines whether it's immediately Ready or needs a retry with a mapped
// buffer.
//
// haveIn/haveOut report whether the bridge has already supplied an input
// buffer / reserved an output buffer for this call (true on the retried
// invocation after the server asked for one).
func Classify(rawCmd uint32, haveIn, haveOut bool) Classification {
	cmd := Normalize(rawCmd)

	switch cmd {
	case CmdDevCreate, CmdDevDestroy:
		return Classification{Disposition: Ready, Cmd: cmd}

	case CmdDevSetup:
		return needIn(cmd, haveIn, SizeofUinputSetup)

	case CmdAbsSetup:
		return needInOut(cmd, haveIn, haveOut, SizeofUinputAbsSetup, SizeofUinputAbsSetup)

	case CmdSetEVBit, CmdSetKeyBit, CmdSetRelBit, CmdSetAbsBit, CmdSetMscBit,
		CmdSetLedBit, CmdSetSndBit, CmdSetFFBit, CmdSetSwBit, CmdSetPropBit:
		// passthrough bit setters: the value is the ioctl arg itself
		// (an int), not a mapped buffer; always Ready.
		return Classification{Disposition: Ready, Cmd: cmd}

	case CmdSetPhys:
		return needIn(cmd, haveIn, uiSetMaxNameSize)

	case CmdBeginFFUpload:
		return needInOut(cmd, haveIn, haveOut, SizeofUinputFFUpload, SizeofUinputFFUpload)

	case CmdEndFFUpload:
		return needIn(cmd, haveIn, SizeofUinputFFUpload)

	case CmdBeginFFErase:
		return needInOut(cmd, haveIn, haveOut, SizeofUinputFFErase, SizeofUinputFFErase)

	case CmdEndFFErase:
		return needIn(cmd, haveIn, SizeofUinputFFErase)

	case CmdGetVersion:
		return needOut(cmd, haveOut, 4)

	case CmdGetSysname:
		// Variable length: honor the size embedded in the raw command
		// (resolves the spec's UI_GET_SYSNAME open question) and fall
		// back to the historically hard-coded 64 bytes only when the
		// command carries no size at all.
		l := sizeOf(rawCmd)
		if l <= 0 {
			l = sysNameLen
		}
		return needOut(cmd, haveOut, l)

	default:
		return Classification{Disposition: Ready, Cmd: cmd}
	}
}

func needIn(cmd uint32, haveIn bool, inLen int) Classification {
	if haveIn {
		return Classification{Disposition: Ready, Cmd: cmd, InLen: inLen}
	}
	return Classification{Disposition: NeedIn, Cmd: cmd, InLen: inLen}
}

func needOut(cmd uint32, haveOut bool, outLen int) Classification {
	if haveOut {
		return Classification{Disposition: Ready, Cmd: cmd, OutLen: outLen}
	}
	return Classification{Disposition: NeedOut, Cmd: cmd, OutLen: outLen}
}

func needInOut(cmd uint32, haveIn, haveOut bool, inLen, outLen int) Classification {
	switch {
	case haveIn && haveOut:
		return Classification{Disposition: Ready, Cmd: cmd, InLen: inLen, OutLen: outLen}
	case haveIn:
		return Classification{Disposition: NeedOut, Cmd: cmd, InLen: inLen, OutLen: outLen}
	case haveOut:
		return Classification{Disposition: NeedIn, Cmd: cmd, InLen: inLen, OutLen: outLen}
	default:
		return Classification{Disposition: NeedInOut, Cmd: cmd, InLen: inLen, OutLen: outLen}
	}
}

// IsUnknown reports whether cmd (already normalized) is outside the uinput
// protocol this codec understands; CuseServer replies EBADRQC for these.
func IsUnknown(cmd uint32) bool {
	switch cmd {
	case CmdDevCreate, CmdDevDestroy, CmdDevSetup, CmdAbsSetup,
		CmdSetEVBit, CmdSetKeyBit, CmdSetRelBit, CmdSetAbsBit, CmdSetMscBit,
		CmdSetLedBit, CmdSetSndBit, CmdSetFFBit, CmdSetPhys, CmdSetSwBit,
		CmdSetPropBit, CmdBeginFFUpload, CmdEndFFUpload, CmdBeginFFErase,
		CmdEndFFErase, CmdGetSysname, CmdGetVersion:
		return false
	default:
		return true
	}
}
