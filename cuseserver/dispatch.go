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

package cuseserver

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/joleuger/vuinputd/devicepolicy"
	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/eventcompat"
	"github.com/joleuger/vuinputd/ioctlcodec"
	"github.com/joleuger/vuinputd/jobs"
	"github.com/joleuger/vuinputd/process"
	"github.com/joleuger/vuinputd/realizer"
	"github.com/joleuger/vuinputd/udev"
)

// sysInputDir is where UI_DEV_CREATE's freshly created sysname appears,
// exactly as the kernel's uinput driver documents it.
const sysInputDir = "/sys/devices/virtual/input/"

// busUSB, vuinputVendor, vuinputProduct are stamped onto every UI_DEV_SETUP
// request so every device vuinputd creates is identifiable as coming from
// vuinputd regardless of what the real client asked for; vuinputProduct is
// registered at https://pid.codes/1209/5020/.
const (
	busUSB         = 0x03
	vuinputVendor  = 0x1209
	vuinputProduct = 0x5020
)

// uinputAPIVersion is the fixed value UI_GET_VERSION replies with.
const uinputAPIVersion = 5

// Server ties a Registry of open sessions to the job dispatcher and udev
// event store that make in-container device mirroring work; it is the
// dependency-injected core every CUSE transport callback (Open/Write/Ioctl/
// Release) delegates to.
type Server struct {
	Registry   *Registry
	Dispatcher *jobs.Dispatcher
	Store      *udev.Store
	Runtime    jobs.Runtime
	Config     domain.GlobalConfig
	SelfNS     domain.NamespaceInodes

	// OpenHostUinput opens the real /dev/uinput node; overridable in tests.
	OpenHostUinput func() (int, error)
}

// NewServer constructs a Server with the production OpenHostUinput hook.
func NewServer(registry *Registry, dispatcher *jobs.Dispatcher, store *udev.Store, rt jobs.Runtime, cfg domain.GlobalConfig, selfNS domain.NamespaceInodes) *Server {
	return &Server{
		Registry:   registry,
		Dispatcher: dispatcher,
		Store:      store,
		Runtime:    rt,
		Config:     cfg,
		SelfNS:     selfNS,
		OpenHostUinput: func() (int, error) {
			f, err := os.OpenFile("/dev/uinput", os.O_RDWR, 0)
			if err != nil {
				return -1, err
			}
			return int(f.Fd()), nil
		},
	}
}

// HandleOpen resolves callerPid into a RequestingProcess, opens the host's
// /dev/uinput, and registers a fresh Session for it.
func (s *Server) HandleOpen(callerPid int32) (domain.FileHandle, error) {
	rp := process.Resolve(domain.PidOf(callerPid))
	logrus.Debugf("cuseserver: open by pid %d, nsroot %s, compat %v", callerPid, rp.NSRoot, rp.IsCompat)

	fd, err := s.OpenHostUinput()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrHostUinputUnavailable, err)
	}

	return s.Registry.Open(fd, rp), nil
}

// HandleWrite writes buf to fh's host uinput fd, translating from 32-bit
// compat input_event layout first when the opening process is compat and
// the device has already been created (UI_DEV_CREATE's DEV_SETUP precedes
// event writes, so pre-create writes are always the legacy uinput_user_dev
// struct, handled separately by handleLegacySetupWrite).
func (s *Server) HandleWrite(fh domain.FileHandle, buf []byte) (int, error) {
	sess, err := s.Registry.mustSession(fh)
	if err != nil {
		return 0, err
	}

	sess.Lock()
	defer sess.Unlock()

	if sess.Device == nil {
		return s.handleLegacySetupWrite(sess, buf)
	}

	if !sess.Process.IsCompat {
		return s.writeNative(sess, buf)
	}
	return s.writeCompat(sess, buf)
}

func (s *Server) writeNative(sess *Session, buf []byte) (int, error) {
	n := (len(buf) / eventcompat.SizeofNative) * eventcompat.SizeofNative
	written := 0
	for off := 0; off+eventcompat.SizeofNative <= n; off += eventcompat.SizeofNative {
		chunk := buf[off : off+eventcompat.SizeofNative]
		ev := eventcompat.DecodeNative(chunk)
		out := chunk
		if s.Config.Policy != domain.PolicyNone && !devicepolicy.Evaluate(s.Config.Policy, &sess.Mod, ev) {
			written += len(chunk)
			continue
		}
		if err := fullWrite(sess.HostFD, out); err != nil {
			return written, fmt.Errorf("%w: %v", domain.ErrTransientWrite, err)
		}
		written += len(chunk)
	}
	return written, nil
}

func (s *Server) writeCompat(sess *Session, buf []byte) (int, error) {
	n := (len(buf) / eventcompat.SizeofCompat) * eventcompat.SizeofCompat
	written := 0
	for off := 0; off+eventcompat.SizeofCompat <= n; off += eventcompat.SizeofCompat {
		chunk := buf[off : off+eventcompat.SizeofCompat]
		compat := eventcompat.DecodeCompat(chunk)
		native := eventcompat.ToNative(compat)

		if s.Config.Policy != domain.PolicyNone && !devicepolicy.Evaluate(s.Config.Policy, &sess.Mod, native) {
			written += len(chunk)
			continue
		}

		if err := fullWrite(sess.HostFD, eventcompat.EncodeNative(native)); err != nil {
			return written, fmt.Errorf("%w: %v", domain.ErrTransientWrite, err)
		}
		written += len(chunk)
	}
	return written, nil
}

// handleLegacySetupWrite recognizes the old uinput_user_dev struct (written
// when a client calls write() before any UI_DEV_SETUP ioctl) and converts
// it into the modern UI_DEV_SETUP + UI_ABS_SETUP ioctl sequence against the
// host fd, matching what the kernel's own uinput driver does internally.
// uinput_user_dev and uinput_setup lay their fields out differently (the
// legacy struct leads with name[80] then input_id; the modern one leads
// with input_id then name[80]), so this is a field-by-field translation,
// not a byte-range copy.
func (s *Server) handleLegacySetupWrite(sess *Session, buf []byte) (int, error) {
	if len(buf) != ioctlcodec.SizeofUinputUserDev {
		return 0, fmt.Errorf("cuseserver: unexpected write size %d before device creation", len(buf))
	}

	setup := make([]byte, ioctlcodec.SizeofUinputSetup)
	binary.LittleEndian.PutUint16(setup[0:2], busUSB)
	binary.LittleEndian.PutUint16(setup[2:4], vuinputVendor)
	binary.LittleEndian.PutUint16(setup[4:6], vuinputProduct)
	copy(setup[6:8], buf[ioctlcodec.UinputUserDevVersionOff:ioctlcodec.UinputUserDevVersionOff+2])
	copy(setup[ioctlcodec.UinputSetupNameOff:ioctlcodec.UinputSetupNameOff+ioctlcodec.UiSetMaxNameSize],
		buf[ioctlcodec.UinputUserDevNameOff:ioctlcodec.UinputUserDevNameOff+ioctlcodec.UiSetMaxNameSize])
	copy(setup[ioctlcodec.UinputSetupFFEffectsOff:ioctlcodec.UinputSetupFFEffectsOff+4],
		buf[ioctlcodec.UinputUserDevFFEffectsOff:ioctlcodec.UinputUserDevFFEffectsOff+4])

	if err := rawIoctl(sess.HostFD, ioctlcodec.UIDevSetupReq, setup); err != nil {
		return 0, fmt.Errorf("cuseserver: legacy UI_DEV_SETUP: %w", err)
	}

	for code := 0; code < ioctlcodec.AbsCnt; code++ {
		absmax := int32(binary.LittleEndian.Uint32(buf[ioctlcodec.UinputUserDevAbsmaxOff+code*4:]))
		absmin := int32(binary.LittleEndian.Uint32(buf[ioctlcodec.UinputUserDevAbsminOff+code*4:]))
		if absmax == 0 && absmin == 0 {
			continue
		}
		absfuzz := int32(binary.LittleEndian.Uint32(buf[ioctlcodec.UinputUserDevAbsfuzzOff+code*4:]))
		absflat := int32(binary.LittleEndian.Uint32(buf[ioctlcodec.UinputUserDevAbsflatOff+code*4:]))

		absSetup := make([]byte, ioctlcodec.SizeofUinputAbsSetup)
		binary.LittleEndian.PutUint16(absSetup[ioctlcodec.UinputAbsSetupCodeOff:], uint16(code))
		binary.LittleEndian.PutUint32(absSetup[ioctlcodec.UinputAbsSetupMinimumOff:], uint32(absmin))
		binary.LittleEndian.PutUint32(absSetup[ioctlcodec.UinputAbsSetupMaximumOff:], uint32(absmax))
		binary.LittleEndian.PutUint32(absSetup[ioctlcodec.UinputAbsSetupFuzzOff:], uint32(absfuzz))
		binary.LittleEndian.PutUint32(absSetup[ioctlcodec.UinputAbsSetupFlatOff:], uint32(absflat))

		if err := rawIoctl(sess.HostFD, ioctlcodec.UIAbsSetupReq, absSetup); err != nil {
			return 0, fmt.Errorf("cuseserver: legacy UI_ABS_SETUP axis %d: %w", code, err)
		}
	}

	logrus.Debugf("cuseserver: translated legacy uinput_user_dev write into UI_DEV_SETUP + UI_ABS_SETUP")
	return len(buf), nil
}

// fullWrite retries short writes, matching the host kernel's own write(2)
// semantics for /dev/uinput which never partially accepts an input_event.
func fullWrite(fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		b = b[n:]
	}
	return nil
}

// rawIoctl issues ioctl(fd, cmd, &buf[0]) via the generic syscall path,
// used for the small number of requests this package needs to make against
// the host fd directly rather than through the classify/dispatch table
// (the legacy-setup translation above).
func rawIoctl(fd int, cmd uintptr, buf []byte) error {
	var argp uintptr
	if len(buf) > 0 {
		argp = uintptr(unsafe.Pointer(&buf[0]))
	}
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), cmd, argp)
	if errno != 0 {
		return errno
	}
	return nil
}

// HandleRelease tears down fh's session: if its device was placed in a
// different namespace and UI_DEV_DESTROY never ran (client crashed),
// dispatches a RemoveDeviceJob before closing the host fd.
func (s *Server) HandleRelease(fh domain.FileHandle) error {
	sess, ok := s.Registry.Remove(fh)
	if !ok {
		return fmt.Errorf("cuseserver: release of unknown file handle %d", fh)
	}

	sess.Lock()
	device := sess.Device
	sess.Device = nil
	sess.Unlock()

	if device != nil && sess.Process.CrossNamespace(s.SelfNS) {
		job := jobs.NewRemoveDeviceJob(s.Runtime, jobs.ContainerTarget(sess.Process), device.Devnode, device.Major, device.Minor)
		s.Dispatcher.Dispatch(job).Wait()
	}

	return unix.Close(sess.HostFD)
}

// HandleIoctl dispatches a single classified ioctl to the host fd and, for
// UI_DEV_CREATE/UI_DEV_DESTROY, drives the in-container mirroring jobs.
// cls must already be Ready (the CUSE transport layer is responsible for
// retry negotiation against ioctlcodec.Classify's NeedIn/NeedOut/NeedInOut
// results before calling this).
func (s *Server) HandleIoctl(fh domain.FileHandle, cls ioctlcodec.Classification, rawCmd uintptr, argValue uint64, in []byte) ([]byte, error) {
	sess, err := s.Registry.mustSession(fh)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()

	switch cls.Cmd {
	case ioctlcodec.CmdDevCreate:
		return nil, s.handleDevCreate(sess, rawCmd)
	case ioctlcodec.CmdDevDestroy:
		return nil, s.handleDevDestroy(sess, rawCmd)
	case ioctlcodec.CmdDevSetup:
		return nil, s.handleDevSetup(sess, rawCmd, in)
	case ioctlcodec.CmdGetSysname:
		return s.hostIoctlOut(sess.HostFD, rawCmd, cls.OutLen)
	case ioctlcodec.CmdGetVersion:
		// uinput's UI_GET_VERSION always reports the ABI version vuinputd
		// implements (5), regardless of what the host kernel reports.
		out := make([]byte, cls.OutLen)
		binary.LittleEndian.PutUint32(out, uinputAPIVersion)
		return out, nil
	default:
		if len(in) > 0 {
			if err := rawIoctl(sess.HostFD, rawCmd, in); err != nil {
				return nil, err
			}
			return nil, nil
		}
		// Passthrough bit-setters: the value travels in the ioctl arg
		// itself, not a mapped buffer.
		_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(sess.HostFD), rawCmd, uintptr(argValue))
		if errno != 0 {
			return nil, errno
		}
		return nil, nil
	}
}

func (s *Server) hostIoctlOut(hostFD int, rawCmd uintptr, outLen int) ([]byte, error) {
	buf := make([]byte, outLen)
	if err := rawIoctl(hostFD, rawCmd, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Server) handleDevSetup(sess *Session, rawCmd uintptr, in []byte) error {
	setup := make([]byte, len(in))
	copy(setup, in)
	if len(setup) >= 6 {
		binary.LittleEndian.PutUint16(setup[0:2], busUSB)
		binary.LittleEndian.PutUint16(setup[2:4], vuinputVendor)
		binary.LittleEndian.PutUint16(setup[4:6], vuinputProduct)
	}
	return rawIoctl(sess.HostFD, rawCmd, setup)
}

// handleDevCreate issues UI_DEV_CREATE against the host fd, discovers the
// resulting syspath/devnode/major/minor, and — if the opening process
// lives in a different (mnt, net) namespace pair than the daemon — blocks
// on an in-container MknodDeviceJob before replying, then fires an
// EmitUdevEventJob the caller does not wait for.
func (s *Server) handleDevCreate(sess *Session, rawCmd uintptr) error {
	if err := rawIoctl(sess.HostFD, rawCmd, nil); err != nil {
		return err
	}

	sysname, err := s.fetchSysname(sess.HostFD)
	if err != nil {
		return fmt.Errorf("cuseserver: UI_GET_SYSNAME after create: %w", err)
	}
	syspath := sysInputDir + sysname

	devnode, err := realizer.FetchDeviceNode(syspath)
	if err != nil {
		return fmt.Errorf("cuseserver: locating event node under %s: %w", syspath, err)
	}

	fi, err := os.Stat(devnode)
	if err != nil {
		return err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("cuseserver: %s has no stat_t", devnode)
	}
	major, minor := realizer.ParseMajorMinor(uint64(st.Rdev))

	sess.Device = &domain.DeviceIdentity{Syspath: syspath, Devnode: devnode, Major: major, Minor: minor}

	if !sess.Process.CrossNamespace(s.SelfNS) {
		return nil
	}

	target := jobs.ContainerTarget(sess.Process)
	mknod := jobs.NewMknodDeviceJob(s.Runtime, target, devnode, major, minor)
	if err := s.Dispatcher.Dispatch(mknod).Wait(); err != nil {
		return fmt.Errorf("cuseserver: in-container mknod failed: %w", err)
	}

	emit := jobs.NewEmitUdevEventJob(s.Runtime, target, s.Store, syspath, major, minor)
	s.Dispatcher.Dispatch(emit) // fire-and-forget

	return nil
}

func (s *Server) handleDevDestroy(sess *Session, rawCmd uintptr) error {
	device := sess.Device
	sess.Device = nil

	if device != nil && sess.Process.CrossNamespace(s.SelfNS) {
		target := jobs.ContainerTarget(sess.Process)
		job := jobs.NewRemoveDeviceJob(s.Runtime, target, device.Devnode, device.Major, device.Minor)
		if err := s.Dispatcher.Dispatch(job).Wait(); err != nil {
			logrus.Warnf("cuseserver: in-container device removal failed: %v", err)
		}
	}

	return rawIoctl(sess.HostFD, rawCmd, nil)
}

// fetchSysname issues UI_GET_SYSNAME against hostFD and returns the
// NUL-terminated sysname string it returns.
func (s *Server) fetchSysname(hostFD int) (string, error) {
	const sysnameBufLen = 64
	buf := make([]byte, sysnameBufLen)
	if err := rawIoctl(hostFD, ioctlcodec.UIGetSysnameReq, buf); err != nil {
		return "", err
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf), nil
}
