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
	"errors"
	"fmt"

	"github.com/hanwen/go-fuse/v2/cuse"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/ioctlcodec"
)

// rawOps adapts Server's Handle* methods to go-fuse/v2's raw CUSE
// callback shape. It embeds the library's default no-op implementation so
// every RawFileSystem method vuinputd doesn't care about (Read, Poll,
// Flush, Fsync, ...) keeps returning ENOSYS instead of requiring a stub
// here — the same embedding idiom go-fuse's own examples use.
type rawOps struct {
	fuse.RawFileSystem
	srv *Server
}

// Open handles the kernel's open(2) on the CUSE device node: mints a
// Session and stashes its FileHandle in the reply.
func (o *rawOps) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	fh, err := o.srv.HandleOpen(int32(input.Caller.Pid))
	if err != nil {
		logrus.Warnf("cuseserver: open failed: %v", err)
		if errors.Is(err, domain.ErrHostUinputUnavailable) {
			return fuse.ENOENT
		}
		return fuse.EIO
	}
	out.Fh = uint64(fh)
	return fuse.OK
}

// Write handles write(2) against the device: translates/filters event
// writes and relays the legacy uinput_user_dev setup form.
func (o *rawOps) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	n, err := o.srv.HandleWrite(domain.FileHandle(input.Fh), data)
	if err != nil {
		logrus.Warnf("cuseserver: write failed: %v", err)
		return uint32(n), fuse.EIO
	}
	return uint32(n), fuse.OK
}

// Release handles close(2)/process-exit cleanup of the device fd.
func (o *rawOps) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	if err := o.srv.HandleRelease(domain.FileHandle(input.Fh)); err != nil {
		logrus.Warnf("cuseserver: release failed: %v", err)
	}
}

// Ioctl handles every ioctl(2) the kernel's uinput ABI defines. It
// classifies the raw command first; NeedIn/NeedOut/NeedInOut dispositions
// ask the kernel (via IoctlOut.Flags/IoctlRetry) to remap the client's
// buffer and call back in with it mapped, exactly the retry protocol
// uinput.c itself implements for UI_GET_SYSNAME and friends.
func (o *rawOps) Ioctl(cancel <-chan struct{}, input *fuse.IoctlIn, data []byte) (*fuse.IoctlOut, []byte, fuse.Status) {
	haveIn := input.InSize > 0 || len(data) > 0
	haveOut := input.OutSize > 0

	cls := ioctlcodec.Classify(input.Cmd, haveIn, haveOut)

	switch cls.Disposition {
	case ioctlcodec.NeedIn:
		return &fuse.IoctlOut{Flags: fuse.FUSE_IOCTL_RETRY, InIovs: 1}, nil, fuse.OK
	case ioctlcodec.NeedOut:
		return &fuse.IoctlOut{Flags: fuse.FUSE_IOCTL_RETRY, OutIovs: 1}, nil, fuse.OK
	case ioctlcodec.NeedInOut:
		return &fuse.IoctlOut{Flags: fuse.FUSE_IOCTL_RETRY, InIovs: 1, OutIovs: 1}, nil, fuse.OK
	}

	if ioctlcodec.IsUnknown(cls.Cmd) {
		return nil, nil, fuse.Status(unixEBADRQC)
	}

	out, err := o.srv.HandleIoctl(domain.FileHandle(input.Fh), cls, uintptr(input.Cmd), input.Arg, data)
	if err != nil {
		logrus.Warnf("cuseserver: ioctl %#x failed: %v", input.Cmd, err)
		return nil, nil, fuse.EIO
	}

	return &fuse.IoctlOut{Result: 0}, out, fuse.OK
}

// unixEBADRQC is EBADRQC ("invalid request code"), the errno the reference
// uinput driver returns for an ioctl command it doesn't recognize.
const unixEBADRQC = 56

// MountedServer wraps the real go-fuse cuse.Server so callers outside this
// package (DaemonMain) never need to import github.com/hanwen/go-fuse/v2 —
// only this file touches the library directly.
type MountedServer struct {
	inner *cuse.Server
}

// Unmount tears down the CUSE mount.
func (m *MountedServer) Unmount() error {
	return m.inner.Unmount()
}

// Wait blocks until the mount is torn down (by Unmount or by the kernel).
func (m *MountedServer) Wait() {
	m.inner.Wait()
}

// Mount starts a CUSE server named devname (appearing as /dev/<devname>)
// backed by srv. It is the component M wiring point DaemonMain calls once
// all of Server's dependencies (Registry, Dispatcher, Store, Runtime) are
// set up.
func Mount(devname string, srv *Server) (*MountedServer, error) {
	ops := &rawOps{RawFileSystem: fuse.NewDefaultRawFileSystem(), srv: srv}

	info := cuse.DeviceInfo{
		DevNode: devname,
		DevInfo: cuse.DevInfo{
			Name: fmt.Sprintf("vuinputd/%s", devname),
		},
	}

	server, err := cuse.NewServer(ops, &info)
	if err != nil {
		return nil, fmt.Errorf("cuseserver: mount %s: %w", devname, err)
	}

	server.Start()
	return &MountedServer{inner: server}, nil
}
