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
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joleuger/vuinputd/domain"
	"github.com/joleuger/vuinputd/eventcompat"
)

// encodeCompat serializes one 16-byte compat record, mirroring what a
// 32-bit client would actually write; eventcompat itself never needs to
// encode this layout since vuinputd only ever decodes it.
func encodeCompat(b []byte, c eventcompat.Compat) {
	binary.LittleEndian.PutUint32(b[0:4], c.Sec)
	binary.LittleEndian.PutUint32(b[4:8], c.Usec)
	binary.LittleEndian.PutUint16(b[8:10], c.Type)
	binary.LittleEndian.PutUint16(b[10:12], c.Code)
	binary.LittleEndian.PutUint32(b[12:16], uint32(c.Value))
}

func TestRegistryOpenGetRemove(t *testing.T) {
	r := NewRegistry()

	fh := r.Open(42, domain.RequestingProcess{NSRoot: "/proc/1/ns"})
	sess, ok := r.Get(fh)
	require.True(t, ok)
	require.Equal(t, 42, sess.HostFD)

	removed, ok := r.Remove(fh)
	require.True(t, ok)
	require.Same(t, sess, removed)

	_, ok = r.Get(fh)
	require.False(t, ok)
}

func TestRegistryMustSessionUnknownHandle(t *testing.T) {
	r := NewRegistry()
	_, err := r.mustSession(domain.FileHandle(999))
	require.Error(t, err)
}

// pipeFD returns the write end of an os.Pipe as a raw fd, so writeNative/
// writeCompat can be exercised without a real /dev/uinput node.
func pipeFD(t *testing.T) (readEnd *os.File, fd int) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, int(w.Fd())
}

func TestWriteNativePassesThroughUnfiltered(t *testing.T) {
	r, fd := pipeFD(t)
	s := &Server{Config: domain.GlobalConfig{Policy: domain.PolicyNone}}
	sess := &Session{HostFD: fd, Device: &domain.DeviceIdentity{}}

	ev := eventcompat.Native{Type: 1, Code: 30, Value: 1}
	buf := eventcompat.EncodeNative(ev)

	n, err := s.writeNative(sess, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	out := make([]byte, eventcompat.SizeofNative)
	_, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, buf, out)
}

func TestWriteCompatTranslatesToNative(t *testing.T) {
	r, fd := pipeFD(t)
	s := &Server{Config: domain.GlobalConfig{Policy: domain.PolicyNone}}
	sess := &Session{HostFD: fd, Device: &domain.DeviceIdentity{}}

	compat := eventcompat.Compat{Sec: 1, Usec: 2, Type: 1, Code: 30, Value: 1}
	buf := make([]byte, eventcompat.SizeofCompat)
	encodeCompat(buf, compat)

	n, err := s.writeCompat(sess, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	out := make([]byte, eventcompat.SizeofNative)
	_, err = r.Read(out)
	require.NoError(t, err)

	got := eventcompat.DecodeNative(out)
	require.Equal(t, uint16(1), got.Type)
	require.Equal(t, uint16(30), got.Code)
	require.Equal(t, int32(1), got.Value)
}

func TestHandleWriteDispatchesToLegacySetupBeforeDeviceCreated(t *testing.T) {
	s := &Server{Registry: NewRegistry()}
	fh := s.Registry.Open(-1, domain.RequestingProcess{})

	_, err := s.HandleWrite(fh, make([]byte, 3))
	require.Error(t, err) // wrong size for uinput_user_dev, but proves routing
}
