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

package realizer

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeMknod mirrors action's fakeMknod: it records calls instead of
// touching the real kernel, and its Stat reports a pre-seeded identity so
// EnsureInputDevice's idempotent/mismatch branches can be exercised.
type fakeMknod struct {
	statFi     os.FileInfo
	statErr    error
	mknodCalls int
	mknodDev   int
	removed    []string
}

func (f *fakeMknod) Mknod(path string, mode uint32, dev int) error {
	f.mknodCalls++
	f.mknodDev = dev
	return nil
}

func (f *fakeMknod) Stat(path string) (os.FileInfo, error) {
	return f.statFi, f.statErr
}

func (f *fakeMknod) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func TestEnsureInputDeviceCreatesWhenMissing(t *testing.T) {
	m := &fakeMknod{statErr: os.ErrNotExist}

	require.NoError(t, EnsureInputDevice(m, "/dev/input/event3", 13, 67))
	require.Equal(t, 1, m.mknodCalls)
	require.Equal(t, Makedev(13, 67), m.mknodDev)
}

func TestMakedevMatchesKernelMacro(t *testing.T) {
	require.Equal(t, int(13<<8|67), Makedev(13, 67))
}

func TestRemoveInputDeviceRemovesPath(t *testing.T) {
	m := &fakeMknod{}
	require.NoError(t, RemoveInputDevice(m, "/dev/input/event3"))
	require.Equal(t, []string{"/dev/input/event3"}, m.removed)
}

func TestEnsureHostFSStructureCreatesTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, EnsureHostFSStructure(fs, "/run"))

	exists, err := afero.DirExists(fs, "/run/dev-input")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = afero.DirExists(fs, "/run/udev/data")
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = afero.Exists(fs, "/run/udev/control")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEnsureUdevStructureLeavesExistingControlAlone(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/run/udev/control", []byte("marker"), 0o644))

	require.NoError(t, EnsureUdevStructure(fs, "/run"))

	b, err := afero.ReadFile(fs, "/run/udev/control")
	require.NoError(t, err)
	require.Equal(t, "marker", string(b))
}

func TestWriteUdevDataSanitizesSeatAndVuinputKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "ID_SEAT=seat0\nID_VUINPUT_KEYBOARD=1\nID_VUINPUT_MOUSE=1\nID_BUS=usb\n"

	require.NoError(t, WriteUdevData(fs, "/run", content, 13, 64))

	b, err := afero.ReadFile(fs, "/run/udev/data/c13:64")
	require.NoError(t, err)
	got := string(b)
	require.NotContains(t, got, "ID_SEAT=")
	require.Contains(t, got, "ID_INPUT_KEYBOARD=1")
	require.Contains(t, got, "ID_INPUT_MOUSE=1")
	require.Contains(t, got, "ID_BUS=usb")
}

func TestWriteThenDeleteUdevData(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteUdevData(fs, "/run", "ID_BUS=usb\n", 13, 64))
	require.NoError(t, DeleteUdevData(fs, "/run", 13, 64))

	exists, err := afero.Exists(fs, "/run/udev/data/c13:64")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeleteUdevDataTolerateMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, DeleteUdevData(fs, "/run", 13, 99))
}

func TestParseMajorMinorRoundTripsMakedev(t *testing.T) {
	major, minor := ParseMajorMinor(uint64(Makedev(13, 64)))
	require.Equal(t, uint32(13), major)
	require.Equal(t, uint32(64), minor)
}

func TestFetchDeviceNodeFindsEventChild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(dir+"/event7", 0o755))
	require.NoError(t, os.Mkdir(dir+"/power", 0o755))

	path, err := FetchDeviceNode(dir)
	require.NoError(t, err)
	require.Equal(t, "/dev/input/event7", path)
}

func TestFetchDeviceNodeErrorsWithoutEventChild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(dir+"/power", 0o755))

	_, err := FetchDeviceNode(dir)
	require.Error(t, err)
}
