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

package action

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/joleuger/vuinputd/domain"
)

// fakeMknod records calls instead of touching the real kernel, so
// MknodDevice/RemoveDevice can be exercised without CAP_MKNOD.
type fakeMknod struct {
	mknodPath string
	mknodMode uint32
	mknodDev  int
	removed   []string
}

func (f *fakeMknod) Mknod(path string, mode uint32, dev int) error {
	f.mknodPath, f.mknodMode, f.mknodDev = path, mode, dev
	return nil
}

func (f *fakeMknod) Stat(path string) (os.FileInfo, error) {
	return nil, os.ErrNotExist
}

func (f *fakeMknod) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func TestExecuteMknodDevice(t *testing.T) {
	mk := &fakeMknod{}
	rec := domain.ActionRecord{Kind: domain.ActionMknodDevice, Path: "/dev/input/event9", Major: 13, Minor: 64}

	require.NoError(t, Execute(afero.NewMemMapFs(), mk, rec))
	require.Equal(t, "/dev/input/event9", mk.mknodPath)
}

func TestExecuteRemoveDevice(t *testing.T) {
	mk := &fakeMknod{}
	rec := domain.ActionRecord{Kind: domain.ActionRemoveDevice, Path: "/dev/input/event9"}

	require.NoError(t, Execute(afero.NewMemMapFs(), mk, rec))
	require.Equal(t, []string{"/dev/input/event9"}, mk.removed)
}

func TestExecuteWriteUdevRuntimeData(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := "ID_INPUT_KEYBOARD=1\n"
	rec := domain.ActionRecord{Kind: domain.ActionWriteUdevRuntimeData, RuntimeData: &content, Major: 13, Minor: 64}

	require.NoError(t, Execute(fs, &fakeMknod{}, rec))

	b, err := afero.ReadFile(fs, "/run/udev/data/c13:64")
	require.NoError(t, err)
	require.Contains(t, string(b), "ID_INPUT_KEYBOARD=1")
}

func TestExecuteWriteUdevRuntimeDataNilDeletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/run/udev/data/c13:64", []byte("stale"), 0o644))

	rec := domain.ActionRecord{Kind: domain.ActionWriteUdevRuntimeData, Major: 13, Minor: 64}
	require.NoError(t, Execute(fs, &fakeMknod{}, rec))

	exists, err := afero.Exists(fs, "/run/udev/data/c13:64")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestExecuteUnknownKind(t *testing.T) {
	err := Execute(afero.NewMemMapFs(), &fakeMknod{}, domain.ActionRecord{Kind: "bogus"})
	require.Error(t, err)
}
