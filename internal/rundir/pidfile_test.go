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

package rundir

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckPidFileMissingIsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vuinputd.pid")
	require.NoError(t, CheckPidFile("vuinputd", path))
}

func TestCreateCheckDestroyLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vuinputd.pid")

	require.NoError(t, CreatePidFile("vuinputd", path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, DestroyPidFile(path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestCheckPidFileRunningProcessIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vuinputd.pid")
	require.NoError(t, CreatePidFile("vuinputd", path))

	err := CheckPidFile("vuinputd", path)
	require.Error(t, err)
}

func TestCheckPidFileStaleDeadPidIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vuinputd.pid")
	// pid 2^30 is exceedingly unlikely to be alive in any test sandbox.
	require.NoError(t, os.WriteFile(path, []byte("1073741824"), 0o644))

	require.NoError(t, CheckPidFile("vuinputd", path))
}

func TestEnsureDirCreatesNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	require.NoError(t, EnsureDir(dir))

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}
