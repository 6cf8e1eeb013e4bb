package jobs

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/joleuger/vuinputd/realizer"
)

func TestMknodDeviceJobMetadata(t *testing.T) {
	rt := Runtime{ExePath: "/usr/bin/vuinputd", FS: afero.NewMemMapFs(), Mknod: realizer.OSMknod{}}

	job := NewMknodDeviceJob(rt, HostTarget, "/dev/input/event77", 13, 77)
	assert.Equal(t, "mknod-device /dev/input/event77", job.Desc())
	assert.False(t, job.ExecuteAfterCancellation())
	assert.Equal(t, HostTarget, job.Target())
}

func TestRemoveDeviceJobMustRunAfterCancellation(t *testing.T) {
	rt := Runtime{ExePath: "/usr/bin/vuinputd", FS: afero.NewMemMapFs(), Mknod: realizer.OSMknod{}}

	job := NewRemoveDeviceJob(rt, HostTarget, "/dev/input/event77", 13, 77)
	assert.True(t, job.ExecuteAfterCancellation())
}

func TestWriteUdevDataJobMetadata(t *testing.T) {
	rt := Runtime{ExePath: "/usr/bin/vuinputd", FS: afero.NewMemMapFs(), Mknod: realizer.OSMknod{}}
	content := "ID_INPUT_KEYBOARD=1\n"

	job := NewWriteUdevDataJob(rt, HostTarget, &content, 13, 77)
	assert.Equal(t, "write-udev-data", job.Desc())
	assert.False(t, job.ExecuteAfterCancellation())
}
