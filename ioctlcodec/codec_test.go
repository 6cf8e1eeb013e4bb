package ioctlcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyRequiresExactlyOneRetry(t *testing.T) {
	raw := uinputRequest[CmdDevSetup]

	first := Classify(raw, false, false)
	require.Equal(t, NeedIn, first.Disposition)
	require.Equal(t, SizeofUinputSetup, first.InLen)

	retried := Classify(raw, true, false)
	require.Equal(t, Ready, retried.Disposition)
	require.Equal(t, CmdDevSetup, int(retried.Cmd))
}

func TestClassifyAbsSetupNeedsBothDirections(t *testing.T) {
	raw := uinputRequest[CmdAbsSetup]

	c := Classify(raw, false, false)
	require.Equal(t, NeedInOut, c.Disposition)

	c = Classify(raw, true, false)
	require.Equal(t, NeedOut, c.Disposition)

	c = Classify(raw, true, true)
	require.Equal(t, Ready, c.Disposition)
}

func TestClassifyPassthroughBitsAlwaysReady(t *testing.T) {
	c := Classify(uinputRequest[CmdSetKeyBit], false, false)
	require.Equal(t, Ready, c.Disposition)
}

func TestClassifyDevCreateDestroyAlwaysReady(t *testing.T) {
	require.Equal(t, Ready, Classify(io(uinputIOCBase, CmdDevCreate), false, false).Disposition)
	require.Equal(t, Ready, Classify(io(uinputIOCBase, CmdDevDestroy), false, false).Disposition)
}

func TestClassifyGetSysnameHonorsEmbeddedSize(t *testing.T) {
	raw := ior(uinputIOCBase, CmdGetSysname, 128)
	c := Classify(raw, false, false)
	require.Equal(t, NeedOut, c.Disposition)
	require.Equal(t, 128, c.OutLen)
}

func TestClassifyGetSysnameFallsBackWhenNoSizeEncoded(t *testing.T) {
	raw := io(uinputIOCBase, CmdGetSysname)
	c := Classify(raw, false, false)
	require.Equal(t, sysNameLen, c.OutLen)
}

func TestIsUnknown(t *testing.T) {
	require.False(t, IsUnknown(CmdDevCreate))
	require.True(t, IsUnknown(999))
}
