package eventcompat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompatRoundTrip(t *testing.T) {
	c := Compat{Sec: 1234, Usec: 0, Type: 1, Code: 57, Value: 1}
	n := ToNative(c)
	require.Equal(t, int64(1234), n.Sec)
	require.Equal(t, int64(0), n.Usec)
	require.Equal(t, uint16(1), n.Type)
	require.Equal(t, uint16(57), n.Code)
	require.Equal(t, int32(1), n.Value)

	back := ToCompat(n)
	require.Equal(t, c, back)
}

func TestEncodeDecodeNative(t *testing.T) {
	n := Native{Sec: 42, Usec: 7, Type: 1, Code: 2, Value: -1}
	b := EncodeNative(n)
	require.Len(t, b, SizeofNative)
	require.Equal(t, n, DecodeNative(b))
}

func TestDecodeCompatFromWireBytes(t *testing.T) {
	// {sec=1234,usec=0,type=1,code=57,value=1} little-endian.
	b := []byte{
		0xD2, 0x04, 0x00, 0x00, // sec = 1234
		0x00, 0x00, 0x00, 0x00, // usec = 0
		0x01, 0x00, // type = 1
		0x39, 0x00, // code = 57
		0x01, 0x00, 0x00, 0x00, // value = 1
	}
	require.Len(t, b, SizeofCompat)
	c := DecodeCompat(b)
	require.Equal(t, Compat{Sec: 1234, Usec: 0, Type: 1, Code: 57, Value: 1}, c)
}
