package udev

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMonitorHeaderLayout(t *testing.T) {
	h := buildMonitorHeader(42)
	require.Len(t, h, monitorHeaderSize)
	assert.True(t, bytes.HasPrefix(h, []byte("libudev\x00")))
	assert.Equal(t, byte(0xFE), h[8])
	assert.Equal(t, byte(0xED), h[9])
	assert.Equal(t, byte(0xCA), h[10])
	assert.Equal(t, byte(0xFE), h[11])
}

func TestEncodePropertiesDeterministicOrder(t *testing.T) {
	props := map[string]string{"ID_INPUT_MOUSE": "1", "ACTION": "add"}
	payload := encodeProperties(props)
	assert.Equal(t, "ACTION=add\x00ID_INPUT_MOUSE=1\x00", string(payload))
}

func TestDecodeUeventRoundTrip(t *testing.T) {
	props := map[string]string{
		"ACTION":             "add",
		"DEVPATH":            "/devices/virtual/input/input7/event7",
		"ID_VUINPUT_KEYBOARD": "1",
		"ID_SEAT":            "seat0",
	}
	payload := encodeProperties(props)
	header := buildMonitorHeader(len(payload))
	raw := append(header, payload...)

	ev, ok := decodeUevent(raw)
	require.True(t, ok)
	assert.Equal(t, KindAdd, ev.Kind)
	assert.Equal(t, "/sys/devices/virtual/input/input7", ev.Syspath)
	assert.Equal(t, "1", ev.Payload["ID_INPUT_KEYBOARD"])
	assert.Equal(t, "add", ev.Payload["ACTION"])
	_, hadSeat := ev.Payload["ID_SEAT"]
	assert.False(t, hadSeat)
}

func TestDecodeUeventRejectsUnrelatedDevpath(t *testing.T) {
	props := map[string]string{"ACTION": "add", "DEVPATH": "/devices/pci0000:00/0000:00:1f.0"}
	payload := encodeProperties(props)
	raw := append(buildMonitorHeader(len(payload)), payload...)

	_, ok := decodeUevent(raw)
	assert.False(t, ok)
}

func TestEventNumber(t *testing.T) {
	n, ok := eventNumber("/devices/virtual/input/input7/event12")
	require.True(t, ok)
	assert.Equal(t, 12, n)
}
