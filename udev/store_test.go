package udev

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOnEventThenTake(t *testing.T) {
	s := NewStore(time.Minute)

	s.OnEvent(Event{Syspath: "/devices/virtual/input/input7/event7", Kind: KindAdd, Payload: map[string]string{"ID_INPUT_KEYBOARD": "1"}})

	entry, ok := s.Take("/devices/virtual/input/input7/event7")
	require.True(t, ok)
	assert.True(t, entry.AddProcessed)
	assert.False(t, entry.Tombstone)
	assert.Equal(t, "1", entry.AddData["ID_INPUT_KEYBOARD"])
}

func TestStoreRemoveTombstonesOnTake(t *testing.T) {
	s := NewStore(time.Minute)
	syspath := "/devices/virtual/input/input7/event7"

	s.OnEvent(Event{Syspath: syspath, Kind: KindAdd, Payload: map[string]string{"ID_INPUT_KEYBOARD": "1"}})
	s.OnEvent(Event{Syspath: syspath, Kind: KindRemove, Payload: map[string]string{}})

	entry, ok := s.Take(syspath)
	require.True(t, ok)
	assert.True(t, entry.Tombstone)

	// Taking again after tombstoning must not panic and should return the
	// same already-final entry.
	entry2, ok := s.Take(syspath)
	require.True(t, ok)
	assert.True(t, entry2.Tombstone)
}

func TestStoreCleanupDropsExpired(t *testing.T) {
	s := NewStore(time.Millisecond)
	fake := time.Now()
	s.nowFunc = func() time.Time { return fake }

	s.OnEvent(Event{Syspath: "/devices/virtual/input/input1/event1", Kind: KindAdd, Payload: map[string]string{}})
	require.Equal(t, 1, s.Len())

	fake = fake.Add(time.Second)
	s.Cleanup()
	assert.Equal(t, 0, s.Len())
}

func TestStoreTakeUnknownSyspath(t *testing.T) {
	s := NewStore(time.Minute)
	_, ok := s.Take("/devices/virtual/input/input9/event9")
	assert.False(t, ok)
}
