//go:build linux

package linux

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeConnEvent(ev connEvent) []byte {
	b := make([]byte, connEventSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(ev.Kind))
	binary.LittleEndian.PutUint32(b[4:8], ev.PID)
	binary.LittleEndian.PutUint32(b[8:12], uint32(ev.FD))
	binary.LittleEndian.PutUint32(b[12:16], uint32(ev.Len))
	binary.LittleEndian.PutUint32(b[16:20], ev.Flags)
	copy(b[20:24], ev.DAddr[:])
	binary.LittleEndian.PutUint16(b[24:26], ev.DPort)
	return b
}

func TestDecodeConnEvent_RoundTrips(t *testing.T) {
	want := connEvent{
		Kind:  eventSend,
		PID:   1234,
		FD:    7,
		Len:   512,
		Flags: flagNonBlocking,
		DAddr: [4]byte{93, 184, 216, 34},
		DPort: 443,
	}
	got, err := decodeConnEvent(encodeConnEvent(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.NonBlocking())
}

func TestDecodeConnEvent_RejectsShortRecord(t *testing.T) {
	_, err := decodeConnEvent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestConnEvent_NonBlockingFlag(t *testing.T) {
	assert.False(t, connEvent{Flags: 0}.NonBlocking())
	assert.True(t, connEvent{Flags: flagNonBlocking}.NonBlocking())
}

func TestConnEvent_RemoteHost(t *testing.T) {
	ev := connEvent{DAddr: [4]byte{93, 184, 216, 34}, DPort: 443}
	assert.Equal(t, "93.184.216.34", ev.RemoteHost())
}
