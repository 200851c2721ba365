package tlsparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecordHeader(t *testing.T) {
	hdr := []byte{0x16, 0x03, 0x01, 0x00, 0x2a}
	ct, version, length, err := DecodeRecordHeader(hdr)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeHandshake, ct)
	assert.Equal(t, [2]byte{0x03, 0x01}, version)
	assert.Equal(t, 42, length)
}

func TestDecodeRecordHeaderShort(t *testing.T) {
	_, _, _, err := DecodeRecordHeader([]byte{0x16, 0x03})
	assert.Error(t, err)
}

func TestIsHandshakeRecord(t *testing.T) {
	assert.True(t, IsHandshakeRecord(ContentTypeHandshake, [2]byte{0x03, 0x03}))
	assert.False(t, IsHandshakeRecord(ContentTypeApplicationData, [2]byte{0x03, 0x03}))
	assert.False(t, IsHandshakeRecord(ContentTypeHandshake, [2]byte{0x02, 0x00}))
}

func TestNextHandshakeMessage(t *testing.T) {
	msg := []byte{MsgClientHello, 0x00, 0x00, 0x03, 'a', 'b', 'c'}
	mtype, body, rest, ok := NextHandshakeMessage(msg)
	require.True(t, ok)
	assert.Equal(t, MsgClientHello, mtype)
	assert.Equal(t, []byte("abc"), body)
	assert.Empty(t, rest)
}

func TestNextHandshakeMessageIncomplete(t *testing.T) {
	_, _, rest, ok := NextHandshakeMessage([]byte{MsgClientHello, 0x00, 0x00, 0x05, 'a'})
	assert.False(t, ok)
	assert.Equal(t, []byte{MsgClientHello, 0x00, 0x00, 0x05, 'a'}, rest)
}

func TestFatalAlert(t *testing.T) {
	rec := FatalAlert(AlertUnknownCA)
	ct, version, length, err := DecodeRecordHeader(rec)
	require.NoError(t, err)
	assert.Equal(t, ContentTypeAlert, ct)
	assert.Equal(t, [2]byte{0x03, 0x03}, version)
	assert.Equal(t, 2, length)
	assert.Equal(t, []byte{0x02, AlertUnknownCA}, rec[RecordHeaderSize:])
}
