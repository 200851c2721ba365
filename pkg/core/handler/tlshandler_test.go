package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/direction"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/tlsparse"
)

type fakeSubmitter struct {
	submitted []*evidence.Evidence
}

func (f *fakeSubmitter) Submit(ev *evidence.Evidence) {
	f.submitted = append(f.submitted, ev)
}

func handshakeMessage(msgType byte, body []byte) []byte {
	return append([]byte{msgType, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
}

func tlsRecord(ct tlsparse.ContentType, body []byte) []byte {
	hdr := []byte{byte(ct), 0x03, 0x03, byte(len(body) >> 8), byte(len(body))}
	return append(hdr, body...)
}

func clientHelloBody(hostname string) []byte {
	var body []byte
	body = append(body, make([]byte, 2+32)...)
	body = append(body, 0x00)
	cipher := []byte{0xc0, 0x2f}
	body = append(body, byte(len(cipher)>>8), byte(len(cipher)))
	body = append(body, cipher...)
	body = append(body, 0x01, 0x00)

	sniName := []byte(hostname)
	sniEntry := append([]byte{0x00, byte(len(sniName) >> 8), byte(len(sniName))}, sniName...)
	sniList := append([]byte{byte(len(sniEntry) >> 8), byte(len(sniEntry))}, sniEntry...)
	sniExt := append([]byte{0x00, 0x00, byte(len(sniList) >> 8), byte(len(sniList))}, sniList...)
	body = append(body, byte(len(sniExt)>>8), byte(len(sniExt)))
	body = append(body, sniExt...)
	return body
}

func TestTLSHandlerRejectsNonHandshakeRecord(t *testing.T) {
	h := NewTLSHandler(zap.NewNop(), nil)
	ev := evidence.New(1, 1, 443)
	s := direction.New(true, ev)

	rec := tlsRecord(tlsparse.ContentTypeApplicationData, []byte("hello"))
	require.NoError(t, h.SendToProxy(s, rec))
	require.NoError(t, h.UpdateState(s))

	assert.Equal(t, direction.Irrelevant, h.GetState(s))
	assert.Equal(t, len(rec), h.NumBytesToForward(s))
}

func TestTLSHandlerCapturesClientHelloAndSubmits(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewTLSHandler(zap.NewNop(), sub)
	ev := evidence.New(99, 3, 443)
	send := direction.New(true, ev)
	recv := direction.New(false, ev)

	chMsg := handshakeMessage(tlsparse.MsgClientHello, clientHelloBody("example.com"))
	chRecord := tlsRecord(tlsparse.ContentTypeHandshake, chMsg)
	require.NoError(t, h.SendToProxy(send, chRecord))
	require.NoError(t, h.UpdateState(send))
	assert.Equal(t, direction.Relevant, h.GetState(send))
	assert.False(t, ev.Ready())

	shBody := make([]byte, 2+32+1)
	shMsg := handshakeMessage(tlsparse.MsgServerHello, shBody)
	var certsBody []byte
	cert := []byte("fake-der-bytes")
	certsBody = append(certsBody, byte(len(cert)>>16), byte(len(cert)>>8), byte(len(cert)))
	certsBody = append(certsBody, cert...)
	certBody := append([]byte{byte(len(certsBody) >> 16), byte(len(certsBody) >> 8), byte(len(certsBody))}, certsBody...)
	certMsg := handshakeMessage(tlsparse.MsgCertificate, certBody)

	recvRecord := tlsRecord(tlsparse.ContentTypeHandshake, append(shMsg, certMsg...))
	require.NoError(t, h.SendToProxy(recv, recvRecord))
	require.NoError(t, h.UpdateState(recv))

	require.True(t, ev.Ready())
	assert.Equal(t, direction.Irrelevant, h.GetState(recv))
	require.Len(t, sub.submitted, 1)
	assert.Equal(t, ev, sub.submitted[0])
}

func TestTLSHandlerCapturesServerHelloAndCertificateAsSeparateRecords(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewTLSHandler(zap.NewNop(), sub)
	ev := evidence.New(7, 5, 443)
	send := direction.New(true, ev)
	recv := direction.New(false, ev)

	chMsg := handshakeMessage(tlsparse.MsgClientHello, clientHelloBody("example.com"))
	require.NoError(t, h.SendToProxy(send, tlsRecord(tlsparse.ContentTypeHandshake, chMsg)))
	require.NoError(t, h.UpdateState(send))
	require.False(t, ev.Ready())

	shBody := make([]byte, 2+32+1)
	shMsg := handshakeMessage(tlsparse.MsgServerHello, shBody)
	var certsBody []byte
	cert := []byte("fake-der-bytes")
	certsBody = append(certsBody, byte(len(cert)>>16), byte(len(cert)>>8), byte(len(cert)))
	certsBody = append(certsBody, cert...)
	certBody := append([]byte{byte(len(certsBody) >> 16), byte(len(certsBody) >> 8), byte(len(certsBody))}, certsBody...)
	certMsg := handshakeMessage(tlsparse.MsgCertificate, certBody)

	// ServerHello and Certificate arrive as two distinct TLS records, each
	// delivered to the handler in its own SendToProxy/UpdateState round —
	// the way a real socket recv loop would hand them over one record at a
	// time, rather than packed together into a single buffer.
	shRecord := tlsRecord(tlsparse.ContentTypeHandshake, shMsg)
	require.NoError(t, h.SendToProxy(recv, shRecord))
	require.NoError(t, h.UpdateState(recv))
	assert.False(t, ev.Ready())
	assert.Equal(t, direction.Relevant, h.GetState(recv))
	assert.Equal(t, len(shRecord), h.NumBytesToForward(recv))

	certRecord := tlsRecord(tlsparse.ContentTypeHandshake, certMsg)
	require.NoError(t, h.SendToProxy(recv, certRecord))
	require.NoError(t, h.UpdateState(recv))

	require.True(t, ev.Ready())
	assert.Equal(t, direction.Irrelevant, h.GetState(recv))
	assert.Equal(t, len(shRecord)+len(certRecord), h.NumBytesToForward(recv))
	require.Len(t, sub.submitted, 1)
	assert.Equal(t, ev, sub.submitted[0])
}

func TestTLSHandlerAlertSubstitutionOnInvalidVerdict(t *testing.T) {
	h := NewTLSHandler(zap.NewNop(), nil)
	ev := evidence.New(1, 1, 443)
	ev.SetVerdict(evidence.Invalid)
	send := direction.New(true, ev)

	region := h.FillSendBuffer(send)
	require.NotEmpty(t, region)
	assert.Equal(t, tlsparse.FatalAlert(tlsparse.AlertUnknownCA), region)
	assert.Equal(t, direction.Discarding, h.GetState(send))

	require.NoError(t, h.SendToProxy(send, []byte("more client data")))
	assert.Empty(t, send.Buffer)
	assert.Nil(t, h.FillSendBuffer(send))
}

func TestIncBytesForwardedCompactsBuffer(t *testing.T) {
	h := NewTLSHandler(zap.NewNop(), nil)
	ev := evidence.New(1, 1, 443)
	s := direction.New(true, ev)
	s.Buffer = []byte("0123456789")
	s.BytesToForward = 5

	h.IncBytesForwarded(s, 5)
	assert.Equal(t, 0, s.BytesForwarded)
	assert.Equal(t, 0, s.BytesToForward)
	assert.Equal(t, []byte("56789"), s.Buffer)
}
