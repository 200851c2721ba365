package tlsparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildClientHelloBody assembles a minimal, syntactically valid ClientHello
// body carrying a single server_name extension.
func buildClientHelloBody(hostname string) []byte {
	var b []byte
	b = append(b, make([]byte, 2+32)...) // legacy_version + random
	b = append(b, 0x00)                  // empty session id
	cipher := []byte{0xc0, 0x2f}
	b = append(b, byte(len(cipher)>>8), byte(len(cipher)))
	b = append(b, cipher...)
	comp := []byte{0x00}
	b = append(b, byte(len(comp)))
	b = append(b, comp...)

	sniName := []byte(hostname)
	sniEntry := append([]byte{0x00, byte(len(sniName) >> 8), byte(len(sniName))}, sniName...)
	sniList := append([]byte{byte(len(sniEntry) >> 8), byte(len(sniEntry))}, sniEntry...)
	sniExt := append([]byte{0x00, 0x00, byte(len(sniList) >> 8), byte(len(sniList))}, sniList...)

	b = append(b, byte(len(sniExt)>>8), byte(len(sniExt)))
	b = append(b, sniExt...)
	return b
}

func TestExtractSNI(t *testing.T) {
	body := buildClientHelloBody("example.com")
	host, ok := ExtractSNI(body)
	require.True(t, ok)
	assert.Equal(t, "example.com", host)
}

func TestExtractSNINoExtensions(t *testing.T) {
	var b []byte
	b = append(b, make([]byte, 2+32)...)
	b = append(b, 0x00)
	b = append(b, 0x00, 0x00)
	b = append(b, 0x00)
	_, ok := ExtractSNI(b)
	assert.False(t, ok)
}

func TestExtractCertChain(t *testing.T) {
	cert1 := []byte("first-cert-der")
	cert2 := []byte("second-cert-der")

	var certs []byte
	for _, c := range [][]byte{cert1, cert2} {
		certs = append(certs, byte(len(c)>>16), byte(len(c)>>8), byte(len(c)))
		certs = append(certs, c...)
	}
	body := append([]byte{byte(len(certs) >> 16), byte(len(certs) >> 8), byte(len(certs))}, certs...)

	chain, err := ExtractCertChain(body)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, cert1, chain[0])
	assert.Equal(t, cert2, chain[1])
}

func TestExtractCertChainEmpty(t *testing.T) {
	_, err := ExtractCertChain([]byte{0x00, 0x00, 0x00})
	assert.Error(t, err)
}
