package tlsparse

import "errors"

var (
	errTruncatedCertificate  = errors.New("tlsparse: truncated Certificate body")
	errEmptyCertificateChain = errors.New("tlsparse: Certificate message carried no certificates")
)

// ExtractSNI walks a ClientHello message body (the part after the 4-byte
// handshake message header) far enough to find the server_name extension and
// return its first hostname entry.
func ExtractSNI(body []byte) (string, bool) {
	off := 0

	// legacy_version (2) + random (32)
	off += 2 + 32
	if off > len(body) {
		return "", false
	}

	// legacy_session_id: 1-byte length prefix
	if off >= len(body) {
		return "", false
	}
	sessIDLen := int(body[off])
	off++
	off += sessIDLen
	if off > len(body) {
		return "", false
	}

	// cipher_suites: 2-byte length prefix
	if off+2 > len(body) {
		return "", false
	}
	cipherLen := int(body[off])<<8 | int(body[off+1])
	off += 2 + cipherLen
	if off > len(body) {
		return "", false
	}

	// compression_methods: 1-byte length prefix
	if off >= len(body) {
		return "", false
	}
	compLen := int(body[off])
	off++
	off += compLen
	if off > len(body) {
		return "", false
	}

	// extensions: 2-byte length prefix, optional (a ClientHello with no
	// extensions simply ends here).
	if off+2 > len(body) {
		return "", false
	}
	extTotalLen := int(body[off])<<8 | int(body[off+1])
	off += 2
	extEnd := off + extTotalLen
	if extEnd > len(body) {
		return "", false
	}

	const extTypeServerName = 0x0000
	for off+4 <= extEnd {
		extType := int(body[off])<<8 | int(body[off+1])
		extLen := int(body[off+2])<<8 | int(body[off+3])
		off += 4
		if off+extLen > extEnd {
			return "", false
		}
		extBody := body[off : off+extLen]
		off += extLen

		if extType != extTypeServerName {
			continue
		}
		if host, ok := parseServerNameList(extBody); ok {
			return host, true
		}
	}
	return "", false
}

func parseServerNameList(extBody []byte) (string, bool) {
	if len(extBody) < 2 {
		return "", false
	}
	listLen := int(extBody[0])<<8 | int(extBody[1])
	off := 2
	end := off + listLen
	if end > len(extBody) {
		end = len(extBody)
	}
	const nameTypeHostname = 0
	for off+3 <= end {
		nameType := extBody[off]
		nameLen := int(extBody[off+1])<<8 | int(extBody[off+2])
		off += 3
		if off+nameLen > end {
			return "", false
		}
		name := extBody[off : off+nameLen]
		off += nameLen
		if nameType == nameTypeHostname {
			return string(name), true
		}
	}
	return "", false
}

// ExtractCertChain decodes a Certificate handshake message body (the part
// after the 4-byte handshake message header) into the DER bytes of each
// certificate, leaf first, exactly as the peer sent them.
func ExtractCertChain(body []byte) ([][]byte, error) {
	if len(body) < 3 {
		return nil, errTruncatedCertificate
	}
	totalLen := int(body[0])<<16 | int(body[1])<<8 | int(body[2])
	off := 3
	end := off + totalLen
	if end > len(body) {
		end = len(body)
	}

	var chain [][]byte
	for off+3 <= end {
		certLen := int(body[off])<<16 | int(body[off+1])<<8 | int(body[off+2])
		off += 3
		if off+certLen > end {
			return chain, errTruncatedCertificate
		}
		chain = append(chain, body[off:off+certLen])
		off += certLen
	}
	if len(chain) == 0 {
		return nil, errEmptyCertificateChain
	}
	return chain, nil
}
