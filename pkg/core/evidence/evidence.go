// Package evidence assembles the per-connection tuple the policy engine needs
// to render a trust verdict: hostname, port, and the raw handshake material
// (ClientHello, ServerHello, certificate chain), mirroring a policy plugin
// ABI's query_data_t shape.
package evidence

import (
	"sync"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/tlsparse"
)

// Verdict is the policy engine's answer for one connection's certificate
// chain, matching trustbase_plugin.h's PLUGIN_RESPONSE_* values.
type Verdict int

const (
	Abstain Verdict = iota
	Valid
	Invalid
	ErrVerdict
)

// Evidence is shared by a connection's two direction states (one reference
// each) and is safe for concurrent use, since the send and recv hooks for a
// single connection can in principle run on different goroutines.
type Evidence struct {
	PID  uint32
	FD   int32
	Port uint16

	mu          sync.Mutex
	hostname    string
	clientHello []byte
	serverHello []byte
	certs       [][]byte
	clientBuf   []byte
	serverBuf   []byte
	submitted   bool
	verdict     Verdict
	verdictSet  bool
}

// New returns an empty evidence record for the given connection.
func New(pid uint32, fd int32, port uint16) *Evidence {
	return &Evidence{PID: pid, FD: fd, Port: port, verdict: Abstain}
}

// FeedClientSide appends a handshake record's body, captured from the send
// direction, and extracts the ClientHello and its SNI hostname the first
// time a complete one appears.
func (e *Evidence) FeedClientSide(recordBody []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clientBuf = append(e.clientBuf, recordBody...)
	for {
		mtype, body, rest, ok := tlsparse.NextHandshakeMessage(e.clientBuf)
		if !ok {
			return
		}
		if mtype == tlsparse.MsgClientHello && e.clientHello == nil {
			consumed := len(e.clientBuf) - len(rest)
			e.clientHello = append([]byte(nil), e.clientBuf[:consumed]...)
			if host, found := tlsparse.ExtractSNI(body); found {
				e.hostname = host
			}
		}
		e.clientBuf = rest
	}
}

// FeedServerSide appends a handshake record's body, captured from the recv
// direction, and extracts the ServerHello and certificate chain the first
// time each complete message appears.
func (e *Evidence) FeedServerSide(recordBody []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.serverBuf = append(e.serverBuf, recordBody...)
	for {
		mtype, body, rest, ok := tlsparse.NextHandshakeMessage(e.serverBuf)
		if !ok {
			return
		}
		switch mtype {
		case tlsparse.MsgServerHello:
			if e.serverHello == nil {
				consumed := len(e.serverBuf) - len(rest)
				e.serverHello = append([]byte(nil), e.serverBuf[:consumed]...)
			}
		case tlsparse.MsgCertificate:
			if e.certs == nil {
				if chain, err := tlsparse.ExtractCertChain(body); err == nil {
					e.certs = chain
				}
			}
		}
		e.serverBuf = rest
	}
}

// Ready reports whether enough handshake material has been captured to
// submit a verdict query: a ClientHello, a ServerHello, and a certificate
// chain.
func (e *Evidence) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clientHello) > 0 && len(e.serverHello) > 0 && len(e.certs) > 0
}

// HasClientHello, HasServerHello and HasCertChain report the presence of each
// piece of evidence independently, used by the connection record to classify
// its coarse state tag.
func (e *Evidence) HasClientHello() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clientHello) > 0
}

func (e *Evidence) HasServerHello() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.serverHello) > 0
}

func (e *Evidence) HasCertChain() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.certs) > 0
}

// MarkSubmitted reports true the first time it is called and false on every
// later call, so a connection's evidence is only ever submitted once even if
// both directions observe readiness.
func (e *Evidence) MarkSubmitted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.submitted {
		return false
	}
	e.submitted = true
	return true
}

// Snapshot is a point-in-time, race-free copy of the evidence tuple suitable
// for handing to a policy engine.
type Snapshot struct {
	PID         uint32
	FD          int32
	Hostname    string
	Port        uint16
	ClientHello []byte
	ServerHello []byte
	Chain       [][]byte
	RawChain    []byte
}

// Snapshot copies out the evidence tuple, concatenating the certificate chain
// into a single raw_chain blob the way poll_schemes expects it alongside the
// per-certificate Chain slice of bare DER certificates.
func (e *Evidence) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	var raw []byte
	for _, c := range e.certs {
		raw = append(raw, c...)
	}
	return Snapshot{
		PID:         e.PID,
		FD:          e.FD,
		Hostname:    e.hostname,
		Port:        e.Port,
		ClientHello: e.clientHello,
		ServerHello: e.serverHello,
		Chain:       e.certs,
		RawChain:    raw,
	}
}

// SetVerdict records the policy engine's answer for later inspection by the
// send direction's FillSendBuffer.
func (e *Evidence) SetVerdict(v Verdict) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verdict = v
	e.verdictSet = true
}

// VerdictValue returns the recorded verdict and whether one has been set yet.
func (e *Evidence) VerdictValue() (Verdict, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verdict, e.verdictSet
}
