// Package direction holds the generic per-direction state a connection
// record owns twice over, once for its send side and once for its recv
// side: a capture buffer, the record-level parsing machine walking it, and
// the forwarding bookkeeping (bytes_to_read / bytes_to_forward /
// bytes_forwarded) every transport hook consults before touching a socket.
//
// State itself knows nothing about TLS. The protocol-specific behavior
// (what to do once enough bytes have arrived, how to decide the direction
// is no longer interesting) lives entirely in whatever handler.Ops
// implementation a connection record was created with — State is just the
// data that vtable operates on, mirroring pkg/core/hooks/conn/tracker.go's
// mutex-guarded buffer-plus-counters shape generalized to a protocol-neutral
// vtable instead of hardcoded HTTP/gRPC detection.
package direction

import (
	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/tlsparse"
)

// Tag is the coarse classification a handler reports back through
// GetState. Relevant and Irrelevant are the two states the vtable
// contract describes; Discarding is an internal refinement (see
// DESIGN.md) used only once a rejected chain's fatal alert has been
// substituted.
type Tag int

const (
	Relevant Tag = iota
	Irrelevant
	Discarding
)

// State is one direction's (send or recv) capture buffer, record-level
// parsing progress, and forwarding counters.
type State struct {
	// IsSend distinguishes which of a connection's two directions this
	// state belongs to; set once at creation and never changed. A handler's
	// Ops methods use it to decide which side of the handshake they're
	// looking at without needing a second Ops implementation per direction.
	IsSend bool

	Buffer         []byte
	BytesToRead    int
	BytesToForward int
	BytesForwarded int
	Tag            Tag
	AlertSent      bool

	Machine  *tlsparse.Machine
	Evidence *evidence.Evidence
}

// New returns a freshly created direction state: no buffered bytes yet, and
// wanting the record-header size worth of bytes before it can make any
// forwarding decision, exactly as th_conn_state_create sets
// send_bytes_to_read / recv_bytes_to_read to TH_TLS_HANDSHAKE_IDENTIFIER_SIZE.
func New(isSend bool, ev *evidence.Evidence) *State {
	return &State{
		IsSend:      isSend,
		BytesToRead: tlsparse.HandshakeIdentifierSize,
		Tag:         Relevant,
		Machine:     tlsparse.NewMachine(),
		Evidence:    ev,
	}
}
