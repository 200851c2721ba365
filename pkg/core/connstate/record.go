package connstate

import (
	"sync"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/direction"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/handler"
	"github.com/brightcandlelight/trustbase-linux/pkg/models"
)

// StateTag is the connection-level coarse classification, distinct from
// (and coarser than) direction.Tag: it describes how far the handshake as
// a whole has progressed, not just whether one direction still wants bytes.
type StateTag int

const (
	Unknown StateTag = iota
	TLSClientHelloSent
	TLSServerHelloSeen
	IrrelevantConn
	Failed
)

// Record is one connection's state: its key, coarse classification, the two
// direction states (send/recv), the handler vtable driving both, and the
// cached result of the connection's most recent underlying send/recv call.
//
// Per-record state is touched only by the hooks for that record's own
// (pid, fd). A kernel transport serializes those through the socket's own
// lock; callers that can't rely on that external serialization (tests, a
// userspace event pump) take Lock/Unlock instead.
type Record struct {
	mu sync.Mutex

	Key      Key
	StateTag StateTag

	Send *direction.State
	Recv *direction.State
	Ops  handler.Ops

	QueuedSendRet models.TransportResult
	QueuedRecvRet models.TransportResult
}

// Lock and Unlock serialize access to this record's fields.
func (r *Record) Lock()   { r.mu.Lock() }
func (r *Record) Unlock() { r.mu.Unlock() }

// RefreshStateTag recomputes the connection-level coarse tag from the
// current state of both directions and their shared evidence. Callers
// invoke it after UpdateState; it's purely descriptive bookkeeping and
// plays no part in the forwarding decisions the hooks make.
func (r *Record) RefreshStateTag() {
	sendDone := r.Ops.GetState(r.Send) != direction.Relevant
	recvDone := r.Ops.GetState(r.Recv) != direction.Relevant

	switch {
	case sendDone && recvDone:
		r.StateTag = IrrelevantConn
	case sendDone && r.Send.Evidence.HasServerHello():
		r.StateTag = TLSServerHelloSeen
	case sendDone:
		r.StateTag = TLSClientHelloSent
	case r.Send.Evidence.HasClientHello():
		r.StateTag = TLSClientHelloSent
	}
}

// Deletable reports whether this record is eligible for deletion: both
// directions are done parsing (Irrelevant, not merely Discarding — see
// DESIGN.md) and have forwarded everything they've captured.
func (r *Record) Deletable() bool {
	return r.Ops.GetState(r.Send) == direction.Irrelevant && r.Ops.NumBytesToForward(r.Send) == 0 &&
		r.Ops.GetState(r.Recv) == direction.Irrelevant && r.Ops.NumBytesToForward(r.Recv) == 0
}
