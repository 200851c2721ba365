// Package handler defines the Handler Operations Vtable — the set of
// operations a transport hook calls against a direction's state without
// knowing anything about the protocol being parsed — and ships the one
// concrete implementation this repo needs: a TLS handshake handler.
//
// A different protocol (a future handler for, say, a different secure
// transport) would only need its own Ops implementation; direction.State's
// shape and the transport hooks that drive it stay the same.
package handler

import (
	"github.com/brightcandlelight/trustbase-linux/pkg/core/direction"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
)

// Ops is the vtable of operations a connection record's handler exposes.
// Every method takes the direction.State it operates on explicitly rather
// than closing over it, so the same Ops value can drive both a connection's
// send state and its recv state.
type Ops interface {
	// SendToProxy appends newly observed bytes to the direction's capture
	// buffer, without yet deciding what they mean.
	SendToProxy(s *direction.State, data []byte) error

	// UpdateState advances the direction's parsing progress as far as the
	// currently captured bytes allow, adjusting BytesToRead/BytesToForward
	// and, once a verdict-relevant message has been fully captured on both
	// sides, triggering evidence submission.
	UpdateState(s *direction.State) error

	// FillSendBuffer returns the next region of captured bytes the send
	// hook should hand to the real transport. An empty (nil or zero-length)
	// result means nothing is currently forwardable.
	FillSendBuffer(s *direction.State) []byte

	// CopyToUser copies up to len(dst) bytes of the next forwardable region
	// into dst for the recv hook to deliver to the caller, returning how
	// many bytes it copied.
	CopyToUser(s *direction.State, dst []byte) int

	// NumBytesToForward reports how many captured bytes are still waiting
	// to be forwarded (BytesToForward - BytesForwarded).
	NumBytesToForward(s *direction.State) int

	// BytesToRead reports how many more bytes this direction currently
	// wants before it can make its next parsing decision.
	BytesToRead(s *direction.State) int

	// IncBytesForwarded records that k more bytes have been forwarded,
	// compacting the capture buffer once a full region has gone out.
	IncBytesForwarded(s *direction.State, k int)

	// GetState reports the direction's coarse classification.
	GetState(s *direction.State) direction.Tag
}

// Submitter is the asynchronous collaborator a handler hands a connection's
// completed evidence to once both the ClientHello and the
// ServerHello-plus-chain have been captured — the Verdict Channel. Submit
// is fire-and-forget: the submitter takes its own copy (Evidence.Snapshot)
// to query the policy engine, possibly from another goroutine, and reports
// back by calling ev.SetVerdict once a verdict is known. The handler never
// blocks waiting for that call.
type Submitter interface {
	Submit(ev *evidence.Evidence)
}
