package handler

import (
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/direction"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/tlsparse"
)

// TLSHandler implements Ops for the one protocol this interceptor cares
// about: a TLS handshake. A single TLSHandler is shared by every connection
// record; all the per-connection state lives in the direction.State values
// it's called with.
type TLSHandler struct {
	logger    *zap.Logger
	submitter Submitter
}

// NewTLSHandler returns an Ops implementation that captures ClientHello,
// ServerHello, and certificate-chain handshake messages and submits
// completed evidence to submitter.
func NewTLSHandler(logger *zap.Logger, submitter Submitter) *TLSHandler {
	return &TLSHandler{logger: logger, submitter: submitter}
}

// SendToProxy implements Ops.
func (h *TLSHandler) SendToProxy(s *direction.State, data []byte) error {
	if s.Tag == direction.Discarding {
		return nil
	}
	s.Buffer = append(s.Buffer, data...)
	return nil
}

// UpdateState implements Ops. It walks the record-level state machine
// (header -> record_body -> irrelevant) as far as the currently captured
// bytes allow, feeding each completed handshake record's body into the
// direction's shared Evidence, and requests evidence submission the moment
// both sides have produced enough to query the policy engine.
//
// A handshake routinely spans several TLS records per direction (ServerHello,
// Certificate and ServerHelloDone typically arrive as three separate
// records), so the header/record_body decode must resume from wherever the
// previous record ended rather than always re-reading from the front of the
// buffer. BytesToForward already tracks that boundary — every completed
// record advances it to the end of what's been parsed so far, and the
// forward-all policy means parsing never outruns it within a single call —
// so it doubles as the read cursor here.
func (h *TLSHandler) UpdateState(s *direction.State) error {
	if s.Tag == direction.Discarding {
		return nil
	}

	for {
		switch s.Machine.Stage {
		case tlsparse.StageHeader:
			offset := s.BytesToForward
			if len(s.Buffer)-offset < tlsparse.RecordHeaderSize {
				s.BytesToRead = tlsparse.RecordHeaderSize - (len(s.Buffer) - offset)
				return nil
			}

			ct, version, length, err := tlsparse.DecodeRecordHeader(s.Buffer[offset : offset+tlsparse.RecordHeaderSize])
			if err != nil || !tlsparse.IsHandshakeRecord(ct, version) {
				s.Tag = direction.Irrelevant
				s.Machine.Stage = tlsparse.StageIrrelevant
				s.BytesToRead = 0
				s.BytesToForward = len(s.Buffer)
				return nil
			}

			s.Machine.Stage = tlsparse.StageRecordBody
			s.Machine.PendingRecordLen = length
			s.BytesToRead = length
			continue

		case tlsparse.StageRecordBody:
			offset := s.BytesToForward
			need := offset + tlsparse.RecordHeaderSize + s.Machine.PendingRecordLen
			if len(s.Buffer) < need {
				s.BytesToRead = need - len(s.Buffer)
				return nil
			}

			body := s.Buffer[offset+tlsparse.RecordHeaderSize : need]
			if s.IsSend {
				s.Evidence.FeedClientSide(body)
			} else {
				s.Evidence.FeedServerSide(body)
			}
			s.BytesToForward = need

			if s.Evidence.Ready() {
				s.Tag = direction.Irrelevant
				s.Machine.Stage = tlsparse.StageIrrelevant
				if h.submitter != nil && s.Evidence.MarkSubmitted() {
					h.logger.Debug("submitting handshake evidence for verdict",
						zap.Uint32("pid", s.Evidence.PID), zap.Int32("fd", s.Evidence.FD))
					h.submitter.Submit(s.Evidence)
				}
				return nil
			}

			s.Machine.Stage = tlsparse.StageHeader
			s.BytesToRead = tlsparse.RecordHeaderSize
			continue

		case tlsparse.StageIrrelevant:
			s.BytesToRead = 0
			s.BytesToForward = len(s.Buffer)
			return nil
		}
	}
}

// FillSendBuffer implements Ops. On the send direction, once the policy
// engine has rejected a chain, it substitutes a single fatal alert record
// for whatever the client is trying to send next and then silently drops
// everything after (direction.Discarding) until the connection is closed.
func (h *TLSHandler) FillSendBuffer(s *direction.State) []byte {
	if s.IsSend {
		if v, set := s.Evidence.VerdictValue(); set && v == evidence.Invalid && !s.AlertSent {
			s.AlertSent = true
			s.Tag = direction.Discarding
			return tlsparse.FatalAlert(tlsparse.AlertUnknownCA)
		}
		if s.Tag == direction.Discarding {
			return nil
		}
	}

	if s.BytesToForward <= s.BytesForwarded {
		return nil
	}
	return s.Buffer[s.BytesForwarded:s.BytesToForward]
}

// CopyToUser implements Ops.
func (h *TLSHandler) CopyToUser(s *direction.State, dst []byte) int {
	avail := s.BytesToForward - s.BytesForwarded
	if avail <= 0 {
		return 0
	}
	n := len(dst)
	if n > avail {
		n = avail
	}
	copy(dst, s.Buffer[s.BytesForwarded:s.BytesForwarded+n])
	return n
}

// NumBytesToForward implements Ops.
func (h *TLSHandler) NumBytesToForward(s *direction.State) int {
	return s.BytesToForward - s.BytesForwarded
}

// BytesToRead implements Ops.
func (h *TLSHandler) BytesToRead(s *direction.State) int {
	return s.BytesToRead
}

// IncBytesForwarded implements Ops. Once every forwardable byte of the
// current region has gone out, it compacts the capture buffer so it never
// grows unbounded across a long-lived connection.
func (h *TLSHandler) IncBytesForwarded(s *direction.State, k int) {
	s.BytesForwarded += k
	if s.BytesForwarded >= s.BytesToForward {
		s.Buffer = append([]byte(nil), s.Buffer[s.BytesToForward:]...)
		s.BytesForwarded = 0
		s.BytesToForward = 0
	}
}

// GetState implements Ops.
func (h *TLSHandler) GetState(s *direction.State) direction.Tag {
	return s.Tag
}
