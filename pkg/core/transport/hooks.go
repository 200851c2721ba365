// Package transport drives the Connection Table's per-connection state
// machine against a real socket: buffer what the user hands the kernel,
// let the handler vtable decide what (if anything) actually crosses the
// wire, and keep the Connection Table in sync with the socket's lifecycle
// — the userspace analogue of a kernel module's new_tcp_sendmsg /
// new_tcp_recvmsg / new_tcp_close / new_tcp_v4_connect overrides.
package transport

import (
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/connstate"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/handler"
	"github.com/brightcandlelight/trustbase-linux/pkg/models"
)

// Transport is the real underlying socket a Hooks call wraps — the kernel's
// own tcp_sendmsg/tcp_recvmsg in the original, a net.Conn-backed adapter
// here. Recv should behave like a single blocking read: it blocks until at
// least one byte is available, EOF, or an error.
type Transport interface {
	Send(b []byte) (int, error)
	Recv(b []byte) (int, error)
}

// Hooks is the Go analogue of interceptor.c's five wrapped syscalls, bound
// to one Connection Table.
type Hooks struct {
	table  *connstate.Table
	logger *zap.Logger
}

// NewHooks returns hooks operating against table.
func NewHooks(table *connstate.Table, logger *zap.Logger) *Hooks {
	return &Hooks{table: table, logger: logger}
}

// Connect registers a newly-established connection, mirroring
// new_tcp_v4_connect/new_tcp_v6_connect's conn_state_create call. Both
// address families funnel through here since the Connection Table doesn't
// care which one dialed. The dialed port is bound into the record's
// evidence for the eventual verdict query.
func (h *Hooks) Connect(key connstate.Key, ops handler.Ops, port uint16) (*connstate.Record, error) {
	return h.table.Create(key, ops, port)
}

// Disconnect is a no-op hook point kept for symmetry with
// new_tcp_disconnect, which in the original never touched connection state
// either — only new_tcp_close does.
func (h *Hooks) Disconnect() {}

// Close unregisters key, mirroring new_tcp_close's th_conn_state_delete
// call. It's always safe to call, even for a key the table never tracked.
func (h *Hooks) Close(key connstate.Key) {
	h.table.Delete(key)
}

// Send mirrors new_tcp_sendmsg: buffer data into the send direction's
// state, let the handler decide what to actually forward, and push that
// region out over real, retrying until it's all gone. It returns len(data)
// on success so the caller believes its whole write succeeded, exactly as
// the original always told the user size bytes were sent regardless of how
// many (if any) the handler chose to forward.
//
// nonBlocking carries the traced syscall's own blocking mode: a blocking
// caller is drained here in a loop, while a non-blocking caller that gets a
// short underlying write is handed models.ErrWouldBlock immediately, exactly
// as a non-blocking socket send would report EAGAIN rather than sleep.
func (h *Hooks) Send(key connstate.Key, data []byte, real Transport, nonBlocking bool) (int, error) {
	rec, ok := h.table.Get(key)
	if !ok {
		return real.Send(data)
	}

	rec.Lock()
	defer rec.Unlock()

	if !models.IsError(rec.QueuedSendRet) {
		if err := rec.Ops.SendToProxy(rec.Send, data); err != nil {
			h.logger.Error("failed to copy data to connection buffer", zap.Error(err))
			return real.Send(data)
		}
		if err := rec.Ops.UpdateState(rec.Send); err != nil {
			h.logger.Error("failed to update send state", zap.Error(err))
			return real.Send(data)
		}
		rec.RefreshStateTag()
	}
	// else: the previous send attempt errored or returned EAGAIN. Skip the
	// copy/update phase and re-offer whatever the handler already queued,
	// exactly as the original comments describe: "assume the data being
	// sent after an error is the same as the previous time."

	region := rec.Ops.FillSendBuffer(rec.Send)
	if len(region) == 0 {
		h.deleteIfDone(key, rec)
		return len(data), nil
	}

	// Keep asking the handler for the next region and pushing it out. A
	// blocking caller drains until nothing's left to forward or a send
	// fails; a non-blocking caller bails out the moment a send comes back
	// short, surfacing EAGAIN instead of looping.
	for {
		n, err := real.Send(region)
		rec.QueuedSendRet = models.ResultFromSend(n, err)
		if n > 0 {
			rec.Ops.IncBytesForwarded(rec.Send, n)
		}
		if err != nil {
			h.deleteIfDone(key, rec)
			return 0, err
		}
		if n < len(region) && nonBlocking {
			rec.QueuedSendRet = models.TransportError{Err: models.ErrWouldBlock}
			h.deleteIfDone(key, rec)
			return 0, models.ErrWouldBlock
		}
		if rec.Ops.NumBytesToForward(rec.Send) == 0 {
			break
		}
		region = rec.Ops.FillSendBuffer(rec.Send)
		if len(region) == 0 {
			break
		}
	}

	h.deleteIfDone(key, rec)
	return len(data), nil
}

// Recv mirrors new_tcp_recvmsg: first drain whatever the handler already
// has queued for forwarding, then — if the caller wants more — pull fresh
// bytes from real, feed them through the handler, and repeat until there's
// something to hand back or the underlying read fails.
//
// nonBlocking carries the traced syscall's own blocking mode: once a refill
// round captures bytes but still has nothing forwardable, a non-blocking
// caller returns immediately (whatever's cached in sent, or EAGAIN) instead
// of looping for another kernel-address-space read that might sleep.
func (h *Hooks) Recv(key connstate.Key, dst []byte, real Transport, nonBlocking bool) (int, error) {
	rec, ok := h.table.Get(key)
	if !ok {
		return real.Recv(dst)
	}

	rec.Lock()
	defer rec.Unlock()

	sent := 0
	if toForward := rec.Ops.NumBytesToForward(rec.Recv); toForward > 0 {
		sent = rec.Ops.CopyToUser(rec.Recv, dst)
		rec.Ops.IncBytesForwarded(rec.Recv, sent)
	}
	if sent >= len(dst) {
		return sent, nil
	}

	if sent == 0 {
		if eof, ok := rec.QueuedRecvRet.(models.TransportEOF); ok {
			_ = eof
			h.table.Delete(key)
			return 0, nil
		}
		if transErr, ok := rec.QueuedRecvRet.(models.TransportError); ok {
			rec.QueuedRecvRet = models.TransportNeutral{}
			return 0, transErr.Err
		}
	}

	if rec.Ops.BytesToRead(rec.Recv) == 0 {
		if sent > 0 {
			return sent, nil
		}
		h.table.Delete(key)
		return real.Recv(dst)
	}

	for rec.Ops.NumBytesToForward(rec.Recv) == 0 {
		buf := make([]byte, rec.Ops.BytesToRead(rec.Recv))
		n, err := real.Recv(buf)
		rec.QueuedRecvRet = models.ResultFromRecv(n, err)

		if n <= 0 {
			if sent > 0 {
				// The EOF/error stays cached; the next call's replay check
				// delivers it once the cached bytes are gone.
				return sent, nil
			}
			if err == nil {
				// EOF with nothing cached: the stream ended mid-handshake.
				// Propagate it once and stop monitoring; later calls on the
				// same fd go straight through to the real transport.
				h.table.Delete(key)
				return 0, nil
			}
			rec.QueuedRecvRet = models.TransportNeutral{}
			return n, err
		}

		if proxyErr := rec.Ops.SendToProxy(rec.Recv, buf[:n]); proxyErr != nil {
			h.logger.Error("failed to copy to recv state", zap.Error(proxyErr))
		}
		if updateErr := rec.Ops.UpdateState(rec.Recv); updateErr != nil {
			h.logger.Error("failed to update recv state", zap.Error(updateErr))
		}
		rec.RefreshStateTag()

		if nonBlocking && rec.Ops.NumBytesToForward(rec.Recv) == 0 {
			if sent > 0 {
				return sent, nil
			}
			return 0, models.ErrWouldBlock
		}
	}

	remaining := dst[sent:]
	got := rec.Ops.CopyToUser(rec.Recv, remaining)
	rec.Ops.IncBytesForwarded(rec.Recv, got)
	sent += got

	h.deleteIfDone(key, rec)
	return sent, nil
}

// deleteIfDone evicts rec from the table once both directions are
// Deletable, mirroring the "no longer interested in socket, ceasing
// monitoring" checks scattered through the original's send/recv paths.
func (h *Hooks) deleteIfDone(key connstate.Key, rec *connstate.Record) {
	if rec.Deletable() {
		h.table.Delete(key)
	}
}
