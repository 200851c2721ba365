//go:build linux

// Package linux adapts the Connection Table and Transport Hooks to real TCP
// sockets using eBPF kprobes on the kernel's TCP fast path: instead of
// swapping function pointers in tcp_prot the way an in-kernel module would,
// it traces tcp_v4_connect, tcp_close, tcp_sendmsg and tcp_recvmsg and
// republishes each call to userspace as a ring buffer event, attached with
// the usual rlimit.RemoveMemlock + link.Kprobe/link.Kretprobe sequence.
package linux

import (
	"encoding/binary"
	"fmt"
	"net"
)

// eventKind mirrors which of the four traced kernel functions produced an
// event, matching the four transport hook names (Connect/Close/Send/Recv).
type eventKind uint32

const (
	eventConnect eventKind = iota
	eventClose
	eventSend
	eventRecv
)

// flagNonBlocking marks a send/recv event traced from a syscall invoked with
// MSG_DONTWAIT (or a socket already in O_NONBLOCK mode), the bit the eBPF
// probe reads straight off the traced msghdr/socket flags.
const flagNonBlocking uint32 = 1 << 0

// connEvent is the wire layout of the struct the compiled eBPF object
// writes into the "events" ring buffer — one per traced syscall, carrying
// just enough to key the Connection Table, size a buffer read out of the
// traced process through fdTransport, preserve the call's own
// blocking/non-blocking mode, and name the dialed peer (read off struct
// sock's sk_daddr/sk_dport by the connect probe) so bypass rules can be
// matched and the evidence tuple carries a real port.
//
//	struct conn_event {
//	    u32 kind;
//	    u32 pid;
//	    s32 fd;
//	    s32 len;
//	    u32 flags;
//	    u8  daddr[4]; // IPv4 destination, network byte order
//	    u16 dport;    // destination port, host byte order (bpf_ntohs'd)
//	    u16 _pad;
//	};
type connEvent struct {
	Kind  eventKind
	PID   uint32
	FD    int32
	Len   int32
	Flags uint32
	DAddr [4]byte
	DPort uint16
}

const connEventSize = 28

// NonBlocking reports whether the traced syscall that produced ev was
// invoked in non-blocking mode.
func (ev connEvent) NonBlocking() bool {
	return ev.Flags&flagNonBlocking != 0
}

// RemoteHost renders the traced connection's IPv4 destination address,
// the host a bypass rule's Host field is matched against.
func (ev connEvent) RemoteHost() string {
	return net.IP(ev.DAddr[:]).String()
}

func decodeConnEvent(b []byte) (connEvent, error) {
	if len(b) < connEventSize {
		return connEvent{}, fmt.Errorf("trustbase: short conn_event record: got %d bytes, want %d", len(b), connEventSize)
	}
	ev := connEvent{
		Kind:  eventKind(binary.LittleEndian.Uint32(b[0:4])),
		PID:   binary.LittleEndian.Uint32(b[4:8]),
		FD:    int32(binary.LittleEndian.Uint32(b[8:12])),
		Len:   int32(binary.LittleEndian.Uint32(b[12:16])),
		Flags: binary.LittleEndian.Uint32(b[16:20]),
		DPort: binary.LittleEndian.Uint16(b[24:26]),
	}
	copy(ev.DAddr[:], b[20:24])
	return ev, nil
}
