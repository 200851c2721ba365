//go:build linux

package linux

import (
	"fmt"
	"net"
	"os"
)

// fdTransport implements transport.Transport over a duplicated copy of the
// traced process's socket file descriptor, opened via /proc/<pid>/fd/<fd>
// the same way a debugger or CRIU would pick up another process's open
// descriptor. It's the userspace stand-in for the kernel's own direct
// struct sock* access: the eBPF side only ever observes sizes and
// pid/fd pairs, so actually moving bytes happens here.
type fdTransport struct {
	conn net.Conn
}

// newFDTransport duplicates pid's fd by opening it through procfs and
// wrapping the result as a net.Conn. This requires CAP_SYS_PTRACE (or
// running as the same uid as pid) and fails closed if the descriptor has
// already been closed by the time we get here — the caller treats that the
// same as any other Transport error.
func newFDTransport(pid uint32, fd int32) (*fdTransport, error) {
	path := fmt.Sprintf("/proc/%d/fd/%d", pid, fd)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("trustbase: open traced descriptor %s: %w", path, err)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("trustbase: wrap traced descriptor %s as conn: %w", path, err)
	}
	return &fdTransport{conn: conn}, nil
}

func (t *fdTransport) Send(b []byte) (int, error) { return t.conn.Write(b) }

func (t *fdTransport) Recv(b []byte) (int, error) { return t.conn.Read(b) }

func (t *fdTransport) Close() error { return t.conn.Close() }
