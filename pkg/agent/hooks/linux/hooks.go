//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/pkg/core"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/connstate"
	"github.com/brightcandlelight/trustbase-linux/utils"
)

// bpfObjects names the programs and maps the compiled object (built
// separately by clang/libbpf, not by `go build`) must export, the same
// shape a bpf2go-generated bpfObjects struct would have without the
// generated loader: this repo loads the object from cfg.Hook.ObjectPath at
// runtime instead of embedding it, since the object is a
// platform/kernel-specific build artifact rather than portable Go source.
type bpfObjects struct {
	ConnectEntry *ebpf.Program `ebpf:"trustbase_tcp_v4_connect"`
	ConnectRet   *ebpf.Program `ebpf:"trustbase_tcp_v4_connect_ret"`
	Close        *ebpf.Program `ebpf:"trustbase_tcp_close"`
	SendEntry    *ebpf.Program `ebpf:"trustbase_tcp_sendmsg"`
	SendRet      *ebpf.Program `ebpf:"trustbase_tcp_sendmsg_ret"`
	RecvEntry    *ebpf.Program `ebpf:"trustbase_tcp_recvmsg"`
	RecvRet      *ebpf.Program `ebpf:"trustbase_tcp_recvmsg_ret"`
	Events       *ebpf.Map     `ebpf:"events"`
}

func (o *bpfObjects) Close() error {
	return closeAll(o.ConnectEntry, o.ConnectRet, o.Close, o.SendEntry, o.SendRet, o.RecvEntry, o.RecvRet, o.Events)
}

func closeAll(closers ...interface{ Close() error }) error {
	var errs []string
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Hooks is the Installer (pkg/core.Installer) that attaches kprobes and
// kretprobes on the four traced TCP functions and republishes their events
// against a Dispatcher, the eBPF
// analogue of overriding a kernel module's tcp_prot table.
type Hooks struct {
	logger     *zap.Logger
	objectPath string
}

func NewHooks(logger *zap.Logger, cfg *config.Config) *Hooks {
	return &Hooks{logger: logger, objectPath: cfg.Hook.ObjectPath}
}

// Load implements core.Installer: it loads and attaches the compiled
// object, then pumps ring buffer events into dispatcher until ctx is
// cancelled. An empty ObjectPath is treated as "instrumentation disabled"
// rather than an error, since the object is an external build artifact
// this module can't produce for every kernel/arch pair on its own.
func (h *Hooks) Load(ctx context.Context, dispatcher core.Dispatcher) error {
	if h.objectPath == "" {
		<-ctx.Done()
		return nil
	}

	if !utils.CheckFileExists(h.objectPath) {
		err := fmt.Errorf("compiled eBPF object %q does not exist", h.objectPath)
		utils.LogError(h.logger, err, "failed to locate compiled eBPF object")
		return err
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		utils.LogError(h.logger, err, "failed to raise memlock rlimit for eBPF resources")
		return err
	}

	spec, err := ebpf.LoadCollectionSpec(h.objectPath)
	if err != nil {
		utils.LogError(h.logger, err, "failed to parse compiled eBPF object", zap.String("path", h.objectPath))
		return err
	}

	var objs bpfObjects
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			h.logger.Debug("verifier rejected program", zap.String("log", strings.Join(ve.Log, "\n")))
		}
		utils.LogError(h.logger, err, "failed to load eBPF objects into the kernel")
		return err
	}
	defer func() {
		if err := objs.Close(); err != nil {
			utils.LogError(h.logger, err, "failed to close eBPF objects")
		}
	}()

	attachments := []struct {
		name string
		fn   func() (link.Link, error)
	}{
		{"tcp_v4_connect", func() (link.Link, error) { return link.Kprobe("tcp_v4_connect", objs.ConnectEntry, nil) }},
		{"tcp_v4_connect (ret)", func() (link.Link, error) { return link.Kretprobe("tcp_v4_connect", objs.ConnectRet, nil) }},
		{"tcp_close", func() (link.Link, error) { return link.Kprobe("tcp_close", objs.Close, nil) }},
		{"tcp_sendmsg", func() (link.Link, error) { return link.Kprobe("tcp_sendmsg", objs.SendEntry, nil) }},
		{"tcp_sendmsg (ret)", func() (link.Link, error) { return link.Kretprobe("tcp_sendmsg", objs.SendRet, nil) }},
		{"tcp_recvmsg", func() (link.Link, error) { return link.Kprobe("tcp_recvmsg", objs.RecvEntry, nil) }},
		{"tcp_recvmsg (ret)", func() (link.Link, error) { return link.Kretprobe("tcp_recvmsg", objs.RecvRet, nil) }},
	}
	var links []link.Link
	defer func() {
		for _, l := range links {
			if err := l.Close(); err != nil {
				utils.LogError(h.logger, err, "failed to detach kprobe")
			}
		}
	}()
	for _, a := range attachments {
		l, err := a.fn()
		if err != nil {
			utils.LogError(h.logger, err, fmt.Sprintf("failed to attach probe on %s", a.name))
			return err
		}
		links = append(links, l)
	}

	reader, err := ringbuf.NewReader(objs.Events)
	if err != nil {
		utils.LogError(h.logger, err, "failed to open events ring buffer")
		return err
	}
	defer reader.Close()

	go func() {
		<-ctx.Done()
		_ = reader.Close()
	}()

	h.logger.Info("attached transport hooks", zap.String("object", h.objectPath))
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			utils.LogError(h.logger, err, "failed to read from events ring buffer")
			return err
		}
		ev, err := decodeConnEvent(record.RawSample)
		if err != nil {
			utils.LogError(h.logger, err, "dropping malformed ring buffer record")
			continue
		}
		h.dispatch(ev, dispatcher)
	}
}

// dispatch turns one traced syscall into the matching Dispatcher call,
// opening a fresh fdTransport per event: the traced descriptor can't be
// cached across events because the owning process may have closed and
// reused it between syscalls.
func (h *Hooks) dispatch(ev connEvent, dispatcher core.Dispatcher) {
	key := connstate.Key{PID: ev.PID, FD: ev.FD}
	switch ev.Kind {
	case eventConnect:
		if err := dispatcher.Connect(key, ev.RemoteHost(), ev.DPort); err != nil {
			utils.LogError(h.logger, err, "dispatcher rejected new connection", zap.Uint32("pid", ev.PID), zap.Int32("fd", ev.FD))
		}
	case eventClose:
		dispatcher.Close(key)
	case eventSend, eventRecv:
		ft, err := newFDTransport(ev.PID, ev.FD)
		if err != nil {
			utils.LogError(h.logger, err, "failed to open traced descriptor for forwarding", zap.Uint32("pid", ev.PID), zap.Int32("fd", ev.FD))
			return
		}
		defer ft.Close()
		buf := make([]byte, ev.Len)
		nonBlocking := ev.NonBlocking()
		if ev.Kind == eventSend {
			if _, err := dispatcher.Send(key, buf, ft, nonBlocking); err != nil && !utils.IsShutdownError(err) {
				utils.LogError(h.logger, err, "send hook failed")
			}
		} else {
			if _, err := dispatcher.Recv(key, buf, ft, nonBlocking); err != nil && !utils.IsShutdownError(err) {
				utils.LogError(h.logger, err, "recv hook failed")
			}
		}
	}
}
