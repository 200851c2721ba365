//go:build linux

// Package core wires the Connection Table, the TLS handshake handler, and
// the Transport Hooks to whatever installs them against real sockets, and
// owns their lifecycle with an errgroup the way a long-running hook/proxy
// component typically does.
package core

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightcandlelight/trustbase-linux/config"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/connstate"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/handler"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/transport"
)

// Installer is the mechanism used to install the transport hooks — kept
// here only as the interface Core depends on, so a real eBPF installer
// (pkg/agent/hooks/linux) and a test double are interchangeable from
// Core's point of view.
type Installer interface {
	// Load attaches to the kernel's TCP connect/send/recv/close path and
	// delivers events to dispatcher until ctx is done or an unrecoverable
	// attach error occurs.
	Load(ctx context.Context, dispatcher Dispatcher) error
}

// Dispatcher is what an Installer calls for every intercepted socket
// operation: the five transport hooks (Connect/Close/Disconnect/Send/Recv).
// Connect takes the dialed host and port so bypass rules can be matched and
// the port carried into the connection's evidence. Send and Recv take
// nonBlocking, the traced syscall's own blocking mode, so a non-blocking
// caller gets an immediate EAGAIN-style result instead of the hooks
// sleeping or looping on its behalf.
type Dispatcher interface {
	Connect(key connstate.Key, host string, port uint16) error
	Close(key connstate.Key)
	Disconnect()
	Send(key connstate.Key, data []byte, real transport.Transport, nonBlocking bool) (int, error)
	Recv(key connstate.Key, dst []byte, real transport.Transport, nonBlocking bool) (int, error)
}

// Core is the top-level object cmd/run.go constructs: one Connection
// Table, one TLS handler shared by every connection, and the Transport
// Hooks that drive both against whatever Installer is configured.
type Core struct {
	logger    *zap.Logger
	cfg       *config.Config
	table     *connstate.Table
	hooks     *transport.Hooks
	handler   *handler.TLSHandler
	installer Installer
}

// New returns a Core backed by a fresh Connection Table.
func New(logger *zap.Logger, cfg *config.Config, h *handler.TLSHandler, installer Installer) *Core {
	table := connstate.NewTable()
	return &Core{
		logger:    logger,
		cfg:       cfg,
		table:     table,
		hooks:     transport.NewHooks(table, logger),
		handler:   h,
		installer: installer,
	}
}

// Table exposes the Connection Table for diagnostics (e.g. AllocBalance
// checks on shutdown to confirm allocation balance returned to zero).
func (c *Core) Table() *connstate.Table { return c.table }

// Connect implements Dispatcher.Connect, mirroring a kernel connect hook's
// conn_state_create call: a record is created regardless of what the
// underlying connect returned — unless the dialed host/port matches a
// configured bypass rule, in which case no record exists and every
// subsequent hook for the socket passes straight through.
func (c *Core) Connect(key connstate.Key, host string, port uint16) error {
	if c.cfg != nil && c.cfg.Bypassed(host, uint(port)) {
		c.logger.Debug("bypassing connection",
			zap.Uint32("pid", key.PID), zap.String("host", host), zap.Uint16("port", port))
		return nil
	}
	_, err := c.hooks.Connect(key, c.handler, port)
	return err
}

// Close implements Dispatcher.Close.
func (c *Core) Close(key connstate.Key) { c.hooks.Close(key) }

// Disconnect implements Dispatcher.Disconnect.
func (c *Core) Disconnect() { c.hooks.Disconnect() }

// Send implements Dispatcher.Send.
func (c *Core) Send(key connstate.Key, data []byte, real transport.Transport, nonBlocking bool) (int, error) {
	return c.hooks.Send(key, data, real, nonBlocking)
}

// Recv implements Dispatcher.Recv.
func (c *Core) Recv(key connstate.Key, dst []byte, real transport.Transport, nonBlocking bool) (int, error) {
	return c.hooks.Recv(key, dst, real, nonBlocking)
}

// Run installs the transport hooks via c's Installer and blocks until ctx
// is cancelled or the installer returns, using an errgroup-owned hook
// lifecycle so an attach failure surfaces to the caller instead of being
// dropped on the floor. On return it drains the Connection Table, mirroring
// a conn_state_free_all call on module unload.
func (c *Core) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.installer.Load(gctx, c)
	})
	err := g.Wait()
	c.table.FreeAll()
	return err
}
