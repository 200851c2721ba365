//go:build !linux

package core

import (
	"context"
	"fmt"
	"runtime"

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
	Load(ctx context.Context, dispatcher Dispatcher) error
}

// Dispatcher is what an Installer calls for every intercepted socket
// operation: the five transport hooks (Connect/Close/Disconnect/Send/Recv).
type Dispatcher interface {
	Connect(key connstate.Key, host string, port uint16) error
	Close(key connstate.Key)
	Disconnect()
	Send(key connstate.Key, data []byte, real transport.Transport, nonBlocking bool) (int, error)
	Recv(key connstate.Key, dst []byte, real transport.Transport, nonBlocking bool) (int, error)
}

// Core on non-Linux platforms still exposes the Connection Table, Transport
// Hooks and handler wiring so unit tests (connstate, transport, handler)
// build and run everywhere, but Run always fails: the only Installer this
// repo ships (pkg/agent/hooks/linux) attaches eBPF kprobes, which only
// exist on Linux.
type Core struct {
	logger    *zap.Logger
	cfg       *config.Config
	table     *connstate.Table
	hooks     *transport.Hooks
	handler   *handler.TLSHandler
	installer Installer
}

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

func (c *Core) Table() *connstate.Table { return c.table }

func (c *Core) Connect(key connstate.Key, host string, port uint16) error {
	if c.cfg != nil && c.cfg.Bypassed(host, uint(port)) {
		c.logger.Debug("bypassing connection",
			zap.Uint32("pid", key.PID), zap.String("host", host), zap.Uint16("port", port))
		return nil
	}
	_, err := c.hooks.Connect(key, c.handler, port)
	return err
}

func (c *Core) Close(key connstate.Key) { c.hooks.Close(key) }

func (c *Core) Disconnect() { c.hooks.Disconnect() }

func (c *Core) Send(key connstate.Key, data []byte, real transport.Transport, nonBlocking bool) (int, error) {
	return c.hooks.Send(key, data, real, nonBlocking)
}

func (c *Core) Recv(key connstate.Key, dst []byte, real transport.Transport, nonBlocking bool) (int, error) {
	return c.hooks.Recv(key, dst, real, nonBlocking)
}

// Run always fails on non-Linux builds: there is no installer capable of
// attaching to tcp_sendmsg/tcp_recvmsg/tcp_v4_connect/tcp_close here.
func (c *Core) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = gctx
		return fmt.Errorf("trustbase: transport hook installation is only supported on linux (running on %s)", runtime.GOOS)
	})
	err := g.Wait()
	c.table.FreeAll()
	return err
}
