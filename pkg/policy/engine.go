// Package policy implements the Verdict Channel collaborator: the
// out-of-band policy engine the core submits handshake evidence to and
// whose answer the TLS handler replays into FillSendBuffer.
//
// The plugin/congress-threshold/address-book decision algorithm itself is
// a separate concern; what lives here is the boundary the core actually
// depends on (the Engine interface and an Async adapter satisfying
// handler.Submitter) plus one concrete, in-process default engine — using
// the same PLUGIN_RESPONSE_valid/invalid/abstain/error verdict shape and
// poll_schemes-style query signature a plugin-based engine would — so the
// interceptor has a usable trust decision before any real plugin engine is
// wired up.
package policy

import (
	"context"

	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/utils"
)

// Query is the evidence tuple a policy engine renders a verdict over,
// mirroring a poll_schemes(pid, state_ptr, hostname, port, raw_chain,
// chain_len, client_hello, ch_len, server_hello, sh_len)-style call. PID/FD
// here stand in for the opaque state_ptr such a callback would thread
// through.
type Query struct {
	PID         uint32
	FD          int32
	Hostname    string
	Port        uint16
	Chain       [][]byte
	RawChain    []byte
	ClientHello []byte
	ServerHello []byte
}

// Engine is the synchronous collaborator that turns a Query into a
// verdict. A real deployment's Engine might fan a query out to multiple
// plugins and apply a congress threshold; that algorithm lives entirely
// behind this interface.
type Engine interface {
	Query(ctx context.Context, q Query) evidence.Verdict
}

// Async adapts a synchronous Engine into the handler.Submitter the TLS
// handler calls, running the (potentially slow: network round trips to a
// plugin, chain verification) query on its own goroutine so the hooked
// thread never blocks on it: submission is non-blocking and fire-and-forget
// from the handler's perspective.
type Async struct {
	Engine Engine
	Logger *zap.Logger
}

// NewAsync returns a Submitter that queries engine on a spawned goroutine.
func NewAsync(engine Engine, logger *zap.Logger) *Async {
	return &Async{Engine: engine, Logger: logger}
}

// Submit implements handler.Submitter.
func (a *Async) Submit(ev *evidence.Evidence) {
	snap := ev.Snapshot()
	go func() {
		defer utils.Recover(a.Logger)
		verdict := a.Engine.Query(context.Background(), Query{
			PID:         snap.PID,
			FD:          snap.FD,
			Hostname:    snap.Hostname,
			Port:        snap.Port,
			Chain:       snap.Chain,
			RawChain:    snap.RawChain,
			ClientHello: snap.ClientHello,
			ServerHello: snap.ServerHello,
		})
		if a.Logger != nil {
			a.Logger.Debug("policy verdict rendered",
				zap.Uint32("pid", snap.PID),
				zap.String("hostname", snap.Hostname),
				zap.Int("verdict", int(verdict)),
			)
		}
		ev.SetVerdict(verdict)
	}()
}
