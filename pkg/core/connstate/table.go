// Package connstate is the Connection Table: a concurrent-safe map from
// (pid, fd) to per-connection state, generalized from a kernel module's
// hash table keyed on pid^fd (th_conn_state_create / _get / _delete /
// _free_all) to a Go map indexed the same way, with the concurrency shape
// of a routine-safe map-of-trackers.
package connstate

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/direction"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/pkg/core/handler"
	"github.com/brightcandlelight/trustbase-linux/pkg/models"
)

// Key identifies a connection the same way the original kernel module did:
// by the owning process id and its socket file descriptor.
type Key struct {
	PID uint32
	FD  int32
}

// hash reproduces the original's bucket key, pid XOR fd, used purely to pick
// a bucket — never for equality, which is always the exact (PID, FD) pair.
func (k Key) hash() uint32 {
	return k.PID ^ uint32(k.FD)
}

// numBuckets mirrors HASH_TABLE_BITSIZE=8 from connection_state.c: 2^8
// buckets, indexed with a bitwise AND since it's a power of two.
const numBuckets = 256

// Table is the Connection Table. The zero value is not usable; construct
// one with NewTable.
type Table struct {
	mu      sync.RWMutex
	buckets [numBuckets][]*Record

	allocs int64
	frees  int64
}

// NewTable returns an empty Connection Table, mirroring
// th_conn_state_init_all resetting the alloc/free counter to zero.
func NewTable() *Table {
	return &Table{}
}

// Create inserts a new record for key, owned by ops and bound to the
// dialed port, and returns it. It fails if a record for key already exists
// — the original C code has no such guard (a second th_conn_state_create
// for the same pid/fd would just shadow the first in the bucket chain), but
// that's a connect-hook misuse this redesign chooses to surface as an error
// instead of silently leaking the first record.
func (t *Table) Create(key Key, ops handler.Ops, port uint16) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := key.hash() & (numBuckets - 1)
	for _, r := range t.buckets[b] {
		if r.Key == key {
			return nil, fmt.Errorf("connstate: record already exists for pid=%d fd=%d", key.PID, key.FD)
		}
	}

	ev := evidence.New(key.PID, key.FD, port)
	rec := &Record{
		Key:      key,
		StateTag: Unknown,
		Send:     direction.New(true, ev),
		Recv:     direction.New(false, ev),
		Ops:      ops,

		QueuedSendRet: models.TransportNeutral{},
		QueuedRecvRet: models.TransportNeutral{},
	}
	t.buckets[b] = append(t.buckets[b], rec)
	atomic.AddInt64(&t.allocs, 1)
	return rec, nil
}

// Get looks up the record for key, mirroring th_conn_state_get's bucket
// walk with an exact (pid, fd) equality check.
func (t *Table) Get(key Key) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := key.hash() & (numBuckets - 1)
	for _, r := range t.buckets[b] {
		if r.Key == key {
			return r, true
		}
	}
	return nil, false
}

// Delete removes the record for key, if one exists, and reports whether it
// found one, mirroring th_conn_state_delete's found flag.
func (t *Table) Delete(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := key.hash() & (numBuckets - 1)
	bucket := t.buckets[b]
	for i, r := range bucket {
		if r.Key == key {
			t.buckets[b] = append(bucket[:i:i], bucket[i+1:]...)
			atomic.AddInt64(&t.frees, 1)
			return true
		}
	}
	return false
}

// FreeAll drops every record in the table, mirroring
// th_conn_state_free_all's drain-and-log-the-balance behavior on shutdown.
func (t *Table) FreeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.buckets {
		t.frees += int64(len(t.buckets[i]))
		t.buckets[i] = nil
	}
}

// AllocBalance reports allocs-minus-frees, the same running counter
// interceptor.c logs via the global allocsminusfrees on module unload —
// nonzero at shutdown means a connection's close hook never ran.
func (t *Table) AllocBalance() int64 {
	return atomic.LoadInt64(&t.allocs) - atomic.LoadInt64(&t.frees)
}
