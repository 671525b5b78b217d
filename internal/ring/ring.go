//go:build !ring_locked

// Package ring implements the single-producer/single-consumer event ring
// described in spec §3/§4.3: a fixed-size array of wire.Record slots with a
// monotonically increasing head (producer) and tail (consumer) counter. Both
// counters live in the shared segment header (see internal/segment), so two
// separate processes observe the same memory — ordinary atomic loads/stores
// on that memory are enough to keep both sides coherent, the same way two
// threads would coordinate, because what matters to the CPU's cache-coherence
// protocol is the physical address, not which process mapped it.
//
// This file is the default, lock-free build. Pass -tags ring_locked to build
// the mutex-based fallback in ring_locked.go instead, for targets where
// unaligned or oversized atomic access can't be trusted.
package ring

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/arcanshmif/shmifgo/internal/wire"
)

// ErrFull and ErrEmpty are returned by the non-blocking Try* operations.
var (
	ErrFull  = errors.New("ring: full")
	ErrEmpty = errors.New("ring: empty")
)

// Signaler lets a Ring wake its peer and block waiting to be woken, without
// ring importing internal/semfd directly (semfd's eventfd-backed Semaphore
// satisfies it).
type Signaler interface {
	Post() error
	Wait(ctx context.Context) error
}

// Ring is a fixed-capacity SPSC queue of wire.Record backed by memory the
// caller owns (typically a slice carved out of a mapped segment).
type Ring struct {
	buf  []wire.Record
	head *uint32 // producer-owned; next index to write
	tail *uint32 // consumer-owned; next index to read
}

// New wraps buf as a ring, using head and tail as the shared counters. Both
// pointers are expected to reference shared-segment memory already zeroed by
// whichever side allocated the segment.
func New(buf []wire.Record, head, tail *uint32) *Ring {
	if len(buf) == 0 {
		panic("ring: zero-length buffer")
	}
	return &Ring{buf: buf, head: head, tail: tail}
}

// Cap reports the ring's fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len reports the number of records currently queued. Racy by nature (the
// peer may be mutating concurrently) — intended for diagnostics only.
func (r *Ring) Len() int {
	head := atomic.LoadUint32(r.head)
	tail := atomic.LoadUint32(r.tail)
	return int(head - tail)
}

// TryPush enqueues rec without blocking, returning ErrFull if the ring has no
// free slot.
func (r *Ring) TryPush(rec wire.Record) error {
	head := atomic.LoadUint32(r.head)
	tail := atomic.LoadUint32(r.tail)
	if head-tail >= uint32(len(r.buf)) {
		return ErrFull
	}
	r.buf[head%uint32(len(r.buf))] = rec
	atomic.StoreUint32(r.head, head+1)
	return nil
}

// TryPop dequeues the oldest record without blocking, returning ErrEmpty if
// none is queued.
func (r *Ring) TryPop() (wire.Record, error) {
	tail := atomic.LoadUint32(r.tail)
	head := atomic.LoadUint32(r.head)
	if tail >= head {
		return wire.Record{}, ErrEmpty
	}
	rec := r.buf[tail%uint32(len(r.buf))]
	atomic.StoreUint32(r.tail, tail+1)
	return rec, nil
}

// Push enqueues rec, waiting on sig when the ring is momentarily full, and
// posts sig afterward so a blocked consumer wakes.
func (r *Ring) Push(ctx context.Context, rec wire.Record, sig Signaler) error {
	for {
		err := r.TryPush(rec)
		if err == nil {
			return sig.Post()
		}
		if err != ErrFull {
			return err
		}
		if werr := sig.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// Pop dequeues the oldest record, waiting on sig when the ring is momentarily
// empty, and posts sig afterward so a blocked producer wakes.
func (r *Ring) Pop(ctx context.Context, sig Signaler) (wire.Record, error) {
	for {
		rec, err := r.TryPop()
		if err == nil {
			return rec, sig.Post()
		}
		if err != ErrEmpty {
			return wire.Record{}, err
		}
		if werr := sig.Wait(ctx); werr != nil {
			return wire.Record{}, werr
		}
	}
}
