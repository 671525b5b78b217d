//go:build ring_locked

// Mutex-based fallback for the ring mechanics in ring.go, selected with
// -tags ring_locked. Same API, same semantics, traded lock-free concurrency
// for a plain sync.Mutex guarding the head/tail pair — useful on targets
// where unaligned shared-memory atomics can't be trusted.
package ring

import (
	"context"
	"errors"
	"sync"

	"github.com/arcanshmif/shmifgo/internal/wire"
)

var (
	ErrFull  = errors.New("ring: full")
	ErrEmpty = errors.New("ring: empty")
)

type Signaler interface {
	Post() error
	Wait(ctx context.Context) error
}

type Ring struct {
	mu   sync.Mutex
	buf  []wire.Record
	head *uint32
	tail *uint32
}

func New(buf []wire.Record, head, tail *uint32) *Ring {
	if len(buf) == 0 {
		panic("ring: zero-length buffer")
	}
	return &Ring{buf: buf, head: head, tail: tail}
}

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(*r.head - *r.tail)
}

func (r *Ring) TryPush(rec wire.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if *r.head-*r.tail >= uint32(len(r.buf)) {
		return ErrFull
	}
	r.buf[*r.head%uint32(len(r.buf))] = rec
	*r.head++
	return nil
}

func (r *Ring) TryPop() (wire.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if *r.tail >= *r.head {
		return wire.Record{}, ErrEmpty
	}
	rec := r.buf[*r.tail%uint32(len(r.buf))]
	*r.tail++
	return rec, nil
}

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
