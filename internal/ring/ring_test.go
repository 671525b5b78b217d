package ring

import (
	"context"
	"testing"
	"time"

	"github.com/arcanshmif/shmifgo/internal/wire"
)

// noopSignaler satisfies Signaler for tests that never need to block.
type noopSignaler struct{}

func (noopSignaler) Post() error                     { return nil }
func (noopSignaler) Wait(ctx context.Context) error { return ctx.Err() }

func TestTryPushTryPop(t *testing.T) {
	var head, tail uint32
	buf := make([]wire.Record, 4)
	r := New(buf, &head, &tail)

	for i := 0; i < 4; i++ {
		if err := r.TryPush(wire.EncodeMessage("x")); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := r.TryPush(wire.EncodeMessage("overflow")); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := r.TryPop(); err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
	}
	if _, err := r.TryPop(); err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestFIFOOrder(t *testing.T) {
	var head, tail uint32
	buf := make([]wire.Record, 8)
	r := New(buf, &head, &tail)

	for i := 0; i < 5; i++ {
		msg := string(rune('a' + i))
		if err := r.TryPush(wire.EncodeMessage(msg)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		rec, err := r.TryPop()
		if err != nil {
			t.Fatal(err)
		}
		got, _ := wire.DecodeMessage(rec)
		want := string(rune('a' + i))
		if got != want {
			t.Fatalf("FIFO violated: got %q want %q", got, want)
		}
	}
}

func TestWrapAround(t *testing.T) {
	var head, tail uint32
	buf := make([]wire.Record, 2)
	r := New(buf, &head, &tail)

	for round := 0; round < 100; round++ {
		if err := r.TryPush(wire.EncodeMessage("a")); err != nil {
			t.Fatalf("round %d push1: %v", round, err)
		}
		if err := r.TryPush(wire.EncodeMessage("b")); err != nil {
			t.Fatalf("round %d push2: %v", round, err)
		}
		if _, err := r.TryPop(); err != nil {
			t.Fatalf("round %d pop1: %v", round, err)
		}
		if _, err := r.TryPop(); err != nil {
			t.Fatalf("round %d pop2: %v", round, err)
		}
	}
}

func TestPopBlocksUntilContextCancel(t *testing.T) {
	var head, tail uint32
	buf := make([]wire.Record, 2)
	r := New(buf, &head, &tail)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Pop(ctx, noopSignaler{})
	if err == nil {
		t.Fatal("expected context deadline error popping an empty ring")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	var head, tail uint32
	buf := make([]wire.Record, 16)
	r := New(buf, &head, &tail)

	const n = 2000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			for {
				if err := r.TryPush(wire.EncodeDigital(wire.Digital{Device: 0, Subid: uint16(i % 65536), Active: true})); err == nil {
					break
				}
			}
		}
	}()

	received := 0
	for received < n {
		if _, err := r.TryPop(); err == nil {
			received++
		}
	}
	<-done
}
