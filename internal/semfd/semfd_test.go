package semfd

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestPostTryWait(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	ok, err := s.TryWait()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected TryWait false on a fresh semaphore")
	}

	if err := s.Post(); err != nil {
		t.Fatal(err)
	}
	ok, err = s.TryWait()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected TryWait true after Post")
	}

	ok, err = s.TryWait()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected TryWait false after the post was consumed")
	}
}

func TestWaitUnblocksOnPost(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- s.Wait(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Post(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not unblock after Post")
	}
}

func TestWaitRespectsContextCancel(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestTimedWaitFalseOnTimeout(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ok, err := s.TimedWait(20 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected false on timeout")
	}
}

func TestSendReceiveFDs(t *testing.T) {
	a, b, err := unixSocketpair()
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	defer b.Close()

	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	errc := make(chan error, 1)
	go func() { errc <- SendFDs(a, []int{s.Fd()}) }()

	fds, err := ReceiveFDs(b, 4)
	if err != nil {
		t.Fatalf("ReceiveFDs: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("SendFDs: %v", err)
	}
	if len(fds) != 1 {
		t.Fatalf("expected 1 fd, got %d", len(fds))
	}

	peer := FromFD(fds[0])
	defer peer.Close()
	if err := s.Post(); err != nil {
		t.Fatal(err)
	}
	ok, err := peer.TryWait()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected the received fd to observe the post made on the original")
	}
}

func unixSocketpair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := socketpair()
	if err != nil {
		return nil, nil, err
	}
	a, err := fdToUnixConn(fds[0])
	if err != nil {
		return nil, nil, err
	}
	b, err := fdToUnixConn(fds[1])
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
