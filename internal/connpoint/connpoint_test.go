package connpoint

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcanshmif/shmifgo/internal/semfd"
)

func TestAcceptWithCorrectKeySucceeds(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "cp.sock")
	l, err := Listen(sockPath, "secret", 16, 16, 2, 512, 8)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	active := make(chan *Endpoint, 1)
	go l.Serve(ctx, func(ctx context.Context, ep *Endpoint) {
		active <- ep
	})

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("secret\n")); err != nil {
		t.Fatalf("write key: %v", err)
	}

	uc := conn.(*net.UnixConn)
	sizeLine, err := bufio.NewReader(uc).ReadString('\n')
	if err != nil {
		t.Fatalf("read size: %v", err)
	}
	if sizeLine == "" {
		t.Fatal("expected non-empty size line")
	}
	if _, err := semfd.ReceiveFDs(uc, 4); err != nil {
		t.Fatalf("ReceiveFDs: %v", err)
	}

	select {
	case ep := <-active:
		if ep.State() != StateActive {
			t.Fatalf("expected StateActive, got %s", ep.State())
		}
		ep.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestAcceptWithWrongKeyRejected(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "cp2.sock")
	l, err := Listen(sockPath, "secret", 16, 16, 2, 512, 8)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	active := make(chan *Endpoint, 1)
	go l.Serve(ctx, func(ctx context.Context, ep *Endpoint) {
		active <- ep
	})

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("wrong-key\n")); err != nil {
		t.Fatalf("write key: %v", err)
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be closed after a bad key")
	}

	select {
	case <-active:
		t.Fatal("handler should not run for a rejected key")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConsumeVideoClearsReadyAndPostsAck(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "cp4.sock")
	l, err := Listen(sockPath, "secret", 8, 8, 2, 256, 8)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	active := make(chan *Endpoint, 1)
	go l.Serve(ctx, func(ctx context.Context, ep *Endpoint) { active <- ep })

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("secret\n")); err != nil {
		t.Fatalf("write key: %v", err)
	}
	uc := conn.(*net.UnixConn)
	if _, err := bufio.NewReader(uc).ReadString('\n'); err != nil {
		t.Fatalf("read size: %v", err)
	}
	if _, err := semfd.ReceiveFDs(uc, 4); err != nil {
		t.Fatalf("ReceiveFDs: %v", err)
	}

	var ep *Endpoint
	select {
	case ep = <-active:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
	defer ep.Close()

	hdr := ep.seg.Header()
	hdr.VReady = 1

	got, err := ep.ConsumeVideo(nil)
	if err != nil {
		t.Fatalf("ConsumeVideo: %v", err)
	}
	if !got {
		t.Fatal("expected ConsumeVideo to report a ready frame")
	}
	if hdr.VReady != 0 {
		t.Fatal("ConsumeVideo must clear VReady")
	}
	if ok, err := ep.videoSem.TryWait(); err != nil || !ok {
		t.Fatalf("expected ConsumeVideo to post videoSem back, ok=%v err=%v", ok, err)
	}
}

func TestKeyFieldWidthPaddingAvoidsLengthMismatchShortCircuit(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "cp3.sock")
	// A key right at the padded width boundary still round-trips.
	longKey := ""
	for i := 0; i < keyFieldWidth; i++ {
		longKey += "a"
	}
	l, err := Listen(sockPath, longKey, 8, 8, 2, 256, 8)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	active := make(chan *Endpoint, 1)
	go l.Serve(ctx, func(ctx context.Context, ep *Endpoint) { active <- ep })

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(longKey + "\n")); err != nil {
		t.Fatalf("write key: %v", err)
	}
	uc := conn.(*net.UnixConn)
	if _, err := bufio.NewReader(uc).ReadString('\n'); err != nil {
		t.Fatalf("read size: %v", err)
	}

	select {
	case ep := <-active:
		ep.Close()
	case <-time.After(1 * time.Second):
		t.Fatal("expected max-width key to authenticate successfully")
	}
}
