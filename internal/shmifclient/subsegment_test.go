package shmifclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/arcanshmif/shmifgo/internal/ring"
	"github.com/arcanshmif/shmifgo/internal/segment"
	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// TestRequestAndAcceptSubSegment exercises the client half of sub-segment
// negotiation against a hand-rolled parent that mimics what
// shmifparent.OfferSubSegment does: hand a fresh segment's descriptors over
// a brand-new socketpair, pass that socketpair's other end to the client
// over the primary control connection, and announce the key/tag pair as a
// Target/NewSegment event on the primary ring.
func TestRequestAndAcceptSubSegment(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "primary.sock")
	const key = "primarykey"

	ready := make(chan struct{})
	go func() {
		l, err := net.Listen("unix", sockPath)
		if err != nil {
			close(ready)
			return
		}
		close(ready)
		raw, err := l.Accept()
		l.Close()
		if err != nil {
			return
		}
		conn := raw.(*net.UnixConn)
		br := bufio.NewReader(conn)
		br.ReadString('\n')

		seg, _ := segment.Allocate(8, 8, 2, 256, 8)
		v, _ := semfd.New()
		a, _ := semfd.New()
		e, _ := semfd.New()
		conn.Write([]byte(fmt.Sprintf("%d\n", seg.Size())))
		semfd.SendFDs(conn, []int{seg.Fd(), v.Fd(), a.Fd(), e.Fd()})

		h := seg.Header()
		toParent := ring.New(ring.RecordsFromBytes(seg.ToParentRing()), &h.ToParentHead, &h.ToParentTail)

		reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer reqCancel()
		reqRec, err := toParent.Pop(reqCtx, e)
		if err != nil {
			return
		}
		req, err := wire.DecodeSegmentRequest(reqRec)
		if err != nil {
			return
		}

		fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
		if err != nil {
			return
		}
		parentFile := os.NewFile(uintptr(fds[0]), "subseg-parent")
		childFile := os.NewFile(uintptr(fds[1]), "subseg-child")

		subConn, err := net.FileConn(parentFile)
		parentFile.Close()
		if err != nil {
			return
		}
		subUnix := subConn.(*net.UnixConn)

		subSeg, _ := segment.Allocate(4, 4, 1, 64, 4)
		sv, _ := semfd.New()
		sa, _ := semfd.New()
		se, _ := semfd.New()
		subUnix.Write([]byte(fmt.Sprintf("%d\n", subSeg.Size())))
		semfd.SendFDs(subUnix, []int{subSeg.Fd(), sv.Fd(), sa.Fd(), se.Fd()})
		subUnix.Close()

		semfd.SendFDs(conn, []int{int(childFile.Fd())})
		childFile.Close()

		toClient := ring.New(ring.RecordsFromBytes(seg.ToClientRing()), &h.ToClientHead, &h.ToClientTail)
		toClient.Push(context.Background(), wire.EncodeNewSegment(wire.NewSegment{Tag: req.Tag, Key: "subkey"}), e)
	}()
	<-ready

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Connect(ctx, sockPath, key)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	tag, err := c.RequestSubSegment(ctx, wire.SegKindPopup, 4, 4)
	if err != nil {
		t.Fatalf("RequestSubSegment: %v", err)
	}

	sub, err := c.AcceptSubSegment(ctx, tag)
	if err != nil {
		t.Fatalf("AcceptSubSegment: %v", err)
	}
	defer sub.Close()

	if sub.seg.Header().W != 4 {
		t.Fatalf("unexpected subsegment width %d", sub.seg.Header().W)
	}
}
