package shmifclient

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// subSegmentTags hands out request tags unique within this process, letting
// a client correlate the Target/NewSegment reply against the request that
// produced it when several sub-segment requests are in flight at once.
var subSegmentTags uint32

// RequestSubSegment asks the parent for a secondary segment of the given
// kind and size (spec §4.5 "sub-segment") and returns the tag to watch for
// in the matching Target/NewSegment reply. The request travels as an
// External/SegmentRequest event; it does not block for the reply.
func (c *Client) RequestSubSegment(ctx context.Context, kind wire.SegKind, w, h uint32) (uint32, error) {
	tag := atomic.AddUint32(&subSegmentTags, 1)
	req := wire.SegmentRequest{Kind: kind, W: uint16(w), H: uint16(h), Tag: tag}
	if err := c.PushEvent(ctx, wire.EncodeSegmentRequest(req)); err != nil {
		return 0, fmt.Errorf("shmifclient: request subsegment: %w", err)
	}
	return tag, nil
}

// AcceptSubSegment polls the parent-to-client ring for the Target/NewSegment
// reply matching tag, then receives the accompanying descriptor over the
// control connection and completes its handshake exactly like a primary
// connection (shared finishHandshake helper) — the same "metadata over the
// ring, descriptor over ctrl" split shmifparent.OfferSubSegment writes.
// Events that don't match tag are discarded; callers that also need
// ordinary events should drain PollEvent themselves before calling this.
func (c *Client) AcceptSubSegment(ctx context.Context, tag uint32) (*Client, error) {
	for {
		rec, err := c.PollEvent(ctx)
		if err != nil {
			return nil, fmt.Errorf("shmifclient: awaiting subsegment reply: %w", err)
		}
		ns, err := wire.DecodeNewSegment(rec)
		if err != nil {
			continue // not the reply we're waiting for, keep draining
		}
		if ns.Tag != tag {
			continue
		}

		fds, err := semfd.ReceiveFDs(c.ctrl, 1)
		if err != nil {
			return nil, fmt.Errorf("shmifclient: receive subsegment fd: %w", err)
		}
		if len(fds) != 1 {
			return nil, fmt.Errorf("shmifclient: expected 1 subsegment fd, got %d", len(fds))
		}

		f := os.NewFile(uintptr(fds[0]), "shmif-subseg")
		rawConn, err := net.FileConn(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("shmifclient: subsegment fileconn: %w", err)
		}
		conn, ok := rawConn.(*net.UnixConn)
		if !ok {
			rawConn.Close()
			return nil, fmt.Errorf("shmifclient: subsegment not a unix conn")
		}

		return finishHandshake(ctx, conn)
	}
}
