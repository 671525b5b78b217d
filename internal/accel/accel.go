// Package accel implements the accelerated handle path (spec §4.8,
// component C8): an alternative to copying pixels through the segment's
// video buffer, where the producer instead hands the consumer a set of
// DMA-BUF-style plane descriptors (fd, fourcc, stride, offset, modifier)
// plus an optional fence fd, so the two sides can share a GPU buffer
// directly. Metadata travels as a wire.VideoHandle record over the normal
// event ring; the plane (and fence) file descriptors travel separately
// over the control connection, paired with that record the same way a
// Target/NewSegment record is paired with an FD-transfer.
package accel

import (
	"context"
	"fmt"
	"net"

	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// Plane is one GPU buffer plane, fd included.
type Plane struct {
	Fd       int
	Fourcc   uint32
	Stride   uint32
	Offset   uint32
	Modifier uint64
}

// Handle is a complete accelerated buffer descriptor.
type Handle struct {
	Width, Height uint32
	Planes        []Plane
	FenceFd       int // -1 if no fence
}

// EventPusher is satisfied by shmifclient.Client, shmifparent.Server and
// connpoint.Endpoint.
type EventPusher interface {
	PushEvent(ctx context.Context, rec wire.Record) error
}

// EventPoller is satisfied by the same set of types.
type EventPoller interface {
	PollEvent(ctx context.Context) (wire.Record, error)
}

// Send hands h to the peer: a VideoHandle metadata record through push,
// followed by the plane (and optional fence) file descriptors as an
// SCM_RIGHTS transfer over ctrl.
func Send(ctx context.Context, push EventPusher, ctrl *net.UnixConn, h Handle) error {
	if len(h.Planes) > wire.MaxPlanes {
		return fmt.Errorf("accel: %d planes exceeds max %d", len(h.Planes), wire.MaxPlanes)
	}
	meta := wire.VideoHandleMeta{
		Width:    h.Width,
		Height:   h.Height,
		NPlanes:  uint8(len(h.Planes)),
		HasFence: h.FenceFd >= 0,
	}
	fds := make([]int, 0, len(h.Planes)+1)
	for i, p := range h.Planes {
		meta.Planes[i] = wire.PlaneMeta{Fourcc: p.Fourcc, Stride: p.Stride, Offset: p.Offset, Modifier: p.Modifier}
		fds = append(fds, p.Fd)
	}
	if h.FenceFd >= 0 {
		fds = append(fds, h.FenceFd)
	}

	if err := push.PushEvent(ctx, wire.EncodeVideoHandle(meta)); err != nil {
		return fmt.Errorf("accel: push handle metadata: %w", err)
	}
	if err := semfd.SendFDs(ctrl, fds); err != nil {
		return fmt.Errorf("accel: send plane fds: %w", err)
	}
	return nil
}

// Receive blocks for the next VideoHandle event and the FD transfer that
// accompanies it, reassembling a Handle.
func Receive(ctx context.Context, poll EventPoller, ctrl *net.UnixConn) (Handle, error) {
	rec, err := poll.PollEvent(ctx)
	if err != nil {
		return Handle{}, fmt.Errorf("accel: poll: %w", err)
	}
	meta, err := wire.DecodeVideoHandle(rec)
	if err != nil {
		return Handle{}, fmt.Errorf("accel: decode: %w", err)
	}

	want := int(meta.NPlanes)
	if meta.HasFence {
		want++
	}
	fds, err := semfd.ReceiveFDs(ctrl, want)
	if err != nil {
		return Handle{}, fmt.Errorf("accel: receive plane fds: %w", err)
	}
	if len(fds) != want {
		return Handle{}, fmt.Errorf("accel: expected %d fds, got %d", want, len(fds))
	}

	h := Handle{Width: meta.Width, Height: meta.Height, FenceFd: -1}
	for i := 0; i < int(meta.NPlanes); i++ {
		pm := meta.Planes[i]
		h.Planes = append(h.Planes, Plane{Fd: fds[i], Fourcc: pm.Fourcc, Stride: pm.Stride, Offset: pm.Offset, Modifier: pm.Modifier})
	}
	if meta.HasFence {
		h.FenceFd = fds[meta.NPlanes]
	}
	return h, nil
}
