package shmifparent

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/google/uuid"

	"github.com/arcanshmif/shmifgo/internal/ring"
	"github.com/arcanshmif/shmifgo/internal/segment"
	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// SubSegment is a secondary segment offered to an already-connected client
// (spec §4.5 "sub-segment") — e.g. a popup, clipboard, or accessibility
// channel layered on top of the primary video/audio segment. It shares the
// primary Server's child process for watchdog purposes (there is no
// separate cmd/exited tracking here), but owns its own shared memory,
// semaphores, and event rings.
type SubSegment struct {
	seg *segment.Segment

	eventSem *semfd.Semaphore
	videoSem *semfd.Semaphore
	audioSem *semfd.Semaphore

	toClient *ring.Ring
	toParent *ring.Ring

	key string
	tag uint32
}

// OfferSubSegment allocates a new segment in response to a client's
// External/SegmentRequest (req) and hands it to the same child that owns s,
// following the two-channel negotiation spec §4.5 and §6 describe: the
// segment size and its four descriptors (segment plus three semaphores) are
// written to a fresh socketpair whose child end travels over the existing
// control connection, while the connection key and request tag travel as a
// Target/NewSegment event pushed onto the primary ring so the client can
// correlate the inbound descriptor with the request it made.
func (s *Server) OfferSubSegment(ctx context.Context, req wire.SegmentRequest, audioSamples, ringCapacity uint32) (*SubSegment, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("shmifparent: subsegment socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "shmif-subseg-parent")
	childFile := os.NewFile(uintptr(fds[1]), "shmif-subseg-child")
	defer childFile.Close()

	rawConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		childFile.Close()
		return nil, fmt.Errorf("shmifparent: subsegment fileconn: %w", err)
	}
	conn, ok := rawConn.(*net.UnixConn)
	if !ok {
		rawConn.Close()
		return nil, fmt.Errorf("shmifparent: subsegment not a unix conn")
	}

	w, h := uint32(req.W), uint32(req.H)
	seg, err := segment.Allocate(w, h, 1, audioSamples, ringCapacity)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifparent: subsegment allocate: %w", err)
	}
	vsem, err := semfd.New()
	if err != nil {
		conn.Close()
		seg.Close()
		return nil, fmt.Errorf("shmifparent: subsegment video sem: %w", err)
	}
	asem, err := semfd.New()
	if err != nil {
		conn.Close()
		seg.Close()
		vsem.Close()
		return nil, fmt.Errorf("shmifparent: subsegment audio sem: %w", err)
	}
	esem, err := semfd.New()
	if err != nil {
		conn.Close()
		seg.Close()
		vsem.Close()
		asem.Close()
		return nil, fmt.Errorf("shmifparent: subsegment event sem: %w", err)
	}

	if _, err := conn.Write([]byte(fmt.Sprintf("%d\n", seg.Size()))); err != nil {
		conn.Close()
		seg.Close()
		vsem.Close()
		asem.Close()
		esem.Close()
		return nil, fmt.Errorf("shmifparent: subsegment write size: %w", err)
	}
	if err := semfd.SendFDs(conn, []int{seg.Fd(), vsem.Fd(), asem.Fd(), esem.Fd()}); err != nil {
		conn.Close()
		seg.Close()
		vsem.Close()
		asem.Close()
		esem.Close()
		return nil, fmt.Errorf("shmifparent: subsegment send fds: %w", err)
	}
	conn.Close() // the client's end now owns the handshake; the socketpair's job is done

	key := uuid.New().String()
	sub := &SubSegment{
		seg:      seg,
		videoSem: vsem,
		audioSem: asem,
		eventSem: esem,
		key:      key,
		tag:      req.Tag,
	}
	sub.rebuildRings()

	// Hand the other end of the new socketpair to the child over the
	// existing control connection, the same "descriptor over ctrl, metadata
	// over the ring" split internal/accel uses for plane and fence descriptors.
	if err := semfd.SendFDs(s.ctrl, []int{int(childFile.Fd())}); err != nil {
		sub.Close()
		return nil, fmt.Errorf("shmifparent: subsegment handing child fd: %w", err)
	}
	if err := s.PushEvent(ctx, wire.EncodeNewSegment(wire.NewSegment{Tag: req.Tag, Key: key})); err != nil {
		sub.Close()
		return nil, fmt.Errorf("shmifparent: subsegment announcing new segment: %w", err)
	}

	return sub, nil
}

func (sub *SubSegment) rebuildRings() {
	h := sub.seg.Header()
	sub.toClient = ring.New(ring.RecordsFromBytes(sub.seg.ToClientRing()), &h.ToClientHead, &h.ToClientTail)
	sub.toParent = ring.New(ring.RecordsFromBytes(sub.seg.ToParentRing()), &h.ToParentHead, &h.ToParentTail)
}

// Key is the connection key announced to the client in the
// Target/NewSegment event. The client side (internal/shmifclient) matches
// the announcement by Tag, not by Key.
func (sub *SubSegment) Key() string { return sub.key }

// Tag is the request tag the client supplied in its SegmentRequest.
func (sub *SubSegment) Tag() uint32 { return sub.tag }

// PushEvent enqueues an event for the sub-segment's client.
func (sub *SubSegment) PushEvent(ctx context.Context, rec wire.Record) error {
	return sub.toClient.Push(ctx, rec, sub.eventSem)
}

// PollEvent dequeues the next event from the sub-segment's client.
func (sub *SubSegment) PollEvent(ctx context.Context) (wire.Record, error) {
	return sub.toParent.Pop(ctx, sub.eventSem)
}

// VideoBuffer exposes the sub-segment's RGBA8888 plane.
func (sub *SubSegment) VideoBuffer() []byte { return sub.seg.VideoBuffer() }

// AudioBuffer exposes the sub-segment's PCM16 buffer.
func (sub *SubSegment) AudioBuffer() []byte { return sub.seg.AudioBuffer() }

// Close releases the sub-segment's resources. It does not affect the
// primary segment or the child process.
func (sub *SubSegment) Close() error {
	sub.videoSem.Close()
	sub.audioSem.Close()
	sub.eventSem.Close()
	return sub.seg.Close()
}
