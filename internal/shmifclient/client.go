// Package shmifclient implements the client side of a segment's lifecycle
// (spec §4.4, component C4): connecting to a connection point, receiving
// the mapped segment and its semaphores, registering an archetype,
// signaling new frames, requesting resizes, and tearing down cleanly when
// the parent disappears.
package shmifclient

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/arcanshmif/shmifgo/internal/ring"
	"github.com/arcanshmif/shmifgo/internal/segment"
	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// resizeTimeout bounds how long RequestResize spins waiting for the parent
// to service a resize before giving up with an error; the segment stays
// mapped until Close — spec.md
// §9's open question on unbounded resize waits, resolved in SPEC_FULL §3.
const resizeTimeout = 5 * time.Second

const resizePollInterval = 5 * time.Millisecond

// signalPollInterval bounds how often a blocking Signal call rechecks the
// dead-man's switch while waiting for the consumer's ack.
const signalPollInterval = 20 * time.Millisecond

// SignalMode selects how SignalVideo/SignalAudio wait for the consumer's
// acknowledgement (spec §4.4 "signal(mask)").
type SignalMode int

const (
	// SignalForce always waits for the consumer to clear the ready flag and
	// post the semaphore back before returning.
	SignalForce SignalMode = iota
	// SignalNone sets the ready flag and returns immediately without waiting for an ack —
	// "fire and forget", which may tear a frame if the consumer is still
	// mid-read of the previous one.
	SignalNone
	// SignalOnce returns immediately, without signaling again, if a
	// previous signal on the same buffer is still unacknowledged; otherwise
	// it behaves like SignalForce.
	SignalOnce
)

// Client is one connected frameserver-side endpoint.
type Client struct {
	ctrl *net.UnixConn
	seg  *segment.Segment

	eventSem *semfd.Semaphore
	videoSem *semfd.Semaphore
	audioSem *semfd.Semaphore

	toClient *ring.Ring // parent -> client, client reads
	toParent *ring.Ring // client -> parent, client writes

	videoPending atomic.Bool // SignalOnce: a video signal is still unacknowledged
	audioPending atomic.Bool // SignalOnce: an audio signal is still unacknowledged

	dead   atomic.Bool
	cancel context.CancelFunc
}

// Connect dials a connection point's listening socket, performs the
// preshared-key handshake and receives the mapped segment plus its three
// semaphores (video, audio, event — spec §4.1/§4.4).
func Connect(ctx context.Context, socketPath, key string) (*Client, error) {
	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("shmifclient: dial: %w", err)
	}
	conn, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("shmifclient: not a unix socket connection")
	}

	// 64 is the key field width internal/connpoint compares against.
	if _, err := conn.Write([]byte(wire.Truncate(key, 64) + "\n")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: send key: %w", err)
	}

	return finishHandshake(ctx, conn)
}

// ConnectFD completes the handshake over an already-open control
// descriptor, typically one inherited from a directly-spawned parent via
// os.Environ()[EnvSockFD] (shmifparent.Spawn's counterpart). No key is
// exchanged: a direct fork/exec already establishes trust, unlike the
// listening connection point in internal/connpoint.
func ConnectFD(ctx context.Context, fd int) (*Client, error) {
	f := os.NewFile(uintptr(fd), "shmif-inherited")
	rawConn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("shmifclient: fileconn: %w", err)
	}
	conn, ok := rawConn.(*net.UnixConn)
	if !ok {
		rawConn.Close()
		return nil, fmt.Errorf("shmifclient: not a unix socket connection")
	}
	return finishHandshake(ctx, conn)
}

// finishHandshake reads the segment-size line, receives the segment and
// semaphore file descriptors, maps the segment and starts the guard
// goroutine. Shared by Connect (keyed, dialed) and ConnectFD (trusted,
// inherited).
func finishHandshake(ctx context.Context, conn *net.UnixConn) (*Client, error) {
	sizeLine, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: read segment size: %w", err)
	}
	var segSize uint32
	if _, err := fmt.Sscanf(sizeLine, "%d\n", &segSize); err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: parse segment size %q: %w", sizeLine, err)
	}

	fds, err := semfd.ReceiveFDs(conn, 4)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: receive fds: %w", err)
	}
	if len(fds) != 4 {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: expected 4 fds (segment, video, audio, event), got %d", len(fds))
	}

	seg, err := segment.Attach(fds[0], segSize)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("shmifclient: attach segment: %w", err)
	}

	c := &Client{
		ctrl:     conn,
		seg:      seg,
		videoSem: semfd.FromFD(fds[1]),
		audioSem: semfd.FromFD(fds[2]),
		eventSem: semfd.FromFD(fds[3]),
	}
	c.rebuildRings()

	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.guard(cctx)

	return c, nil
}

// rebuildRings (re)derives the ring views from the segment's current
// layout — called on connect and again after every resize remap, since the
// ring byte ranges move when the segment grows.
func (c *Client) rebuildRings() {
	h := c.seg.Header()
	c.toClient = ring.New(ring.RecordsFromBytes(c.seg.ToClientRing()), &h.ToClientHead, &h.ToClientTail)
	c.toParent = ring.New(ring.RecordsFromBytes(c.seg.ToParentRing()), &h.ToParentHead, &h.ToParentTail)
}

// guard is the dead-man's switch: a blocking read on the control connection
// only ever returns when the parent closes it (graceful exit) or the
// connection breaks (parent crashed). Either way it then marks the client
// dead and sets Header.Dead; waitAck and RequestResize poll Dead() and
// return an error. It does not post the semaphores, so a PollEvent or
// PushEvent blocked on the event semaphore returns only when its own ctx is
// done — spec §5 "dead-man's switch".
func (c *Client) guard(ctx context.Context) {
	buf := make([]byte, 1)
	_, _ = c.ctrl.Read(buf) // blocks until EOF/error; payload (if any) is unused
	c.dead.Store(true)
	atomic.StoreUint32(&c.seg.Header().Dead, 1)
	c.cancel()
}

// Dead reports whether the guard has observed the parent disappear.
func (c *Client) Dead() bool { return c.dead.Load() }

// Ctrl exposes the control connection, for components (e.g. internal/accel)
// that need to pass extra file descriptors alongside an event record.
func (c *Client) Ctrl() *net.UnixConn { return c.ctrl }

// Register sends the one-time External/Register event declaring this
// client's archetype and title (spec §4.4 "acquire").
func (c *Client) Register(ctx context.Context, archetype wire.Archetype, title string) error {
	return c.toParent.Push(ctx, wire.EncodeRegister(archetype, title), c.eventSem)
}

// PushEvent enqueues an event for the parent, signaling the event semaphore.
func (c *Client) PushEvent(ctx context.Context, rec wire.Record) error {
	return c.toParent.Push(ctx, rec, c.eventSem)
}

// PollEvent dequeues the next event from the parent, blocking until one
// arrives or ctx is done.
func (c *Client) PollEvent(ctx context.Context) (wire.Record, error) {
	return c.toClient.Pop(ctx, c.eventSem)
}

// TryPollEvent dequeues the next event from the parent without blocking.
func (c *Client) TryPollEvent() (wire.Record, error) {
	return c.toClient.TryPop()
}

// VideoBuffer exposes the raw RGBA8888 plane for the client to draw into.
func (c *Client) VideoBuffer() []byte { return c.seg.VideoBuffer() }

// AudioBuffer exposes the raw PCM16 buffer for the client to fill.
func (c *Client) AudioBuffer() []byte { return c.seg.AudioBuffer() }

// SignalVideo marks a new video frame ready (the parent's ConsumeVideo polls
// VReady) and — unless mode is SignalNone — waits for the parent to consume
// the frame, clear VReady and post videoSem back (spec §4.4 "signal(mask)",
// §8 "the function returns only after the consumer has cleared vready ...
// or the switch transitions to dead").
func (c *Client) SignalVideo(ctx context.Context, mode SignalMode) error {
	if mode == SignalOnce && c.videoPending.Load() {
		return nil
	}
	// videoSem carries only the consumer's ack: a post from this side would
	// satisfy the wait below by itself.
	atomic.StoreUint32(&c.seg.Header().VReady, 1)
	if mode == SignalNone {
		return nil
	}
	if mode == SignalOnce {
		c.videoPending.Store(true)
		defer c.videoPending.Store(false)
	}
	return c.waitAck(ctx, c.videoSem)
}

// SignalAudio marks used bytes of new audio ready (the parent's ConsumeAudio
// polls AReady) and — unless mode is SignalNone — waits for the parent to
// consume the buffer, clear AReady and post audioSem back.
func (c *Client) SignalAudio(ctx context.Context, usedBytes uint32, mode SignalMode) error {
	if mode == SignalOnce && c.audioPending.Load() {
		return nil
	}
	atomic.StoreUint32(&c.seg.Header().AudioUsed, usedBytes)
	atomic.StoreUint32(&c.seg.Header().AReady, 1)
	if mode == SignalNone {
		return nil
	}
	if mode == SignalOnce {
		c.audioPending.Store(true)
		defer c.audioPending.Store(false)
	}
	return c.waitAck(ctx, c.audioSem)
}

// waitAck blocks on sem until the consumer posts it back, the dead-man's
// switch trips, or ctx is done. Polls in short bursts rather than a single
// indefinite wait so it can notice the guard goroutine tripping Dead() —
// the same idiom RequestResize's spin-wait uses.
func (c *Client) waitAck(ctx context.Context, sem *semfd.Semaphore) error {
	for {
		ok, err := sem.TimedWait(signalPollInterval)
		if err != nil {
			return fmt.Errorf("shmifclient: wait for ack: %w", err)
		}
		if ok {
			return nil
		}
		if c.Dead() {
			return fmt.Errorf("shmifclient: gone")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// RequestResize asks the parent to grow or shrink the segment to the given
// video dimensions, spinning on the Resized flag until the parent services
// it or resizeTimeout elapses (SPEC_FULL §3, resolving spec.md §9's open
// question on an unbounded resize wait).
func (c *Client) RequestResize(ctx context.Context, w, h uint32) error {
	hdr := c.seg.Header()
	atomic.StoreUint32(&hdr.ReqW, w)
	atomic.StoreUint32(&hdr.ReqH, h)
	atomic.StoreUint32(&hdr.ReqPending, 1)
	if err := c.eventSem.Post(); err != nil {
		return fmt.Errorf("shmifclient: signal resize request: %w", err)
	}

	deadline := time.Now().Add(resizeTimeout)
	for {
		if atomic.LoadUint32(&hdr.Resized) != 0 {
			// Only remap when the backing size actually changed — a
			// same-size resize is acked without the parent touching the
			// mapping at all (spec §8 "must not remap").
			if int(hdr.SegmentSize) != c.seg.Size() {
				if err := c.seg.Remap(); err != nil {
					return fmt.Errorf("shmifclient: remap after resize: %w", err)
				}
				c.rebuildRings()
			}
			atomic.StoreUint32(&c.seg.Header().Resized, 0)
			return nil
		}
		if rec, err := c.TryPollEvent(); err == nil && wire.IsTargetRequestFailure(rec) {
			atomic.StoreUint32(&hdr.ReqPending, 0)
			return fmt.Errorf("shmifclient: resize to %dx%d refused by parent", w, h)
		}
		if c.Dead() {
			return fmt.Errorf("shmifclient: parent gone while waiting for resize")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("shmifclient: resize timed out after %s", resizeTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resizePollInterval):
		}
	}
}

// Close tears the client down: closes semaphores, unmaps the segment and
// closes the control connection.
func (c *Client) Close() error {
	c.cancel()
	c.videoSem.Close()
	c.audioSem.Close()
	c.eventSem.Close()
	segErr := c.seg.Close()
	connErr := c.ctrl.Close()
	if segErr != nil {
		return segErr
	}
	return connErr
}
