// Package connpoint implements the non-authoritative connection point
// (spec §4.6, component C6): a listening UNIX domain socket that accepts
// connections from clients it does not itself authenticate beyond a
// preshared key — "non-authoritative" because the connection point only
// gatekeeps entry to the segment handoff, it does not vouch for what the
// connecting process actually is.
//
// Each accepted connection moves through three states: Poll (just
// accepted, no key seen yet), Verify (key received, being compared) and
// Active (key accepted, segment handed over, the connection is now a live
// endpoint). A failed Verify drops straight back to a closed connection;
// there is no retry within a single accepted connection, matching spec
// §4.6's "single-shot" handshake.
package connpoint

import (
	"bufio"
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/arcanshmif/shmifgo/internal/ring"
	"github.com/arcanshmif/shmifgo/internal/segment"
	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// State is the three-step acceptance state machine a connection moves
// through.
type State int32

const (
	StatePoll State = iota
	StateVerify
	StateActive
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePoll:
		return "poll"
	case StateVerify:
		return "verify"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// keyFieldWidth is the fixed width both sides of the key comparison are
// padded to, so subtle.ConstantTimeCompare never short-circuits on a length
// mismatch — otherwise an attacker could learn the key's length from timing
// alone even with a "constant time" compare function.
const keyFieldWidth = 64

const handshakeTimeout = 5 * time.Second

// feedPollInterval bounds how often Feed samples VReady/AReady, mirroring
// shmifparent.Server's own frame pump (spec §4.5 "bind to a video object").
const feedPollInterval = 4 * time.Millisecond

// Listener accepts connections on a UNIX domain socket and runs each
// through the poll/verify/active handshake before handing it to a handler.
type Listener struct {
	ln  *net.UnixListener
	key [keyFieldWidth]byte

	w, h, channels, audioSamples, ringCapacity uint32
}

// Listen opens socketPath and prepares a Listener that authenticates
// incoming connections against key and, once active, allocates a segment
// with the given geometry for each one.
func Listen(socketPath, key string, w, h, channels, audioSamples, ringCapacity uint32) (*Listener, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connpoint: resolve addr: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("connpoint: listen: %w", err)
	}
	l := &Listener{ln: ln, w: w, h: h, channels: channels, audioSamples: audioSamples, ringCapacity: ringCapacity}
	copy(l.key[:], wire.Truncate(key, keyFieldWidth))
	return l, nil
}

// Addr returns the listening socket's address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Handler is invoked once per connection that reaches StateActive.
type Handler func(ctx context.Context, ep *Endpoint)

// Serve accepts connections until ctx is done or the listener is closed,
// running each through the handshake and dispatching successful ones to
// handler in their own goroutine.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connpoint: accept: %w", err)
		}
		go l.handshake(ctx, conn, handler)
	}
}

func (l *Listener) handshake(ctx context.Context, conn *net.UnixConn, handler Handler) {
	state := StatePoll
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	state = StateVerify

	var provided [keyFieldWidth]byte
	copy(provided[:], wire.Truncate(line[:len(line)-1], keyFieldWidth))
	if subtle.ConstantTimeCompare(provided[:], l.key[:]) != 1 {
		state = StateRejected
		conn.Close()
		return
	}
	state = StateActive
	conn.SetReadDeadline(time.Time{})

	ep, err := newEndpoint(conn, l.w, l.h, l.channels, l.audioSamples, l.ringCapacity)
	if err != nil {
		conn.Close()
		return
	}
	handler(ctx, ep)
}

// Endpoint is one accepted, authenticated connection with its segment
// handed over — the connection-point equivalent of shmifparent.Server, but
// built from an Accept rather than a Spawn.
type Endpoint struct {
	ctrl *net.UnixConn
	seg  *segment.Segment

	eventSem *semfd.Semaphore
	videoSem *semfd.Semaphore
	audioSem *semfd.Semaphore

	toClient *ring.Ring
	toParent *ring.Ring

	state atomic.Int32
}

func newEndpoint(conn *net.UnixConn, w, h, channels, audioSamples, ringCapacity uint32) (*Endpoint, error) {
	seg, err := segment.Allocate(w, h, channels, audioSamples, ringCapacity)
	if err != nil {
		return nil, fmt.Errorf("connpoint: allocate segment: %w", err)
	}
	vsem, err := semfd.New()
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("connpoint: video sem: %w", err)
	}
	asem, err := semfd.New()
	if err != nil {
		seg.Close()
		vsem.Close()
		return nil, fmt.Errorf("connpoint: audio sem: %w", err)
	}
	esem, err := semfd.New()
	if err != nil {
		seg.Close()
		vsem.Close()
		asem.Close()
		return nil, fmt.Errorf("connpoint: event sem: %w", err)
	}

	if _, err := conn.Write([]byte(fmt.Sprintf("%d\n", seg.Size()))); err != nil {
		seg.Close()
		vsem.Close()
		asem.Close()
		esem.Close()
		return nil, fmt.Errorf("connpoint: write segment size: %w", err)
	}
	if err := semfd.SendFDs(conn, []int{seg.Fd(), vsem.Fd(), asem.Fd(), esem.Fd()}); err != nil {
		seg.Close()
		vsem.Close()
		asem.Close()
		esem.Close()
		return nil, fmt.Errorf("connpoint: send fds: %w", err)
	}

	ep := &Endpoint{ctrl: conn, seg: seg, videoSem: vsem, audioSem: asem, eventSem: esem}
	ep.state.Store(int32(StateActive))
	ep.rebuildRings()
	return ep, nil
}

func (ep *Endpoint) rebuildRings() {
	h := ep.seg.Header()
	ep.toClient = ring.New(ring.RecordsFromBytes(ep.seg.ToClientRing()), &h.ToClientHead, &h.ToClientTail)
	ep.toParent = ring.New(ring.RecordsFromBytes(ep.seg.ToParentRing()), &h.ToParentHead, &h.ToParentTail)
}

// State reports the endpoint's current handshake state (always StateActive
// once a handler receives it; exposed for diagnostics/monitoring).
func (ep *Endpoint) State() State { return State(ep.state.Load()) }

// PushEvent enqueues an event for the connected peer.
func (ep *Endpoint) PushEvent(ctx context.Context, rec wire.Record) error {
	return ep.toClient.Push(ctx, rec, ep.eventSem)
}

// PollEvent dequeues the next event from the peer, blocking until one
// arrives or ctx is done.
func (ep *Endpoint) PollEvent(ctx context.Context) (wire.Record, error) {
	return ep.toParent.Pop(ctx, ep.eventSem)
}

// Ctrl exposes the control connection, for components (e.g. internal/accel)
// that need to pass extra file descriptors alongside an event record.
func (ep *Endpoint) Ctrl() *net.UnixConn { return ep.ctrl }

// VideoBuffer exposes the raw RGBA8888 plane.
func (ep *Endpoint) VideoBuffer() []byte { return ep.seg.VideoBuffer() }

// AudioBuffer exposes the raw PCM16 buffer.
func (ep *Endpoint) AudioBuffer() []byte { return ep.seg.AudioBuffer() }

// ConsumeVideo reports whether the peer has a video frame ready; if so it
// invokes fn (when non-nil) with the current video buffer, then clears
// VReady and posts videoSem so the peer's blocking SignalVideo returns
// (spec §2 data flow, §4.5 "bind to a video object"; same mechanics as
// shmifparent.Server.ConsumeVideo, since an Endpoint is just a segment
// handed over by Accept rather than Spawn).
func (ep *Endpoint) ConsumeVideo(fn func(frame []byte)) (bool, error) {
	hdr := ep.seg.Header()
	if atomic.LoadUint32(&hdr.VReady) == 0 {
		return false, nil
	}
	if fn != nil {
		fn(ep.seg.VideoBuffer())
	}
	atomic.StoreUint32(&hdr.VReady, 0)
	if err := ep.videoSem.Post(); err != nil {
		return true, fmt.Errorf("connpoint: post video ack: %w", err)
	}
	return true, nil
}

// ConsumeAudio is ConsumeVideo's audio counterpart, sampling AReady/AudioUsed.
func (ep *Endpoint) ConsumeAudio(fn func(samples []byte, usedBytes uint32)) (bool, error) {
	hdr := ep.seg.Header()
	if atomic.LoadUint32(&hdr.AReady) == 0 {
		return false, nil
	}
	used := atomic.LoadUint32(&hdr.AudioUsed)
	if fn != nil {
		fn(ep.seg.AudioBuffer(), used)
	}
	atomic.StoreUint32(&hdr.AReady, 0)
	if err := ep.audioSem.Post(); err != nil {
		return true, fmt.Errorf("connpoint: post audio ack: %w", err)
	}
	return true, nil
}

// Feed runs ConsumeVideo/ConsumeAudio on a fixed tick until ctx is done.
func (ep *Endpoint) Feed(ctx context.Context, onVideo func([]byte), onAudio func([]byte, uint32)) error {
	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := ep.ConsumeVideo(onVideo); err != nil {
				return err
			}
			if _, err := ep.ConsumeAudio(onAudio); err != nil {
				return err
			}
		}
	}
}

// Close tears the endpoint down.
func (ep *Endpoint) Close() error {
	ep.videoSem.Close()
	ep.audioSem.Close()
	ep.eventSem.Close()
	segErr := ep.seg.Close()
	connErr := ep.ctrl.Close()
	if segErr != nil {
		return segErr
	}
	return connErr
}
