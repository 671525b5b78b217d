// Package shmifparent implements the parent side of a segment's lifecycle
// (spec §4.5, component C5): allocating the segment and its semaphores,
// spawning a frameserver child with the connection handed over an inherited
// descriptor, feeding and draining events, servicing client-initiated
// resizes, and watchdog/kill-escalation when the child needs to be torn
// down.
package shmifparent

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arcanshmif/shmifgo/internal/ring"
	"github.com/arcanshmif/shmifgo/internal/segment"
	"github.com/arcanshmif/shmifgo/internal/semfd"
	"github.com/arcanshmif/shmifgo/internal/wire"
)

// inheritedFD is the descriptor number a spawned frameserver finds its
// control socket on: 0,1,2 are stdio, exec.Cmd.ExtraFiles appends from 3.
const inheritedFD = 3

// EnvSockFD is set in the child's environment so it knows which descriptor
// to read its handshake from, without depending on the fixed fd number.
const EnvSockFD = "ARCAN_SHMIF_FD"

// resizePollInterval bounds how often ServiceResize rechecks the client's
// request flag.
const resizePollInterval = 5 * time.Millisecond

// feedPollInterval bounds how often Feed samples VReady/AReady — the
// parent's render/event thread polling frequency (spec §4.5 "bind to a
// video object").
const feedPollInterval = 4 * time.Millisecond

// maxSegmentDimension is the hard maximum either axis of a resize request
// may ask for. A request above it is refused outright rather than clamped
// (spec §4.5 "resize servicing", §7 "Resize refusal", §8 boundary
// behavior).
const maxSegmentDimension = 8192

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL (spec §5 kill escalation; teacher idiom in go_src/internal/exec).
const killGrace = 3 * time.Second

// Server is one parent-owned, directly-spawned frameserver connection.
type Server struct {
	cmd  *exec.Cmd
	ctrl *net.UnixConn
	seg  *segment.Segment

	eventSem *semfd.Semaphore
	videoSem *semfd.Semaphore
	audioSem *semfd.Semaphore

	toClient *ring.Ring // parent -> child, parent writes
	toParent *ring.Ring // child -> parent, parent reads

	channels, audioSamples, ringCapacity uint32

	exited atomic.Bool
}

// Spawn forks and execs path as a frameserver, allocates a segment sized
// w x h (channels/audioSamples/ringCapacity likewise) and hands it, plus
// three semaphores, to the child over an inherited socket — no connection
// key is needed here since the child is a direct, trusted fork of the
// parent (key-based auth is C6's job, for the non-authoritative listening
// connection point, spec §4.6).
func Spawn(ctx context.Context, path string, args []string, w, h, channels, audioSamples, ringCapacity uint32) (*Server, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("shmifparent: socketpair: %w", err)
	}
	parentFile := os.NewFile(uintptr(fds[0]), "shmif-parent")
	childFile := os.NewFile(uintptr(fds[1]), "shmif-child")

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", EnvSockFD, inheritedFD))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		parentFile.Close()
		childFile.Close()
		return nil, fmt.Errorf("shmifparent: start %s: %w", path, err)
	}
	childFile.Close() // the child's copy lives on via its own fd table entry

	rawConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("shmifparent: fileconn: %w", err)
	}
	conn, ok := rawConn.(*net.UnixConn)
	if !ok {
		cmd.Process.Kill()
		return nil, fmt.Errorf("shmifparent: not a unix conn")
	}

	seg, err := segment.Allocate(w, h, channels, audioSamples, ringCapacity)
	if err != nil {
		cmd.Process.Kill()
		conn.Close()
		return nil, fmt.Errorf("shmifparent: allocate segment: %w", err)
	}
	vsem, err := semfd.New()
	if err != nil {
		cmd.Process.Kill()
		conn.Close()
		seg.Close()
		return nil, fmt.Errorf("shmifparent: video sem: %w", err)
	}
	asem, err := semfd.New()
	if err != nil {
		cmd.Process.Kill()
		conn.Close()
		seg.Close()
		vsem.Close()
		return nil, fmt.Errorf("shmifparent: audio sem: %w", err)
	}
	esem, err := semfd.New()
	if err != nil {
		cmd.Process.Kill()
		conn.Close()
		seg.Close()
		vsem.Close()
		asem.Close()
		return nil, fmt.Errorf("shmifparent: event sem: %w", err)
	}

	if _, err := conn.Write([]byte(fmt.Sprintf("%d\n", seg.Size()))); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("shmifparent: write segment size: %w", err)
	}
	if err := semfd.SendFDs(conn, []int{seg.Fd(), vsem.Fd(), asem.Fd(), esem.Fd()}); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("shmifparent: send fds: %w", err)
	}

	s := &Server{
		cmd:          cmd,
		ctrl:         conn,
		seg:          seg,
		videoSem:     vsem,
		audioSem:     asem,
		eventSem:     esem,
		channels:     channels,
		audioSamples: audioSamples,
		ringCapacity: ringCapacity,
	}
	s.rebuildRings()

	go func() {
		cmd.Wait()
		s.exited.Store(true)
	}()

	return s, nil
}

func (s *Server) rebuildRings() {
	h := s.seg.Header()
	// The parent writes ToClient and reads ToParent — the opposite role
	// from shmifclient, same ring mechanics either way.
	s.toClient = ring.New(ring.RecordsFromBytes(s.seg.ToClientRing()), &h.ToClientHead, &h.ToClientTail)
	s.toParent = ring.New(ring.RecordsFromBytes(s.seg.ToParentRing()), &h.ToParentHead, &h.ToParentTail)
}

// PushEvent enqueues an event for the child.
func (s *Server) PushEvent(ctx context.Context, rec wire.Record) error {
	return s.toClient.Push(ctx, rec, s.eventSem)
}

// PollEvent dequeues the next event from the child, blocking until one
// arrives or ctx is done.
func (s *Server) PollEvent(ctx context.Context) (wire.Record, error) {
	return s.toParent.Pop(ctx, s.eventSem)
}

// TryPollEvent dequeues the next event from the child without blocking.
func (s *Server) TryPollEvent() (wire.Record, error) {
	return s.toParent.TryPop()
}

// Ctrl exposes the control connection, for components (e.g. internal/accel)
// that need to pass extra file descriptors alongside an event record.
func (s *Server) Ctrl() *net.UnixConn { return s.ctrl }

// VideoBuffer exposes the raw RGBA8888 plane the child renders into.
func (s *Server) VideoBuffer() []byte { return s.seg.VideoBuffer() }

// AudioBuffer exposes the raw PCM16 buffer the child fills.
func (s *Server) AudioBuffer() []byte { return s.seg.AudioBuffer() }

// ConsumeVideo reports whether the child has a video frame ready; if so it
// invokes fn (when non-nil) with the current video buffer, then clears
// VReady and posts videoSem so the child's blocking SignalVideo returns
// (spec §2 data flow, §4.5 "bind to a video object").
func (s *Server) ConsumeVideo(fn func(frame []byte)) (bool, error) {
	hdr := s.seg.Header()
	if atomic.LoadUint32(&hdr.VReady) == 0 {
		return false, nil
	}
	if fn != nil {
		fn(s.seg.VideoBuffer())
	}
	atomic.StoreUint32(&hdr.VReady, 0)
	if err := s.videoSem.Post(); err != nil {
		return true, fmt.Errorf("shmifparent: post video ack: %w", err)
	}
	return true, nil
}

// ConsumeAudio is ConsumeVideo's audio counterpart, sampling AReady/AudioUsed.
func (s *Server) ConsumeAudio(fn func(samples []byte, usedBytes uint32)) (bool, error) {
	hdr := s.seg.Header()
	if atomic.LoadUint32(&hdr.AReady) == 0 {
		return false, nil
	}
	used := atomic.LoadUint32(&hdr.AudioUsed)
	if fn != nil {
		fn(s.seg.AudioBuffer(), used)
	}
	atomic.StoreUint32(&hdr.AReady, 0)
	if err := s.audioSem.Post(); err != nil {
		return true, fmt.Errorf("shmifparent: post audio ack: %w", err)
	}
	return true, nil
}

// Feed runs ConsumeVideo/ConsumeAudio on a fixed tick until ctx is done —
// the parent-side render/event thread's frame pump. onVideo/onAudio may be
// nil if this side only needs to drain and ack, not actually consume the
// frame (spec §4.5 "bind to a video object").
func (s *Server) Feed(ctx context.Context, onVideo func([]byte), onAudio func([]byte, uint32)) error {
	ticker := time.NewTicker(feedPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ConsumeVideo(onVideo); err != nil {
				return err
			}
			if _, err := s.ConsumeAudio(onAudio); err != nil {
				return err
			}
		}
	}
}

// Resize grows or shrinks the segment to new video dimensions, to be called
// either on parent-driven policy (e.g. window resize) or from ServiceResize
// reacting to a client request. A request for the segment's current
// dimensions is a no-op (spec §8).
func (s *Server) Resize(w, h uint32) error {
	hdr := s.seg.Header()
	if atomic.LoadUint32(&hdr.W) == w && atomic.LoadUint32(&hdr.H) == h {
		return nil
	}
	if err := s.seg.Resize(w, h, s.channels, s.audioSamples, s.ringCapacity); err != nil {
		return err
	}
	s.rebuildRings()
	return s.eventSem.Post()
}

// ServiceResize runs until ctx is done, watching for client-initiated
// resize requests (Header.ReqPending) and servicing them with Resize. A
// same-size request is acked without remapping; a request exceeding
// maxSegmentDimension on either axis is refused and reported back as a
// Target/RequestFailure event (spec §4.5, §7, §8). Typically run in its own
// goroutine alongside event pumping.
func (s *Server) ServiceResize(ctx context.Context) error {
	hdr := s.seg.Header()
	ticker := time.NewTicker(resizePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if atomic.LoadUint32(&hdr.ReqPending) == 0 {
				continue
			}
			w := atomic.LoadUint32(&hdr.ReqW)
			h := atomic.LoadUint32(&hdr.ReqH)

			if w == atomic.LoadUint32(&hdr.W) && h == atomic.LoadUint32(&hdr.H) {
				atomic.StoreUint32(&hdr.ReqPending, 0)
				atomic.StoreUint32(&hdr.Resized, 1)
				if err := s.eventSem.Post(); err != nil {
					return fmt.Errorf("shmifparent: ack no-op resize: %w", err)
				}
				continue
			}

			if w > maxSegmentDimension || h > maxSegmentDimension {
				atomic.StoreUint32(&hdr.ReqPending, 0)
				if err := s.PushEvent(ctx, wire.EncodeTargetRequestFailure()); err != nil {
					return fmt.Errorf("shmifparent: signal resize refusal: %w", err)
				}
				continue
			}

			if err := s.Resize(w, h); err != nil {
				return fmt.Errorf("shmifparent: service resize to %dx%d: %w", w, h, err)
			}
			hdr = s.seg.Header() // Resize remapped the segment
			atomic.StoreUint32(&hdr.ReqPending, 0)
		}
	}
}

// Exited reports whether the child process has terminated.
func (s *Server) Exited() bool { return s.exited.Load() }

// Wait blocks until the child process terminates.
func (s *Server) Wait() error {
	for !s.exited.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Kill asks the child's process group to exit (SIGTERM), then escalates to
// SIGKILL after killGrace if it hasn't, and returns once the child has
// exited (spec §5; grounded on
// go_src/internal/exec's process-group kill escalation).
func (s *Server) Kill() error {
	pgid := s.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("shmifparent: sigterm pgid %d: %w", pgid, err)
	}
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if s.exited.Load() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if s.exited.Load() {
		return nil
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("shmifparent: sigkill pgid %d: %w", pgid, err)
	}
	return s.Wait()
}

// Close tears the server down without signaling the child — callers that
// want a graceful shutdown should call Kill first.
func (s *Server) Close() error {
	s.videoSem.Close()
	s.audioSem.Close()
	s.eventSem.Close()
	segErr := s.seg.Close()
	connErr := s.ctrl.Close()
	if segErr != nil {
		return segErr
	}
	return connErr
}
