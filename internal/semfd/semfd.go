// Package semfd implements the semaphore and file-descriptor transfer
// primitives (spec §4.1, component C1). Real arcan_shmif relies on POSIX
// named semaphores (sem_open/sem_timedwait), which are libc entry points
// with no golang.org/x/sys/unix binding reachable without cgo. This package
// substitutes Linux eventfd(2) counters opened in EFD_SEMAPHORE mode: the
// side that allocates a segment creates one eventfd per semaphore slot
// (video, audio, event) and hands the others to its peer over the same
// SCM_RIGHTS channel C1 already requires for segment FDs, so no extra
// control channel is introduced (SPEC_FULL §4.1).
package semfd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Semaphore wraps one eventfd counter acting as a named semaphore.
type Semaphore struct {
	fd int
}

// New creates a fresh semaphore counter, initialized to zero.
func New() (*Semaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("semfd: eventfd: %w", err)
	}
	return &Semaphore{fd: fd}, nil
}

// FromFD wraps an already-open eventfd received from a peer.
func FromFD(fd int) *Semaphore { return &Semaphore{fd: fd} }

// Fd returns the underlying descriptor, for passing to a peer.
func (s *Semaphore) Fd() int { return s.fd }

// Post increments the counter by one, waking a single blocked Wait.
func (s *Semaphore) Post() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(s.fd, buf[:])
	if err != nil {
		return fmt.Errorf("semfd: post: %w", err)
	}
	return nil
}

// TryWait attempts to decrement the counter without blocking. It reports
// false, nil when the counter was already zero.
func (s *Semaphore) TryWait() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return false, fmt.Errorf("semfd: poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	var buf [8]byte
	if _, err := unix.Read(s.fd, buf[:]); err != nil {
		return false, fmt.Errorf("semfd: read: %w", err)
	}
	return true, nil
}

// pollInterval bounds how often Wait rechecks ctx for cancellation while
// blocked on the eventfd.
const pollInterval = 50 * time.Millisecond

// Wait blocks until the counter is nonzero (decrementing it by one) or ctx
// is done.
func (s *Semaphore) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("semfd: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		var buf [8]byte
		if _, err := unix.Read(s.fd, buf[:]); err != nil {
			return fmt.Errorf("semfd: read: %w", err)
		}
		return nil
	}
}

// TimedWait blocks until the counter is nonzero or timeout elapses.
func (s *Semaphore) TimedWait(timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the local handle. The logical semaphore has no filesystem
// name to unlink — unlike sem_open, the "name" here is just the connection
// key the two sides already agreed on when the fd was handed over.
func (s *Semaphore) Close() error { return unix.Close(s.fd) }

// SendFDs passes one or more open file descriptors across a UNIX domain
// socket connection as SCM_RIGHTS ancillary data, alongside a one-byte
// payload (some implementations drop zero-length sends with ancillary
// data). Mirrors the receiving half's use of SCM_RIGHTS parsing in the
// teacher's userfaultfd FD handoff.
func SendFDs(conn *net.UnixConn, fds []int) error {
	rights := unix.UnixRights(fds...)
	_, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("semfd: sendmsg: %w", err)
	}
	return nil
}

// ReceiveFDs blocks for one SCM_RIGHTS control message and returns the file
// descriptors it carried.
func ReceiveFDs(conn *net.UnixConn, maxFDs int) ([]int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("semfd: recvmsg: %w", err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("semfd: parse control message: %w", err)
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			return nil, fmt.Errorf("semfd: parse unix rights: %w", err)
		}
		fds = append(fds, got...)
	}
	if len(fds) == 0 {
		return nil, fmt.Errorf("semfd: no file descriptors received")
	}
	return fds, nil
}
