// Package broker implements the privilege-separated device opener (spec
// §4.7, component C7): a process, typically started with elevated
// privileges the rest of the system doesn't carry, that validates
// requested device paths against a whitelist, opens them, and passes the
// resulting descriptor back over a UNIX domain socket — the caller never
// needs the privilege itself, only the descriptor.
package broker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/arcanshmif/shmifgo/internal/semfd"
)

// Class is the device category a whitelist rule grants access to.
// original_source/platform/posix/psep_open.c keeps four classes; the
// distilled spec narrates only input/drm/tty (SPEC_FULL §3 adds "sensor").
type Class string

const (
	ClassInput  Class = "input"
	ClassDRM    Class = "drm"
	ClassTTY    Class = "tty"
	ClassSensor Class = "sensor"
)

// Rule whitelists every device path under Prefix as belonging to Class.
type Rule struct {
	Prefix string
	Class  Class
}

// DefaultWhitelist mirrors the original opener's table shape.
var DefaultWhitelist = []Rule{
	{Prefix: "/dev/input/", Class: ClassInput},
	{Prefix: "/dev/dri/", Class: ClassDRM},
	{Prefix: "/dev/tty", Class: ClassTTY},
	{Prefix: "/dev/sensor/", Class: ClassSensor},
}

// validPath rejects anything but a plain, exact device path: no "."
// components (so no "..", and no same-directory "." either), matching
// spec §4.6/§4.7's "open by exact match with no .".
func validPath(path string) bool {
	if path == "" || strings.Contains(path, "\x00") {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == "." || part == ".." {
			return false
		}
	}
	return true
}

// classify returns the class of path per the whitelist, or ok=false if no
// rule covers it or path fails validPath.
func classify(whitelist []Rule, path string) (Class, bool) {
	if !validPath(path) {
		return "", false
	}
	for _, r := range whitelist {
		if strings.HasPrefix(path, r.Prefix) {
			return r.Class, true
		}
	}
	return "", false
}

// openRequest/openResponse are length-prefixed JSON frames exchanged over
// the broker socket — the same "typed Go value, one discriminant field"
// shape as internal/wire's records, just JSON instead of a fixed binary
// layout since this channel is low-rate control traffic, not a hot ring.
type openRequest struct {
	Path string `json:"path"`
}

type openResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Class Class  `json:"class,omitempty"`
}

func writeFrame(conn *net.UnixConn, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = conn.Write(body)
	return err
}

func readFrame(conn *net.UnixConn, v interface{}) error {
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := readFull(conn, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Broker listens for device-open requests and services them against
// Whitelist.
type Broker struct {
	ln        *net.UnixListener
	Whitelist []Rule

	mu      sync.Mutex
	ttyFd   int
	ttyMode uint32
}

// Listen opens socketPath for device-open requests.
func Listen(socketPath string, whitelist []Rule) (*Broker, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("broker: resolve addr: %w", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("broker: listen: %w", err)
	}
	if whitelist == nil {
		whitelist = DefaultWhitelist
	}
	return &Broker{ln: ln, Whitelist: whitelist, ttyFd: -1}, nil
}

// Close stops accepting requests.
func (b *Broker) Close() error { return b.ln.Close() }

// Serve accepts device-open requests until ctx is done.
func (b *Broker) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.ln.Close()
	}()
	for {
		conn, err := b.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("broker: accept: %w", err)
		}
		go b.handle(conn)
	}
}

func (b *Broker) handle(conn *net.UnixConn) {
	defer conn.Close()

	var req openRequest
	if err := readFrame(conn, &req); err != nil {
		return
	}

	class, ok := classify(b.Whitelist, req.Path)
	if !ok {
		writeFrame(conn, openResponse{OK: false, Error: fmt.Sprintf("path %q not in whitelist", req.Path)})
		return
	}

	fd, err := unix.Open(req.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		writeFrame(conn, openResponse{OK: false, Error: err.Error()})
		return
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		writeFrame(conn, openResponse{OK: false, Error: fmt.Sprintf("fstat: %v", err)})
		return
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		writeFrame(conn, openResponse{OK: false, Error: fmt.Sprintf("path %q is not a character device", req.Path)})
		return
	}

	if class == ClassDRM {
		if err := SetDRMMaster(fd); err != nil {
			writeFrame(conn, openResponse{OK: false, Error: fmt.Sprintf("drm master: %v", err)})
			return
		}
	}

	if err := writeFrame(conn, openResponse{OK: true, Class: class}); err != nil {
		return
	}
	semfd.SendFDs(conn, []int{fd})
}

// RequestDevice is the client half: ask the broker to open path, returning
// the resulting file descriptor.
func RequestDevice(socketPath, path string) (int, Class, error) {
	raw, err := net.Dial("unix", socketPath)
	if err != nil {
		return -1, "", fmt.Errorf("broker: dial: %w", err)
	}
	conn := raw.(*net.UnixConn)
	defer conn.Close()

	if err := writeFrame(conn, openRequest{Path: path}); err != nil {
		return -1, "", fmt.Errorf("broker: write request: %w", err)
	}
	var resp openResponse
	if err := readFrame(conn, &resp); err != nil {
		return -1, "", fmt.Errorf("broker: read response: %w", err)
	}
	if !resp.OK {
		return -1, "", fmt.Errorf("broker: %s", resp.Error)
	}
	fds, err := semfd.ReceiveFDs(conn, 1)
	if err != nil {
		return -1, "", fmt.Errorf("broker: receive fd: %w", err)
	}
	return fds[0], resp.Class, nil
}

// Linux DRM/VT ioctl numbers (linux/drm.h, linux/vt.h) — not exposed by
// golang.org/x/sys/unix, so named here the way the teacher names its own
// UFFDIO_* constants in uffd_linux.go.
const (
	drmIoctlSetMaster = 0x641e
	vtReldisp         = 0x5605
	vtAcquireAck      = 2
	vtReleaseAck      = 1
	kdSetMode         = 0x4B3A
	kdModeText        = 0
	kdModeGraphics    = 1
)

// SetDRMMaster requests DRM master status on an opened /dev/dri/cardN fd,
// needed before the accelerated handle path (C8) can program a display.
func SetDRMMaster(fd int) error {
	return unix.IoctlSetInt(fd, drmIoctlSetMaster, 0)
}

// SetTTYGraphicsMode switches the given tty fd between text and graphics
// mode (KD_TEXT/KD_GRAPHICS), as required before a frameserver can take
// over the console framebuffer.
func SetTTYGraphicsMode(fd int, graphics bool) error {
	mode := kdModeText
	if graphics {
		mode = kdModeGraphics
	}
	return unix.IoctlSetInt(fd, kdSetMode, uint(mode))
}

// AckVTSwitch acknowledges a pending VT switch (release or acquire) on the
// controlling tty, in response to SIGUSR1/SIGUSR2 delivered by the kernel's
// VT subsystem (spec §4.7 "VT-switch handling").
func AckVTSwitch(fd int, releasing bool) error {
	ack := vtAcquireAck
	if releasing {
		ack = vtReleaseAck
	}
	return unix.IoctlSetInt(fd, vtReldisp, uint(ack))
}
