// Package segment implements the shared memory segment layout: a fixed
// header (spec §3 "Shared segment", §4.2), the video/audio buffer regions
// that follow it, and the event-ring array. The header's field order is
// pinned explicitly — this project cannot trust Go's struct layout to
// agree between two independently built binaries any more than the
// original trusted the C compiler's, hence the cookie below.
package segment

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pixel format: fixed RGBA8888, channel order fixed by these byte shifts so
// neither side needs to negotiate endianness or channel order
// (original_source/shmif/arcan_shmif_interop.c; SPEC_FULL §3).
const (
	RShift = 0
	GShift = 8
	BShift = 16
	AShift = 24

	BytesPerPixel  = 4
	BytesPerSample = 2 // 16-bit PCM
)

// eventPairSize is a layout placeholder carried over from the original's two
// embedded semaphore handles. This project hands semaphore-equivalent
// eventfds over the FD-passing channel instead of embedding them in shared
// memory (internal/semfd), but keeps the same byte reservation here so the
// cookie computation below stays aligned with the rest of the header.
const eventPairSize = 16

// Header is the fixed layout at the start of every segment. Field order is
// load-bearing: it is never reordered, and new fields are only ever
// appended, never inserted.
type Header struct {
	Cookie uint64

	Major, Minor uint8
	_            [6]byte // explicit padding, not left to the compiler

	SegmentSize uint32 // total bytes spanned by this segment

	Resized  uint32 // set by parent on resize, cleared by client after remap
	Dead     uint32 // dead-man's switch: nonzero means the peer is gone
	VReady   uint32 // set by client: a new video frame is ready
	VPending uint32 // ack pending for a delivered frame; no package here writes it
	AReady   uint32
	APending uint32

	AudioUsed uint32 // valid byte count currently in the audio buffer

	W, H     uint32
	Channels uint32
	Rate     uint32

	VBufOfs  uint32
	VBufSize uint32
	ABufOfs  uint32
	ABufSize uint32

	// Two independent rings share the same fixed wire.Record element size;
	// ToClient carries parent->child traffic, ToParent the reverse.
	ToClientOfs   uint32
	ToClientHead  uint32
	ToClientTail  uint32
	ToParentOfs   uint32
	ToParentHead  uint32
	ToParentTail  uint32
	EventCapacity uint32 // element count, identical for both rings

	// Client-driven resize request: the client fills ReqW/ReqH and sets
	// ReqPending, signals the event semaphore, and spins on Resized; the
	// parent owns the actual ftruncate+remap (see internal/shmifparent) and
	// clears ReqPending once serviced.
	ReqW       uint32
	ReqH       uint32
	ReqPending uint32
}

const headerSize = unsafe.Sizeof(Header{})

// Cookie computes the integrity value stored in Header.Cookie: the
// structural size of the header plus the reserved event-pair bytes, folded
// together with the byte offsets of four fields whose meaning is easy to get
// wrong across independently built binaries (the cookie itself, the resize
// flag, the audio-ready flag, the audio-used counter). A mismatch between
// what a peer computes and what it reads means the two sides disagree about
// the layout and must refuse to proceed (spec §4.2, §7).
func Cookie() uint64 {
	base := uint64(headerSize) + uint64(eventPairSize)
	cOfs := uint64(unsafe.Offsetof(Header{}.Cookie)) & 0xff
	rOfs := uint64(unsafe.Offsetof(Header{}.Resized)) & 0xff
	aOfs := uint64(unsafe.Offsetof(Header{}.AReady)) & 0xff
	uOfs := uint64(unsafe.Offsetof(Header{}.AudioUsed)) & 0xff
	return base ^ (cOfs << 8) ^ (rOfs << 16) ^ (aOfs << 24) ^ (uOfs << 32)
}

// Segment owns a mapped shared-memory region and the file descriptor backing
// it.
type Segment struct {
	fd  int
	mem []byte
}

// layout computes buffer offsets/sizes for the requested dimensions. The
// header and the two event rings come first, padded to an 8-byte boundary,
// followed by the video buffer, followed by the audio buffer.
func layout(w, h, channels, audioSamples, ringCapacity uint32) (total uint32, vOfs, vSize, aOfs, aSize, toClientOfs, toParentOfs uint32, eventBytes uint32) {
	const recordSize = 96 // must match wire.RecordSize; duplicated to avoid an import cycle with internal/wire
	eventBytes = ringCapacity * recordSize

	cursor := align8(uint32(headerSize))
	toClientOfs = cursor
	cursor = align8(cursor + eventBytes)
	toParentOfs = cursor
	cursor = align8(cursor + eventBytes)

	vOfs = cursor
	vSize = w * h * BytesPerPixel
	cursor = align8(vOfs + vSize)

	aOfs = cursor
	aSize = audioSamples * channels * BytesPerSample
	cursor = align8(aOfs + aSize)

	total = cursor
	return
}

func align8(n uint32) uint32 { return (n + 7) &^ 7 }

// Allocate creates a new anonymous shared segment sized for the given video
// dimensions, audio format and event ring capacity, using memfd_create so it
// can be handed to a peer process by file descriptor with no named path.
func Allocate(w, h, channels, audioSamples, ringCapacity uint32) (*Segment, error) {
	total, vOfs, vSize, aOfs, aSize, toClientOfs, toParentOfs, eventBytes := layout(w, h, channels, audioSamples, ringCapacity)

	fd, err := unix.MemfdCreate("shmif-segment", 0)
	if err != nil {
		return nil, fmt.Errorf("segment: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("segment: ftruncate: %w", err)
	}

	mem, err := unix.Mmap(fd, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("segment: mmap: %w", err)
	}

	s := &Segment{fd: fd, mem: mem}
	h2 := s.Header()
	*h2 = Header{
		Cookie:        Cookie(),
		Major:         0,
		Minor:         1,
		SegmentSize:   total,
		W:             w,
		H:             h,
		Channels:      channels,
		Rate:          48000,
		VBufOfs:       vOfs,
		VBufSize:      vSize,
		ABufOfs:       aOfs,
		ABufSize:      aSize,
		ToClientOfs:   toClientOfs,
		ToParentOfs:   toParentOfs,
		EventCapacity: ringCapacity,
	}
	_ = eventBytes
	return s, nil
}

// Attach maps a segment whose file descriptor was received from a peer
// (typically over the connection point's FD-passing channel).
func Attach(fd int, size uint32) (*Segment, error) {
	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("segment: mmap: %w", err)
	}
	s := &Segment{fd: fd, mem: mem}
	if s.Header().Cookie != Cookie() {
		unix.Munmap(mem)
		return nil, fmt.Errorf("segment: cookie mismatch, peer disagrees on layout")
	}
	return s, nil
}

// Header returns a pointer into the mapped region. Callers on both sides of
// the IPC boundary observe the same memory, so field updates must go
// through atomic operations where concurrent access is possible (see
// internal/ring for the event counters).
func (s *Segment) Header() *Header {
	return (*Header)(unsafe.Pointer(&s.mem[0]))
}

// Fd returns the descriptor backing the segment, for passing to a peer.
func (s *Segment) Fd() int { return s.fd }

// Size returns the total mapped length in bytes.
func (s *Segment) Size() int { return len(s.mem) }

// VideoBuffer returns the raw RGBA8888 plane.
func (s *Segment) VideoBuffer() []byte {
	h := s.Header()
	return s.mem[h.VBufOfs : h.VBufOfs+h.VBufSize]
}

// AudioBuffer returns the raw interleaved PCM16 buffer.
func (s *Segment) AudioBuffer() []byte {
	h := s.Header()
	return s.mem[h.ABufOfs : h.ABufOfs+h.ABufSize]
}

// ToClientRing returns the raw bytes backing the parent->child event ring,
// for internal/ring to reinterpret as a []wire.Record.
func (s *Segment) ToClientRing() []byte {
	h := s.Header()
	return s.mem[h.ToClientOfs:h.ToParentOfs]
}

// ToParentRing returns the raw bytes backing the child->parent event ring.
func (s *Segment) ToParentRing() []byte {
	h := s.Header()
	return s.mem[h.ToParentOfs:h.VBufOfs]
}

// PixelOffset returns the byte offset of pixel (x, y) within VideoBuffer.
func (s *Segment) PixelOffset(x, y uint32) uint32 {
	return (y*s.Header().W + x) * BytesPerPixel
}

// PackPixel encodes r, g, b, a into the wire's fixed RGBA8888 layout.
func PackPixel(r, g, b, a uint8) uint32 {
	return uint32(r)<<RShift | uint32(g)<<GShift | uint32(b)<<BShift | uint32(a)<<AShift
}

// UnpackPixel decodes a wire RGBA8888 value.
func UnpackPixel(px uint32) (r, g, b, a uint8) {
	return uint8(px >> RShift), uint8(px >> GShift), uint8(px >> BShift), uint8(px >> AShift)
}

// PutPixel writes a pixel to the video buffer at (x, y).
func (s *Segment) PutPixel(x, y uint32, r, g, b, a uint8) {
	ofs := s.PixelOffset(x, y)
	binary.LittleEndian.PutUint32(s.VideoBuffer()[ofs:ofs+4], PackPixel(r, g, b, a))
}

// Resize grows or shrinks the segment in place: ftruncate to the new total
// size, munmap, remap. The caller (internal/shmifparent) is responsible for
// quiescing both sides around this call — spec §4.2/§4.5's resize handshake.
//
// A request for the segment's current (w,h) is a no-op and must not remap
// (spec §8 "A resize to the current (w,h) is a no-op and must not remap.").
func (s *Segment) Resize(w, h, channels, audioSamples, ringCapacity uint32) error {
	hdr := s.Header()
	if hdr.W == w && hdr.H == h && hdr.Channels == channels {
		return nil
	}

	total, vOfs, vSize, aOfs, aSize, toClientOfs, toParentOfs, _ := layout(w, h, channels, audioSamples, ringCapacity)

	if err := unix.Ftruncate(s.fd, int64(total)); err != nil {
		return fmt.Errorf("segment: ftruncate on resize: %w", err)
	}
	if err := unix.Munmap(s.mem); err != nil {
		return fmt.Errorf("segment: munmap on resize: %w", err)
	}
	mem, err := unix.Mmap(s.fd, 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("segment: remap on resize: %w", err)
	}
	s.mem = mem

	h2 := s.Header()
	h2.SegmentSize = total
	h2.W, h2.H, h2.Channels = w, h, channels
	h2.VBufOfs, h2.VBufSize = vOfs, vSize
	h2.ABufOfs, h2.ABufSize = aOfs, aSize
	h2.ToClientOfs, h2.ToParentOfs = toClientOfs, toParentOfs
	h2.EventCapacity = ringCapacity
	h2.Resized = 1
	return nil
}

// Remap re-mmaps the segment at its current Header.SegmentSize, without
// truncating the backing fd. Used by the side that does not own the resize
// (typically the client) to pick up a new mapping after observing the
// Resized flag set by whoever called Resize.
func (s *Segment) Remap() error {
	newSize := int(s.Header().SegmentSize)
	if err := unix.Munmap(s.mem); err != nil {
		return fmt.Errorf("segment: munmap on remap: %w", err)
	}
	mem, err := unix.Mmap(s.fd, 0, newSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("segment: remap: %w", err)
	}
	s.mem = mem
	return nil
}

// Close unmaps and closes the segment. The caller is responsible for making
// sure no peer still depends on it.
func (s *Segment) Close() error {
	if err := unix.Munmap(s.mem); err != nil {
		unix.Close(s.fd)
		return fmt.Errorf("segment: munmap: %w", err)
	}
	return unix.Close(s.fd)
}
