// Package wire defines the fixed-size tagged-union event record exchanged
// over a segment's event rings (spec §3 "Event ring", §6 "Wire protocol").
//
// Real arcan C payloads are C unions sized to the largest variant; Go has no
// union type, so each Record carries a fixed Payload byte array and typed
// Encode/Decode helpers per category+kind read and write that array with
// encoding/binary. The record's on-the-wire size never changes across kinds —
// that's what lets the ring (see internal/ring) treat it as a plain array
// element.
package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// Category is the outer discriminant of a Record.
type Category uint8

const (
	CategoryIO Category = iota
	CategorySystem
	CategoryTarget
	CategoryExternal
	CategoryNet
	CategoryFrameserverStatus
	CategoryTimer
	CategoryVideo
	CategoryAudio
)

func (c Category) String() string {
	switch c {
	case CategoryIO:
		return "io"
	case CategorySystem:
		return "system"
	case CategoryTarget:
		return "target"
	case CategoryExternal:
		return "external"
	case CategoryNet:
		return "net"
	case CategoryFrameserverStatus:
		return "frameserver-status"
	case CategoryTimer:
		return "timer"
	case CategoryVideo:
		return "video"
	case CategoryAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Target command kinds (parent -> child), spec §6.
const (
	TargetExit uint8 = iota
	TargetPause
	TargetUnpause
	TargetReset
	TargetSeekTime
	TargetStepFrame
	TargetFrameskip
	TargetCoreOption
	TargetGraphmode
	TargetNewSegment
	TargetFDTransfer
	TargetStateSize
	TargetRestore
	TargetStore
	TargetRequestFailure
	TargetDeviceNode // supplemented: hands a render-node path for the accel path (§3)
)

// External notice kinds (child -> parent), spec §6.
const (
	ExternalRegister uint8 = iota
	ExternalMessage
	ExternalStateSize
	ExternalStreamInfo
	ExternalStreamStatus
	ExternalFrameStatus
	ExternalSegmentRequest
	ExternalCursorInput
	ExternalKeyInput
	ExternalCoreOpt
	ExternalIdent
	ExternalFailure
)

// Input kinds, spec §6.
const (
	InputDigital uint8 = iota
	InputAnalog
	InputTranslated
	InputTouch
	InputStatus
)

// Frameserver-status kinds (parent-internal), spec §6.
const (
	FSResized uint8 = iota
	FSDeliveredFrame
	FSDroppedFrame
	FSTerminated
	FSSourceFound
	FSSourceLost
)

// Archetype is the declared kind of a frameserver (GLOSSARY).
type Archetype uint8

const (
	ArchetypeMedia Archetype = iota
	ArchetypeGame
	ArchetypeTerminal
	ArchetypeNetworkClient
	ArchetypeEncoder
	ArchetypeRemoting
)

// SegKind supplements the distilled "media/game/terminal" tagging with the
// original's SEGID_* enum (original_source/shmif/arcan_shmif_event.h),
// carried on segment-request / new-segment events (SPEC_FULL §3).
type SegKind uint8

const (
	SegKindMedia SegKind = iota
	SegKindGame
	SegKindTerminal
	SegKindCursor
	SegKindPopup
	SegKindClipboard
	SegKindDebug
	SegKindAccessibility
	SegKindHandover
)

// messageCap and keyCap are the fixed field capacities referenced throughout
// spec §6 ("truncated to the field's capacity, e.g. 64 or 78 bytes").
const (
	messageCap = 78
	identCap   = 64
	keyCap     = 32
)

// PayloadSize is the fixed payload capacity; RecordSize is the whole
// on-the-wire record, header included. Chosen so the largest variant
// (Video/VideoHandle, 90 bytes: 10 bytes of size/plane-count/fence fields
// plus four 20-byte plane descriptors) fits with two bytes to spare.
const (
	headerSize  = 4
	PayloadSize = 92
	RecordSize  = headerSize + PayloadSize
)

// Record is one fixed-size slot in an event ring.
type Record struct {
	Category Category
	Kind     uint8
	_        [2]byte // alignment padding, part of the bit-exact layout
	Payload  [PayloadSize]byte
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 rune,
// matching spec §6's "must remain valid UTF-8 after truncation" rule.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	b := s[:n]
	for len(b) > 0 && !utf8.ValidString(b) {
		b = b[:len(b)-1]
	}
	return b
}

func putString(dst []byte, s string) {
	s = Truncate(s, len(dst)-1) // leave room for a NUL terminator
	n := copy(dst, s)
	dst[n] = 0
}

func getString(src []byte) string {
	n := 0
	for n < len(src) && src[n] != 0 {
		n++
	}
	return string(src[:n])
}

// EncodeMessage builds an External/Message record, truncating text to the
// field's 78-byte capacity.
func EncodeMessage(text string) Record {
	r := Record{Category: CategoryExternal, Kind: ExternalMessage}
	putString(r.Payload[:messageCap], text)
	return r
}

// DecodeMessage extracts the text from an External/Message record.
func DecodeMessage(r Record) (string, error) {
	if r.Category != CategoryExternal || r.Kind != ExternalMessage {
		return "", fmt.Errorf("wire: not a message record (category=%s kind=%d)", r.Category, r.Kind)
	}
	return getString(r.Payload[:messageCap]), nil
}

// EncodeRegister builds the External/Register record a client sends once
// after acquire to declare its archetype and title (spec §4.4 "acquire").
func EncodeRegister(archetype Archetype, title string) Record {
	r := Record{Category: CategoryExternal, Kind: ExternalRegister}
	r.Payload[0] = byte(archetype)
	putString(r.Payload[1:1+identCap], title)
	return r
}

// DecodeRegister extracts the archetype and title from a Register record.
func DecodeRegister(r Record) (Archetype, string, error) {
	if r.Category != CategoryExternal || r.Kind != ExternalRegister {
		return 0, "", fmt.Errorf("wire: not a register record")
	}
	return Archetype(r.Payload[0]), getString(r.Payload[1 : 1+identCap]), nil
}

// SegmentRequest is the payload of an External/SegmentRequest event — a
// child asking the parent for a sub-segment (spec §4.5 "sub-segment").
type SegmentRequest struct {
	Kind SegKind
	W, H uint16
	Tag  uint32
}

// EncodeSegmentRequest builds an External/SegmentRequest record.
func EncodeSegmentRequest(req SegmentRequest) Record {
	r := Record{Category: CategoryExternal, Kind: ExternalSegmentRequest}
	r.Payload[0] = byte(req.Kind)
	binary.LittleEndian.PutUint16(r.Payload[2:4], req.W)
	binary.LittleEndian.PutUint16(r.Payload[4:6], req.H)
	binary.LittleEndian.PutUint32(r.Payload[6:10], req.Tag)
	return r
}

// DecodeSegmentRequest extracts a SegmentRequest from a Record.
func DecodeSegmentRequest(r Record) (SegmentRequest, error) {
	if r.Category != CategoryExternal || r.Kind != ExternalSegmentRequest {
		return SegmentRequest{}, fmt.Errorf("wire: not a segment-request record")
	}
	return SegmentRequest{
		Kind: SegKind(r.Payload[0]),
		W:    binary.LittleEndian.Uint16(r.Payload[2:4]),
		H:    binary.LittleEndian.Uint16(r.Payload[4:6]),
		Tag:  binary.LittleEndian.Uint32(r.Payload[6:10]),
	}, nil
}

// NewSegment is the payload of a Target/NewSegment event — the parent
// handing a sub-segment's connection key to the child, paired with an
// FD-transfer of the socketpair end (spec §4.5).
type NewSegment struct {
	Tag uint32
	Key string
}

// EncodeNewSegment builds a Target/NewSegment record.
func EncodeNewSegment(ns NewSegment) Record {
	r := Record{Category: CategoryTarget, Kind: TargetNewSegment}
	binary.LittleEndian.PutUint32(r.Payload[0:4], ns.Tag)
	putString(r.Payload[4:4+keyCap+1], ns.Key)
	return r
}

// DecodeNewSegment extracts a NewSegment from a Record.
func DecodeNewSegment(r Record) (NewSegment, error) {
	if r.Category != CategoryTarget || r.Kind != TargetNewSegment {
		return NewSegment{}, fmt.Errorf("wire: not a new-segment record")
	}
	return NewSegment{
		Tag: binary.LittleEndian.Uint32(r.Payload[0:4]),
		Key: getString(r.Payload[4 : 4+keyCap+1]),
	}, nil
}

// EncodeTarget builds a bare Target command record (exit, pause, unpause,
// reset, ...) that carries no payload beyond its kind.
func EncodeTarget(kind uint8) Record {
	return Record{Category: CategoryTarget, Kind: kind}
}

// EncodeFrameStatus builds a Frameserver-status record (parent-internal;
// never crosses the process boundary, but shares the wire format so the
// same ring code serves both directions — spec §6).
func EncodeFrameStatus(kind uint8) Record {
	return Record{Category: CategoryFrameserverStatus, Kind: kind}
}

// EncodeTargetRequestFailure builds a Target/RequestFailure record: the
// parent refusing a client's preceding request, e.g. an over-maximum resize
// (spec §7 "Resize refusal", §8 boundary behavior).
func EncodeTargetRequestFailure() Record {
	return Record{Category: CategoryTarget, Kind: TargetRequestFailure}
}

// IsTargetRequestFailure reports whether r is a Target/RequestFailure
// record.
func IsTargetRequestFailure(r Record) bool {
	return r.Category == CategoryTarget && r.Kind == TargetRequestFailure
}

// EncodeExternalFailure builds an External/Failure record: a client
// reporting its own failure back to the parent (spec §6 "External notice").
func EncodeExternalFailure() Record {
	return Record{Category: CategoryExternal, Kind: ExternalFailure}
}

// IsExternalFailure reports whether r is an External/Failure record.
func IsExternalFailure(r Record) bool {
	return r.Category == CategoryExternal && r.Kind == ExternalFailure
}

// Digital is the payload of an IO/Digital input event.
type Digital struct {
	Device, Subid uint16
	Active        bool
}

// EncodeDigital builds an IO/Digital record.
func EncodeDigital(d Digital) Record {
	r := Record{Category: CategoryIO, Kind: InputDigital}
	binary.LittleEndian.PutUint16(r.Payload[0:2], d.Device)
	binary.LittleEndian.PutUint16(r.Payload[2:4], d.Subid)
	if d.Active {
		r.Payload[4] = 1
	}
	return r
}

// DecodeDigital extracts a Digital event from a Record.
func DecodeDigital(r Record) (Digital, error) {
	if r.Category != CategoryIO || r.Kind != InputDigital {
		return Digital{}, fmt.Errorf("wire: not a digital input record")
	}
	return Digital{
		Device: binary.LittleEndian.Uint16(r.Payload[0:2]),
		Subid:  binary.LittleEndian.Uint16(r.Payload[2:4]),
		Active: r.Payload[4] != 0,
	}, nil
}

// Analog is the payload of an IO/Analog input event: up to four int16
// samples, optionally relative.
type Analog struct {
	Device, Subid uint16
	Relative      bool
	Samples       [4]int16
	NSamples      uint8
}

// EncodeAnalog builds an IO/Analog record.
func EncodeAnalog(a Analog) Record {
	r := Record{Category: CategoryIO, Kind: InputAnalog}
	binary.LittleEndian.PutUint16(r.Payload[0:2], a.Device)
	binary.LittleEndian.PutUint16(r.Payload[2:4], a.Subid)
	if a.Relative {
		r.Payload[4] = 1
	}
	r.Payload[5] = a.NSamples
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(r.Payload[6+i*2:8+i*2], uint16(a.Samples[i]))
	}
	return r
}

// DecodeAnalog extracts an Analog event from a Record.
func DecodeAnalog(r Record) (Analog, error) {
	if r.Category != CategoryIO || r.Kind != InputAnalog {
		return Analog{}, fmt.Errorf("wire: not an analog input record")
	}
	a := Analog{
		Device:   binary.LittleEndian.Uint16(r.Payload[0:2]),
		Subid:    binary.LittleEndian.Uint16(r.Payload[2:4]),
		Relative: r.Payload[4] != 0,
		NSamples: r.Payload[5],
	}
	for i := 0; i < 4; i++ {
		a.Samples[i] = int16(binary.LittleEndian.Uint16(r.Payload[6+i*2 : 8+i*2]))
	}
	return a, nil
}

// Translated is the payload of an IO/Translated input event: a keysym plus
// modifiers, a raw scancode and the corresponding UTF-8 text.
type Translated struct {
	Device, Subid    uint16
	Keysym, Modifier uint16
	Scancode         uint16
	UTF8             string
}

const translatedUTF8Cap = 6 // longest single UTF-8 rune is 4 bytes; leave room for a NUL

// EncodeTranslated builds an IO/Translated record.
func EncodeTranslated(t Translated) Record {
	r := Record{Category: CategoryIO, Kind: InputTranslated}
	binary.LittleEndian.PutUint16(r.Payload[0:2], t.Device)
	binary.LittleEndian.PutUint16(r.Payload[2:4], t.Subid)
	binary.LittleEndian.PutUint16(r.Payload[4:6], t.Keysym)
	binary.LittleEndian.PutUint16(r.Payload[6:8], t.Modifier)
	binary.LittleEndian.PutUint16(r.Payload[8:10], t.Scancode)
	putString(r.Payload[10:10+translatedUTF8Cap], t.UTF8)
	return r
}

// DecodeTranslated extracts a Translated event from a Record.
func DecodeTranslated(r Record) (Translated, error) {
	if r.Category != CategoryIO || r.Kind != InputTranslated {
		return Translated{}, fmt.Errorf("wire: not a translated input record")
	}
	return Translated{
		Device:   binary.LittleEndian.Uint16(r.Payload[0:2]),
		Subid:    binary.LittleEndian.Uint16(r.Payload[2:4]),
		Keysym:   binary.LittleEndian.Uint16(r.Payload[4:6]),
		Modifier: binary.LittleEndian.Uint16(r.Payload[6:8]),
		Scancode: binary.LittleEndian.Uint16(r.Payload[8:10]),
		UTF8:     getString(r.Payload[10 : 10+translatedUTF8Cap]),
	}, nil
}
