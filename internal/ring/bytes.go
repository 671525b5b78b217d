package ring

import (
	"unsafe"

	"github.com/arcanshmif/shmifgo/internal/wire"
)

// RecordsFromBytes reinterprets a raw byte range (typically a slice carved
// out of a mapped segment, see internal/segment) as a []wire.Record sharing
// the same backing memory, so writes through the returned slice are visible
// to whichever process mapped the same pages.
func RecordsFromBytes(buf []byte) []wire.Record {
	n := len(buf) / wire.RecordSize
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*wire.Record)(unsafe.Pointer(&buf[0])), n)
}
