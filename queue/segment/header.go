package segment

import (
	"fmt"

	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
)

// Segment header layout. Every field that is shared between the writer and
// readers sits on an 8 byte boundary and is accessed atomically.
const (
	magic   = uint32(0x4753514d) // "MQSG" little endian
	version = uint32(1)

	offMagic     = 0
	offVersion   = 4
	offCycle     = 8
	offFlags     = 12
	offWritePos  = 16
	offCount     = 24
	offPublished = 32
	offCommitted = 40
	offPending   = 48
	offOwner     = 56
	offCreated   = 64
	offCapacity  = 72
	offExtent    = 80

	// HeaderSize is the size of the segment header; the first frame starts here.
	HeaderSize = 128

	flagSealed = uint32(1)

	// MaxCapacity bounds a segment so committed positions pack into one word.
	MaxCapacity = int64(1) << 32
	// MinCapacity leaves room for the header, one small frame and padding.
	MinCapacity = HeaderSize + 4*frame.HeaderSize

	committedPosBits = 29
	committedPosMask = uint64(1)<<committedPosBits - 1
)

// packCommitted stores a frame boundary and the sequence of the frame that
// starts there in one word, so both are updated together.
func packCommitted(pos int64, seq uint64) uint64 {
	return seq<<committedPosBits | uint64(pos/frame.Alignment)&committedPosMask
}

func unpackCommitted(w uint64) (int64, uint64) {
	return int64(w&committedPosMask) * frame.Alignment, w >> committedPosBits
}

func writeHeader(data []byte, cycle uint32, capacity, extent, owner, created int64) {
	io.PutUInt32(data[offMagic:], magic)
	io.PutUInt32(data[offVersion:], version)
	io.PutUInt32(data[offCycle:], cycle)
	io.PutUInt32(data[offFlags:], 0)
	io.PutUInt64(data[offWritePos:], HeaderSize)
	io.PutUInt64(data[offCount:], 0)
	io.PutUInt64(data[offPublished:], 0)
	io.PutUInt64(data[offCommitted:], packCommitted(HeaderSize, 0))
	io.PutUInt64(data[offPending:], 0)
	io.PutInt64(data[offOwner:], owner)
	io.PutInt64(data[offCreated:], created)
	io.PutUInt64(data[offCapacity:], uint64(capacity))
	io.PutUInt64(data[offExtent:], uint64(extent))
}

// checkHeader validates a raw header read from disk and returns the
// capacity it declares.
func checkHeader(hdr []byte, fileSize int64) (int64, error) {
	if len(hdr) < HeaderSize || fileSize < HeaderSize {
		return 0, fmt.Errorf("short segment header (%d bytes)", fileSize)
	}
	if m := io.ToUInt32(hdr[offMagic:]); m != magic {
		return 0, fmt.Errorf("bad magic %x", m)
	}
	if v := io.ToUInt32(hdr[offVersion:]); v != version {
		return 0, fmt.Errorf("unsupported segment version %d", v)
	}
	capacity := int64(io.ToUInt64(hdr[offCapacity:]))
	if capacity < MinCapacity || capacity > MaxCapacity || capacity%frame.Alignment != 0 {
		return 0, fmt.Errorf("invalid capacity %d", capacity)
	}
	if extent := int64(io.ToUInt64(hdr[offExtent:])); extent > capacity || extent < HeaderSize {
		return 0, fmt.Errorf("invalid extent %d", extent)
	}
	return capacity, nil
}
