// Package frame defines how one record is laid out inside a mapped segment.
//
// A frame is a 16 byte header followed by the payload, padded so the next
// frame starts on an 8 byte boundary:
//
//	+0  uint32  state (2 high bits) | slot length (30 low bits)
//	+4  uint32  payload length, or lenClaimed / lenVoid markers
//	+8  uint64  xxhash64 of the payload
//	+16 payload
//
// The state word is the only field readers synchronise on. Writers fill
// everything else first and store the state word last.
package frame

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/alpacahq/marketqueue/utils/io"
)

const (
	HeaderSize = 16
	Alignment  = 8

	stateShift = 30
	slotMask   = uint32(1)<<stateShift - 1

	// MaxSlotLen is the largest payload capacity a frame can declare.
	MaxSlotLen = int(slotMask &^ (Alignment - 1))

	lenClaimed = ^uint32(0) - 1
	lenVoid    = ^uint32(0)

	offState    = 0
	offLength   = 4
	offChecksum = 8
)

type State uint32

const (
	Empty State = iota
	Reserved
	Complete
	Padding
)

func (s State) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Reserved:
		return "RESERVED"
	case Complete:
		return "COMPLETE"
	case Padding:
		return "PADDING"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// ErrNotReady means nothing has been published at the offset yet.
var ErrNotReady = errors.New("frame not ready")

// View describes a decoded frame. Payload aliases the mapped region.
type View struct {
	State   State
	Offset  int64
	Size    int64
	SlotLen int
	Payload []byte
	// Void is set on complete frames that carry no record.
	Void bool
	// Claimed is set on reserved frames whose content has an owner.
	Claimed bool
	// Checksum as stored in the header.
	Checksum uint64
}

// Next is the offset of the frame following v.
func (v View) Next() int64 {
	return v.Offset + v.Size
}

// Readable reports whether v is a record a reader may return.
func (v View) Readable() bool {
	return v.State == Complete && !v.Void
}

// Size returns the aligned number of bytes a frame with the given payload
// capacity occupies.
func Size(slotLen int) int64 {
	return io.AlignUp(HeaderSize+int64(slotLen), Alignment)
}

func word(state State, slotLen int) uint32 {
	return uint32(state)<<stateShift | uint32(slotLen)&slotMask
}

// Reserve claims the empty slot at off for a frame of slotLen payload bytes.
// It returns false if anything was already written there.
func Reserve(region []byte, off int64, slotLen int) bool {
	return io.CASUint32(region, off+offState, 0, word(Reserved, slotLen))
}

// Claim takes ownership of the content of a reserved slot. Only one caller
// succeeds until the frame is published.
func Claim(region []byte, off int64) bool {
	return io.CASUint32(region, off+offLength, 0, lenClaimed)
}

// Fill copies payload into a reserved slot along with its checksum. It may
// be called repeatedly; the frame stays invisible until Publish.
func Fill(region []byte, off int64, payload []byte) {
	copy(region[off+HeaderSize:], payload)
	io.PutUInt64(region[off+offChecksum:], xxhash.Sum64(payload))
}

// Publish records the final payload length of a filled slot and makes it
// visible to readers.
func Publish(region []byte, off int64, n int) {
	slot := int(io.LoadUint32(region, off+offState) & slotMask)
	io.StoreUint32(region, off+offLength, uint32(n))
	io.StoreUint32(region, off+offState, word(Complete, slot))
}

// Void publishes a slot as consumed but carrying no record.
func Void(region []byte, off int64) {
	slot := int(io.LoadUint32(region, off+offState) & slotMask)
	io.StoreUint32(region, off+offLength, lenVoid)
	io.StoreUint32(region, off+offState, word(Complete, slot))
}

// Pad writes an end-of-segment marker at off covering the rest of region.
func Pad(region []byte, off int64) {
	rest := int64(len(region)) - off - HeaderSize
	if rest < 0 {
		return
	}
	if rest > int64(slotMask) {
		rest = int64(slotMask)
	}
	io.StoreUint32(region, off+offState, word(Padding, int(rest)))
}

// Reset clears the header at off so the slot can be reserved again.
func Reset(region []byte, off int64) {
	io.PutUInt64(region[off+offChecksum:], 0)
	io.StoreUint32(region, off+offLength, 0)
	io.StoreUint32(region, off+offState, 0)
}

// Encode appends a complete frame holding payload to dst.
func Encode(dst, payload []byte) []byte {
	n := Size(len(payload))
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	buf := dst[start:]
	io.PutUInt32(buf[offState:], word(Complete, len(payload)))
	io.PutUInt32(buf[offLength:], uint32(len(payload)))
	io.PutUInt64(buf[offChecksum:], xxhash.Sum64(payload))
	copy(buf[HeaderSize:], payload)
	return dst
}

// Decode reads the frame at off. region must span the whole segment
// capacity; readable bounds the bytes that are backed by storage. Reserved
// and padding frames are returned as views without error so scanners can
// step over them; empty slots return ErrNotReady and malformed headers a
// *CorruptFrame.
func Decode(region []byte, off, readable int64) (View, error) {
	limit := int64(len(region))
	if off+HeaderSize > limit {
		// No room for another header: implicit end of segment.
		return View{State: Padding, Offset: off, Size: limit - off}, nil
	}
	if off+HeaderSize > readable {
		return View{}, ErrNotReady
	}
	w := io.LoadUint32(region, off+offState)
	state := State(w >> stateShift)
	slot := int(w & slotMask)
	v := View{State: state, Offset: off, SlotLen: slot}

	switch state {
	case Empty:
		if w != 0 {
			return View{}, &CorruptFrame{off, fmt.Sprintf("empty state with length %d", slot)}
		}
		return View{}, ErrNotReady
	case Padding:
		if off+HeaderSize+int64(slot) > limit {
			return View{}, &CorruptFrame{off, "padding overruns segment"}
		}
		v.Size = limit - off
		return v, nil
	}

	v.Size = Size(slot)
	if off+v.Size > limit {
		return View{}, &CorruptFrame{off, fmt.Sprintf("slot of %d bytes overruns segment", slot)}
	}
	l := io.LoadUint32(region, off+offLength)
	if state == Reserved {
		v.Claimed = l != 0
		return v, nil
	}
	if l == lenVoid {
		v.Void = true
		return v, nil
	}
	if int(l) > slot {
		return View{}, &CorruptFrame{off, fmt.Sprintf("length %d exceeds slot %d", l, slot)}
	}
	v.Checksum = io.ToUInt64(region[off+offChecksum:])
	v.Payload = region[off+HeaderSize : off+HeaderSize+int64(l)]
	return v, nil
}

// Verify checks the payload of a readable view against its checksum.
func Verify(v View) error {
	if !v.Readable() {
		return nil
	}
	if sum := xxhash.Sum64(v.Payload); sum != v.Checksum {
		return &CorruptFrame{v.Offset, fmt.Sprintf("checksum %x, expected %x", sum, v.Checksum)}
	}
	return nil
}

// CorruptFrame is a malformed frame at Offset. The segment layer turns it
// into an errs.CorruptError carrying the cycle.
type CorruptFrame struct {
	Offset int64
	Reason string
}

func (e *CorruptFrame) Error() string {
	return fmt.Sprintf("corrupt frame at offset %d: %s", e.Offset, e.Reason)
}
