// Package index encodes the global address of a record as a single int64:
// the segment cycle in the high bits and the sequence within that segment
// in the low SeqBits bits. The sign bit is never used, so every valid index
// is non-negative and None (-1) can mean "no record".
package index

import "fmt"

const (
	// None is returned where no record exists.
	None int64 = -1

	// DefaultSeqBits leaves 23 bits of cycle: daily cycles last for
	// millennia and minutely cycles for about 16 years.
	DefaultSeqBits = 40

	MinSeqBits = 40
	MaxSeqBits = 48

	usableBits = 63
)

// Scheme is the process-wide split of an index into cycle and sequence.
type Scheme struct {
	seqBits  uint
	seqMask  uint64
	maxCycle uint64
}

// NewScheme panics if seqBits is out of range; the split is fixed at queue
// creation and a bad value is a programming error.
func NewScheme(seqBits int) Scheme {
	if seqBits < MinSeqBits || seqBits > MaxSeqBits {
		panic(fmt.Sprintf("index: seq bits %d outside [%d, %d]", seqBits, MinSeqBits, MaxSeqBits))
	}
	return Scheme{
		seqBits:  uint(seqBits),
		seqMask:  uint64(1)<<uint(seqBits) - 1,
		maxCycle: uint64(1)<<(usableBits-uint(seqBits)) - 1,
	}
}

func (s Scheme) SeqBits() int {
	return int(s.seqBits)
}

// MaxCycle is the largest cycle the scheme can address.
func (s Scheme) MaxCycle() uint32 {
	if s.maxCycle > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(s.maxCycle)
}

// MaxSeq is the largest in-segment sequence the scheme can address.
func (s Scheme) MaxSeq() uint64 {
	return s.seqMask
}

// Encode returns the index of record seq in cycle.
func (s Scheme) Encode(cycle uint32, seq uint64) int64 {
	if uint64(cycle) > s.maxCycle {
		panic(fmt.Sprintf("index: cycle %d exceeds %d", cycle, s.maxCycle))
	}
	if seq > s.seqMask {
		panic(fmt.Sprintf("index: seq %d exceeds %d", seq, s.seqMask))
	}
	return int64(uint64(cycle)<<s.seqBits | seq)
}

// Decode splits idx into cycle and sequence. Negative indices are rejected.
func (s Scheme) Decode(idx int64) (cycle uint32, seq uint64) {
	if idx < 0 {
		panic(fmt.Sprintf("index: negative index %d", idx))
	}
	return uint32(uint64(idx) >> s.seqBits), uint64(idx) & s.seqMask
}

// Cycle is shorthand for the cycle half of Decode.
func (s Scheme) Cycle(idx int64) uint32 {
	c, _ := s.Decode(idx)
	return c
}

// First is the index of the first record of cycle.
func (s Scheme) First(cycle uint32) int64 {
	return s.Encode(cycle, 0)
}

// String formats idx as "cycle:seq", mostly for logs and tooling.
func (s Scheme) String(idx int64) string {
	if idx < 0 {
		return "none"
	}
	c, q := s.Decode(idx)
	return fmt.Sprintf("%d:%d", c, q)
}
