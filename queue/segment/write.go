package segment

import (
	"errors"
	"fmt"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
)

// Slot is a reserved frame handed to a writer.
type Slot struct {
	Seq     uint64
	Offset  int64
	SlotLen int
}

// Payload is the writable region of the slot.
func (s *Segment) Payload(sl Slot) []byte {
	start := sl.Offset + frame.HeaderSize
	return s.data[start : start+int64(sl.SlotLen)]
}

// reserve places a reserved frame at the write position. A claimed frame is
// owned by the caller from the start; an unclaimed one is counted as pending
// so recovery knows to look for it.
func (s *Segment) reserve(slotLen int, claimed bool) (Slot, error) {
	if s.Sealed() {
		return Slot{}, ErrSealed
	}
	if slotLen > frame.MaxSlotLen {
		return Slot{}, fmt.Errorf("%w: slot of %d bytes", errs.ErrCapacityExceeded, slotLen)
	}
	pos := s.WritePos()
	size := frame.Size(slotLen)
	// Always leave room for the padding header that seals the segment.
	end := pos + size + frame.HeaderSize
	if end > s.capacity {
		return Slot{}, ErrFull
	}
	if err := s.Grow(end); err != nil {
		return Slot{}, err
	}
	if io.LoadUint32(s.data, pos) != 0 {
		return Slot{}, fmt.Errorf("%w: slot at %d in cycle %d already taken", errs.ErrWriterConflict, pos, s.cycle)
	}
	if claimed {
		if !frame.Claim(s.data, pos) {
			return Slot{}, fmt.Errorf("%w: slot at %d in cycle %d already claimed", errs.ErrWriterConflict, pos, s.cycle)
		}
	} else {
		io.AddUint64(s.data, offPending, 1)
	}
	if !frame.Reserve(s.data, pos, slotLen) {
		if !claimed {
			io.AddUint64(s.data, offPending, ^uint64(0))
		}
		return Slot{}, fmt.Errorf("%w: slot at %d in cycle %d already taken", errs.ErrWriterConflict, pos, s.cycle)
	}
	seq := s.Count()
	io.StoreUint64(s.data, offCount, seq+1)
	io.StoreUint64(s.data, offWritePos, uint64(pos+size))
	return Slot{Seq: seq, Offset: pos, SlotLen: slotLen}, nil
}

// Append writes payload as the next record and publishes it.
func (s *Segment) Append(payload []byte) (uint64, error) {
	sl, err := s.reserve(len(payload), true)
	if err != nil {
		return 0, err
	}
	frame.Fill(s.data, sl.Offset, payload)
	s.publish(sl, len(payload))
	return sl.Seq, nil
}

// Reserve sets aside an unclaimed slot of up to slotLen bytes. The slot
// consumes the next sequence; readers stop at it until it is completed.
func (s *Segment) Reserve(slotLen int) (Slot, error) {
	return s.reserve(slotLen, false)
}

// Claim takes the content of a reserved slot for the caller. It fails if
// the slot is already claimed or published.
func (s *Segment) Claim(sl Slot) bool {
	return frame.Claim(s.data, sl.Offset)
}

// Complete publishes a claimed reservation holding payload.
func (s *Segment) Complete(sl Slot, payload []byte) error {
	if len(payload) > sl.SlotLen {
		return fmt.Errorf("%w: %d bytes into a %d byte slot", errs.ErrCapacityExceeded, len(payload), sl.SlotLen)
	}
	frame.Fill(s.data, sl.Offset, payload)
	s.publish(sl, len(payload))
	io.AddUint64(s.data, offPending, ^uint64(0))
	return nil
}

// Discard publishes a reservation as void so readers skip past it.
func (s *Segment) Discard(sl Slot) {
	frame.Void(s.data, sl.Offset)
	s.commit(sl)
	io.AddUint64(s.data, offPending, ^uint64(0))
}

func (s *Segment) publish(sl Slot, n int) {
	frame.Publish(s.data, sl.Offset, n)
	io.MaxUint64(s.data, offPublished, sl.Seq+1)
	s.commit(sl)
}

func (s *Segment) commit(sl Slot) {
	next := sl.Offset + frame.Size(sl.SlotLen)
	io.MaxUint64(s.data, offCommitted, packCommitted(next, sl.Seq+1))
}

// SlotAt returns the reserved slot holding seq.
func (s *Segment) SlotAt(seq uint64) (Slot, frame.View, error) {
	off, err := s.Locate(seq)
	if err != nil {
		return Slot{}, frame.View{}, err
	}
	v, err := s.Decode(off)
	if err != nil {
		if errors.Is(err, frame.ErrNotReady) {
			return Slot{}, v, fmt.Errorf("%w: seq %d in cycle %d", errs.ErrNotFound, seq, s.cycle)
		}
		return Slot{}, v, err
	}
	if v.State == frame.Padding {
		return Slot{}, v, fmt.Errorf("%w: seq %d in cycle %d", errs.ErrNotFound, seq, s.cycle)
	}
	return Slot{Seq: seq, Offset: off, SlotLen: v.SlotLen}, v, nil
}

// Seal marks the end of the segment with a padding frame and sets the
// sealed flag. A sealed segment accepts no further appends.
func (s *Segment) Seal() error {
	if s.Sealed() {
		return nil
	}
	pos := s.WritePos()
	if pos+frame.HeaderSize <= s.capacity {
		if err := s.Grow(pos + frame.HeaderSize); err != nil {
			return err
		}
		if io.LoadUint32(s.data, pos) == 0 {
			frame.Pad(s.data, pos)
		}
	}
	for {
		old := io.LoadUint32(s.data, offFlags)
		if io.CASUint32(s.data, offFlags, old, old|flagSealed) {
			return nil
		}
	}
}
