package segment

import (
	"errors"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
)

// Recovery reports what Recover changed.
type Recovery struct {
	// Voided counts abandoned reservations followed by published frames.
	Voided int
	// Truncated counts trailing frames that were dropped.
	Truncated int
	// Corrupt is the first malformed frame found, if any.
	Corrupt error
}

func (r Recovery) Changed() bool {
	return r.Voided > 0 || r.Truncated > 0 || r.Corrupt != nil
}

// NeedsRecovery reports whether a previous writer may have left work
// behind: reservations still pending or a tail past the last commit.
func (s *Segment) NeedsRecovery() bool {
	if io.LoadUint64(s.data, offPending) > 0 {
		return true
	}
	pos, seq := unpackCommitted(io.LoadUint64(s.data, offCommitted))
	return pos != s.WritePos() || seq != s.Count()
}

// Recover repairs a segment whose writer went away without closing it.
// Abandoned reservations with published frames after them become void
// records. Reservations at the tail, and everything from the first corrupt
// frame on, are erased and the write position moves back. The caller must
// hold the writer claim.
func (s *Segment) Recover() (Recovery, error) {
	var r Recovery
	extent := s.Extent()
	writePos := s.WritePos()
	count := s.Count()

	pos, seq := unpackCommitted(io.LoadUint64(s.data, offCommitted))
	if io.LoadUint64(s.data, offPending) > 0 || pos < HeaderSize || pos > writePos || pos > extent || seq > count {
		pos, seq = HeaderSize, 0
	}

	goodPos, goodSeq := pos, seq
	var abandoned []Slot
	padded := false
	for {
		v, err := s.Decode(pos)
		if errors.Is(err, frame.ErrNotReady) {
			break
		}
		if err != nil {
			if !errs.IsCorrupt(err) {
				return r, err
			}
			r.Corrupt = err
			break
		}
		if v.State == frame.Padding {
			padded = true
			break
		}
		if v.State == frame.Reserved {
			abandoned = append(abandoned, Slot{Seq: seq, Offset: pos, SlotLen: v.SlotLen})
		} else {
			r.Voided += s.voidAll(abandoned)
			abandoned = abandoned[:0]
			goodPos, goodSeq = v.Next(), seq+1
		}
		pos = v.Next()
		seq++
	}

	if padded && r.Corrupt == nil {
		// The padding frame pins the end of a sealed segment; leftover
		// reservations before it can only be voided.
		r.Voided += s.voidAll(abandoned)
		if len(abandoned) > 0 {
			goodSeq = seq
		}
		io.StoreUint64(s.data, offPending, 0)
		io.StoreUint64(s.data, offCount, goodSeq)
		io.StoreUint64(s.data, offPublished, goodSeq)
		io.StoreUint64(s.data, offCommitted, packCommitted(pos, goodSeq))
		s.resetCache()
		return r, nil
	}

	r.Truncated = int(seq - goodSeq)
	if r.Corrupt != nil {
		r.Truncated++
	}
	end := writePos
	if end < pos+frame.HeaderSize {
		end = pos + frame.HeaderSize
	}
	if end > extent || writePos < HeaderSize {
		end = extent
	}
	if goodPos+frame.HeaderSize <= end {
		// Readers stop at the first empty header, so clear that one first.
		frame.Reset(s.data, goodPos)
		clear(s.data[goodPos+frame.HeaderSize : end])
	}
	io.StoreUint64(s.data, offPending, 0)
	io.StoreUint64(s.data, offWritePos, uint64(goodPos))
	io.StoreUint64(s.data, offCount, goodSeq)
	io.StoreUint64(s.data, offPublished, goodSeq)
	io.StoreUint64(s.data, offCommitted, packCommitted(goodPos, goodSeq))
	s.resetCache()
	return r, nil
}

func (s *Segment) voidAll(slots []Slot) int {
	for _, sl := range slots {
		frame.Void(s.data, sl.Offset)
	}
	return len(slots)
}

func (s *Segment) resetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = s.positions[:1]
	s.scanPos, s.scanSeq = HeaderSize, 0
}
