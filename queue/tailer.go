package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/queue/segment"
	"github.com/alpacahq/marketqueue/utils/log"
	"github.com/alpacahq/marketqueue/utils/wait"
)

// Tailer reads records in index order.
type Tailer struct {
	q     *Queue
	seg   *segment.Segment
	cycle uint32
	seq   uint64
	// pos is the offset of the frame for seq in seg, or -1 when unknown.
	pos    int64
	read   int64
	closed bool
}

// Next returns the next record and advances past it, or
// errs.ErrNotYetAvailable when nothing new is visible. The payload is
// appended to dst[:0]; with a nil dst the returned slice aliases the
// mapped segment and is only valid until the next call on the tailer.
func (t *Tailer) Next(dst []byte) ([]byte, error) {
	if t.closed {
		return nil, errs.ErrClosed
	}
	for {
		v, err := t.peek()
		if err != nil {
			return nil, err
		}
		t.pos = v.Next()
		t.seq++
		if v.Void {
			continue
		}
		t.read = t.q.scheme.Encode(t.cycle, t.seq-1)
		if dst == nil {
			return v.Payload, nil
		}
		return append(dst[:0], v.Payload...), nil
	}
}

// NextWait is Next that waits for a record to become visible, up to the
// configured wait timeout or until ctx is done.
func (t *Tailer) NextWait(ctx context.Context, dst []byte) ([]byte, error) {
	var out []byte
	err := wait.Poll(ctx, t.q.backoff, t.q.cfg.WaitTimeout, func() (bool, error) {
		var err error
		out, err = t.Next(dst)
		if errors.Is(err, errs.ErrNotYetAvailable) {
			return false, nil
		}
		return err == nil, err
	})
	if errors.Is(err, wait.ErrTimeout) {
		metrics.TailerWaitTimeoutsTotal.Inc()
		return nil, fmt.Errorf("%w: no record at %s after %v", errs.ErrTimeout, t.q.scheme.String(t.Index()), t.q.cfg.WaitTimeout)
	}
	return out, err
}

// peek returns the complete frame at the current position, moving across
// segment boundaries as needed.
func (t *Tailer) peek() (frame.View, error) {
	for {
		if t.seg == nil {
			if err := t.resolve(); err != nil {
				return frame.View{}, err
			}
		}
		if t.pos < 0 {
			off, err := t.seg.Locate(t.seq)
			if errors.Is(err, errs.ErrNotFound) {
				if t.seg.Sealed() {
					if err = t.advance(); err != nil {
						return frame.View{}, err
					}
					continue
				}
				return frame.View{}, errs.ErrNotYetAvailable
			}
			if err != nil {
				return frame.View{}, err
			}
			t.pos = off
		}

		v, err := t.seg.Decode(t.pos)
		switch {
		case errors.Is(err, frame.ErrNotReady):
			if t.cycle < t.q.store.Floor() {
				// cleared: pick up from whatever cycle is written next
				t.moveTo(t.q.store.Floor(), 0)
				continue
			}
			return frame.View{}, errs.ErrNotYetAvailable
		case err != nil:
			metrics.CorruptFramesTotal.Inc()
			log.Error("tailer on %s stopped: %v", t.q.cfg.Name, err)
			return frame.View{}, err
		}
		switch v.State {
		case frame.Padding:
			if err = t.advance(); err != nil {
				return frame.View{}, err
			}
			continue
		case frame.Reserved:
			return frame.View{}, errs.ErrNotYetAvailable
		}
		return v, nil
	}
}

// resolve maps the segment for the current cycle. A cycle that was never
// created is skipped when a later one exists, since cycles only grow.
func (t *Tailer) resolve() error {
	seg, err := t.q.store.Resolve(t.cycle)
	if err == nil {
		t.seg = seg
		return nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	ids, err := t.q.store.ListIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id > t.cycle {
			t.moveTo(id, 0)
			return t.resolve()
		}
	}
	return errs.ErrNotYetAvailable
}

// advance moves to the start of the next cycle present. The tailer stays
// at the end of the current segment while no later one exists.
func (t *Tailer) advance() error {
	next, ok, err := t.q.store.Next(t.cycle)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotYetAvailable
	}
	t.moveTo(next, 0)
	return nil
}

func (t *Tailer) moveTo(cycle uint32, seq uint64) {
	if t.seg != nil && t.seg.Cycle() != cycle {
		t.q.store.Release(t.seg)
		t.seg = nil
	}
	t.cycle, t.seq, t.pos = cycle, seq, -1
}

// Index is the index of the record the next call to Next returns, once it
// exists.
func (t *Tailer) Index() int64 {
	return t.q.scheme.Encode(t.cycle, t.seq)
}

// LastRead is the index of the record most recently returned by Next, or
// index.None.
func (t *Tailer) LastRead() int64 {
	return t.read
}

// MoveTo positions the tailer so that Next returns the record at idx.
func (t *Tailer) MoveTo(idx int64) error {
	if t.closed {
		return errs.ErrClosed
	}
	if idx < 0 {
		return fmt.Errorf("%w: index %d", errs.ErrNotFound, idx)
	}
	cycle, seq := t.q.scheme.Decode(idx)
	t.moveTo(cycle, seq)
	return nil
}

// ToStart positions the tailer at the first available record.
func (t *Tailer) ToStart() error {
	if t.closed {
		return errs.ErrClosed
	}
	first, _, ok, err := t.q.store.Bounds()
	if err != nil {
		return err
	}
	if !ok {
		first = t.q.store.Floor()
	}
	t.moveTo(first, 0)
	return nil
}

// ToEnd positions the tailer after the last published record so that only
// records appended from now on are returned.
func (t *Tailer) ToEnd() error {
	if t.closed {
		return errs.ErrClosed
	}
	last, err := t.q.LastWrittenIndex()
	if err != nil {
		return err
	}
	if last < 0 {
		return t.ToStart()
	}
	cycle, seq := t.q.scheme.Decode(last)
	t.moveTo(cycle, seq+1)
	return nil
}

func (t *Tailer) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.seg != nil {
		t.q.store.Release(t.seg)
		t.seg = nil
	}
	t.q.untrack(t)
	return nil
}
