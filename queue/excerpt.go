package queue

import (
	"errors"
	"fmt"

	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
)

// Excerpt reads and completes records by index.
type Excerpt struct {
	q      *Queue
	app    *Appender
	closed bool
}

// ReadAt copies the record at idx into dst[:0]. It never waits: indices
// past the last written record, pending reservations, void records and
// retired segments all give errs.ErrNotFound.
func (e *Excerpt) ReadAt(idx int64, dst []byte) ([]byte, error) {
	if e.closed {
		return nil, errs.ErrClosed
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: index %d", errs.ErrNotFound, idx)
	}
	cycle, seq := e.q.scheme.Decode(idx)
	seg, err := e.q.store.Resolve(cycle)
	if err != nil {
		return nil, err
	}
	defer e.q.store.Release(seg)

	off, err := seg.Locate(seq)
	if err != nil {
		return nil, err
	}
	v, err := seg.Decode(off)
	if errors.Is(err, frame.ErrNotReady) || (err == nil && !v.Readable()) {
		return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, e.q.scheme.String(idx))
	}
	if err != nil {
		return nil, err
	}
	return append(dst[:0], v.Payload...), nil
}

// WriteAt completes the reserved record at idx with payload. It fails with
// errs.ErrIndexInUse if the record is already complete or another writer
// is filling it.
func (e *Excerpt) WriteAt(idx int64, payload []byte) error {
	if e.closed {
		return errs.ErrClosed
	}
	if idx < 0 {
		return fmt.Errorf("%w: index %d", errs.ErrNotFound, idx)
	}
	cycle, seq := e.q.scheme.Decode(idx)
	seg, err := e.q.store.Resolve(cycle)
	if err != nil {
		return err
	}
	defer e.q.store.Release(seg)

	sl, v, err := seg.SlotAt(seq)
	if err != nil {
		return err
	}
	if v.State != frame.Reserved || v.Claimed {
		return fmt.Errorf("%w: %s is %s", errs.ErrIndexInUse, e.q.scheme.String(idx), v.State)
	}
	if len(payload) > sl.SlotLen {
		return fmt.Errorf("%w: %d bytes into a %d byte reservation", errs.ErrCapacityExceeded, len(payload), sl.SlotLen)
	}
	if !seg.Claim(sl) {
		return fmt.Errorf("%w: %s was claimed by another writer", errs.ErrIndexInUse, e.q.scheme.String(idx))
	}
	if err = seg.Complete(sl, payload); err != nil {
		return err
	}
	metrics.AppendsTotal.Inc()
	metrics.AppendBytesTotal.Add(float64(len(payload)))
	return nil
}

// AppendNew appends payload through an appender opened on first use, so
// the excerpt holds the writer role from then until it is closed.
func (e *Excerpt) AppendNew(payload []byte) (int64, error) {
	if e.closed {
		return -1, errs.ErrClosed
	}
	if e.app == nil {
		a, err := e.q.CreateAppender()
		if err != nil {
			return -1, err
		}
		e.app = a
	}
	return e.app.Append(payload)
}

func (e *Excerpt) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	if e.app != nil {
		err = e.app.Close()
		e.app = nil
	}
	e.q.untrack(e)
	return err
}
