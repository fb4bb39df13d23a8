package queue

import (
	"errors"
	"fmt"

	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/queue/segment"
	"github.com/alpacahq/marketqueue/utils/log"
)

const (
	rollClock = "clock"
	rollFull  = "full"
)

// Appender is the single writer of a queue directory.
type Appender struct {
	q       *Queue
	seg     *segment.Segment
	last    int64
	pending map[*Reservation]struct{}
	closed  bool
}

// Append writes payload as the next record and returns its index. The
// record is visible to readers when Append returns.
func (a *Appender) Append(payload []byte) (int64, error) {
	if a.closed {
		return index.None, errs.ErrClosed
	}
	if len(payload) > a.q.cfg.MaxFrameSize {
		return index.None, fmt.Errorf("%w: payload of %d bytes, max frame size is %d",
			errs.ErrCapacityExceeded, len(payload), a.q.cfg.MaxFrameSize)
	}
	var seq uint64
	err := a.write(func(seg *segment.Segment) (err error) {
		seq, err = seg.Append(payload)
		return err
	})
	if err != nil {
		return index.None, err
	}
	a.last = a.q.scheme.Encode(a.seg.Cycle(), seq)
	metrics.AppendsTotal.Inc()
	metrics.AppendBytesTotal.Add(float64(len(payload)))
	return a.last, nil
}

// Reserve sets aside the next index for a record of up to maxLen bytes.
// Readers stop at a reservation until it is committed or discarded, so
// reservations should be short lived.
func (a *Appender) Reserve(maxLen int) (*Reservation, error) {
	if a.closed {
		return nil, errs.ErrClosed
	}
	if maxLen < 0 || maxLen > a.q.cfg.MaxFrameSize {
		return nil, fmt.Errorf("%w: reservation of %d bytes, max frame size is %d",
			errs.ErrCapacityExceeded, maxLen, a.q.cfg.MaxFrameSize)
	}
	var sl segment.Slot
	err := a.write(func(seg *segment.Segment) (err error) {
		sl, err = seg.Reserve(maxLen)
		return err
	})
	if err != nil {
		return nil, err
	}
	// The reservation keeps its own reference so it survives a roll.
	seg, err := a.q.store.Resolve(a.seg.Cycle())
	if err != nil {
		a.seg.Discard(sl)
		return nil, err
	}
	r := &Reservation{a: a, seg: seg, slot: sl, idx: a.q.scheme.Encode(seg.Cycle(), sl.Seq)}
	a.pending[r] = struct{}{}
	a.last = r.idx
	return r, nil
}

// write runs op against the current tail, rolling to a new segment when
// the clock has moved on or the tail is full.
func (a *Appender) write(op func(seg *segment.Segment) error) error {
	if err := a.prepare(); err != nil {
		return err
	}
	err := op(a.seg)
	if !errors.Is(err, segment.ErrFull) && !errors.Is(err, segment.ErrSealed) {
		return err
	}
	if err = a.roll(rollFull, a.seg.Cycle()+1); err != nil {
		return err
	}
	err = op(a.seg)
	if errors.Is(err, segment.ErrFull) {
		return fmt.Errorf("%w: record does not fit an empty segment of %d bytes",
			errs.ErrCapacityExceeded, a.q.cfg.SegmentCapacity)
	}
	return err
}

func (a *Appender) prepare() error {
	want := a.q.cfg.RollCycle.Cycle(a.q.cfg.Clock())
	if a.seg == nil {
		return a.acquire(want)
	}
	if a.seg.Cycle() < a.q.store.Floor() {
		// the queue was cleared underneath us
		a.q.store.Release(a.seg)
		a.seg = nil
		return a.acquire(want)
	}
	if a.q.cfg.RollCycle.TimeBased() && want > a.seg.Cycle() {
		return a.roll(rollClock, want)
	}
	return nil
}

func (a *Appender) acquire(hint uint32) error {
	if hint > a.q.scheme.MaxCycle() {
		return fmt.Errorf("%w: cycle %d exceeds %d", errs.ErrCapacityExceeded, hint, a.q.scheme.MaxCycle())
	}
	seg, err := a.q.store.AcquireForAppend(hint)
	if err != nil {
		return err
	}
	if seg.Cycle() > a.q.scheme.MaxCycle() {
		a.q.store.Release(seg)
		return fmt.Errorf("%w: cycle %d exceeds %d", errs.ErrCapacityExceeded, seg.Cycle(), a.q.scheme.MaxCycle())
	}
	a.seg = seg
	return nil
}

// roll seals the tail and moves to a segment at or above hint.
func (a *Appender) roll(reason string, hint uint32) error {
	old := a.seg
	if err := a.q.store.Seal(old); err != nil {
		return err
	}
	a.syncOnRoll(old)
	// old may be unmapped by a reader once released
	from, n := old.Cycle(), old.Count()
	a.q.store.Release(old)
	a.seg = nil
	if err := a.acquire(hint); err != nil {
		return err
	}
	metrics.RollsTotal.WithLabelValues(reason).Inc()
	log.Info("rolled %s from cycle %d to %d (%s) after %d records",
		a.q.cfg.Name, from, a.seg.Cycle(), reason, n)
	return nil
}

func (a *Appender) syncOnRoll(seg *segment.Segment) {
	if !a.q.cfg.SyncOnRoll {
		return
	}
	if err := seg.Sync(); err != nil {
		log.Error("failed to sync segment %d: %v", seg.Cycle(), err)
	}
}

// LastIndex is the index handed out by the most recent Append or Reserve,
// or index.None.
func (a *Appender) LastIndex() int64 {
	return a.last
}

// Close discards outstanding reservations and gives up the writer role.
func (a *Appender) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	for r := range a.pending {
		r.Discard()
	}
	if a.seg != nil {
		a.syncOnRoll(a.seg)
		a.q.store.Release(a.seg)
		a.seg = nil
	}
	a.q.store.ReleaseWriter()
	a.q.untrack(a)
	return nil
}

// Reservation is a record slot set aside by Reserve. It is updated in place
// and becomes visible on Commit, or is skipped by readers after Discard.
type Reservation struct {
	a       *Appender
	seg     *segment.Segment
	slot    segment.Slot
	idx     int64
	n       int
	claimed bool
	done    bool
}

// Index is the index the record will have.
func (r *Reservation) Index() int64 {
	return r.idx
}

// Cap is the largest payload the reservation holds.
func (r *Reservation) Cap() int {
	return r.slot.SlotLen
}

func (r *Reservation) claim() error {
	if r.claimed {
		return nil
	}
	if !r.seg.Claim(r.slot) {
		return fmt.Errorf("%w: %s", errs.ErrIndexInUse, r.a.q.scheme.String(r.idx))
	}
	r.claimed = true
	return nil
}

// Update replaces the pending content of the record.
func (r *Reservation) Update(p []byte) error {
	if r.done {
		return errs.ErrClosed
	}
	if len(p) > r.slot.SlotLen {
		return fmt.Errorf("%w: %d bytes into a %d byte reservation", errs.ErrCapacityExceeded, len(p), r.slot.SlotLen)
	}
	if err := r.claim(); err != nil {
		return err
	}
	copy(r.seg.Payload(r.slot), p)
	r.n = len(p)
	return nil
}

// Commit publishes the last content given to Update.
func (r *Reservation) Commit() error {
	if r.done {
		return errs.ErrClosed
	}
	if err := r.claim(); err != nil {
		// completed through an Excerpt
		r.finish()
		return err
	}
	if err := r.seg.Complete(r.slot, r.seg.Payload(r.slot)[:r.n]); err != nil {
		return err
	}
	metrics.AppendsTotal.Inc()
	metrics.AppendBytesTotal.Add(float64(r.n))
	r.finish()
	return nil
}

// Discard publishes the record as void. Readers skip it and the index is
// never reused.
func (r *Reservation) Discard() {
	if r.done {
		return
	}
	if r.claim() == nil {
		r.seg.Discard(r.slot)
	}
	r.finish()
}

func (r *Reservation) finish() {
	r.done = true
	delete(r.a.pending, r)
	r.a.q.store.Release(r.seg)
}
