package queue

import (
	"errors"
	"sort"
	"sync"

	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/log"
	"github.com/alpacahq/marketqueue/utils/pool"
)

// SegmentReport is the outcome of checking one segment.
type SegmentReport struct {
	Cycle    uint32
	Records  uint64
	Void     uint64
	Reserved uint64
	Bytes    int64
	// Err is the first corrupt frame or checksum mismatch, if any.
	Err error
}

// Verify decodes every frame of every segment and checks record payloads
// against their checksums, spreading segments over workers goroutines.
// Reports come back in cycle order. Retired segments are skipped.
func (q *Queue) Verify(workers int) ([]SegmentReport, error) {
	ids, err := q.store.ListIDs()
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		reports = make([]SegmentReport, 0, len(ids))
	)
	p := pool.NewPool(workers, func(cycle uint32) {
		r, ok := q.verifySegment(cycle)
		if !ok {
			return
		}
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	})

	c := make(chan uint32)
	go func() {
		defer close(c)
		for _, id := range ids {
			c <- id
		}
	}()
	p.Work(c)
	p.Wait()

	sort.Slice(reports, func(i, j int) bool { return reports[i].Cycle < reports[j].Cycle })
	return reports, nil
}

func (q *Queue) verifySegment(cycle uint32) (SegmentReport, bool) {
	seg, err := q.store.Resolve(cycle)
	if errors.Is(err, errs.ErrNotFound) {
		return SegmentReport{}, false
	}
	r := SegmentReport{Cycle: cycle}
	if err != nil {
		r.Err = err
		return r, true
	}
	defer q.store.Release(seg)

	r.Err = seg.Scan(func(seq uint64, v frame.View) error {
		switch {
		case v.State == frame.Reserved:
			r.Reserved++
		case v.Void:
			r.Void++
		default:
			r.Records++
			r.Bytes += int64(len(v.Payload))
		}
		if err := frame.Verify(v); err != nil {
			var cf *frame.CorruptFrame
			if errors.As(err, &cf) {
				return &errs.CorruptError{Cycle: cycle, Offset: cf.Offset, Reason: cf.Reason}
			}
			return err
		}
		return nil
	})
	if r.Err != nil {
		metrics.CorruptFramesTotal.Inc()
		log.Error("verify %s cycle %d: %v", q.cfg.Name, cycle, r.Err)
	}
	return r, true
}
