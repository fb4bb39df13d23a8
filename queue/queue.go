// Package queue is a persisted, append-only record log on memory-mapped
// segment files.
//
// One Appender per directory writes records; any number of Tailers read
// them in order, waiting for new ones when asked to; Excerpts read and
// complete records by index. Every record has a stable int64 index that
// increases with append order across segments.
package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/queue/segment"
	"github.com/alpacahq/marketqueue/queue/store"
	"github.com/alpacahq/marketqueue/utils/log"
	"github.com/alpacahq/marketqueue/utils/wait"
)

// Queue is safe for concurrent use. The handles it creates are not; each
// belongs to one goroutine.
type Queue struct {
	cfg     Config
	scheme  index.Scheme
	store   *store.Store
	backoff wait.Backoff

	mu      sync.Mutex
	meta    meta
	handles map[io.Closer]struct{}
	closed  bool
}

// Open opens the queue in cfg.Dir, creating it when missing. Settings
// recorded when the directory was created take precedence over cfg.
func Open(cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errs.Unavailable("create directory "+cfg.Dir, err)
	}

	m, err := loadMeta(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &meta{
			Name:      cfg.Name,
			Version:   metaVersion,
			RollCycle: cfg.RollCycle.Name,
			SeqBits:   cfg.SeqBits,
			Created:   cfg.Clock().UnixNano(),
		}
		if err = saveMeta(cfg.Dir, m); err != nil {
			return nil, err
		}
	} else if cfg, err = reconcile(cfg, m); err != nil {
		return nil, err
	}

	st, err := store.New(store.Options{
		Dir:         cfg.Dir,
		RollCycle:   cfg.RollCycle,
		Capacity:    cfg.SegmentCapacity,
		InitialSize: cfg.SegmentInitialSize,
		Spacing:     cfg.IndexSpacing,
		Floor:       m.FloorCycle,
		Listener:    cfg.Listener,
		Clock:       cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	log.Info("opened queue %s in %s (roll cycle %s, %d seq bits)", cfg.Name, cfg.Dir, cfg.RollCycle, cfg.SeqBits)
	return &Queue{
		cfg:    cfg,
		scheme: index.NewScheme(cfg.SeqBits),
		store:  st,
		backoff: wait.Backoff{
			Spins:  wait.DefaultBackoff.Spins,
			Yields: wait.DefaultBackoff.Yields,
			Min:    cfg.WaitPollInterval,
			Max:    cfg.WaitMaxPollInterval,
		},
		meta:    *m,
		handles: map[io.Closer]struct{}{},
	}, nil
}

func reconcile(cfg Config, m *meta) (Config, error) {
	rc := index.RollCycleFromString(m.RollCycle)
	if rc == nil {
		return cfg, errs.Unavailable("open "+cfg.Dir, fmt.Errorf("unknown roll cycle %q in %s", m.RollCycle, MetaFileName))
	}
	if *rc != cfg.RollCycle {
		log.Warn("queue %s was created with roll cycle %s, ignoring configured %s", cfg.Dir, rc, cfg.RollCycle)
		cfg.RollCycle = *rc
	}
	if m.SeqBits != cfg.SeqBits {
		if m.SeqBits < index.MinSeqBits || m.SeqBits > index.MaxSeqBits {
			return cfg, errs.Unavailable("open "+cfg.Dir, fmt.Errorf("invalid seq bits %d in %s", m.SeqBits, MetaFileName))
		}
		log.Warn("queue %s was created with %d seq bits, ignoring configured %d", cfg.Dir, m.SeqBits, cfg.SeqBits)
		cfg.SeqBits = m.SeqBits
	}
	if m.Name != "" {
		cfg.Name = m.Name
	}
	return cfg, nil
}

func (q *Queue) Name() string {
	return q.cfg.Name
}

func (q *Queue) Dir() string {
	return q.cfg.Dir
}

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Scheme returns the index split of this queue.
func (q *Queue) Scheme() index.Scheme {
	return q.scheme
}

func (q *Queue) track(c io.Closer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.ErrClosed
	}
	q.handles[c] = struct{}{}
	return nil
}

func (q *Queue) untrack(c io.Closer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.handles, c)
}

// CreateAppender claims the writer role for the directory. Only one
// appender may be open per queue directory across all processes; others
// get errs.ErrWriterConflict until it is closed.
func (q *Queue) CreateAppender() (*Appender, error) {
	if err := q.store.ClaimWriter(); err != nil {
		return nil, err
	}
	a := &Appender{q: q, last: index.None, pending: map[*Reservation]struct{}{}}
	if err := q.track(a); err != nil {
		q.store.ReleaseWriter()
		return nil, err
	}
	return a, nil
}

// CreateTailer returns a reader positioned at the first available record.
func (q *Queue) CreateTailer() (*Tailer, error) {
	t := &Tailer{q: q, pos: -1, read: index.None}
	if err := q.track(t); err != nil {
		return nil, err
	}
	if err := t.ToStart(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// CreateExcerpt returns a random access handle.
func (q *Queue) CreateExcerpt() (*Excerpt, error) {
	e := &Excerpt{q: q}
	if err := q.track(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Segments returns header statistics for every segment present.
func (q *Queue) Segments() ([]segment.Stats, error) {
	return q.store.Stats()
}

// Size estimates the number of records from segment headers. Under a
// concurrent writer the value may already be stale.
func (q *Queue) Size() (int64, error) {
	stats, err := q.store.Stats()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, s := range stats {
		n += int64(s.Published)
	}
	return n, nil
}

// FirstAvailableIndex is the index of the first record of the earliest
// segment holding published records, or index.None.
func (q *Queue) FirstAvailableIndex() (int64, error) {
	ids, err := q.store.ListIDs()
	if err != nil {
		return index.None, err
	}
	for _, cycle := range ids {
		n, err := q.published(cycle)
		if err != nil {
			return index.None, err
		}
		if n > 0 {
			return q.scheme.First(cycle), nil
		}
	}
	return index.None, nil
}

// LastWrittenIndex is the index of the highest published record, or
// index.None.
func (q *Queue) LastWrittenIndex() (int64, error) {
	ids, err := q.store.ListIDs()
	if err != nil {
		return index.None, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		n, err := q.published(ids[i])
		if err != nil {
			return index.None, err
		}
		if n > 0 {
			return q.scheme.Encode(ids[i], n-1), nil
		}
	}
	return index.None, nil
}

func (q *Queue) published(cycle uint32) (uint64, error) {
	seg, err := q.store.Resolve(cycle)
	if errors.Is(err, errs.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer q.store.Release(seg)
	return seg.Published(), nil
}

// Clear retires every segment. Records appended afterwards start a cycle
// above any cycle used before, so no index is ever handed out twice. It
// must not run while an appender is writing.
func (q *Queue) Clear() error {
	ids, err := q.store.ListIDs()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.ErrClosed
	}
	floor := q.store.Floor()
	if len(ids) > 0 && ids[len(ids)-1]+1 > floor {
		floor = ids[len(ids)-1] + 1
	}
	m := q.meta
	m.FloorCycle = floor
	if err = saveMeta(q.cfg.Dir, &m); err != nil {
		return err
	}
	q.meta = m
	q.store.SetFloor(floor)
	for _, cycle := range ids {
		if err = q.store.Retire(cycle); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
	}
	log.Info("cleared queue %s: retired %d segments, next cycle >= %d", q.cfg.Name, len(ids), floor)
	return nil
}

// RetireBefore removes segments whose cycle is below cycle. The latest
// segment is always kept. It returns the number of segments removed.
func (q *Queue) RetireBefore(cycle uint32) (int, error) {
	ids, err := q.store.ListIDs()
	if err != nil {
		return 0, err
	}
	n := 0
	for i, id := range ids {
		if id >= cycle || i == len(ids)-1 {
			break
		}
		if err = q.store.Retire(id); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

// Close closes every handle created from the queue and unmaps all
// segments.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	handles := make([]io.Closer, 0, len(q.handles))
	for h := range q.handles {
		handles = append(handles, h)
	}
	q.mu.Unlock()

	for _, h := range handles {
		if err := h.Close(); err != nil {
			log.Error("failed to close queue handle: %v", err)
		}
	}
	return q.store.Close()
}
