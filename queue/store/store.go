// Package store maps cycles to segment files in one queue directory. It
// creates segments on demand, shares mapped segments between the writer
// and readers of a process with reference counts, and enforces that only
// one writer appends to the directory at a time.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/marketqueue/metrics"
	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/queue/segment"
	"github.com/alpacahq/marketqueue/utils/log"
)

// Options configures a Store.
type Options struct {
	Dir         string
	RollCycle   index.RollCycle
	Capacity    int64
	InitialSize int64
	Spacing     int
	// Floor is the lowest cycle the store will list or create.
	Floor    uint32
	Listener Listener
	Clock    func() time.Time
	DirRead  func(name string) ([]os.DirEntry, error)
}

type entry struct {
	seg  *segment.Segment
	refs int
}

// Store is safe for concurrent use.
type Store struct {
	opts       Options
	finder     *Finder
	listener   Listener
	instanceID int64
	floor      atomic.Uint32

	mu     sync.Mutex
	mapped map[uint32]*entry
	// retired holds removed segments still referenced, apart from mapped so
	// a cycle recreated after Retire gets its own entry.
	retired map[*segment.Segment]*entry
	lock   *writerLock
	// writer is set while a writer of this process holds the claim.
	writer bool
	closed bool
}

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("store directory is required")
	}
	if opts.Spacing <= 0 {
		opts.Spacing = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errs.Unavailable("create directory "+opts.Dir, err)
	}
	l := opts.Listener
	if l == nil {
		l = NopListener{}
	}
	s := &Store{
		opts:       opts,
		finder:     NewFinder(opts.RollCycle, opts.DirRead),
		listener:   l,
		instanceID: time.Now().UnixNano() ^ int64(os.Getpid())<<48,
		mapped:     map[uint32]*entry{},
		retired:    map[*segment.Segment]*entry{},
	}
	s.floor.Store(opts.Floor)
	return s, nil
}

func (s *Store) Dir() string {
	return s.opts.Dir
}

func (s *Store) RollCycle() index.RollCycle {
	return s.opts.RollCycle
}

// InstanceID identifies this store in the owner field of segments it writes.
func (s *Store) InstanceID() int64 {
	return s.instanceID
}

// Path is the file name of the segment for cycle.
func (s *Store) Path(cycle uint32) string {
	return filepath.Join(s.opts.Dir, s.opts.RollCycle.FileName(cycle))
}

func (s *Store) Floor() uint32 {
	return s.floor.Load()
}

// SetFloor hides every cycle below floor from listing and creation. The
// floor never moves down.
func (s *Store) SetFloor(floor uint32) {
	for {
		old := s.floor.Load()
		if floor <= old || s.floor.CompareAndSwap(old, floor) {
			return
		}
	}
}

// ListIDs returns the cycles present on disk at or above the floor.
func (s *Store) ListIDs() ([]uint32, error) {
	ids, err := s.finder.Find(s.opts.Dir)
	if err != nil {
		return nil, errs.Unavailable("list segments", err)
	}
	floor := s.Floor()
	i := 0
	for i < len(ids) && ids[i] < floor {
		i++
	}
	return ids[i:], nil
}

// Bounds returns the lowest and highest cycles present, or ok=false for an
// empty directory.
func (s *Store) Bounds() (first, last uint32, ok bool, err error) {
	ids, err := s.ListIDs()
	if err != nil || len(ids) == 0 {
		return 0, 0, false, err
	}
	return ids[0], ids[len(ids)-1], true, nil
}

// Next returns the lowest cycle present above cycle.
func (s *Store) Next(cycle uint32) (uint32, bool, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return 0, false, err
	}
	for _, id := range ids {
		if id > cycle {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// Resolve returns the mapped segment for cycle, taking a reference that the
// caller gives back with Release. It never creates a segment.
func (s *Store) Resolve(cycle uint32) (*segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.ErrClosed
	}
	if floor := s.Floor(); cycle < floor {
		return nil, fmt.Errorf("%w: cycle %d is below floor %d", errs.ErrNotFound, cycle, floor)
	}
	if e, ok := s.mapped[cycle]; ok {
		e.refs++
		return e.seg, nil
	}
	seg, err := segment.Open(s.Path(cycle), s.opts.Spacing)
	if err != nil {
		return nil, err
	}
	s.track(seg)
	return seg, nil
}

func (s *Store) track(seg *segment.Segment) {
	s.mapped[seg.Cycle()] = &entry{seg: seg, refs: 1}
	metrics.SegmentsMapped.Inc()
	metrics.MappedBytes.Add(float64(seg.Capacity()))
}

// Release gives back a reference taken by Resolve or AcquireForAppend.
// Segments are unmapped once unreferenced, except the latest one which
// stays mapped for the next reader.
func (s *Store) Release(seg *segment.Segment) {
	if seg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.retired[seg]; ok {
		if e.refs--; e.refs == 0 {
			delete(s.retired, seg)
			s.unmapLocked(e)
		}
		return
	}
	e, ok := s.mapped[seg.Cycle()]
	if !ok || e.seg != seg {
		return
	}
	e.refs--
	if e.refs > 0 || s.isLatestLocked(seg.Cycle()) {
		return
	}
	delete(s.mapped, seg.Cycle())
	s.unmapLocked(e)
}

func (s *Store) isLatestLocked(cycle uint32) bool {
	for c := range s.mapped {
		if c > cycle {
			return false
		}
	}
	return true
}

func (s *Store) unmapLocked(e *entry) {
	if err := e.seg.Close(); err != nil {
		log.Error("failed to unmap segment %d: %v", e.seg.Cycle(), err)
	}
	metrics.SegmentsMapped.Dec()
	metrics.MappedBytes.Sub(float64(e.seg.Capacity()))
}

// ClaimWriter makes this store the single writer of its directory and
// repairs whatever a previous writer left behind.
func (s *Store) ClaimWriter() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrClosed
	}
	if s.writer {
		s.mu.Unlock()
		return fmt.Errorf("%w: an appender is already open on %s", errs.ErrWriterConflict, s.opts.Dir)
	}
	lock, err := lockWriter(s.opts.Dir)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.lock, s.writer = lock, true
	s.mu.Unlock()

	if err = s.recoverAll(); err != nil {
		s.ReleaseWriter()
		return err
	}
	return nil
}

// ReleaseWriter gives up the writer claim.
func (s *Store) ReleaseWriter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.writer {
		return
	}
	if err := s.lock.release(); err != nil {
		log.Error("failed to release writer lock on %s: %v", s.opts.Dir, err)
	}
	s.lock, s.writer = nil, false
}

func (s *Store) recoverAll() error {
	ids, err := s.ListIDs()
	if err != nil {
		return err
	}
	for i, cycle := range ids {
		seg, err := s.Resolve(cycle)
		if err != nil {
			return err
		}
		err = s.recoverSegment(seg, i < len(ids)-1)
		s.Release(seg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) recoverSegment(seg *segment.Segment, superseded bool) error {
	if seg.NeedsRecovery() {
		r, err := seg.Recover()
		if err != nil {
			return err
		}
		if r.Changed() {
			log.Warn("recovered segment %d (previous owner %d): %d voided, %d truncated, corrupt=%v",
				seg.Cycle(), seg.Owner(), r.Voided, r.Truncated, r.Corrupt)
			metrics.RecoveredFramesTotal.WithLabelValues("voided").Add(float64(r.Voided))
			metrics.RecoveredFramesTotal.WithLabelValues("truncated").Add(float64(r.Truncated))
			if r.Corrupt != nil {
				metrics.CorruptFramesTotal.Inc()
			}
			s.listener.SegmentRecovered(seg.Cycle(), r)
		}
	}
	if superseded && !seg.Sealed() {
		return s.Seal(seg)
	}
	return nil
}

// AcquireForAppend returns the segment the writer should append to: the
// latest cycle on disk, or hint if that is later, created when missing.
// Cycles never go backwards, so a clock that steps back keeps appending to
// the current tail. The caller must hold the writer claim.
func (s *Store) AcquireForAppend(hint uint32) (*segment.Segment, error) {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	floor := s.Floor()
	if !writer {
		return nil, fmt.Errorf("%w: writer claim not held", errs.ErrWriterConflict)
	}

	cycle := hint
	if cycle < floor {
		cycle = floor
	}
	_, last, ok, err := s.Bounds()
	if err != nil {
		return nil, err
	}
	if ok && last > cycle {
		cycle = last
	}
	if ok && last < cycle {
		// a tail left by an earlier writer must be closed before readers
		// can move past it
		if err = s.sealCycle(last); err != nil {
			return nil, err
		}
	}
	for {
		seg, err := s.acquire(cycle)
		if err != nil {
			return nil, err
		}
		if !seg.Sealed() {
			seg.SetOwner(s.instanceID)
			return seg, nil
		}
		s.Release(seg)
		cycle++
	}
}

func (s *Store) sealCycle(cycle uint32) error {
	seg, err := s.Resolve(cycle)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer s.Release(seg)
	return s.Seal(seg)
}

func (s *Store) acquire(cycle uint32) (*segment.Segment, error) {
	seg, err := s.Resolve(cycle)
	if err == nil || !errors.Is(err, errs.ErrNotFound) {
		return seg, err
	}
	path := s.Path(cycle)
	seg, err = segment.Create(path, segment.Options{
		Cycle:       cycle,
		Capacity:    s.opts.Capacity,
		InitialSize: s.opts.InitialSize,
		Spacing:     s.opts.Spacing,
		Owner:       s.instanceID,
		Now:         s.opts.Clock(),
	})
	if os.IsExist(err) {
		return s.Resolve(cycle)
	}
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if e, ok := s.mapped[cycle]; ok {
		// a reader mapped the file between link and here
		e.refs++
		s.mu.Unlock()
		if err = seg.Close(); err != nil {
			log.Error("failed to unmap duplicate mapping of segment %d: %v", cycle, err)
		}
		seg = e.seg
	} else {
		s.track(seg)
		s.mu.Unlock()
	}
	metrics.SegmentsCreatedTotal.Inc()
	log.Info("created segment %s", path)
	s.listener.SegmentCreated(cycle, path)
	return seg, nil
}

// Seal closes seg to further appends.
func (s *Store) Seal(seg *segment.Segment) error {
	if seg.Sealed() {
		return nil
	}
	if err := seg.Seal(); err != nil {
		return err
	}
	log.Debug("sealed segment %d at %d records", seg.Cycle(), seg.Count())
	s.listener.SegmentSealed(seg.Cycle())
	return nil
}

// Retire removes the segment for cycle. Readers still holding it keep
// their mapping until they release it.
func (s *Store) Retire(cycle uint32) error {
	path := s.Path(cycle)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", errs.ErrNotFound, path)
		}
		return errs.Unavailable("remove "+path, err)
	}
	s.mu.Lock()
	if e, ok := s.mapped[cycle]; ok {
		delete(s.mapped, cycle)
		if e.refs == 0 {
			s.unmapLocked(e)
		} else {
			s.retired[e.seg] = e
		}
	}
	s.mu.Unlock()
	log.Info("retired segment %s", path)
	s.listener.SegmentRetired(cycle, path)
	return nil
}

// Stats returns a header snapshot of every segment present.
func (s *Store) Stats() ([]segment.Stats, error) {
	ids, err := s.ListIDs()
	if err != nil {
		return nil, err
	}
	out := make([]segment.Stats, 0, len(ids))
	for _, cycle := range ids {
		seg, err := s.Resolve(cycle)
		if errors.Is(err, errs.ErrNotFound) {
			// retired concurrently
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, seg.Stats())
		s.Release(seg)
	}
	return out, nil
}

// Close releases the writer claim and unmaps every segment. Handles
// obtained from the store must not be used afterwards.
func (s *Store) Close() error {
	s.ReleaseWriter()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for cycle, e := range s.mapped {
		delete(s.mapped, cycle)
		s.unmapLocked(e)
	}
	for seg, e := range s.retired {
		delete(s.retired, seg)
		s.unmapLocked(e)
	}
	return nil
}
