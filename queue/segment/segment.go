// Package segment implements one memory-mapped segment file: a header and an
// append-ordered run of frames.
//
// The mapping always spans the full segment capacity while the file itself
// grows by doubling, so existing frames never move. The header publishes the
// allocated extent and readers never touch bytes past it.
package segment

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
	"github.com/alpacahq/marketqueue/utils/log"
)

var (
	// ErrFull means the next frame does not fit and the writer must roll.
	ErrFull = errors.New("segment full")
	// ErrSealed means the segment was retired as tail and takes no appends.
	ErrSealed = errors.New("segment sealed")
)

const growthFactor = 2

// Options describes a new segment.
type Options struct {
	Cycle       uint32
	Capacity    int64
	InitialSize int64
	// Spacing is the number of sequences between cached frame positions.
	Spacing int
	Owner   int64
	Now     time.Time
}

// Segment is one mapped segment file. The exported methods are safe for
// concurrent use by readers; writer methods assume a single writer, which
// the store enforces.
type Segment struct {
	cycle    uint32
	path     string
	file     *os.File
	data     []byte
	capacity int64
	spacing  uint64

	mu        sync.Mutex
	positions []int64
	scanPos   int64
	scanSeq   uint64
	closed    bool
}

// Stats is a snapshot of the header.
type Stats struct {
	Cycle     uint32
	Path      string
	Count     uint64
	Published uint64
	Pending   uint64
	WritePos  int64
	Extent    int64
	Capacity  int64
	Sealed    bool
	Owner     int64
	Created   time.Time
}

func validate(o Options) error {
	if o.Capacity < MinCapacity || o.Capacity > MaxCapacity || o.Capacity%frame.Alignment != 0 {
		return fmt.Errorf("%w: segment capacity %d", errs.ErrCapacityExceeded, o.Capacity)
	}
	if o.Spacing <= 0 {
		return fmt.Errorf("invalid index spacing %d", o.Spacing)
	}
	return nil
}

// Create builds a new segment at path. The file is prepared under a
// temporary name and linked into place, so concurrent creators converge:
// exactly one wins and the others get an error satisfying os.IsExist.
func Create(path string, o Options) (*Segment, error) {
	if err := validate(o); err != nil {
		return nil, err
	}
	tmp := fmt.Sprintf("%s.%d.%d.tmp", path, os.Getpid(), time.Now().UnixNano())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Unavailable("create "+tmp, err)
	}
	defer os.Remove(tmp)

	initial := o.InitialSize
	if initial < HeaderSize {
		initial = HeaderSize
	}
	if initial > o.Capacity {
		initial = o.Capacity
	}
	if err = allocate(f, initial); err != nil {
		f.Close()
		return nil, errs.Unavailable("allocate "+tmp, err)
	}
	data, err := mapFile(f, o.Capacity)
	if err != nil {
		f.Close()
		return nil, errs.Unavailable("map "+tmp, err)
	}
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	writeHeader(data, o.Cycle, o.Capacity, initial, o.Owner, now.UnixNano())

	if err = os.Link(tmp, path); err != nil {
		_ = unmap(data)
		f.Close()
		if os.IsExist(err) {
			return nil, err
		}
		return nil, errs.Unavailable("link "+path, err)
	}
	return newSegment(path, f, data, o.Cycle, o.Capacity, o.Spacing), nil
}

// Open maps an existing segment file.
func Open(path string, spacing int) (*Segment, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("invalid index spacing %d", spacing)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, path)
		}
		return nil, errs.Unavailable("open "+path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Unavailable("stat "+path, err)
	}
	hdr := make([]byte, HeaderSize)
	if fi.Size() >= HeaderSize {
		if _, err = f.ReadAt(hdr, 0); err != nil {
			f.Close()
			return nil, errs.Unavailable("read header "+path, err)
		}
	}
	capacity, err := checkHeader(hdr, fi.Size())
	if err != nil {
		f.Close()
		return nil, errs.Unavailable("open "+path, err)
	}
	data, err := mapFile(f, capacity)
	if err != nil {
		f.Close()
		return nil, errs.Unavailable("map "+path, err)
	}
	cycle := io.ToUInt32(hdr[offCycle:])
	return newSegment(path, f, data, cycle, capacity, spacing), nil
}

func newSegment(path string, f *os.File, data []byte, cycle uint32, capacity int64, spacing int) *Segment {
	return &Segment{
		cycle:     cycle,
		path:      path,
		file:      f,
		data:      data,
		capacity:  capacity,
		spacing:   uint64(spacing),
		positions: []int64{HeaderSize},
		scanPos:   HeaderSize,
	}
}

func (s *Segment) Cycle() uint32 {
	return s.cycle
}

func (s *Segment) Path() string {
	return s.path
}

func (s *Segment) Capacity() int64 {
	return s.capacity
}

// Extent is the number of bytes currently backed by the file.
func (s *Segment) Extent() int64 {
	return int64(io.LoadUint64(s.data, offExtent))
}

// WritePos is the offset at which the next frame will be reserved.
func (s *Segment) WritePos() int64 {
	return int64(io.LoadUint64(s.data, offWritePos))
}

// Count is the number of sequences handed out so far.
func (s *Segment) Count() uint64 {
	return io.LoadUint64(s.data, offCount)
}

// Published is one past the highest sequence made visible to readers.
func (s *Segment) Published() uint64 {
	return io.LoadUint64(s.data, offPublished)
}

func (s *Segment) Sealed() bool {
	return io.LoadUint32(s.data, offFlags)&flagSealed != 0
}

func (s *Segment) Owner() int64 {
	return int64(io.LoadUint64(s.data, offOwner))
}

// SetOwner stamps the instance id of the writer now appending here.
func (s *Segment) SetOwner(id int64) {
	io.StoreUint64(s.data, offOwner, uint64(id))
}

func (s *Segment) Stats() Stats {
	return Stats{
		Cycle:     s.cycle,
		Path:      s.path,
		Count:     s.Count(),
		Published: s.Published(),
		Pending:   io.LoadUint64(s.data, offPending),
		WritePos:  s.WritePos(),
		Extent:    s.Extent(),
		Capacity:  s.capacity,
		Sealed:    s.Sealed(),
		Owner:     s.Owner(),
		Created:   time.Unix(0, io.ToInt64(s.data[offCreated:])),
	}
}

// Grow extends the backing file so that need bytes are addressable.
func (s *Segment) Grow(need int64) error {
	if need <= s.Extent() {
		return nil
	}
	if need > s.capacity {
		return fmt.Errorf("%w: segment %d needs %d of %d bytes", errs.ErrCapacityExceeded, s.cycle, need, s.capacity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	extent := s.Extent()
	if need <= extent {
		return nil
	}
	next := extent
	for next < need {
		next *= growthFactor
	}
	if next > s.capacity {
		next = s.capacity
	}
	if err := allocate(s.file, next); err != nil {
		return errs.Unavailable(fmt.Sprintf("grow segment %d to %d bytes", s.cycle, next), err)
	}
	io.StoreUint64(s.data, offExtent, uint64(next))
	log.Debug("grew segment %d from %d to %d bytes", s.cycle, extent, next)
	return nil
}

// Decode reads the frame at off.
func (s *Segment) Decode(off int64) (frame.View, error) {
	v, err := frame.Decode(s.data, off, s.Extent())
	if err != nil {
		var cf *frame.CorruptFrame
		if errors.As(err, &cf) {
			return v, &errs.CorruptError{Cycle: s.cycle, Offset: cf.Offset, Reason: cf.Reason}
		}
	}
	return v, err
}

// Locate returns the offset of the frame holding seq. For seq equal to the
// number of frames present it returns the offset the next frame will take,
// so a reader can wait there. Beyond that it returns errs.ErrNotFound.
func (s *Segment) Locate(seq uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errs.ErrClosed
	}
	var pos int64
	var cur uint64
	if block := seq / s.spacing; block < uint64(len(s.positions)) {
		pos, cur = s.positions[block], block*s.spacing
	} else {
		pos, cur = s.scanPos, s.scanSeq
	}
	cache := true
	for cur < seq {
		v, err := s.Decode(pos)
		if err != nil {
			if errors.Is(err, frame.ErrNotReady) {
				return 0, fmt.Errorf("%w: seq %d in cycle %d", errs.ErrNotFound, seq, s.cycle)
			}
			return 0, err
		}
		if v.State == frame.Padding {
			return 0, fmt.Errorf("%w: seq %d in cycle %d", errs.ErrNotFound, seq, s.cycle)
		}
		// Positions past a reserved frame may still be rewritten by
		// recovery, so they are never cached.
		if v.State == frame.Reserved {
			cache = false
		}
		pos = v.Next()
		cur++
		if cache {
			s.note(cur, pos)
		}
	}
	return pos, nil
}

func (s *Segment) note(seq uint64, pos int64) {
	if seq > s.scanSeq {
		s.scanSeq, s.scanPos = seq, pos
	}
	if seq%s.spacing == 0 && seq/s.spacing == uint64(len(s.positions)) {
		s.positions = append(s.positions, pos)
	}
}

// Scan calls fn for every frame from the start of the segment until the end
// of published data.
func (s *Segment) Scan(fn func(seq uint64, v frame.View) error) error {
	pos := int64(HeaderSize)
	for seq := uint64(0); ; seq++ {
		v, err := s.Decode(pos)
		if errors.Is(err, frame.ErrNotReady) {
			return nil
		}
		if err != nil {
			return err
		}
		if v.State == frame.Padding {
			return nil
		}
		if err = fn(seq, v); err != nil {
			return err
		}
		pos = v.Next()
	}
}

// Sync flushes the mapping to storage.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if err := syncMapping(s.data); err != nil {
		return errs.Unavailable("msync "+s.path, err)
	}
	return nil
}

// Close unmaps the segment. The caller guarantees no views are in use.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := unmap(s.data)
	s.data = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
