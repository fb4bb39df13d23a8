package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/queue/segment"
	"github.com/alpacahq/marketqueue/queue/store"
)

const (
	DefaultSegmentCapacity     = 64 << 20
	DefaultSegmentInitialSize  = 1 << 20
	DefaultMaxFrameSize        = 1 << 20
	DefaultIndexSpacing        = 16
	DefaultWaitPollInterval    = time.Millisecond
	DefaultWaitMaxPollInterval = 100 * time.Millisecond
	DefaultWaitTimeout         = 5 * time.Second
)

// Config is fixed once the queue is open.
type Config struct {
	// Dir holds the segment files. Required.
	Dir string
	// Name defaults to the base name of Dir.
	Name      string
	RollCycle index.RollCycle
	// SeqBits is the number of low index bits that address a record inside
	// its segment.
	SeqBits            int
	SegmentCapacity    int64
	SegmentInitialSize int64
	// MaxFrameSize bounds the payload of a single record. Zero means
	// DefaultMaxFrameSize, lowered to what fits one segment.
	MaxFrameSize int
	// IndexSpacing is how many records apart cached frame positions are.
	IndexSpacing        int
	WaitPollInterval    time.Duration
	WaitMaxPollInterval time.Duration
	// WaitTimeout bounds Tailer.NextWait. Zero means wait on the context only.
	WaitTimeout time.Duration
	// SyncOnRoll flushes a segment to storage when the writer leaves it.
	SyncOnRoll bool
	Clock      func() time.Time
	Listener   store.Listener
}

// DefaultConfig returns a daily rolling queue in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                 dir,
		RollCycle:           index.Daily,
		SeqBits:             index.DefaultSeqBits,
		SegmentCapacity:     DefaultSegmentCapacity,
		SegmentInitialSize:  DefaultSegmentInitialSize,
		IndexSpacing:        DefaultIndexSpacing,
		WaitPollInterval:    DefaultWaitPollInterval,
		WaitMaxPollInterval: DefaultWaitMaxPollInterval,
		WaitTimeout:         DefaultWaitTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Dir)
	if c.Name == "" {
		c.Name = filepath.Base(filepath.Clean(c.Dir))
	}
	if c.RollCycle.Name == "" {
		c.RollCycle = d.RollCycle
	}
	if c.SeqBits == 0 {
		c.SeqBits = d.SeqBits
	}
	if c.SegmentCapacity == 0 {
		c.SegmentCapacity = d.SegmentCapacity
	}
	if c.SegmentInitialSize == 0 {
		c.SegmentInitialSize = d.SegmentInitialSize
	}
	if c.SegmentInitialSize > c.SegmentCapacity {
		c.SegmentInitialSize = c.SegmentCapacity
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
		if limit := maxFrameFor(c.SegmentCapacity); c.MaxFrameSize > limit {
			c.MaxFrameSize = limit
		}
	}
	if c.IndexSpacing == 0 {
		c.IndexSpacing = d.IndexSpacing
	}
	if c.WaitPollInterval == 0 {
		c.WaitPollInterval = d.WaitPollInterval
	}
	if c.WaitMaxPollInterval == 0 {
		c.WaitMaxPollInterval = d.WaitMaxPollInterval
	}
	if c.WaitMaxPollInterval < c.WaitPollInterval {
		c.WaitMaxPollInterval = c.WaitPollInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Listener == nil {
		c.Listener = store.NopListener{}
	}
	return c
}

// maxFrameFor is the largest payload that fits an empty segment of the
// given capacity next to its closing padding header.
func maxFrameFor(capacity int64) int {
	n := capacity - segment.HeaderSize - 2*frame.HeaderSize
	if n > int64(frame.MaxSlotLen) {
		n = int64(frame.MaxSlotLen)
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

func (c Config) validate() error {
	if c.Dir == "" {
		return errors.New("queue directory is required")
	}
	if c.SeqBits < index.MinSeqBits || c.SeqBits > index.MaxSeqBits {
		return fmt.Errorf("seq bits %d outside [%d, %d]", c.SeqBits, index.MinSeqBits, index.MaxSeqBits)
	}
	if c.SegmentCapacity < segment.MinCapacity || c.SegmentCapacity > segment.MaxCapacity {
		return fmt.Errorf("segment capacity %d outside [%d, %d]", c.SegmentCapacity, segment.MinCapacity, segment.MaxCapacity)
	}
	if c.SegmentCapacity%frame.Alignment != 0 {
		return fmt.Errorf("segment capacity %d is not a multiple of %d", c.SegmentCapacity, frame.Alignment)
	}
	if c.MaxFrameSize < 0 || c.MaxFrameSize > maxFrameFor(c.SegmentCapacity) {
		return fmt.Errorf("max frame size %d does not fit a segment of %d bytes", c.MaxFrameSize, c.SegmentCapacity)
	}
	if c.IndexSpacing < 0 {
		return fmt.Errorf("invalid index spacing %d", c.IndexSpacing)
	}
	return nil
}
