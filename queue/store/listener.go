package store

import "github.com/alpacahq/marketqueue/queue/segment"

// Listener is notified of segment lifecycle events. Calls are made
// synchronously from the goroutine causing the event and must not block.
type Listener interface {
	SegmentCreated(cycle uint32, path string)
	SegmentSealed(cycle uint32)
	SegmentRetired(cycle uint32, path string)
	SegmentRecovered(cycle uint32, r segment.Recovery)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) SegmentCreated(uint32, string)             {}
func (NopListener) SegmentSealed(uint32)                      {}
func (NopListener) SegmentRetired(uint32, string)             {}
func (NopListener) SegmentRecovered(uint32, segment.Recovery) {}
