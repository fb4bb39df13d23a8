package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "alpaca"
var subsystem = "marketqueue"

var (
	// AppendsTotal stores the number of records appended
	AppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "appends_total",
		Help:      "Number of records appended, including completed reservations",
	})

	// AppendBytesTotal stores the payload bytes appended
	AppendBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "append_bytes_total",
		Help:      "Payload bytes appended",
	})

	// RollsTotal stores the number of times the writer moved to a new segment
	RollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rolls_total",
		Help:      "Number of segment rolls partitioned by reason (clock or full)",
	}, []string{"reason"})

	// SegmentsCreatedTotal stores the number of segment files created
	SegmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "segments_created_total",
		Help:      "Number of segment files created by this process",
	})

	// SegmentsMapped stores the number of segments currently mapped
	SegmentsMapped = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "segments_mapped",
		Help:      "Number of segments currently mapped into memory",
	})

	// MappedBytes stores the address space reserved by mapped segments
	MappedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "mapped_bytes",
		Help:      "Bytes of address space reserved by mapped segments",
	})

	// RecoveredFramesTotal stores the frames repaired after an unclean shutdown
	RecoveredFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recovered_frames_total",
		Help:      "Frames repaired by recovery partitioned by action (voided or truncated)",
	}, []string{"kind"})

	// CorruptFramesTotal stores the number of malformed frames found
	CorruptFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "corrupt_frames_total",
		Help:      "Number of malformed frames found by recovery or verification",
	})

	// TailerWaitTimeoutsTotal stores the number of blocking reads that timed out
	TailerWaitTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "tailer_wait_timeouts_total",
		Help:      "Number of blocking tailer reads that ran out of time",
	})

	// DiskUsageBytes stores the disk blocks used under the queue directory
	DiskUsageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "disk_usage_bytes",
		Help:      "Bytes of disk actually used by the queue directory",
	})
)
