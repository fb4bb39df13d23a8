// Package errs holds the failure taxonomy shared by every layer of the
// queue engine. Callers match outcomes with errors.Is against the
// sentinels below; layers add context with fmt.Errorf("...: %w", err).
package errs

import (
	"errors"
	"fmt"

	"github.com/alpacahq/marketqueue/utils/io"
	"github.com/alpacahq/marketqueue/utils/log"
)

var (
	// ErrCapacityExceeded is returned when a payload is larger than the
	// maximum frame size or than a reserved slot, or when a segment can't grow.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrStoreUnavailable is returned when backing storage can't be
	// created, mapped or extended, or when a segment is unrecoverable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrWriterConflict is returned when a second writer claims a tail
	// that is already owned.
	ErrWriterConflict = errors.New("writer conflict")
	// ErrIndexInUse is returned when updating a record that is already
	// complete or claimed by another writer.
	ErrIndexInUse = errors.New("index in use")
	// ErrNotYetAvailable is a normal outcome of a non-blocking read at the
	// end of the queue.
	ErrNotYetAvailable = errors.New("not yet available")
	// ErrTimeout is returned by blocking reads whose wait elapsed.
	ErrTimeout = errors.New("timeout")
	// ErrNotFound is returned for indices with no readable record.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("closed")
)

// CorruptError reports a malformed frame found while decoding at an offset
// that is not an expected end-of-segment marker.
type CorruptError struct {
	Cycle  uint32
	Offset int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt frame in cycle %d at offset %d: %s", e.Cycle, e.Offset, e.Reason)
}

// IsCorrupt reports whether err carries a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// Unavailable wraps cause as ErrStoreUnavailable with the caller location,
// logging it once at ERROR since these are operator-facing failures.
func Unavailable(op string, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, cause)
	log.Error("%s: %v", io.GetCallerFileContext(1), err)
	return err
}
