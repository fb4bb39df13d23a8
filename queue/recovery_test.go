package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/index"
)

// crash drops the appender's claim and mappings without discarding its
// reservations, leaving the files as a killed process would.
func crash(t *testing.T, q *Queue, a *Appender) {
	t.Helper()
	a.closed = true
	a.pending = nil
	require.Nil(t, q.store.Close())
}

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.RollCycle = index.Sequential
	cfg.SegmentCapacity = 1 << 16
	return cfg
}

func TestRecoveryAfterCrash(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	q, err := Open(testConfig(dir))
	require.Nil(t, err)
	defer q.Close()
	a, err := q.CreateAppender()
	require.Nil(t, err)
	kept, err := a.Append([]byte("kept"))
	require.Nil(t, err)
	interior, err := a.Reserve(32)
	require.Nil(t, err)
	_, err = a.Append([]byte("also kept"))
	require.Nil(t, err)
	trailing, err := a.Reserve(32)
	require.Nil(t, err)
	require.Nil(t, trailing.Update([]byte("half written")))
	crash(t, q, a)

	// --- when ---
	q2, err := Open(testConfig(dir))
	require.Nil(t, err)
	defer q2.Close()
	a2, err := q2.CreateAppender()
	require.Nil(t, err)
	next, err := a2.Append([]byte("after restart"))
	require.Nil(t, err)

	// --- then ---
	assert.Equal(t, trailing.Index(), next, "the truncated reservation's index is reused")
	tl, err := q2.CreateTailer()
	require.Nil(t, err)
	var got []string
	for {
		b, err := tl.Next(nil)
		if errors.Is(err, errs.ErrNotYetAvailable) {
			break
		}
		require.Nil(t, err)
		got = append(got, string(b))
	}
	assert.Equal(t, []string{"kept", "also kept", "after restart"}, got)

	ex, err := q2.CreateExcerpt()
	require.Nil(t, err)
	b, err := ex.ReadAt(kept, nil)
	require.Nil(t, err)
	assert.Equal(t, "kept", string(b))
	_, err = ex.ReadAt(interior.Index(), nil)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(ex.WriteAt(interior.Index(), []byte("late")), errs.ErrIndexInUse))
}

func TestReaderSurvivesWriterCrash(t *testing.T) {
	dir := t.TempDir()
	q, err := Open(testConfig(dir))
	require.Nil(t, err)
	defer q.Close()
	a, err := q.CreateAppender()
	require.Nil(t, err)
	_, err = a.Append([]byte("one"))
	require.Nil(t, err)
	_, err = a.Reserve(8)
	require.Nil(t, err)
	crash(t, q, a)

	reader, err := Open(testConfig(dir))
	require.Nil(t, err)
	defer reader.Close()
	tl, err := reader.CreateTailer()
	require.Nil(t, err)
	b, err := tl.Next(nil)
	require.Nil(t, err)
	assert.Equal(t, "one", string(b))
	_, err = tl.Next(nil)
	assert.True(t, errors.Is(err, errs.ErrNotYetAvailable), "readers stop at the abandoned reservation")

	writer, err := Open(testConfig(dir))
	require.Nil(t, err)
	defer writer.Close()
	a2, err := writer.CreateAppender()
	require.Nil(t, err)
	_, err = a2.Append([]byte("two"))
	require.Nil(t, err)

	b, err = tl.Next(nil)
	require.Nil(t, err)
	assert.Equal(t, "two", string(b))
}
