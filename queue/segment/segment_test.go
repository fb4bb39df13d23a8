package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue/errs"
	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
)

func newTestSegment(t *testing.T, capacity, initial int64, spacing int) *Segment {
	t.Helper()
	path := filepath.Join(t.TempDir(), "000000007.mq")
	s, err := Create(path, Options{
		Cycle:       7,
		Capacity:    capacity,
		InitialSize: initial,
		Spacing:     spacing,
		Owner:       42,
		Now:         time.Unix(1700000000, 0),
	})
	require.Nil(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func collect(t *testing.T, s *Segment) []string {
	t.Helper()
	var out []string
	err := s.Scan(func(seq uint64, v frame.View) error {
		if v.Void {
			out = append(out, "<void>")
			return nil
		}
		out = append(out, string(v.Payload))
		return nil
	})
	require.Nil(t, err)
	return out
}

func TestCreateAndReopen(t *testing.T) {
	// --- given ---
	s := newTestSegment(t, 1<<16, 4096, 4)
	for i := 0; i < 3; i++ {
		seq, err := s.Append([]byte(fmt.Sprintf("record-%d", i)))
		require.Nil(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	path := s.Path()
	require.Nil(t, s.Close())

	// --- when ---
	s2, err := Open(path, 4)
	require.Nil(t, err)
	defer s2.Close()

	// --- then ---
	st := s2.Stats()
	assert.Equal(t, uint32(7), st.Cycle)
	assert.Equal(t, uint64(3), st.Count)
	assert.Equal(t, uint64(3), st.Published)
	assert.Equal(t, int64(42), st.Owner)
	assert.Equal(t, int64(1<<16), st.Capacity)
	assert.False(t, st.Sealed)
	assert.Equal(t, time.Unix(1700000000, 0).UnixNano(), st.Created.UnixNano())
	assert.Equal(t, []string{"record-0", "record-1", "record-2"}, collect(t, s2))
	assert.False(t, s2.NeedsRecovery())
}

func TestCreateConvergesOnExisting(t *testing.T) {
	s := newTestSegment(t, 1<<16, 4096, 4)
	_, err := Create(s.Path(), Options{Cycle: 7, Capacity: 1 << 16, InitialSize: 4096, Spacing: 4})
	require.NotNil(t, err)
	assert.True(t, os.IsExist(err))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.Nil(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing.mq"), 4)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	bad := filepath.Join(dir, "bad.mq")
	require.Nil(t, os.WriteFile(bad, make([]byte, HeaderSize), 0o644))
	_, err = Open(bad, 4)
	assert.True(t, errors.Is(err, errs.ErrStoreUnavailable))

	_, err = Create(filepath.Join(dir, "small.mq"), Options{Capacity: 64, Spacing: 4})
	assert.True(t, errors.Is(err, errs.ErrCapacityExceeded))
}

func TestGrowDoublesExtent(t *testing.T) {
	// --- given ---
	s := newTestSegment(t, 1<<20, 1024, 4)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}

	// --- when ---
	for i := 0; i < 20; i++ {
		_, err := s.Append(payload)
		require.Nil(t, err)
	}

	// --- then ---
	assert.True(t, io.IsPowerOfTwo(s.Extent()))
	assert.GreaterOrEqual(t, s.Extent(), s.WritePos()+frame.HeaderSize)
	fi, err := os.Stat(s.Path())
	require.Nil(t, err)
	assert.Equal(t, s.Extent(), fi.Size())
	for _, rec := range collect(t, s) {
		assert.Equal(t, string(payload), rec)
	}
}

func TestAppendUntilFull(t *testing.T) {
	s := newTestSegment(t, 1024, 256, 4)
	n := 0
	for {
		_, err := s.Append(make([]byte, 40))
		if err != nil {
			assert.True(t, errors.Is(err, ErrFull))
			break
		}
		n++
	}
	// (1024 - 128 - 16) / 56
	assert.Equal(t, 15, n)
	assert.LessOrEqual(t, s.WritePos()+frame.HeaderSize, s.Capacity())
}

func TestLocate(t *testing.T) {
	s := newTestSegment(t, 1<<16, 1<<16, 2)
	for i := 0; i < 10; i++ {
		_, err := s.Append([]byte(fmt.Sprintf("r%d", i)))
		require.Nil(t, err)
	}

	// out of order on purpose so lookups exercise both the cache and scans
	for _, seq := range []uint64{9, 0, 5, 3, 8, 1} {
		off, err := s.Locate(seq)
		require.Nil(t, err)
		v, err := s.Decode(off)
		require.Nil(t, err)
		assert.Equal(t, fmt.Sprintf("r%d", seq), string(v.Payload))
	}

	off, err := s.Locate(10)
	require.Nil(t, err)
	assert.Equal(t, s.WritePos(), off)

	_, err = s.Locate(11)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestReservationLifecycle(t *testing.T) {
	// --- given ---
	s := newTestSegment(t, 1<<16, 4096, 4)
	sl, err := s.Reserve(32)
	require.Nil(t, err)
	_, err = s.Append([]byte("after"))
	require.Nil(t, err)

	// --- when ---
	_, v, err := s.SlotAt(sl.Seq)
	require.Nil(t, err)
	assert.Equal(t, frame.Reserved, v.State)
	assert.False(t, v.Claimed)
	assert.Equal(t, uint64(2), s.Published())
	require.True(t, s.Claim(sl))
	assert.False(t, s.Claim(sl))

	// --- then ---
	assert.True(t, errors.Is(s.Complete(sl, make([]byte, 33)), errs.ErrCapacityExceeded))
	require.Nil(t, s.Complete(sl, []byte("filled")))
	assert.Equal(t, []string{"filled", "after"}, collect(t, s))
	assert.Equal(t, uint64(0), s.Stats().Pending)
	assert.False(t, s.NeedsRecovery())
}

func TestDiscardPublishesVoid(t *testing.T) {
	s := newTestSegment(t, 1<<16, 4096, 4)
	sl, err := s.Reserve(16)
	require.Nil(t, err)
	s.Discard(sl)
	_, err = s.Append([]byte("x"))
	require.Nil(t, err)
	assert.Equal(t, []string{"<void>", "x"}, collect(t, s))
}

func TestSeal(t *testing.T) {
	s := newTestSegment(t, 1<<16, 4096, 4)
	_, err := s.Append([]byte("only"))
	require.Nil(t, err)

	require.Nil(t, s.Seal())
	require.Nil(t, s.Seal())

	assert.True(t, s.Sealed())
	_, err = s.Append([]byte("late"))
	assert.True(t, errors.Is(err, ErrSealed))
	v, err := s.Decode(s.WritePos())
	require.Nil(t, err)
	assert.Equal(t, frame.Padding, v.State)
	assert.Equal(t, []string{"only"}, collect(t, s))
}

func TestRecover(t *testing.T) {
	tests := map[string]struct {
		build         func(t *testing.T, s *Segment)
		wantRecords   []string
		wantVoided    int
		wantTruncated int
		wantCorrupt   bool
	}{
		"trailing reservation is truncated": {
			build: func(t *testing.T, s *Segment) {
				mustAppend(t, s, "a", "b")
				_, err := s.Reserve(64)
				require.Nil(t, err)
			},
			wantRecords:   []string{"a", "b"},
			wantTruncated: 1,
		},
		"interior reservation is voided": {
			build: func(t *testing.T, s *Segment) {
				mustAppend(t, s, "a")
				_, err := s.Reserve(64)
				require.Nil(t, err)
				mustAppend(t, s, "c")
			},
			wantRecords: []string{"a", "<void>", "c"},
			wantVoided:  1,
		},
		"corrupt tail is truncated": {
			build: func(t *testing.T, s *Segment) {
				mustAppend(t, s, "a", "b")
				// a torn header past the last commit
				wp := s.WritePos()
				io.PutUInt32(s.data[wp:], 7)
				io.StoreUint64(s.data, offWritePos, uint64(wp+frame.Size(7)))
			},
			wantRecords:   []string{"a", "b"},
			wantTruncated: 1,
			wantCorrupt:   true,
		},
		"clean segment is untouched": {
			build: func(t *testing.T, s *Segment) {
				mustAppend(t, s, "a", "b", "c")
			},
			wantRecords: []string{"a", "b", "c"},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			// --- given ---
			s := newTestSegment(t, 1<<16, 4096, 4)
			tt.build(t, s)

			// --- when ---
			r, err := s.Recover()

			// --- then ---
			require.Nil(t, err)
			assert.Equal(t, tt.wantVoided, r.Voided)
			assert.Equal(t, tt.wantTruncated, r.Truncated)
			assert.Equal(t, tt.wantCorrupt, r.Corrupt != nil)
			assert.Equal(t, tt.wantRecords, collect(t, s))
			assert.Equal(t, uint64(len(tt.wantRecords)), s.Count())
			assert.False(t, s.NeedsRecovery())

			// the segment takes appends again right where recovery left it
			seq, err := s.Append([]byte("next"))
			require.Nil(t, err)
			assert.Equal(t, uint64(len(tt.wantRecords)), seq)
		})
	}
}

func TestRecoverSealedVoidsLeftovers(t *testing.T) {
	s := newTestSegment(t, 1<<16, 4096, 4)
	mustAppend(t, s, "a")
	_, err := s.Reserve(8)
	require.Nil(t, err)
	require.Nil(t, s.Seal())

	r, err := s.Recover()
	require.Nil(t, err)
	assert.Equal(t, 1, r.Voided)
	assert.Equal(t, 0, r.Truncated)
	assert.Equal(t, []string{"a", "<void>"}, collect(t, s))
}

func mustAppend(t *testing.T, s *Segment, records ...string) {
	t.Helper()
	for _, r := range records {
		_, err := s.Append([]byte(r))
		require.Nil(t, err)
	}
}
