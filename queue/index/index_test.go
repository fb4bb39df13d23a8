package index_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue/index"
)

func TestSchemeRoundTrip(t *testing.T) {
	for _, bits := range []int{index.MinSeqBits, 44, index.MaxSeqBits} {
		s := index.NewScheme(bits)
		cases := []struct {
			cycle uint32
			seq   uint64
		}{
			{0, 0},
			{1, 0},
			{0, s.MaxSeq()},
			{s.MaxCycle(), s.MaxSeq()},
			{19000, 123456},
		}
		for _, c := range cases {
			idx := s.Encode(c.cycle, c.seq)
			assert.GreaterOrEqual(t, idx, int64(0))
			cycle, seq := s.Decode(idx)
			assert.Equal(t, c.cycle, cycle)
			assert.Equal(t, c.seq, seq)
		}
	}
}

func TestSchemeOrdering(t *testing.T) {
	s := index.NewScheme(index.DefaultSeqBits)
	assert.Less(t, s.Encode(3, s.MaxSeq()), s.Encode(4, 0))
	assert.Less(t, s.Encode(4, 0), s.Encode(4, 1))
	assert.Equal(t, s.Encode(9, 0), s.First(9))
	assert.Equal(t, uint32(9), s.Cycle(s.Encode(9, 77)))
}

func TestSchemeLimits(t *testing.T) {
	s := index.NewScheme(index.DefaultSeqBits)
	assert.Equal(t, uint32(1<<23-1), s.MaxCycle())
	assert.Equal(t, uint64(1<<40-1), s.MaxSeq())

	assert.Panics(t, func() { index.NewScheme(39) })
	assert.Panics(t, func() { index.NewScheme(49) })
	assert.Panics(t, func() { s.Encode(1<<23, 0) })
	assert.Panics(t, func() { s.Encode(0, 1<<40) })
	assert.Panics(t, func() { s.Decode(index.None) })

	assert.Equal(t, "none", s.String(index.None))
	assert.Equal(t, "5:6", s.String(s.Encode(5, 6)))
}

func TestRollCycleFileNames(t *testing.T) {
	ts := time.Date(2026, time.October, 14, 15, 30, 12, 0, time.UTC)
	tests := []struct {
		rc   index.RollCycle
		want string
	}{
		{index.Daily, "20261014.mq"},
		{index.Hourly, "20261014-15.mq"},
		{index.Minutely, "20261014-1530.mq"},
	}
	for _, tt := range tests {
		t.Run(tt.rc.Name, func(t *testing.T) {
			c := tt.rc.Cycle(ts)
			assert.Equal(t, tt.want, tt.rc.FileName(c))
			got, ok := tt.rc.ParseFileName(tt.want)
			require.True(t, ok)
			assert.Equal(t, c, got)
			assert.True(t, tt.rc.Start(c).Before(ts) || tt.rc.Start(c).Equal(ts))
			assert.True(t, tt.rc.Start(c+1).After(ts))
		})
	}

	assert.Equal(t, "000000042.mq", index.Sequential.FileName(42))
	c, ok := index.Sequential.ParseFileName("000000042.mq")
	assert.True(t, ok)
	assert.Equal(t, uint32(42), c)
}

func TestRollCycleParseRejects(t *testing.T) {
	for _, name := range []string{"20261014", "2026-10-14.mq", "20261014-15.mq", "writer.lock", "20191231.mq"} {
		_, ok := index.Daily.ParseFileName(name)
		assert.False(t, ok, name)
	}
	_, ok := index.Sequential.ParseFileName("abc.mq")
	assert.False(t, ok)
}

func TestRollCycleFromString(t *testing.T) {
	rc := index.RollCycleFromString("hourly")
	require.NotNil(t, rc)
	assert.Equal(t, index.Hourly, *rc)
	assert.Nil(t, index.RollCycleFromString("weekly"))
	assert.Equal(t, uint32(0), index.Daily.Cycle(index.Epoch.Add(-time.Hour)))
}
