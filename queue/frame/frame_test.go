package frame_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue/frame"
	"github.com/alpacahq/marketqueue/utils/io"
)

func TestSize(t *testing.T) {
	assert.Equal(t, int64(16), frame.Size(0))
	assert.Equal(t, int64(24), frame.Size(1))
	assert.Equal(t, int64(24), frame.Size(8))
	assert.Equal(t, int64(32), frame.Size(9))
}

func TestEncodeDecode(t *testing.T) {
	// --- given ---
	var buf []byte
	buf = frame.Encode(buf, []byte("hello"))
	buf = frame.Encode(buf, nil)
	buf = frame.Encode(buf, []byte("world!!!"))
	region := make([]byte, 256)
	copy(region, buf)

	// --- when ---
	var got []string
	off := int64(0)
	for {
		v, err := frame.Decode(region, off, int64(len(region)))
		if errors.Is(err, frame.ErrNotReady) {
			break
		}
		require.Nil(t, err)
		require.Nil(t, frame.Verify(v))
		got = append(got, string(v.Payload))
		off = v.Next()
	}

	// --- then ---
	assert.Equal(t, []string{"hello", "", "world!!!"}, got)
	assert.Equal(t, int64(len(buf)), off)
}

func TestReserveClaimPublish(t *testing.T) {
	region := make([]byte, 128)

	require.True(t, frame.Reserve(region, 0, 10))
	assert.False(t, frame.Reserve(region, 0, 10))

	v, err := frame.Decode(region, 0, 128)
	require.Nil(t, err)
	assert.Equal(t, frame.Reserved, v.State)
	assert.False(t, v.Claimed)
	assert.Equal(t, int64(32), v.Size)

	require.True(t, frame.Claim(region, 0))
	assert.False(t, frame.Claim(region, 0))
	frame.Fill(region, 0, nil)
	v, err = frame.Decode(region, 0, 128)
	require.Nil(t, err)
	assert.True(t, v.Claimed, "an empty fill must not release the claim")

	frame.Fill(region, 0, []byte("abc"))
	frame.Publish(region, 0, 3)
	v, err = frame.Decode(region, 0, 128)
	require.Nil(t, err)
	assert.True(t, v.Readable())
	assert.Equal(t, "abc", string(v.Payload))
	assert.Equal(t, 10, v.SlotLen)
}

func TestVoidAndPad(t *testing.T) {
	region := make([]byte, 128)
	require.True(t, frame.Reserve(region, 0, 8))
	frame.Void(region, 0)

	v, err := frame.Decode(region, 0, 128)
	require.Nil(t, err)
	assert.Equal(t, frame.Complete, v.State)
	assert.True(t, v.Void)
	assert.False(t, v.Readable())

	frame.Pad(region, v.Next())
	p, err := frame.Decode(region, v.Next(), 128)
	require.Nil(t, err)
	assert.Equal(t, frame.Padding, p.State)
	assert.Equal(t, int64(128), p.Next())

	// too close to the end for a header
	p, err = frame.Decode(region, 120, 128)
	require.Nil(t, err)
	assert.Equal(t, frame.Padding, p.State)
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]struct {
		prepare  func(region []byte)
		off      int64
		readable int64
		notReady bool
	}{
		"empty slot": {
			prepare:  func(region []byte) {},
			readable: 128,
			notReady: true,
		},
		"past readable extent": {
			prepare:  func(region []byte) { frame.Encode(region[:0], []byte("x")) },
			off:      64,
			readable: 64,
			notReady: true,
		},
		"length bits without state": {
			prepare:  func(region []byte) { io.PutUInt32(region, 5) },
			readable: 128,
		},
		"slot overruns region": {
			prepare:  func(region []byte) { frame.Reserve(region, 0, 4096) },
			readable: 128,
		},
		"length larger than slot": {
			prepare: func(region []byte) {
				frame.Reserve(region, 0, 4)
				frame.Publish(region, 0, 32)
			},
			readable: 128,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			region := make([]byte, 128)
			tt.prepare(region)

			_, err := frame.Decode(region, tt.off, tt.readable)

			require.NotNil(t, err)
			if tt.notReady {
				assert.True(t, errors.Is(err, frame.ErrNotReady))
				return
			}
			var cf *frame.CorruptFrame
			assert.True(t, errors.As(err, &cf))
			assert.Equal(t, tt.off, cf.Offset)
		})
	}
}

func TestVerifyDetectsFlippedByte(t *testing.T) {
	region := frame.Encode(nil, []byte("payload"))
	region = append(region, make([]byte, 64)...)
	region[frame.HeaderSize+2] ^= 0xff

	v, err := frame.Decode(region, 0, int64(len(region)))
	require.Nil(t, err)
	assert.NotNil(t, frame.Verify(v))
}
