package tail

import (
	"bytes"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue"
)

func TestTail(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	q, err := queue.Open(queue.DefaultConfig(dir))
	require.Nil(t, err)
	a, err := q.CreateAppender()
	require.Nil(t, err)
	var idx []int64
	for _, r := range []string{"a", "b", "c"} {
		i, err := a.Append([]byte(r))
		require.Nil(t, err)
		idx = append(idx, i)
	}
	require.Nil(t, q.Close())

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs([]string{"--dir", dir, "--from", strconv.FormatInt(idx[1], 10)})

	// --- when ---
	err = Cmd.Execute()

	// --- then ---
	require.Nil(t, err)
	assert.Equal(t, fmt.Sprintf("%d\tb\n%d\tc\n", idx[1], idx[2]), out.String())
}

func TestPosition(t *testing.T) {
	q, err := queue.Open(queue.DefaultConfig(t.TempDir()))
	require.Nil(t, err)
	defer q.Close()
	a, err := q.CreateAppender()
	require.Nil(t, err)
	first, err := a.Append([]byte("x"))
	require.Nil(t, err)

	tests := map[string]struct {
		from    string
		want    int64
		wantErr bool
	}{
		"start":      {from: "start", want: first},
		"empty":      {from: "", want: first},
		"end":        {from: "end", want: first + 1},
		"index":      {from: strconv.FormatInt(first+7, 10), want: first + 7},
		"not a word": {from: "middle", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tl, err := q.CreateTailer()
			require.Nil(t, err)
			defer tl.Close()

			err = position(tl, tt.from)

			if tt.wantErr {
				assert.NotNil(t, err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.want, tl.Index())
		})
	}
}
