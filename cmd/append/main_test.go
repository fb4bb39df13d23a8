package appendcmd

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/internal/di"
)

func TestAppendArgs(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetArgs([]string{"--dir", dir, "first", "second"})

	// --- when ---
	err := Cmd.Execute()

	// --- then ---
	require.Nil(t, err)
	lines := strings.Fields(out.String())
	require.Len(t, lines, 2)
	first, err := strconv.ParseInt(lines[0], 10, 64)
	require.Nil(t, err)
	second, err := strconv.ParseInt(lines[1], 10, 64)
	require.Nil(t, err)
	assert.Equal(t, first+1, second)

	c, err := di.ResolveContainer("", dir)
	require.Nil(t, err)
	defer c.Close()
	q, err := c.GetQueue()
	require.Nil(t, err)
	ex, err := q.CreateExcerpt()
	require.Nil(t, err)
	b, err := ex.ReadAt(second, nil)
	require.Nil(t, err)
	assert.Equal(t, "second", string(b))
}

func TestAppendLines(t *testing.T) {
	tests := map[string]struct {
		input   string
		maxLen  int
		want    []string
		wantErr bool
	}{
		"lines":           {input: "a\nbb\r\nccc", maxLen: 16, want: []string{"a", "bb", "ccc"}},
		"empty lines":     {input: "a\n\nb\n", maxLen: 16, want: []string{"a", "", "b"}},
		"line over limit": {input: "short\n0123456789abcdefXYZ\n", maxLen: 8, want: []string{"short"}, wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var got []string
			err := appendLines(strings.NewReader(tt.input), tt.maxLen, func(p []byte) error {
				got = append(got, string(p))
				return nil
			})
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.want, got)
		})
	}
}
