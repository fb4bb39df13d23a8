package clearcmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/index"
)

func TestClear(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	q, err := queue.Open(queue.DefaultConfig(dir))
	require.Nil(t, err)
	a, err := q.CreateAppender()
	require.Nil(t, err)
	_, err = a.Append([]byte("gone"))
	require.Nil(t, err)
	require.Nil(t, q.Close())

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetIn(strings.NewReader("n\n"))
	Cmd.SetArgs([]string{"--dir", dir})
	require.NotNil(t, Cmd.Execute(), "declining the prompt aborts")

	Cmd.SetArgs([]string{"--dir", dir, "--yes"})

	// --- when ---
	err = Cmd.Execute()

	// --- then ---
	require.Nil(t, err)
	assert.Contains(t, out.String(), "cleared")
	q, err = queue.Open(queue.DefaultConfig(dir))
	require.Nil(t, err)
	defer q.Close()
	last, err := q.LastWrittenIndex()
	require.Nil(t, err)
	assert.Equal(t, index.None, last)
}
