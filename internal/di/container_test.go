package di_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/marketqueue/internal/di"
	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/utils"
)

func TestGetEngineConfig(t *testing.T) {
	// --- given ---
	dir := t.TempDir()
	c := di.NewContainer(&utils.QueueConfig{
		Directory:       dir,
		RollCycle:       "SEQUENTIAL",
		SegmentCapacity: 1 << 16,
		WaitTimeout:     time.Second,
		SyncOnRoll:      true,
	})

	// --- when ---
	cfg := c.GetEngineConfig()

	// --- then ---
	assert.Equal(t, dir, cfg.Dir)
	assert.Equal(t, index.Sequential, cfg.RollCycle)
	assert.Equal(t, int64(1<<16), cfg.SegmentCapacity)
	assert.Equal(t, time.Second, cfg.WaitTimeout)
	assert.Equal(t, index.DefaultSeqBits, cfg.SeqBits)
	assert.Equal(t, queue.DefaultWaitPollInterval, cfg.WaitPollInterval)
	assert.True(t, cfg.SyncOnRoll)
	assert.Same(t, cfg, c.GetEngineConfig())
}

func TestLoadContainerAndGetQueue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketqueue.yml")
	yml := "directory: " + filepath.Join(dir, "q") + "\nroll_cycle: sequential\nsegment_capacity: 64KB\n"
	require.Nil(t, os.WriteFile(path, []byte(yml), 0o644))

	c, err := di.LoadContainer(path)
	require.Nil(t, err)
	defer c.Close()
	q, err := c.GetQueue()
	require.Nil(t, err)
	again, err := c.GetQueue()
	require.Nil(t, err)

	assert.Same(t, q, again)
	assert.Equal(t, "q", q.Name())

	_, err = di.LoadContainer(filepath.Join(dir, "missing.yml"))
	assert.NotNil(t, err)
}

func TestResolveContainer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketqueue.yml")
	require.Nil(t, os.WriteFile(path, []byte("directory: from-file\nroll_cycle: hourly\n"), 0o644))

	c, err := di.ResolveContainer(path, "")
	require.Nil(t, err)
	assert.Equal(t, "from-file", c.QueueConfig().Directory)
	assert.Equal(t, "HOURLY", c.QueueConfig().RollCycle)

	c, err = di.ResolveContainer(path, filepath.Join(dir, "override"))
	require.Nil(t, err)
	assert.Equal(t, filepath.Join(dir, "override"), c.GetAbsRootDir())
	assert.Equal(t, "HOURLY", c.QueueConfig().RollCycle)

	c, err = di.ResolveContainer("", dir)
	require.Nil(t, err)
	assert.Equal(t, dir, c.GetAbsRootDir())

	_, err = di.ResolveContainer("", "")
	assert.NotNil(t, err)
}
