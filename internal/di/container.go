package di

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/alpacahq/marketqueue/queue"
	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/utils"
	"github.com/alpacahq/marketqueue/utils/log"
)

type Container struct {
	queueConfig *utils.QueueConfig
	absRootDir  string
	engineCfg   *queue.Config
	queue       *queue.Queue
}

func NewContainer(cfg *utils.QueueConfig) *Container {
	return &Container{queueConfig: cfg}
}

// LoadContainer builds a container from a YAML configuration file.
func LoadContainer(configFilePath string) (*Container, error) {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, err
	}
	cfg, err := utils.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return NewContainer(cfg), nil
}

func (c *Container) QueueConfig() *utils.QueueConfig {
	return c.queueConfig
}

func (c *Container) GetAbsRootDir() string {
	if c.absRootDir != "" {
		return c.absRootDir
	}
	relRootDir := c.queueConfig.Directory

	// rootDir is the absolute path to the queue directory.
	// e.g. rootDir = "/var/lib/marketqueue/ticks"
	rootDir, err := filepath.Abs(filepath.Clean(relRootDir))
	if err != nil {
		log.Error("Cannot take absolute path of queue directory %s", err.Error())
		rootDir = relRootDir
	}
	c.absRootDir = rootDir
	return c.absRootDir
}

// GetEngineConfig maps the file configuration onto the engine's.
func (c *Container) GetEngineConfig() *queue.Config {
	if c.engineCfg != nil {
		return c.engineCfg
	}
	qc := c.queueConfig
	cfg := queue.DefaultConfig(c.GetAbsRootDir())
	cfg.Name = qc.Name
	if qc.RollCycle != "" {
		if rc := index.RollCycleFromString(qc.RollCycle); rc != nil {
			cfg.RollCycle = *rc
		} else {
			log.Warn("unknown roll cycle %s, using %s", qc.RollCycle, cfg.RollCycle)
		}
	}
	setIfNonZero(&cfg.SeqBits, qc.SeqBits)
	setIfNonZero(&cfg.SegmentCapacity, qc.SegmentCapacity)
	setIfNonZero(&cfg.SegmentInitialSize, qc.SegmentInitialSize)
	setIfNonZero(&cfg.IndexSpacing, qc.IndexSpacing)
	setIfNonZero(&cfg.WaitPollInterval, qc.WaitPollInterval)
	setIfNonZero(&cfg.WaitMaxPollInterval, qc.WaitMaxPollInterval)
	setIfNonZero(&cfg.WaitTimeout, qc.WaitTimeout)
	cfg.SyncOnRoll = qc.SyncOnRoll
	// zero lets the engine fit its default to the segment capacity
	cfg.MaxFrameSize = int(qc.MaxFrameSize)
	c.engineCfg = &cfg
	return c.engineCfg
}

func setIfNonZero[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// GetQueue opens the queue on first use.
func (c *Container) GetQueue() (*queue.Queue, error) {
	if c.queue != nil {
		return c.queue, nil
	}
	q, err := queue.Open(*c.GetEngineConfig())
	if err != nil {
		return nil, err
	}
	c.queue = q
	return c.queue, nil
}

// Close closes whatever the container opened.
func (c *Container) Close() {
	if c.queue == nil {
		return
	}
	if err := c.queue.Close(); err != nil {
		log.Error("failed to close queue %s: %v", c.GetAbsRootDir(), err)
	}
	c.queue = nil
}

// ResolveContainer builds a container from a configuration file when one is
// given, or from a bare queue directory with default settings otherwise.
func ResolveContainer(configFilePath, dir string) (*Container, error) {
	if configFilePath != "" {
		c, err := LoadContainer(configFilePath)
		if err != nil {
			return nil, err
		}
		if dir != "" {
			c.queueConfig.Directory = dir
		}
		return c, nil
	}
	if dir == "" {
		return nil, errors.New("a queue directory (--dir) or configuration file (--config) is required")
	}
	return NewContainer(&utils.QueueConfig{Directory: dir}), nil
}
