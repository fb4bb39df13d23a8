package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/alpacahq/marketqueue/utils/log"
)

// QueueConfig is the file based configuration of a queue and the tools
// that serve it. Zero values mean "use the engine default".
type QueueConfig struct {
	Directory           string
	Name                string
	RollCycle           string
	SeqBits             int
	SegmentCapacity     int64
	SegmentInitialSize  int64
	MaxFrameSize        int64
	IndexSpacing        int
	WaitPollInterval    time.Duration
	WaitMaxPollInterval time.Duration
	WaitTimeout         time.Duration
	SyncOnRoll          bool
	MetricsListen       string
	DiskUsageInterval   time.Duration
}

// ParseConfig parses a YAML document into a QueueConfig.
func ParseConfig(data []byte) (*QueueConfig, error) {
	m := &QueueConfig{}
	if err := m.Parse(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *QueueConfig) Parse(data []byte) error {
	var (
		err error
		aux struct {
			Directory           string `yaml:"directory"`
			Name                string `yaml:"name"`
			RollCycle           string `yaml:"roll_cycle"`
			SeqBits             int    `yaml:"seq_bits"`
			SegmentCapacity     string `yaml:"segment_capacity"`
			SegmentInitialSize  string `yaml:"segment_initial_size"`
			MaxFrameSize        string `yaml:"max_frame_size"`
			IndexSpacing        int    `yaml:"index_spacing"`
			WaitPollInterval    string `yaml:"wait_poll_interval"`
			WaitMaxPollInterval string `yaml:"wait_max_poll_interval"`
			WaitTimeout         string `yaml:"wait_timeout"`
			SyncOnRoll          string `yaml:"sync_on_roll"`
			LogLevel            string `yaml:"log_level"`
			MetricsListen       string `yaml:"metrics_listen"`
			DiskUsageInterval   string `yaml:"disk_usage_interval"`
		}
	)

	if err = yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Directory == "" {
		return errors.New("invalid queue directory")
	}

	switch strings.ToUpper(aux.RollCycle) {
	case "", "MINUTELY", "HOURLY", "DAILY", "SEQUENTIAL":
	default:
		return fmt.Errorf("invalid roll cycle: %s", aux.RollCycle)
	}

	if m.SegmentCapacity, err = parseBytes("segment_capacity", aux.SegmentCapacity); err != nil {
		return err
	}
	if m.SegmentInitialSize, err = parseBytes("segment_initial_size", aux.SegmentInitialSize); err != nil {
		return err
	}
	if m.MaxFrameSize, err = parseBytes("max_frame_size", aux.MaxFrameSize); err != nil {
		return err
	}
	if m.WaitPollInterval, err = parseDuration("wait_poll_interval", aux.WaitPollInterval); err != nil {
		return err
	}
	if m.WaitMaxPollInterval, err = parseDuration("wait_max_poll_interval", aux.WaitMaxPollInterval); err != nil {
		return err
	}
	if m.WaitTimeout, err = parseDuration("wait_timeout", aux.WaitTimeout); err != nil {
		return err
	}
	if m.DiskUsageInterval, err = parseDuration("disk_usage_interval", aux.DiskUsageInterval); err != nil {
		return err
	}

	if aux.SyncOnRoll != "" {
		syncOnRoll, err := strconv.ParseBool(aux.SyncOnRoll)
		if err != nil {
			log.Error("Invalid value: %v for sync_on_roll. Not syncing on roll...", aux.SyncOnRoll)
		} else {
			m.SyncOnRoll = syncOnRoll
		}
	}

	if aux.LogLevel != "" {
		log.SetLevel(log.ParseLevel(aux.LogLevel))
	}

	m.Directory = aux.Directory
	m.Name = aux.Name
	m.RollCycle = strings.ToUpper(aux.RollCycle)
	m.SeqBits = aux.SeqBits
	m.IndexSpacing = aux.IndexSpacing
	m.MetricsListen = aux.MetricsListen

	return nil
}

// parseBytes accepts a plain byte count or a size such as "64MB".
func parseBytes(key, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return int64(n), nil
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}
