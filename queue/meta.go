package queue

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/marketqueue/queue/errs"
)

// MetaFileName holds the settings a queue directory was created with.
const MetaFileName = "queue.meta"

const metaVersion = 1

type meta struct {
	Name       string `msgpack:"name"`
	Version    int    `msgpack:"version"`
	RollCycle  string `msgpack:"roll_cycle"`
	SeqBits    int    `msgpack:"seq_bits"`
	FloorCycle uint32 `msgpack:"floor_cycle"`
	Created    int64  `msgpack:"created"`
}

// loadMeta returns nil without error when dir has no metadata yet.
func loadMeta(dir string) (*meta, error) {
	path := filepath.Join(dir, MetaFileName)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Unavailable("read "+path, err)
	}
	var m meta
	if err = msgpack.Unmarshal(b, &m); err != nil {
		return nil, errs.Unavailable("decode "+path, err)
	}
	if m.Version != metaVersion {
		return nil, errs.Unavailable("decode "+path, fmt.Errorf("unsupported version %d", m.Version))
	}
	return &m, nil
}

// saveMeta replaces the metadata file atomically.
func saveMeta(dir string, m *meta) error {
	path := filepath.Join(dir, MetaFileName)
	b, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode queue metadata: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, b, 0o644); err != nil {
		return errs.Unavailable("write "+tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Unavailable("rename "+tmp, err)
	}
	return nil
}
