package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/alpacahq/marketqueue/queue/errs"
)

// LockFileName is the advisory lock held by the single writer of a queue.
const LockFileName = "writer.lock"

type writerLock struct {
	f *os.File
}

func lockWriter(dir string) (*writerLock, error) {
	path := filepath.Join(dir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errs.Unavailable("open "+path, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%w: %s is held by another writer", errs.ErrWriterConflict, path)
		}
		return nil, errs.Unavailable("lock "+path, err)
	}
	return &writerLock{f: f}, nil
}

func (l *writerLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
