//go:build linux

package segment

import (
	"os"

	"golang.org/x/sys/unix"
)

// allocate makes sure the first size bytes of f are backed by disk blocks,
// so running out of space fails here instead of faulting on a mapped write.
func allocate(f *os.File, size int64) error {
	for {
		err := unix.Fallocate(int(f.Fd()), 0, 0, size)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EOPNOTSUPP {
			return f.Truncate(size)
		}
		return err
	}
}
