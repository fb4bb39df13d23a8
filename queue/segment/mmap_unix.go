//go:build unix

package segment

import (
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps length bytes of f shared and writable. length may exceed
// the file size; pages past the end must not be touched until the file is
// extended.
func mapFile(f *os.File, length int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}

func syncMapping(data []byte) error {
	return unix.Msync(data, unix.MS_SYNC)
}
