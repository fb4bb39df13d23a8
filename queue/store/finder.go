package store

import (
	"fmt"
	"os"
	"sort"

	"github.com/gobwas/glob"

	"github.com/alpacahq/marketqueue/queue/index"
	"github.com/alpacahq/marketqueue/utils/log"
)

var segmentGlob = glob.MustCompile("*" + index.FileExt)

// Finder lists the segment files of a queue directory.
type Finder struct {
	rc      index.RollCycle
	dirRead func(name string) ([]os.DirEntry, error)
}

func NewFinder(rc index.RollCycle, dirRead func(name string) ([]os.DirEntry, error)) *Finder {
	if dirRead == nil {
		dirRead = os.ReadDir
	}
	return &Finder{rc: rc, dirRead: dirRead}
}

// Find returns the cycles of all segment files directly under dir in
// ascending order. Files that match the extension but not the roll cycle's
// naming are skipped.
func (f *Finder) Find(dir string) ([]uint32, error) {
	files, err := f.dirRead(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory %s: %w", dir, err)
	}
	var ret []uint32
	for _, file := range files {
		// ignore directories
		if file.IsDir() {
			continue
		}
		filename := file.Name()
		if !segmentGlob.Match(filename) {
			continue
		}
		cycle, ok := f.rc.ParseFileName(filename)
		if !ok {
			log.Warn("ignoring %s: not a %s segment name", filename, f.rc)
			continue
		}
		ret = append(ret, cycle)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}
