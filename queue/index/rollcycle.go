package index

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FileExt is the extension of segment files.
const FileExt = ".mq"

// Epoch is the origin of time based cycles. Counting from here instead of
// the unix epoch keeps minutely cycles inside the default 23 cycle bits
// until 2035.
var Epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// RollCycle maps wall clock time to segment cycles and cycles to file names.
type RollCycle struct {
	Name   string
	Length time.Duration
	layout string
}

var (
	Minutely   = RollCycle{"MINUTELY", time.Minute, "20060102-1504"}
	Hourly     = RollCycle{"HOURLY", time.Hour, "20060102-15"}
	Daily      = RollCycle{"DAILY", 24 * time.Hour, "20060102"}
	Sequential = RollCycle{"SEQUENTIAL", 0, ""}
)

var rollCycles = []RollCycle{Minutely, Hourly, Daily, Sequential}

// RollCycleFromString returns nil if s names no known roll cycle.
func RollCycleFromString(s string) *RollCycle {
	for i := range rollCycles {
		if strings.EqualFold(rollCycles[i].Name, s) {
			rc := rollCycles[i]
			return &rc
		}
	}
	return nil
}

// TimeBased reports whether cycles follow the clock. Sequential cycles only
// advance when a segment fills up.
func (rc RollCycle) TimeBased() bool {
	return rc.Length > 0
}

// Cycle returns the cycle t falls in. Times before Epoch map to cycle 0.
func (rc RollCycle) Cycle(t time.Time) uint32 {
	if !rc.TimeBased() {
		return 0
	}
	d := t.UTC().Sub(Epoch)
	if d < 0 {
		return 0
	}
	return uint32(d / rc.Length)
}

// Start is the wall clock time at which cycle begins.
func (rc RollCycle) Start(cycle uint32) time.Time {
	return Epoch.Add(time.Duration(cycle) * rc.Length)
}

// FileName is the deterministic segment file name for cycle. Names sort in
// cycle order.
func (rc RollCycle) FileName(cycle uint32) string {
	if !rc.TimeBased() {
		return fmt.Sprintf("%09d%s", cycle, FileExt)
	}
	return rc.Start(cycle).Format(rc.layout) + FileExt
}

// ParseFileName is the inverse of FileName.
func (rc RollCycle) ParseFileName(name string) (uint32, bool) {
	base := strings.TrimSuffix(name, FileExt)
	if base == name {
		return 0, false
	}
	if !rc.TimeBased() {
		n, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	}
	t, err := time.ParseInLocation(rc.layout, base, time.UTC)
	if err != nil || t.Before(Epoch) {
		return 0, false
	}
	c := rc.Cycle(t)
	if rc.FileName(c) != name {
		return 0, false
	}
	return c, true
}

func (rc RollCycle) String() string {
	return rc.Name
}
