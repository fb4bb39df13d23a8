package io

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// GetCallerFileContext returns "file:line" of the caller level frames above
// the function calling it.
func GetCallerFileContext(level int) (fileContext string) {
	_, file, line, _ := runtime.Caller(1 + level)
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// AlignUp rounds n up to the next multiple of align, which must be a power of two.
func AlignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
