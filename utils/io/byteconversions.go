package io

import (
	"sync/atomic"
	"unsafe"
)

// The accessors below read and write native-endian integers in place, the
// way mapped segment memory is shared between processes on one host.
// Offsets used with the atomic variants must be naturally aligned.

func ToUInt32(b []byte) uint32 {
	return *(*uint32)(unsafe.Pointer(&b[0]))
}

func ToInt64(b []byte) int64 {
	return *(*int64)(unsafe.Pointer(&b[0]))
}

func ToUInt64(b []byte) uint64 {
	return *(*uint64)(unsafe.Pointer(&b[0]))
}

func PutUInt32(b []byte, v uint32) {
	*(*uint32)(unsafe.Pointer(&b[0])) = v
}

func PutInt64(b []byte, v int64) {
	*(*int64)(unsafe.Pointer(&b[0])) = v
}

func PutUInt64(b []byte, v uint64) {
	*(*uint64)(unsafe.Pointer(&b[0])) = v
}

func uint32Ptr(b []byte, off int64) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[off]))
}

func uint64Ptr(b []byte, off int64) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[off]))
}

func LoadUint32(b []byte, off int64) uint32 {
	return atomic.LoadUint32(uint32Ptr(b, off))
}

func StoreUint32(b []byte, off int64, v uint32) {
	atomic.StoreUint32(uint32Ptr(b, off), v)
}

func CASUint32(b []byte, off int64, old, v uint32) bool {
	return atomic.CompareAndSwapUint32(uint32Ptr(b, off), old, v)
}

func LoadUint64(b []byte, off int64) uint64 {
	return atomic.LoadUint64(uint64Ptr(b, off))
}

func StoreUint64(b []byte, off int64, v uint64) {
	atomic.StoreUint64(uint64Ptr(b, off), v)
}

func AddUint64(b []byte, off int64, delta uint64) uint64 {
	return atomic.AddUint64(uint64Ptr(b, off), delta)
}

func CASUint64(b []byte, off int64, old, v uint64) bool {
	return atomic.CompareAndSwapUint64(uint64Ptr(b, off), old, v)
}

// MaxUint64 raises the value at off to v if it's lower.
func MaxUint64(b []byte, off int64, v uint64) {
	for {
		cur := LoadUint64(b, off)
		if cur >= v || CASUint64(b, off, cur, v) {
			return
		}
	}
}
