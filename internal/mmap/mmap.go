// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package mmap backs a hold.AddrSpace's byte range with anonymous memory
// obtained directly from the operating system, bypassing the Go heap and
// garbage collector.
package mmap

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Reserve maps a fresh, zeroed, anonymous region of exactly size bytes and
// returns its base address. size must already be page-aligned; the caller
// (hold.AddrSpace) is responsible for that rounding.
func Reserve(size uint64) uintptr {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Errorf("cannot reserve %d bytes via mmap: %w", size, err))
	}
	if len(data) == 0 {
		panic("mmap returned zero-length region for non-zero size")
	}
	return (uintptr)((unsafe.Pointer)(&data[0]))
}

// Release unmaps the region of size bytes starting at base. base must be a
// value previously returned by Reserve, and size must be the size that was
// passed to that call.
func Release(base uintptr, size uint64) error {
	return unix.Munmap(bytesAt(base, size))
}

func bytesAt(base uintptr, size uint64) []byte {
	return unsafe.Slice((*byte)((unsafe.Pointer)(base)), int(size))
}
