// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hold

import (
	"errors"

	"github.com/corelease/corelease/internal/extent"
	"github.com/corelease/corelease/internal/mmap"
	"github.com/corelease/corelease/layout"
)

// PageSize is the granularity at which AddrSpace manages free extents. It is
// a fixed constant rather than a runtime os.Getpagesize() lookup because
// extent headers are placement-constructed at extent base addresses and
// must agree, process-wide, on how much headroom every page reserves.
const PageSize = 1 << 12

// AddrSpace is a handle over an ExtentList: the Hold capability backed by one
// contiguous, page-aligned range of memory (spec.md §4.3, "Data Model"
// AddrSpace/Hold). It carries no reference count: Destroy releases the
// backing memory whether or not anything still uses it.
//
// The full maxSize range is reserved from the OS up front via a single mmap
// call; Grow only changes how much of that pre-mapped range the extent list
// considers usable, so growth never races with backing-memory acquisition.
type AddrSpace struct {
	base     uintptr
	maxSize  uint64
	extents  *extent.List
	released bool
}

// NewAddrSpace reserves maxSize bytes of anonymous memory (rounded up to a
// page) and returns a Hold over it with nothing yet usable; call Grow to
// bring some of it online.
func NewAddrSpace(maxSize uint64) *AddrSpace {
	maxSize = roundUpPage(maxSize)
	base := mmap.Reserve(maxSize)

	as := &AddrSpace{
		base:    base,
		maxSize: maxSize,
		extents: extent.NewList(PageSize),
	}
	registerRange(base, maxSize, as)
	return as
}

func roundUpPage(size uint64) uint64 {
	mask := uint64(PageSize - 1)
	return (size + mask) &^ mask
}

// Grow extends the address space's usable range to newSize bytes (rounded up
// to a page), bounded by the maxSize reserved at construction.
func (a *AddrSpace) Grow(newSize uint64) error {
	newSize = roundUpPage(newSize)
	if newSize > a.maxSize {
		return errOversized("Grow target exceeds the address space's reserved maximum")
	}
	a.extents.Grow(a.base, newSize)
	return nil
}

// Stats returns the address space's accounting counters.
func (a *AddrSpace) Stats() extent.Stats {
	return a.extents.Stats()
}

// Alloc implements Hold.
func (a *AddrSpace) Alloc(l layout.Layout) (layout.Block, error) {
	if l.Size == 0 {
		return layout.EmptyBlock, nil
	}
	if l.Align > PageSize {
		return layout.Block{}, errUnsupported("alignment greater than the extent page size is not supported")
	}

	size := roundUpPage(uint64(l.Size))

	b, err := a.extents.Alloc(size)
	if err != nil {
		if errors.Is(err, extent.ErrOutOfMemory) {
			return layout.Block{}, errOutOfMemory()
		}
		return layout.Block{}, err
	}
	return b, nil
}

// Dealloc implements Hold.
func (a *AddrSpace) Dealloc(b layout.Block) {
	a.extents.Dealloc(b)
}

// Resize implements Hold: in-place only. A request whose page-rounded size is
// no more than b.Size as passed in always succeeds; growing
// always fails, since this allocator implements no extent-merge operation
// (spec.md §9 treats coalescing as a non-goal) and so cannot safely verify
// that the bytes immediately after b are free.
func (a *AddrSpace) Resize(b layout.Block, newLayout layout.Layout) (layout.Block, error) {
	if newLayout.Align > PageSize {
		return layout.Block{}, errUnsupported("alignment greater than the extent page size is not supported")
	}

	newSize := roundUpPage(uint64(newLayout.Size))
	if newSize <= uint64(b.Size) {
		return layout.Block{Ptr: b.Ptr, Size: uintptr(newSize)}, nil
	}

	return layout.Block{}, errUnsupported("cannot grow a block in place without extent coalescing")
}

// Realloc implements Hold: tries Resize first, and falls back to
// allocate-copy-free when in-place growth is impossible.
func (a *AddrSpace) Realloc(b layout.Block, newLayout layout.Layout) (layout.Block, error) {
	if resized, err := a.Resize(b, newLayout); err == nil {
		return resized, nil
	}

	newBlock, err := a.Alloc(newLayout)
	if err != nil {
		return layout.Block{}, err
	}

	if !b.IsEmpty() && !newBlock.IsEmpty() {
		n := b.Size
		if newBlock.Size < n {
			n = newBlock.Size
		}
		copy(newBlock.Bytes()[:n], b.Bytes()[:n])
	}

	a.Dealloc(b)
	return newBlock, nil
}

// Holder implements Hold.
func (a *AddrSpace) Holder() Hold {
	return a
}

// Destroy releases the address space's backing memory to the operating
// system. After this call the AddrSpace is completely unusable; it exists
// for the same reason the teacher's pointerstore.Store.Destroy does —
// letting tests release memory promptly instead of living for the process
// lifetime.
func (a *AddrSpace) Destroy() error {
	if a.released {
		return nil
	}
	unregisterRange(a.base)
	a.released = true
	return mmap.Release(a.base, a.maxSize)
}
