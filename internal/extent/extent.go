// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package extent implements the lock-free, page-granular free-extent
// allocator described by spec.md §4.2: a List of free, page-aligned extents
// tracked under two independent skiplist.List orderings (address, and
// (size, address)), serving Alloc and Dealloc without blocking.
//
// An extent's Node header is placement-constructed at the base address of
// the free bytes it describes, the same technique the teacher's
// pointerstore package uses to place a *metadata header directly at an
// mmap'd address rather than allocating it on the Go heap.
package extent

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/corelease/corelease/internal/skiplist"
	"github.com/corelease/corelease/layout"
)

// ErrOutOfMemory is returned by Alloc when no free extent large enough
// exists in the size list.
var ErrOutOfMemory = errors.New("extent: out of memory")

// NodeHeaderSize is the number of bytes at the base of every free extent
// occupied by its Node header while the extent is free. Alloc hands out whole
// extents, header bytes included, and adds no headroom; every extent is a
// whole number of pages, so the header must fit within one page.
var NodeHeaderSize = unsafe.Sizeof(Node{})

// SizeKey is the size list's ordering key: size ascending, ties broken by
// base address ascending, giving a total order (spec.md §4.2).
type SizeKey struct {
	Size uintptr
	Addr uintptr
}

func compareAddr(a, b uintptr) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareSize(a, b SizeKey) int {
	if a.Size != b.Size {
		if a.Size < b.Size {
			return -1
		}
		return 1
	}
	return compareAddr(a.Addr, b.Addr)
}

// Node is the free-extent header embedded at the base of a free,
// page-aligned extent. While the extent participates in either skip list its
// header is immutable except via the documented lock-free protocol.
//
// refs exists for spec.md §4.2 step 4's handoff fence: once Alloc has
// physically unlinked a node from both lists it must wait for any reader
// still inspecting that node's fields (from a concurrent Alloc/Dealloc
// traversal that read the pointer before the unlink) to finish before the
// bytes are handed out as allocation data. This port's skip-list traversal
// (internal/skiplist) never takes out such a reference — it is read
// obstruction-free the way the teacher's own lock-free structures are: a
// helper that observes a node mid-removal retries instead of dereferencing
// stale fields, so there is no window where awaitQuiescence's wait is load
// bearing here. refs is kept at zero accordingly; wiring real hazard-pointer
// style acquisition into the skip list is future work, not something this
// port's traversal needs to be correct.
type Node struct {
	size  uintptr
	refs  atomic.Int32
	addrE skiplist.Entry[uintptr]
	sizeE skiplist.Entry[SizeKey]
}

// Base returns the extent's base address: the address of the Node header
// itself, since the header lives at the foot of the free bytes it describes.
func (n *Node) Base() uintptr {
	return uintptr(unsafe.Pointer(n))
}

// Size returns the total size of the extent, including the Node header.
func (n *Node) Size() uintptr {
	return n.size
}

func nodeAt(addr uintptr) *Node {
	return (*Node)(unsafe.Pointer(addr))
}

// Merge and Split are unimplemented on purpose: spec.md §9 notes that the
// original source leaves adjacent-extent coalescing as stubbed TODOs, and
// this port treats it as an explicit non-goal rather than silently omitting
// the named operations.
func (n *Node) Merge(*Node) error {
	return errNotImplemented("Node.Merge")
}

func (n *Node) Split(at uintptr) (*Node, error) {
	return nil, errNotImplemented("Node.Split")
}

func errNotImplemented(op string) error {
	return fmt.Errorf("extent: %s is not implemented (coalescing is a non-goal)", op)
}

// Stats reports the accounting counters carried on every List, grounded in
// the teacher's pointerstore.Stats shape.
type Stats struct {
	TotalBytes uint64
	UsedBytes  uint64
	Live       int64
}

// List is the root header of one address space: an address-ordered
// skiplist.List and a size-ordered skiplist.List over the same set of Node
// headers, plus accounting counters.
type List struct {
	addrList *skiplist.List[uintptr]
	sizeList *skiplist.List[SizeKey]

	pageSize uintptr

	size atomic.Uint64 // current usable size of the address space, CAS-serialised growth
	used atomic.Uint64
	live atomic.Int64
}

// NewList constructs an empty List over an address space with the given
// page size (every extent's size and every Grow delta must be a multiple of
// this).
func NewList(pageSize uintptr) *List {
	return &List{
		addrList: skiplist.New[uintptr](compareAddr, 0xA5A5A5A5),
		sizeList: skiplist.New[SizeKey](compareSize, 0x5A5A5A5A),
		pageSize: pageSize,
	}
}

// Stats returns a snapshot of the List's accounting counters.
func (l *List) Stats() Stats {
	return Stats{
		TotalBytes: l.size.Load(),
		UsedBytes:  l.used.Load(),
		Live:       l.live.Load(),
	}
}

// Grow extends the address space's usable range to newSize, inserting the
// delta [oldSize, newSize) as one fresh free extent. The first Grow keeps the
// space's first page back: its extent starts one page above base, so a space
// of N pages serves at most N-1 pages of allocations. newSize must be a
// multiple of the page size and must not be smaller than the current size
// (a no-op is returned in that case). base is the address-space's base
// address, used to locate the delta region; the caller (hold.AddrSpace) owns
// actually backing that region with real memory before calling Grow.
func (l *List) Grow(base uintptr, newSize uint64) {
	if newSize%uint64(l.pageSize) != 0 {
		panic("extent: Grow size must be page-aligned")
	}

	for {
		oldSize := l.size.Load()
		if newSize <= oldSize {
			return
		}
		if !l.size.CompareAndSwap(oldSize, newSize) {
			continue
		}

		delta := newSize - oldSize
		start := oldSize
		if oldSize == 0 {
			start = uint64(l.pageSize)
			delta -= uint64(l.pageSize)
			if delta == 0 {
				return
			}
		}
		node := nodeAt(base + uintptr(start))
		l.initNode(node, delta)
		l.publish(node)
		return
	}
}

func (l *List) initNode(n *Node, size uint64) {
	*n = Node{size: uintptr(size)}
	l.addrList.InitEntry(&n.addrE, n.Base(), unsafe.Pointer(n))
	l.sizeList.InitEntry(&n.sizeE, SizeKey{Size: n.size, Addr: n.Base()}, unsafe.Pointer(n))
}

func (l *List) publish(n *Node) {
	l.addrList.Insert(&n.addrE, true)
	l.sizeList.Insert(&n.sizeE, false)
}

// Alloc finds a free extent at least size bytes, page-aligned, and removes
// it from both lists, splitting off and re-inserting any excess. size must
// already be rounded up by the caller (hold.AddrSpace rounds every Layout to
// the extent alignment before calling Alloc).
func (l *List) Alloc(size uint64) (layout.Block, error) {
	want := uintptr(size)
	probe := SizeKey{Size: want - 1, Addr: ^uintptr(0)}

	for {
		sizeEntry, ok := l.sizeList.TakeNext(probe)
		if !ok {
			return layout.Block{}, ErrOutOfMemory
		}

		node := (*Node)(sizeEntry.Owner)

		// The size list has already released node; remove the same node
		// from the address list. If another thread beat us to it (it was
		// already physically removed by Dealloc/Grow racing, which cannot
		// happen for a node that was still reachable from the size list,
		// but Alloc is written defensively per spec.md §4.2 step 3) retry.
		if !l.addrList.RemoveEntry(&node.addrE) {
			continue
		}

		l.awaitQuiescence(node)

		base := node.Base()
		total := node.size

		if total > want {
			residualBase := base + want
			residualSize := total - want
			residual := nodeAt(residualBase)
			l.initNode(residual, uint64(residualSize))
			l.publish(residual)
		}

		l.live.Add(1)
		l.used.Add(uint64(want))

		return layout.Block{Ptr: base, Size: want}, nil
	}
}

// awaitQuiescence busy-spins until no outstanding reader holds a reference
// to node, per spec.md §4.2 step 4: the extent must be quiesced before its
// bytes are handed out as allocation data. See Node.refs for why this spins
// zero times in this port: kept in place so a future hazard-pointer-style
// traversal has a fence to call into without changing Alloc's shape.
func (l *List) awaitQuiescence(node *Node) {
	for node.refs.Load() != 0 {
		skiplist.PauseHint()
	}
}

// Dealloc returns a previously allocated Block to the free pool by
// reinterpreting it as a fresh extent and inserting it into both lists. A
// zero-sized block is a no-op.
func (l *List) Dealloc(b layout.Block) {
	if b.IsEmpty() {
		return
	}

	node := nodeAt(b.Ptr)
	l.initNode(node, uint64(b.Size))
	l.publish(node)

	l.live.Add(-1)
	l.used.Add(uint64(-int64(b.Size)))
}

// IsEmpty reports whether both lists are free of entries, that is, whether
// no free extent is available. Dealloc reinserts every freed block, so a
// List that has been grown is not empty after all its blocks are freed.
func (l *List) IsEmpty() bool {
	return l.addrList.IsEmpty() && l.sizeList.IsEmpty()
}
