// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hold

import (
	"sort"
	"sync"
)

// AllocTag is the process-wide convention of spec.md's Data Model: given any
// pointer returned by some Hold, recover a reference to the Hold that owns
// it. The tag is never stored in the allocation itself; here it is computed
// by a binary search over the page-aligned ranges every AddrSpace has
// reserved, which stands in for "rounding the pointer down to a page-aligned
// extent header and reading a discriminator there" — the discriminator in
// this port is simply which reserved range the pointer falls in, since each
// AddrSpace's reservation is a single contiguous mmap'd region.
var tagRegistry = struct {
	mu     sync.RWMutex
	ranges []tagRange // kept sorted by base
}{}

type tagRange struct {
	base  uintptr
	limit uintptr
	hold  *AddrSpace
}

func registerRange(base uintptr, size uint64, as *AddrSpace) {
	tagRegistry.mu.Lock()
	defer tagRegistry.mu.Unlock()

	r := tagRange{base: base, limit: base + uintptr(size), hold: as}
	ranges := tagRegistry.ranges
	idx := sort.Search(len(ranges), func(i int) bool { return ranges[i].base >= base })
	ranges = append(ranges, tagRange{})
	copy(ranges[idx+1:], ranges[idx:])
	ranges[idx] = r
	tagRegistry.ranges = ranges
}

func unregisterRange(base uintptr) {
	tagRegistry.mu.Lock()
	defer tagRegistry.mu.Unlock()

	ranges := tagRegistry.ranges
	for i, r := range ranges {
		if r.base == base {
			tagRegistry.ranges = append(ranges[:i], ranges[i+1:]...)
			return
		}
	}
}

// Tag recovers the Hold that owns ptr, or (nil, false) if ptr does not fall
// within any currently-registered AddrSpace's reservation. Deallocating
// through the wrong Hold is undefined behaviour (spec.md's AllocTag
// invariant). Higher layers use Tag to find the Hold that currently owns a
// block after a Stow may have moved it (lease's forwarding resolution,
// Buf.Close, Trie.Close).
func Tag(ptr uintptr) (Hold, bool) {
	tagRegistry.mu.RLock()
	defer tagRegistry.mu.RUnlock()

	ranges := tagRegistry.ranges
	idx := sort.Search(len(ranges), func(i int) bool { return ranges[i].base > ptr })
	if idx == 0 {
		return nil, false
	}
	r := ranges[idx-1]
	if ptr >= r.base && ptr < r.limit {
		return r.hold, true
	}
	return nil, false
}
