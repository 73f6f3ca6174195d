// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hold

import "sync"

// defaultGlobalSize is the reservation used by the lazily-constructed global
// Hold: 64 GiB of address space, none of it actually committed until grown.
// Anonymous mmap reservations this size are cheap; only pages that are
// Grow()n and then touched ever cost real memory.
const defaultGlobalSize = 64 << 30

var global struct {
	once sync.Once
	hold Hold
}

// Global returns the process-global Hold. This is the only piece of global
// mutable state the core exposes (spec.md §4.3, §9); the teacher's Rust
// original reaches it through a link-time symbol pair that contains a typo
// (`_swim_global_heap` vs `_tg_global_heap` — spec.md §9 treats these as one
// symbol). This port instead exposes the explicit initialisation routine
// spec.md §9 recommends: SetGlobal, plus this lazy default.
func Global() Hold {
	global.once.Do(func() {
		as := NewAddrSpace(defaultGlobalSize)
		if err := as.Grow(defaultGlobalSize); err != nil {
			panic(err)
		}
		global.hold = as
	})
	return global.hold
}

// SetGlobal installs h as the process-global Hold. It must be called, if at
// all, before the first call to Global(); after Global() has run once this
// has no effect, mirroring the once-only semantics of the symbol it
// replaces.
func SetGlobal(h Hold) {
	global.once.Do(func() {
		global.hold = h
	})
}
