// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

// Ptr is a non-owning handle onto an arc (spec.md §4.4.4): it carries no
// slot in the status word at all and is only sound to dereference while
// the caller independently knows some owning lease on the same arc is
// still held elsewhere — exactly the role a raw borrowed pointer plays
// in the teacher's ReferenceVersion/pointerstore split between an owning
// handle and a non-owning observer.
type Ptr[D any, M any] struct {
	s *shared[D, M]
}

func (p Ptr[D, M]) IsValid() bool { return p.s != nil }

func (p Ptr[D, M]) Data() *D { return p.s.resolve().data }

func (p Ptr[D, M]) Meta() *M { return &p.s.resolve().header.Meta }

// Raw returns the bare memory address of this arc's header, with no type
// or lifetime information at all — the bottom of the lease hierarchy, used
// only by hold.Tag and by code that must cross an FFI-style boundary. A Raw
// carries no safety guarantees whatsoever; there is deliberately no way
// back from a Raw to a typed Ptr, since reconstructing the payload offset
// requires knowing the resident's Size for the metadata that was stored
// there, which a bare address cannot recover on its own.
func (p Ptr[D, M]) Raw() Raw {
	return Raw{addr: headerAddr(p.s)}
}

// Raw is the address-only form of a lease, stripped of its D and M type
// parameters (spec.md's raw pointer kind).
type Raw struct {
	addr uintptr
}

func (r Raw) Addr() uintptr { return r.addr }

func (r Raw) IsNil() bool { return r.addr == 0 }

func headerAddr[D any, M any](s *shared[D, M]) uintptr {
	return s.resolve().block.Ptr
}
