// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package lease implements the Hard, Soft, Ref, Mut, Ptr and Raw lease
// kinds of spec.md §4.4: reference-counted handles onto a single
// arc-allocated block holding an arc.Header[M] immediately followed by a
// resident's D payload, in the style of the teacher's offheap object_store
// generalised from a single concrete object type to any resident.Resident.
package lease

import (
	"sync/atomic"
	"unsafe"

	"github.com/corelease/corelease/arc"
	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/layout"
	"github.com/corelease/corelease/resident"
)

// shared is the block every lease kind for a given value points at: a
// placement-constructed arc.Header[M] immediately followed by a
// placement-constructed D. It is never touched by the Go heap or garbage
// collector; it lives inside a Block obtained from a hold.Hold.
type shared[D any, M any] struct {
	header   *arc.Header[M]
	data     *D
	offset   uintptr
	block    layout.Block
	hold     hold.Hold
	resident resident.Resident[D, M]
}

func headerAt(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }

// layoutFor computes the combined Layout of Header[M] followed by the
// resident's payload, and the byte offset at which the payload begins.
func layoutFor[D any, M any](res resident.Resident[D, M], meta *M) (layout.Layout, uintptr, error) {
	headerLayout := layout.ForType[arc.Header[M]]()
	dataLayout := res.Size(meta)
	return headerLayout.ExtendedBy(dataLayout)
}

// newShared allocates one arc block from h, placement-constructs its
// Header[M] with status, copies meta into place, and placement-constructs
// D by calling initData on the zero-valued storage — mirroring the
// teacher's pointerstore.Allocate, which places a *metadata header at the
// base of a freshly mmap'd block rather than allocating one on the Go
// heap.
func newShared[D any, M any](h hold.Hold, res resident.Resident[D, M], meta M, status arc.Status, initData func(*D)) (*shared[D, M], error) {
	combined, offset, err := layoutFor[D, M](res, &meta)
	if err != nil {
		return nil, arc.ErrFromHold(err)
	}

	block, err := h.Alloc(combined)
	if err != nil {
		return nil, arc.ErrFromHold(err)
	}

	header := (*arc.Header[M])(headerAt(block.Ptr))
	header.Relocation.Store(0)
	header.Status.Store(status)
	header.Meta = meta

	data := (*D)(headerAt(block.Ptr + offset))
	if initData != nil {
		initData(data)
	}

	return &shared[D, M]{
		header:   header,
		data:     data,
		offset:   offset,
		block:    block,
		hold:     h,
		resident: res,
	}, nil
}

// resolve follows the relocation forwarding pointer installed by a
// completed Stow (spec.md §4.4.3): once RELOCATED_FLAG is visible,
// Header.Relocation holds the address of the arc's new home and every
// further access must chase it instead of using the stale block. The
// payload offset from the header is unchanged by a relocation, since Stow
// always rebuilds the same Header[M]+D layout at the destination.
func (s *shared[D, M]) resolve() *shared[D, M] {
	cur := s
	for {
		next := cur.header.Relocation.Load()
		if next == 0 {
			return cur
		}
		header := (*arc.Header[M])(headerAt(next))
		dstHold := cur.hold
		if h, ok := hold.Tag(next); ok {
			dstHold = h
		}
		cur = &shared[D, M]{
			header:   header,
			data:     (*D)(headerAt(next + cur.offset)),
			offset:   cur.offset,
			block:    layout.Block{Ptr: next, Size: cur.block.Size},
			hold:     dstHold,
			resident: cur.resident,
		}
	}
}

// status is a convenience accessor used by every lease kind's transition
// methods.
func (s *shared[D, M]) status() *atomic.Uint64 { return &s.header.Status }

// free returns the arc's block to its owning Hold once both HARD_COUNT and
// SOFT_COUNT have reached zero (spec.md §4.4.2's final teardown step).
func (s *shared[D, M]) free() {
	s.hold.Dealloc(s.block)
}

// dropResident runs the resident's destructor on the payload, fencing
// concurrent soft-to-hard resurrection attempts first by converting the
// hard slot that just reached zero into an extra soft slot, exactly as
// spec.md §4.4.2 describes for the Hard-count-reaches-zero drop path.
func (s *shared[D, M]) dropResident() {
	if err := arc.Spin(s.status(), arc.StepFenceHardZeroToSoft()); err != nil {
		panic(err)
	}
	s.resident.Drop(s.data, &s.header.Meta)
	if err := arc.Spin(s.status(), arc.StepDropSoft()); err != nil {
		panic(err)
	}
}

// afterDropHard inspects the post-CAS status word and performs whatever
// cleanup the transition requires: dropping the resident once HARD_COUNT
// reaches zero, and freeing the block once both counts are zero. A
// relocated arc never runs its own resident destructor again here — Stow
// already moved the payload to the destination — it only waits for
// SOFT_COUNT to drain too before releasing the forwarding reference
// installed at the destination (spec.md §4.4.3 steps 3-5).
func (s *shared[D, M]) afterDropHard(post arc.Status) {
	if arc.HardCount(post) != 0 {
		return
	}
	if arc.RelocatedSet(post) {
		if arc.SoftCount(post) == 0 {
			s.releaseForwarding()
		}
		return
	}
	s.dropResident()
	if arc.SoftCount(s.status().Load()) == 0 {
		s.free()
	}
}

func (s *shared[D, M]) afterDropSoft(post arc.Status) {
	if arc.HardCount(post) != 0 || arc.SoftCount(post) != 0 {
		return
	}
	if arc.RelocatedSet(post) {
		s.releaseForwarding()
		return
	}
	s.free()
}

// releaseForwarding is the last step of a completed Stow: once every lease
// still rooted at this (source) arc has dropped its own hard and soft
// tokens, the source block is freed and the single Hard reference Stow
// installed at the destination on the source's behalf is dropped in turn,
// continuing that arc's own teardown exactly as any other Hard's final
// drop would (spec.md §4.4.3).
func (s *shared[D, M]) releaseForwarding() {
	dst := s.resolve()
	s.free()
	Hard[D, M]{s: dst}.Drop()
}
