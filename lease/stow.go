// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import (
	"github.com/corelease/corelease/arc"
	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/resident"
)

// Stow relocates the arc a Hard lease refers to into dst, per spec.md
// §4.4.3: it sets RELOCATED_FLAG to bar new borrows, allocates the
// destination block, lets the resident recursively stow whatever it owns by
// reference into dst, placement-constructs the new Header[M]+D in that block
// carrying a single Hard reference of its own, and publishes the forwarding
// pointer.
// The source block is deliberately not freed here: every lease still
// rooted at the source arc keeps counting against it exactly as before,
// and only once the last of them drops (taking both HARD_COUNT and
// SOFT_COUNT to zero there) does the source block get freed and the
// destination's forwarding reference released in turn (shared.
// releaseForwarding). The caller's Hard lease remains valid throughout and
// transparently resolves through the forwarding pointer.
//
// If allocating the destination block or stowing the resident's payload
// fails, the destination block (if any) is freed, RELOCATED_FLAG is cleared
// and the source arc is left exactly as it was (the rollback spec.md §4.4.3
// calls unstow).
func Stow[D any, M any](l Hard[D, M], dst hold.Hold) error {
	s := l.s.resolve()

	stower, ok := s.resident.(resident.Stower[D, M])
	if !ok {
		return &arc.Error{Kind: arc.ErrUnsupportedStow}
	}

	if err := arc.Spin(s.status(), arc.StepBeginRelocate()); err != nil {
		return err
	}

	meta := s.header.Meta
	combined, offset, err := layoutFor[D, M](s.resident, &meta)
	if err != nil {
		unstow(s)
		return arc.ErrFromHold(err)
	}

	block, err := dst.Alloc(combined)
	if err != nil {
		unstow(s)
		return arc.ErrFromHold(err)
	}

	newData, err := stower.Stow(s.data, &s.header.Meta, s.hold, dst)
	if err != nil {
		dst.Dealloc(block)
		unstow(s)
		return err
	}
	// Stow may update meta in place (a Buf's data address), so copy it now.
	meta = s.header.Meta

	newHeader := (*arc.Header[M])(headerAt(block.Ptr))
	newHeader.Relocation.Store(0)
	newHeader.Status.Store(arc.Pack(1, 0, 0, false, false))
	newHeader.Meta = meta
	newData2 := (*D)(headerAt(block.Ptr + offset))
	*newData2 = newData

	// Publish the forwarding pointer. The source block stays allocated:
	// it is only freed later, by releaseForwarding, once every lease
	// object rooted here has dropped.
	s.header.Relocation.Store(block.Ptr)
	return nil
}

// unstow clears RELOCATED_FLAG, restoring the source arc to normal service
// after a failed Stow attempt.
func unstow[D any, M any](s *shared[D, M]) {
	if err := arc.Spin(s.status(), arc.StepAbortRelocate()); err != nil {
		panic(err)
	}
}
