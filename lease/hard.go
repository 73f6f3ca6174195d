// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import (
	"github.com/corelease/corelease/arc"
	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/resident"
)

// Hard is a strong owning lease: while at least one Hard is outstanding the
// resident is guaranteed live (spec.md §4.4.1). Hard is the only lease kind
// that can construct a brand new arc.
type Hard[D any, M any] struct {
	s *shared[D, M]
}

// New allocates a fresh arc from h holding one Hard lease, placement
// constructing meta and a D payload initialised by initData.
func New[D any, M any](h hold.Hold, res resident.Resident[D, M], meta M, initData func(*D)) (Hard[D, M], error) {
	s, err := newShared[D, M](h, res, meta, arc.HardStatusInit, initData)
	if err != nil {
		return Hard[D, M]{}, err
	}
	return Hard[D, M]{s: s}, nil
}

// IsValid reports whether this Hard still refers to a live arc; a zero
// Hard{} (for example one returned alongside a non-nil error) is invalid.
func (l Hard[D, M]) IsValid() bool { return l.s != nil }

// Data returns a pointer to the resident's payload. The caller must hold a
// Ref or Mut lease (or otherwise know no concurrent mutator exists) before
// dereferencing it for anything beyond address arithmetic.
func (l Hard[D, M]) Data() *D { return l.s.resolve().data }

// Meta returns a pointer to the sibling metadata stored alongside the
// payload.
func (l Hard[D, M]) Meta() *M { return &l.s.resolve().header.Meta }

// Clone produces a second, independent Hard lease over the same arc,
// incrementing HARD_COUNT (spec.md's Hard::clone). It counts against
// whichever arc l itself is rooted at, not whatever it currently resolves
// to: a relocated arc's own HARD_COUNT must keep reflecting exactly the
// lease objects still rooted there, so that it can be freed once they all
// drop (spec.md §4.4.3).
func (l Hard[D, M]) Clone() (Hard[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), stepCloneHard()); err != nil {
		return Hard[D, M]{}, err
	}
	return Hard[D, M]{s: s}, nil
}

func stepCloneHard() arc.Step {
	return func(cur arc.Status) (arc.Status, error) {
		hard := arc.HardCount(cur)
		if hard >= arc.HardCountMax {
			return 0, &arc.Error{Kind: arc.ErrHardCountOverflow}
		}
		return arc.Pack(hard+1, arc.SoftCount(cur), arc.RefCount(cur), arc.MutSet(cur), arc.RelocatedSet(cur)), nil
	}
}

// Drop releases this Hard lease, running the resident's destructor and
// freeing the arc's block once HARD_COUNT and SOFT_COUNT both reach zero.
func (l Hard[D, M]) Drop() {
	s := l.s
	cur := s.status().Load()
	for {
		next, err := arc.StepDropHard()(cur)
		if err != nil {
			panic(err)
		}
		if s.status().CompareAndSwap(cur, next) {
			s.afterDropHard(next)
			return
		}
		cur = s.status().Load()
	}
}

// PollRef attempts, in a single CAS, to acquire a new Ref lease alongside
// this Hard lease without retrying on contention (spec.md's poll_ref).
func (l Hard[D, M]) PollRef() (Ref[D, M], error) {
	s := l.s
	if err := arc.Poll(s.status(), arc.StepHardToRef(true)); err != nil {
		return Ref[D, M]{}, err
	}
	return Ref[D, M]{s: s}, nil
}

// TryToRef spins until it acquires a new Ref lease alongside this Hard
// lease (spec.md's try_to_ref). It does not spin on a relocated arc: once
// RELOCATED_FLAG is set it returns ErrRelocating.
func (l Hard[D, M]) TryToRef() (Ref[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepHardToRef(true)); err != nil {
		return Ref[D, M]{}, err
	}
	return Ref[D, M]{s: s}, nil
}

// IntoRef consumes this Hard lease and converts it directly into a Ref
// lease, without changing HARD_COUNT (spec.md's into_ref).
func (l Hard[D, M]) IntoRef() (Ref[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepHardToRef(false)); err != nil {
		return Ref[D, M]{}, err
	}
	return Ref[D, M]{s: s}, nil
}

// PollMut attempts, in a single CAS, to acquire the exclusive Mut lease
// alongside this Hard lease (spec.md's poll_mut): it requires no
// outstanding Ref borrows, and the Mut carries one extra hard token of its
// own.
func (l Hard[D, M]) PollMut() (Mut[D, M], error) {
	s := l.s
	if err := arc.Poll(s.status(), arc.StepHardToMut()); err != nil {
		return Mut[D, M]{}, err
	}
	return Mut[D, M]{s: s}, nil
}

// TryToMut spins until it acquires the exclusive Mut lease.
func (l Hard[D, M]) TryToMut() (Mut[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepHardToMut()); err != nil {
		return Mut[D, M]{}, err
	}
	return Mut[D, M]{s: s}, nil
}

// ToSoft produces a new Soft lease alongside this Hard lease, leaving
// HARD_COUNT unchanged (spec.md's to_soft).
func (l Hard[D, M]) ToSoft() (Soft[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepHardToSoft(false)); err != nil {
		return Soft[D, M]{}, err
	}
	return Soft[D, M]{s: s}, nil
}

// IntoSoft consumes this Hard lease and converts it into a Soft lease
// (spec.md's into_soft): HARD_COUNT drops by one as SOFT_COUNT rises by
// one. If that drop takes HARD_COUNT to zero, the resident is dropped
// immediately (spec.md §4.4.2's Hard->Soft row): the returned Soft lease
// keeps the block itself alive, but not the resident it held.
func (l Hard[D, M]) IntoSoft() (Soft[D, M], error) {
	s := l.s
	cur := s.status().Load()
	for {
		next, err := arc.StepHardToSoft(true)(cur)
		if err != nil {
			return Soft[D, M]{}, err
		}
		if s.status().CompareAndSwap(cur, next) {
			s.afterDropHard(next)
			return Soft[D, M]{s: s}, nil
		}
		cur = s.status().Load()
	}
}

// Ptr returns a non-owning Ptr lease derived from this Hard lease (spec.md
// §4.4.4): it carries no reference count of its own and is only valid for
// as long as some owning lease on the same arc is held elsewhere.
func (l Hard[D, M]) Ptr() Ptr[D, M] {
	s := l.s.resolve()
	return Ptr[D, M]{s: s}
}
