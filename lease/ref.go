// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import "github.com/corelease/corelease/arc"

// Ref is a shared, read-only borrow: many Refs may be outstanding at once,
// but none may coexist with a Mut borrow (spec.md §4.4.1).
type Ref[D any, M any] struct {
	s *shared[D, M]
}

func (l Ref[D, M]) IsValid() bool { return l.s != nil }

func (l Ref[D, M]) Data() *D { return l.s.resolve().data }

func (l Ref[D, M]) Meta() *M { return &l.s.resolve().header.Meta }

// Clone produces a second Ref borrow over the same arc.
func (l Ref[D, M]) Clone() (Ref[D, M], error) {
	s := l.s
	step := func(cur arc.Status) (arc.Status, error) {
		if arc.MutSet(cur) {
			return 0, &arc.Error{Kind: arc.ErrContended}
		}
		ref := arc.RefCount(cur)
		hard := arc.HardCount(cur)
		if ref >= arc.RefCountMax || hard >= arc.HardCountMax {
			return 0, &arc.Error{Kind: arc.ErrRefCountOverflow}
		}
		return arc.Pack(hard+1, arc.SoftCount(cur), ref+1, false, arc.RelocatedSet(cur)), nil
	}
	if err := arc.Spin(s.status(), step); err != nil {
		return Ref[D, M]{}, err
	}
	return Ref[D, M]{s: s}, nil
}

// Drop releases this Ref borrow, which also releases the Hard token it
// carries (spec.md §4.4.2: a Ref's drop decrements HARD_COUNT and
// REF_COUNT together).
func (l Ref[D, M]) Drop() {
	s := l.s
	cur := s.status().Load()
	for {
		next, err := arc.StepDropRef()(cur)
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

// IntoHard consumes this Ref borrow and converts it into a plain Hard
// lease, releasing the borrow slot but keeping the hard token
// (spec.md's into_hard on a Ref).
func (l Ref[D, M]) IntoHard() Hard[D, M] {
	s := l.s
	step := func(cur arc.Status) (arc.Status, error) {
		ref := arc.RefCount(cur)
		if ref == 0 {
			panic("lease: ref count underflow converting Ref to Hard")
		}
		return arc.Pack(arc.HardCount(cur), arc.SoftCount(cur), ref-1, false, arc.RelocatedSet(cur)), nil
	}
	if err := arc.Spin(s.status(), step); err != nil {
		panic(err)
	}
	return Hard[D, M]{s: s}
}

// PollMut attempts, in a single CAS, to upgrade this Ref into the
// exclusive Mut borrow: it only succeeds if this is the sole outstanding
// Ref (spec.md's poll_mut on a Ref).
func (l Ref[D, M]) PollMut() (Mut[D, M], error) {
	s := l.s
	if err := arc.Poll(s.status(), arc.StepRefToMut()); err != nil {
		return Mut[D, M]{}, err
	}
	return Mut[D, M]{s: s}, nil
}

// TryToMut spins until it upgrades this Ref into the exclusive Mut borrow.
func (l Ref[D, M]) TryToMut() (Mut[D, M], error) {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepRefToMut()); err != nil {
		return Mut[D, M]{}, err
	}
	return Mut[D, M]{s: s}, nil
}
