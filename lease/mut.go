// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import "github.com/corelease/corelease/arc"

// Mut is the exclusive, read-write borrow: at most one may be outstanding,
// and it excludes every Ref and every other Mut (spec.md §4.4.1).
type Mut[D any, M any] struct {
	s *shared[D, M]
}

func (l Mut[D, M]) IsValid() bool { return l.s != nil }

func (l Mut[D, M]) Data() *D { return l.s.resolve().data }

func (l Mut[D, M]) Meta() *M { return &l.s.resolve().header.Meta }

// Drop releases the exclusive Mut borrow, clearing MUT_FLAG and releasing
// the hard token it carries.
func (l Mut[D, M]) Drop() {
	s := l.s
	cur := s.status().Load()
	for {
		next, err := arc.StepDropMut()(cur)
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

// IntoHard consumes this Mut borrow, clearing MUT_FLAG and returning a
// plain Hard lease over the same arc.
func (l Mut[D, M]) IntoHard() Hard[D, M] {
	s := l.s
	step := func(cur arc.Status) (arc.Status, error) {
		if !arc.MutSet(cur) {
			panic("lease: Mut -> Hard attempted without the mutable borrow held")
		}
		return arc.Pack(arc.HardCount(cur), arc.SoftCount(cur), arc.RefCount(cur), false, arc.RelocatedSet(cur)), nil
	}
	if err := arc.Spin(s.status(), step); err != nil {
		panic(err)
	}
	return Hard[D, M]{s: s}
}

// IntoRef consumes this Mut borrow and downgrades it directly into a Ref
// borrow (spec.md's into_ref on a Mut).
func (l Mut[D, M]) IntoRef() Ref[D, M] {
	s := l.s
	if err := arc.Spin(s.status(), arc.StepMutToRef()); err != nil {
		panic(err)
	}
	return Ref[D, M]{s: s}
}
