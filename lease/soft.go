// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import "github.com/corelease/corelease/arc"

// Soft is a weak lease: it keeps the arc's block alive but does not keep
// its resident alive. Once HARD_COUNT reaches zero the resident has
// already been dropped, and promoting a Soft back to a Hard fails with
// ErrCleared (spec.md §4.4.2's Soft -> Hard notes).
type Soft[D any, M any] struct {
	s *shared[D, M]
}

func (l Soft[D, M]) IsValid() bool { return l.s != nil }

func (l Soft[D, M]) Meta() *M { return &l.s.resolve().header.Meta }

// Clone produces a second Soft lease over the same arc.
func (l Soft[D, M]) Clone() (Soft[D, M], error) {
	s := l.s
	step := func(cur arc.Status) (arc.Status, error) {
		soft := arc.SoftCount(cur)
		if soft >= arc.SoftCountMax {
			return 0, &arc.Error{Kind: arc.ErrSoftCountOverflow}
		}
		return arc.Pack(arc.HardCount(cur), soft+1, arc.RefCount(cur), arc.MutSet(cur), arc.RelocatedSet(cur)), nil
	}
	if err := arc.Spin(s.status(), step); err != nil {
		return Soft[D, M]{}, err
	}
	return Soft[D, M]{s: s}, nil
}

// Drop releases this Soft lease, freeing the arc's block once both
// HARD_COUNT and SOFT_COUNT have reached zero.
func (l Soft[D, M]) Drop() {
	s := l.s
	cur := s.status().Load()
	for {
		next, err := arc.StepDropSoft()(cur)
		if err != nil {
			panic(err)
		}
		if s.status().CompareAndSwap(cur, next) {
			s.afterDropSoft(next)
			return
		}
		cur = s.status().Load()
	}
}

// PollHard attempts, in a single CAS, to promote this Soft lease into a new
// Hard lease, failing with ErrCleared if the resident has already been
// dropped (spec.md's poll_hard).
func (l Soft[D, M]) PollHard() (Hard[D, M], error) {
	s := l.s
	if err := arc.Poll(s.status(), arc.StepSoftToHard()); err != nil {
		return Hard[D, M]{}, err
	}
	return Hard[D, M]{s: s}, nil
}

// TryToHard spins until it promotes this Soft lease into a Hard lease or
// observes the resident has been cleared.
func (l Soft[D, M]) TryToHard() (Hard[D, M], error) {
	s := l.s
	for {
		err := arc.Poll(s.status(), arc.StepSoftToHard())
		if err == nil {
			return Hard[D, M]{s: s}, nil
		}
		var arcErr *arc.Error
		if !asArcContended(err, &arcErr) {
			return Hard[D, M]{}, err
		}
	}
}

// PollRef attempts, in a single CAS, to promote this Soft lease directly
// into a Ref borrow (spec.md's poll_ref on a Soft lease): it requires the
// resident is still live.
func (l Soft[D, M]) PollRef() (Ref[D, M], error) {
	s := l.s
	if err := arc.Poll(s.status(), arc.StepSoftToRef()); err != nil {
		return Ref[D, M]{}, err
	}
	return Ref[D, M]{s: s}, nil
}

func asArcContended(err error, out **arc.Error) bool {
	ae, ok := err.(*arc.Error)
	if !ok {
		return false
	}
	*out = ae
	return ae.Kind == arc.ErrContended
}
