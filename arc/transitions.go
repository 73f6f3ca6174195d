// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package arc

import (
	"runtime"
	"sync/atomic"
)

func pauseHint() { runtime.Gosched() }

// Step computes the next status word from the current one, or returns a
// terminal (non-retryable) error such as Cleared or a count overflow.
type Step func(cur Status) (next Status, err error)

// Poll attempts a single CAS using step. It returns ErrContended if the CAS
// races against a concurrent writer, without retrying — the poll_* flavour
// of every lease transition (spec.md §4.4.2).
func Poll(status *atomic.Uint64, step Step) error {
	cur := status.Load()
	next, err := step(cur)
	if err != nil {
		return err
	}
	if !status.CompareAndSwap(cur, next) {
		return errKind(ErrContended)
	}
	return nil
}

// Spin retries step until it either succeeds or returns a terminal error —
// the try_to_*/into_* flavours of every lease transition.
func Spin(status *atomic.Uint64, step Step) error {
	for {
		cur := status.Load()
		next, err := step(cur)
		if err != nil {
			return err
		}
		if status.CompareAndSwap(cur, next) {
			return nil
		}
		pauseHint()
	}
}

// --- Hard -> Ref --------------------------------------------------------

// StepHardToRef adds one ref borrow (and, if addHard is true, one extra hard
// owner alongside it — the non-consuming to_ref flavour; into_ref passes
// addHard=false since the hard token it consumes becomes the ref's hard
// token).
func StepHardToRef(addHard bool) Step {
	return func(cur Status) (Status, error) {
		if mutSet(cur) {
			return 0, errKind(ErrContended)
		}
		if relocatedSet(cur) {
			return 0, errKind(ErrRelocating)
		}
		ref := refCount(cur)
		if ref >= RefCountMax {
			return 0, errKind(ErrRefCountOverflow)
		}
		hard := hardCount(cur)
		if addHard {
			if hard >= HardCountMax {
				return 0, errKind(ErrHardCountOverflow)
			}
			hard++
		}
		return Pack(hard, softCount(cur), ref+1, false, relocatedSet(cur)), nil
	}
}

// --- Hard -> Mut ---------------------------------------------------------

// StepHardToMut sets MUT_FLAG and adds one hard owner alongside the calling
// Hard lease: the new Mut lease carries that hard token and releases it on
// drop.
func StepHardToMut() Step {
	return func(cur Status) (Status, error) {
		if mutSet(cur) || refCount(cur) != 0 {
			return 0, errKind(ErrContended)
		}
		hard := hardCount(cur)
		if hard >= HardCountMax {
			return 0, errKind(ErrHardCountOverflow)
		}
		return Pack(hard+1, softCount(cur), 0, true, relocatedSet(cur)), nil
	}
}

// --- Hard -> Soft ----------------------------------------------------------

// StepHardToSoft adds one soft owner, and (if dropHard is true, the
// into_soft flavour) releases one hard owner in the same CAS.
func StepHardToSoft(dropHard bool) Step {
	return func(cur Status) (Status, error) {
		soft := softCount(cur)
		if soft >= SoftCountMax {
			return 0, errKind(ErrSoftCountOverflow)
		}
		hard := hardCount(cur)
		if dropHard {
			if hard == 0 {
				panic("arc: hard count underflow converting Hard to Soft")
			}
			hard--
		}
		return Pack(hard, soft+1, refCount(cur), mutSet(cur), relocatedSet(cur)), nil
	}
}

// --- Ref -> Mut ------------------------------------------------------------

// StepRefToMut requires that this caller holds the only outstanding ref
// borrow (REF_COUNT == 1).
func StepRefToMut() Step {
	return func(cur Status) (Status, error) {
		if refCount(cur) != 1 || mutSet(cur) {
			return 0, errKind(ErrContended)
		}
		return Pack(hardCount(cur), softCount(cur), 0, true, relocatedSet(cur)), nil
	}
}

// --- Mut -> Ref ------------------------------------------------------------

func StepMutToRef() Step {
	return func(cur Status) (Status, error) {
		if !mutSet(cur) {
			panic("arc: Mut -> Ref attempted without the mutable borrow held")
		}
		return Pack(hardCount(cur), softCount(cur), 1, false, relocatedSet(cur)), nil
	}
}

// --- Soft -> Hard ------------------------------------------------------------

func StepSoftToHard() Step {
	return func(cur Status) (Status, error) {
		hard := hardCount(cur)
		if hard == 0 {
			return 0, errKind(ErrCleared)
		}
		if hard >= HardCountMax {
			return 0, errKind(ErrHardCountOverflow)
		}
		return Pack(hard+1, softCount(cur), refCount(cur), mutSet(cur), relocatedSet(cur)), nil
	}
}

// --- Soft -> Ref -------------------------------------------------------------

func StepSoftToRef() Step {
	return func(cur Status) (Status, error) {
		hard := hardCount(cur)
		if hard == 0 {
			return 0, errKind(ErrCleared)
		}
		if cur&WriteLockedMask != 0 {
			return 0, errKind(ErrContended)
		}
		if hard >= HardCountMax {
			return 0, errKind(ErrHardCountOverflow)
		}
		if refCount(cur) >= RefCountMax {
			return 0, errKind(ErrRefCountOverflow)
		}
		return Pack(hard+1, softCount(cur), refCount(cur)+1, false, relocatedSet(cur)), nil
	}
}

// --- Drop paths --------------------------------------------------------

// DropOutcome tells the caller what further cleanup it must perform after a
// status-word CAS succeeds.
type DropOutcome struct {
	// DropResident is true when this decrement took HARD_COUNT to zero:
	// the caller must now call Resident.Drop and, per spec.md §4.4.2,
	// fence concurrent soft clones by converting one hard token into a
	// soft token before doing so.
	DropResident bool
	// FreeHeader is true when both counts are now zero: the caller must
	// drop Meta and free the block.
	FreeHeader bool
}

// StepDropHard decrements HARD_COUNT by one.
func StepDropHard() Step {
	return func(cur Status) (Status, error) {
		hard := hardCount(cur)
		if hard == 0 {
			panic("arc: hard count underflow on drop")
		}
		return Pack(hard-1, softCount(cur), refCount(cur), mutSet(cur), relocatedSet(cur)), nil
	}
}

// StepDropRef decrements HARD_COUNT and REF_COUNT by one simultaneously (a
// Ref lease's drop).
func StepDropRef() Step {
	return func(cur Status) (Status, error) {
		hard := hardCount(cur)
		ref := refCount(cur)
		if hard == 0 || ref == 0 {
			panic("arc: count underflow dropping Ref")
		}
		return Pack(hard-1, softCount(cur), ref-1, mutSet(cur), relocatedSet(cur)), nil
	}
}

// StepDropMut decrements HARD_COUNT by one and clears MUT_FLAG (a Mut
// lease's drop).
func StepDropMut() Step {
	return func(cur Status) (Status, error) {
		hard := hardCount(cur)
		if hard == 0 || !mutSet(cur) {
			panic("arc: invalid state dropping Mut")
		}
		return Pack(hard-1, softCount(cur), refCount(cur), false, relocatedSet(cur)), nil
	}
}

// StepFenceHardZeroToSoft converts one hard token into one soft token,
// atomically, used only on the drop path when HARD_COUNT has just reached
// zero and the resident is about to be dropped: it fences concurrent soft
// clones while the resident destructor runs.
func StepFenceHardZeroToSoft() Step {
	return func(cur Status) (Status, error) {
		return Pack(0, softCount(cur)+1, refCount(cur), mutSet(cur), relocatedSet(cur)), nil
	}
}

// StepDropSoft decrements SOFT_COUNT by one.
func StepDropSoft() Step {
	return func(cur Status) (Status, error) {
		soft := softCount(cur)
		if soft == 0 {
			panic("arc: soft count underflow on drop")
		}
		return Pack(hardCount(cur), soft-1, refCount(cur), mutSet(cur), relocatedSet(cur)), nil
	}
}

// --- Relocation ----------------------------------------------------------

// StepBeginRelocate sets RELOCATED_FLAG, requiring no live mutable borrow or
// prior relocation in progress (spec.md §4.4.3 step 1).
func StepBeginRelocate() Step {
	return func(cur Status) (Status, error) {
		if cur&ReadLockedMask != 0 {
			return 0, errKind(ErrRelocating)
		}
		return cur | relocatedFlag, nil
	}
}

// StepAbortRelocate clears RELOCATED_FLAG after a failed stow (spec.md
// §4.4.3 step 4's rollback).
func StepAbortRelocate() Step {
	return func(cur Status) (Status, error) {
		return cur &^ relocatedFlag, nil
	}
}

// Hard, Soft, Ref, Mut count/flag readers, exported for the lease package
// and for tests asserting the status-word invariants of spec.md §8.
func HardCount(s Status) uint64 { return hardCount(s) }
func SoftCount(s Status) uint64 { return softCount(s) }
func RefCount(s Status) uint64  { return refCount(s) }
func MutSet(s Status) bool      { return mutSet(s) }
func RelocatedSet(s Status) bool {
	return relocatedSet(s)
}
