// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package resident declares the capability interfaces every concrete
// resident type (HashTrie, Buf) implements to participate in the lease
// machinery of package lease. It plays the role spec.md's Rust Resident
// trait family plays, generalised to Go: rather than an associated-type
// trait, Resident is a two-parameter generic interface — D for the
// resident's payload data and M for the sibling metadata a lease header
// carries alongside it — and lease types hold a Resident[D, M] value as a
// witness field instead of threading a third type parameter everywhere.
//
// The other capability traits spec.md §6 lists (Deref, AsRef, Index, Add,
// IntoIterator, PartialEq/Eq/Ord/Hash/Display/Debug, Unwrap) have no
// sensible generic shape in Go without per-method type parameters, which Go
// does not allow; HashTrie and Buf instead expose those as ordinary
// concrete methods in their own packages.
package resident

import "github.com/corelease/corelease/layout"

// Resident is the minimal capability every lease-backed type provides:
// knowing its own layout and how to tear itself down. D is the resident's
// payload type; M is the sibling metadata type stored in the arc header
// next to D (spec.md's resident_size/resident_drop).
type Resident[D any, M any] interface {
	// Size reports the Layout to allocate for a value described by meta,
	// before the value itself exists (resident_size).
	Size(meta *M) layout.Layout
	// Drop runs the resident's destructor in place, given a live pointer
	// to its data and metadata (resident_drop). Drop must not free the
	// backing Block; the caller does that once Drop returns.
	Drop(data *D, meta *M)
}

// Cloner is implemented by residents whose payload can be deep-copied into
// an independent (data, meta) pair (ResidentClone). No lease operation calls
// it: in particular, a Soft lease whose resident has been dropped is not
// promoted through Clone.
type Cloner[D any, M any] interface {
	Resident[D, M]
	// Clone produces a new (data, meta) pair describing an independent
	// copy of the value at data/meta.
	Clone(data *D, meta *M) (D, M, error)
}

// Stower is implemented by residents that know how to relocate themselves
// into a different Hold (spec.md §4.4.3's resident_stow/resident_unstow).
// Stow must recursively stow everything the resident owns by reference
// before returning the new payload value to be written into the
// destination arc.
type Stower[D any, M any] interface {
	Resident[D, M]
	// Stow copies data/meta's contents into dst, returning the payload
	// value to install at the destination, and frees whatever
	// sub-allocations it owned in src now that the copy has succeeded.
	// meta itself is not relocated by Stow; the caller copies it
	// verbatim.
	Stow(data *D, meta *M, src Hold, dst Hold) (D, error)
}

// Hold is the subset of hold.Hold that Stow needs. It is declared here,
// rather than importing package hold directly, to keep resident's
// dependency graph a leaf: resident depends on layout only, and does not
// import hold just to name this one capability.
type Hold interface {
	Alloc(l layout.Layout) (layout.Block, error)
	Dealloc(b layout.Block)
}
