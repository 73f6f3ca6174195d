// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package hold defines the Hold capability interface (spec.md §4.3) and its
// address-space-backed implementation, AddrSpace.
package hold

import (
	"fmt"

	"github.com/corelease/corelease/layout"
)

// Hold is the capability interface exposed to leases (spec.md §6): a thing
// that can allocate, free, and (when possible) resize or relocate blocks.
type Hold interface {
	Alloc(l layout.Layout) (layout.Block, error)
	Dealloc(b layout.Block)
	// Resize grows or shrinks b in place only; it fails rather than
	// relocate if the block cannot be grown where it stands.
	Resize(b layout.Block, newLayout layout.Layout) (layout.Block, error)
	// Realloc behaves like Resize but may copy to a new location.
	Realloc(b layout.Block, newLayout layout.Layout) (layout.Block, error)
	// Holder returns the Hold that owns this capability, used for
	// cross-Hold stow (spec.md §4.4.3).
	Holder() Hold
}

// ErrorKind classifies a HoldError.
type ErrorKind int

const (
	// ErrMisaligned means the requested alignment was not a power of two,
	// or exceeds what this Hold can satisfy.
	ErrMisaligned ErrorKind = iota
	// ErrOversized means the requested size overflows arithmetic this
	// Hold must perform to service it.
	ErrOversized
	// ErrOutOfMemory means no free extent large enough exists.
	ErrOutOfMemory
	// ErrUnsupported means the specific operation requested (e.g.
	// in-place growth) cannot be satisfied by this Hold, carrying a
	// human-readable reason.
	ErrUnsupported
)

// HoldError is returned by every Hold operation that can fail.
type HoldError struct {
	Kind   ErrorKind
	Reason string
}

func (e *HoldError) Error() string {
	switch e.Kind {
	case ErrMisaligned:
		return fmt.Sprintf("hold: misaligned: %s", e.Reason)
	case ErrOversized:
		return fmt.Sprintf("hold: oversized: %s", e.Reason)
	case ErrOutOfMemory:
		return "hold: out of memory"
	case ErrUnsupported:
		return fmt.Sprintf("hold: unsupported: %s", e.Reason)
	default:
		return "hold: unknown error"
	}
}

func errMisaligned(reason string) error  { return &HoldError{Kind: ErrMisaligned, Reason: reason} }
func errOversized(reason string) error   { return &HoldError{Kind: ErrOversized, Reason: reason} }
func errOutOfMemory() error              { return &HoldError{Kind: ErrOutOfMemory} }
func errUnsupported(reason string) error { return &HoldError{Kind: ErrUnsupported, Reason: reason} }
