// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package buf implements Buf[T, M], the growable array resident of
// spec.md §4.6: the lease package's DynamicLease demonstrator. Its element
// storage is deliberately kept in a Hold block separate from the arc
// Header[M] a Hard lease wraps (rather than placed immediately after the
// header the way hashtrie's fixed-size root is), since growing means
// calling hold.Hold's Resize/Realloc on exactly the bytes that must move —
// folding the header in would force every grow to also shuffle the
// refcount/relocation machinery for no reason.
package buf

import (
	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/layout"
	"github.com/corelease/corelease/lease"
	"github.com/corelease/corelease/resident"
)

// header is the sibling metadata a Buf's Hard lease carries: where its
// element storage currently lives, how many elements are live, how many
// the current allocation can hold, and the caller's own metadata M.
type header[T any, M any] struct {
	dataAddr uintptr
	length   int
	capacity int
	meta     M
}

func elemLayout[T any](n int) (layout.Layout, error) {
	return layout.ForArray[T](n)
}

type bufResident[T any, M any] struct{}

func (bufResident[T, M]) Size(*header[T, M]) layout.Layout {
	return layout.ForType[struct{}]()
}

func (bufResident[T, M]) Drop(_ *struct{}, meta *header[T, M]) {
	// The data block is freed explicitly by Buf.Close using the owning
	// Hold, since Resident.Drop has no Hold parameter of its own —
	// exactly the same split hashtrie.trieResident.Drop documents.
	_ = meta
}

func (bufResident[T, M]) Stow(_ *struct{}, meta *header[T, M], src resident.Hold, dst resident.Hold) (struct{}, error) {
	if meta.dataAddr == 0 {
		return struct{}{}, nil
	}
	l, err := elemLayout[T](meta.capacity)
	if err != nil {
		return struct{}{}, err
	}
	block, err := dst.Alloc(l)
	if err != nil {
		return struct{}{}, err
	}
	copy(blockBytes(block), addrBytes(meta.dataAddr, l.Size))
	src.Dealloc(layout.Block{Ptr: meta.dataAddr, Size: l.Size})
	meta.dataAddr = block.Ptr
	return struct{}{}, nil
}

// Buf is a growable, contiguous array of T backed by a hold.Hold, carrying
// caller metadata M alongside its length/capacity bookkeeping.
type Buf[T any, M any] struct {
	hold hold.Hold
	own  lease.Hard[struct{}, header[T, M]]
}

// New constructs an empty Buf with the given initial capacity (which may
// be zero).
func New[T any, M any](h hold.Hold, meta M, capacity int) (*Buf[T, M], error) {
	var dataAddr uintptr
	if capacity > 0 {
		l, err := elemLayout[T](capacity)
		if err != nil {
			return nil, err
		}
		block, err := h.Alloc(l)
		if err != nil {
			return nil, err
		}
		dataAddr = block.Ptr
	}

	own, err := lease.New[struct{}, header[T, M]](h, bufResident[T, M]{}, header[T, M]{
		dataAddr: dataAddr,
		capacity: capacity,
		meta:     meta,
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Buf[T, M]{hold: h, own: own}, nil
}

func (b *Buf[T, M]) hdr() *header[T, M] { return b.own.Meta() }

// Len returns the number of live elements.
func (b *Buf[T, M]) Len() int { return b.hdr().length }

// Cap returns the current element capacity.
func (b *Buf[T, M]) Cap() int { return b.hdr().capacity }

// Meta returns a pointer to the caller's own sibling metadata.
func (b *Buf[T, M]) Meta() *M { return &b.hdr().meta }

func (b *Buf[T, M]) elemAt(i int) *T {
	h := b.hdr()
	return (*T)(offsetPointer[T](h.dataAddr, i))
}

// Get returns a pointer to the element at index i, or nil if i is out of
// range.
func (b *Buf[T, M]) Get(i int) *T {
	h := b.hdr()
	if i < 0 || i >= h.length {
		return nil
	}
	return b.elemAt(i)
}

// Close frees the Buf's element storage and drops its Hard lease. Callers
// must not use the Buf afterward.
func (b *Buf[T, M]) Close() {
	h := b.hdr()
	nodeHold := b.hold
	if resolved, ok := hold.Tag(b.own.Ptr().Raw().Addr()); ok {
		nodeHold = resolved
	}
	if h.dataAddr != 0 {
		l, _ := elemLayout[T](h.capacity)
		nodeHold.Dealloc(layout.Block{Ptr: h.dataAddr, Size: l.Size})
		h.dataAddr = 0
	}
	b.own.Drop()
}

// StowInto relocates this Buf's arc (and its element storage) into dst.
func (b *Buf[T, M]) StowInto(dst hold.Hold) error {
	return lease.Stow[struct{}, header[T, M]](b.own, dst)
}
