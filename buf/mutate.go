// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package buf

import (
	"errors"
	"fmt"

	"github.com/corelease/corelease/layout"
)

// ErrIndexOutOfRange is returned by operations addressing a specific index
// outside [0, Len()).
var ErrIndexOutOfRange = errors.New("buf: index out of range")

// TryReserve ensures at least ext additional elements fit, growing to the
// next power of two and relocating the element block if necessary
// (spec.md's try_reserve, built on hold.Hold's Realloc — the DynamicLease
// capability this package exists to demonstrate).
func (b *Buf[T, M]) TryReserve(ext int) error {
	return b.reserve(ext, true, false)
}

// TryReserveExact is TryReserve without rounding up to a power of two.
func (b *Buf[T, M]) TryReserveExact(ext int) error {
	return b.reserve(ext, false, false)
}

// TryReserveInPlace grows capacity only if the element block can be
// extended without moving (hold.Hold's Resize); it fails rather than
// relocating.
func (b *Buf[T, M]) TryReserveInPlace(ext int) error {
	return b.reserve(ext, true, true)
}

// TryReserveInPlaceExact is TryReserveInPlace without power-of-two
// rounding.
func (b *Buf[T, M]) TryReserveInPlaceExact(ext int) error {
	return b.reserve(ext, false, true)
}

func (b *Buf[T, M]) reserve(ext int, roundUp bool, inPlaceOnly bool) error {
	h := b.hdr()
	needed := h.length + ext
	if needed <= h.capacity {
		return nil
	}
	newCap := needed
	if roundUp {
		newCap = int(layout.RoundUpPowerOfTwo(uint64(needed)))
	}

	newLayout, err := elemLayout[T](newCap)
	if err != nil {
		return err
	}

	old := layout.Block{Ptr: h.dataAddr, Size: 0}
	if h.dataAddr != 0 {
		oldLayout, err := elemLayout[T](h.capacity)
		if err != nil {
			return err
		}
		old.Size = oldLayout.Size
	}

	var grown layout.Block
	if inPlaceOnly {
		if old.IsEmpty() {
			grown, err = b.hold.Alloc(newLayout)
		} else {
			grown, err = b.hold.Resize(old, newLayout)
		}
	} else {
		if old.IsEmpty() {
			grown, err = b.hold.Alloc(newLayout)
		} else {
			grown, err = b.hold.Realloc(old, newLayout)
		}
	}
	if err != nil {
		return err
	}

	h.dataAddr = grown.Ptr
	h.capacity = newCap
	return nil
}

// Push appends v, growing the backing allocation if necessary.
func (b *Buf[T, M]) Push(v T) error {
	if err := b.TryReserve(1); err != nil {
		return err
	}
	h := b.hdr()
	*b.elemAt(h.length) = v
	h.length++
	return nil
}

// Pop removes and returns the last element, or (zero, false) if empty.
func (b *Buf[T, M]) Pop() (T, bool) {
	var zero T
	h := b.hdr()
	if h.length == 0 {
		return zero, false
	}
	h.length--
	v := *b.elemAt(h.length)
	*b.elemAt(h.length) = zero
	return v, true
}

// Insert shifts elements at and after i up by one and places v at i.
func (b *Buf[T, M]) Insert(i int, v T) error {
	h := b.hdr()
	if i < 0 || i > h.length {
		return fmt.Errorf("%w: insert at %d, len %d", ErrIndexOutOfRange, i, h.length)
	}
	if err := b.TryReserve(1); err != nil {
		return err
	}
	h = b.hdr()
	for j := h.length; j > i; j-- {
		*b.elemAt(j) = *b.elemAt(j - 1)
	}
	*b.elemAt(i) = v
	h.length++
	return nil
}

// Remove deletes and returns the element at i, shifting later elements
// down by one.
func (b *Buf[T, M]) Remove(i int) (T, error) {
	var zero T
	h := b.hdr()
	if i < 0 || i >= h.length {
		return zero, fmt.Errorf("%w: remove at %d, len %d", ErrIndexOutOfRange, i, h.length)
	}
	v := *b.elemAt(i)
	for j := i; j < h.length-1; j++ {
		*b.elemAt(j) = *b.elemAt(j + 1)
	}
	h.length--
	*b.elemAt(h.length) = zero
	return v, nil
}

// Truncate shrinks the buffer to at most n elements, zeroing the tail.
func (b *Buf[T, M]) Truncate(n int) {
	h := b.hdr()
	if n >= h.length || n < 0 {
		return
	}
	var zero T
	for i := n; i < h.length; i++ {
		*b.elemAt(i) = zero
	}
	h.length = n
}

// Clear removes every element without shrinking capacity.
func (b *Buf[T, M]) Clear() {
	b.Truncate(0)
}

// Drain removes elements [lo, hi), returning a copy of them, and shifts
// the tail down to close the gap (spec.md's BufDrain, flattened into an
// eager copy-then-shift rather than a lazy borrow-based iterator, since
// nothing in this port needs partial consumption of the drained range).
func (b *Buf[T, M]) Drain(lo, hi int) ([]T, error) {
	h := b.hdr()
	if lo < 0 || hi > h.length || lo > hi {
		return nil, fmt.Errorf("%w: drain [%d,%d), len %d", ErrIndexOutOfRange, lo, hi, h.length)
	}
	out := make([]T, hi-lo)
	for i := range out {
		out[i] = *b.elemAt(lo + i)
	}
	n := hi - lo
	for j := lo; j < h.length-n; j++ {
		*b.elemAt(j) = *b.elemAt(j + n)
	}
	var zero T
	for j := h.length - n; j < h.length; j++ {
		*b.elemAt(j) = zero
	}
	h.length -= n
	return out, nil
}

// Extend appends every element drawn from next until it returns
// (zero, false).
func (b *Buf[T, M]) Extend(next func() (T, bool)) error {
	for {
		v, ok := next()
		if !ok {
			return nil
		}
		if err := b.Push(v); err != nil {
			return err
		}
	}
}

// ExtendFromSlice appends every element of s.
func (b *Buf[T, M]) ExtendFromSlice(s []T) error {
	if err := b.TryReserve(len(s)); err != nil {
		return err
	}
	h := b.hdr()
	for _, v := range s {
		*b.elemAt(h.length) = v
		h.length++
	}
	return nil
}

// Range calls fn for every live element in order, stopping early if fn
// returns false.
func (b *Buf[T, M]) Range(fn func(i int, v *T) bool) {
	h := b.hdr()
	for i := 0; i < h.length; i++ {
		if !fn(i, b.elemAt(i)) {
			return
		}
	}
}
