// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package layout defines the value types used to describe a memory span
// (Block) and the size/alignment requirements of an allocation (Layout).
package layout

import (
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/fmstephe/flib/fmath"
)

// ZSP is the stable non-null sentinel pointer value used by the zero-sized
// Block. It is never dereferenced.
const ZSP = uintptr(1)

// LayoutError is returned by Layout constructors and arithmetic when a size
// or alignment requirement cannot be satisfied.
type LayoutError struct {
	msg string
}

func (e *LayoutError) Error() string {
	return e.msg
}

func errMisaligned(align uintptr) error {
	return &LayoutError{msg: fmt.Sprintf("alignment %d is not a power of two", align)}
}

func errOversized(size uintptr) error {
	return &LayoutError{msg: fmt.Sprintf("size %d overflows a rounded usize", size)}
}

// Layout pairs a size in bytes with a power-of-two alignment.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// Empty is the zero-size, maximally aligned layout (spec.md §4.1's
// `empty`): Align is the largest power of two a uintptr can represent.
var Empty = Layout{Size: 0, Align: uintptr(1) << (bits.UintSize - 1)}

func isPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// New builds a Layout, rejecting a zero or non-power-of-two alignment.
func New(size, align uintptr) (Layout, error) {
	if !isPowerOfTwo(align) {
		return Layout{}, errMisaligned(align)
	}
	return Layout{Size: size, Align: align}, nil
}

// ForType returns the layout of a single value of type T.
func ForType[T any]() Layout {
	var zero T
	align := uintptr(unsafe.Alignof(zero))
	if align == 0 {
		align = 1
	}
	return Layout{
		Size:  unsafe.Sizeof(zero),
		Align: align,
	}
}

// ForArray returns the layout of n contiguous values of type T, failing with
// an Oversized LayoutError if size_of::<T>() * n overflows uintptr.
func ForArray[T any](n int) (Layout, error) {
	elem := ForType[T]()
	if n == 0 {
		return Layout{Size: 0, Align: elem.Align}, nil
	}

	hi, lo := bits.Mul64(uint64(elem.Size), uint64(n))
	if hi != 0 || lo > uint64(^uintptr(0)) {
		return Layout{}, errOversized(uintptr(lo))
	}

	return Layout{Size: uintptr(lo), Align: elem.Align}, nil
}

// PaddedTo rounds l.Size up to a multiple of align, widening l.Align to
// max(l.Align, align) if align is the larger of the two.
func (l Layout) PaddedTo(align uintptr) (Layout, error) {
	if !isPowerOfTwo(align) {
		return Layout{}, errMisaligned(align)
	}

	padded, err := roundUp(l.Size, align)
	if err != nil {
		return Layout{}, err
	}

	newAlign := l.Align
	if align > newAlign {
		newAlign = align
	}

	return Layout{Size: padded, Align: newAlign}, nil
}

// ExtendedBy returns the Layout of a struct whose first field has layout l
// and whose second field has layout other, placed immediately after the
// required padding, along with the byte offset at which other begins.
func (l Layout) ExtendedBy(other Layout) (combined Layout, offset uintptr, err error) {
	if !isPowerOfTwo(other.Align) {
		return Layout{}, 0, errMisaligned(other.Align)
	}

	offset, err = roundUp(l.Size, other.Align)
	if err != nil {
		return Layout{}, 0, err
	}

	total := uint64(offset) + uint64(other.Size)
	if total > uint64(^uintptr(0)) {
		return Layout{}, 0, errOversized(uintptr(total))
	}

	newAlign := l.Align
	if other.Align > newAlign {
		newAlign = other.Align
	}

	return Layout{Size: uintptr(total), Align: newAlign}, offset, nil
}

func roundUp(size, align uintptr) (uintptr, error) {
	mask := align - 1
	sum := uint64(size) + uint64(mask)
	if sum < uint64(size) {
		return 0, errOversized(size)
	}
	rounded := sum &^ uint64(mask)
	if rounded > uint64(^uintptr(0)) {
		return 0, errOversized(size)
	}
	return uintptr(rounded), nil
}

// RoundUpPowerOfTwo rounds v up to the next power of two, matching the
// rounding flib's fmath.NxtPowerOfTwo performs for slab and extent sizing.
func RoundUpPowerOfTwo(v uint64) uint64 {
	return uint64(fmath.NxtPowerOfTwo(int64(v)))
}

// Block is a (base address, size) pair describing a span of memory returned
// by a Hold. The zero-sized Block is canonical: Ptr == ZSP, Size == 0, and it
// is never dereferenced.
type Block struct {
	Ptr  uintptr
	Size uintptr
}

// EmptyBlock is the distinguished zero-sized block.
var EmptyBlock = Block{Ptr: ZSP, Size: 0}

// IsEmpty reports whether b is the distinguished zero-sized block.
func (b Block) IsEmpty() bool {
	return b.Size == 0
}

// Bytes views the block's span as a byte slice. It must not be called on an
// empty block.
func (b Block) Bytes() []byte {
	if b.IsEmpty() {
		panic("layout: cannot view empty Block as bytes")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(b.Ptr)), int(b.Size))
}
