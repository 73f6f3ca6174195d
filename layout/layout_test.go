// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForType(t *testing.T) {
	l := ForType[int64]()
	assert.Equal(t, uintptr(8), l.Size)
	assert.Equal(t, uintptr(8), l.Align)
}

func TestForArray(t *testing.T) {
	l, err := ForArray[int64](10)
	require.NoError(t, err)
	assert.Equal(t, uintptr(80), l.Size)
	assert.Equal(t, uintptr(8), l.Align)

	zero, err := ForArray[int64](0)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0), zero.Size)
	assert.Equal(t, uintptr(8), zero.Align)
}

func TestForArrayOverflow(t *testing.T) {
	_, err := ForArray[int64](1 << 62)
	require.Error(t, err)
}

func TestExtendedBy(t *testing.T) {
	// struct { a uint8; b uint32 }
	a := Layout{Size: 1, Align: 1}
	b := Layout{Size: 4, Align: 4}

	combined, offset, err := a.ExtendedBy(b)
	require.NoError(t, err)
	assert.Equal(t, uintptr(4), offset)
	assert.Equal(t, uintptr(8), combined.Size)
	assert.Equal(t, uintptr(4), combined.Align)
}

func TestExtendedByMisaligned(t *testing.T) {
	a := Layout{Size: 1, Align: 1}
	b := Layout{Size: 4, Align: 3}

	_, _, err := a.ExtendedBy(b)
	require.Error(t, err)
}

func TestPaddedTo(t *testing.T) {
	l := Layout{Size: 5, Align: 1}
	padded, err := l.PaddedTo(8)
	require.NoError(t, err)
	assert.Equal(t, uintptr(8), padded.Size)
	assert.Equal(t, uintptr(8), padded.Align)
}

func TestNewRejectsNonPowerOfTwoAlign(t *testing.T) {
	_, err := New(16, 3)
	require.Error(t, err)
}

func TestEmptyBlock(t *testing.T) {
	assert.True(t, EmptyBlock.IsEmpty())
	assert.Equal(t, ZSP, EmptyBlock.Ptr)
}
