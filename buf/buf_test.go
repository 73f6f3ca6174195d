// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelease/corelease/hold"
)

func newTestHold(t *testing.T, size uint64) hold.Hold {
	t.Helper()
	as := hold.NewAddrSpace(size)
	require.NoError(t, as.Grow(size))
	t.Cleanup(func() { require.NoError(t, as.Destroy()) })
	return as
}

func collect[T any](b *Buf[T, int]) []T {
	out := make([]T, 0, b.Len())
	b.Range(func(_ int, v *T) bool {
		out = append(out, *v)
		return true
	})
	return out
}

func TestPushPopRoundTrip(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Push(i))
	}
	assert.Equal(t, 100, b.Len())
	assert.GreaterOrEqual(t, b.Cap(), 100)

	for i := 99; i >= 0; i-- {
		v, ok := b.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := b.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestInsertAndRemove(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[string, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Push("a"))
	require.NoError(t, b.Push("c"))
	require.NoError(t, b.Insert(1, "b"))
	assert.Equal(t, []string{"a", "b", "c"}, collect(b))

	v, err := b.Remove(1)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, []string{"a", "c"}, collect(b))

	_, err = b.Remove(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	err = b.Insert(-1, "x")
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestTruncateAndClear(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Push(i))
	}
	b.Truncate(4)
	assert.Equal(t, []int{0, 1, 2, 3}, collect(b))

	b.Truncate(100)
	assert.Equal(t, 4, b.Len())

	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, collect(b))
}

func TestDrainRemovesRangeAndShifts(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Push(i))
	}
	drained, err := b.Drain(2, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, drained)
	assert.Equal(t, []int{0, 1, 5, 6, 7, 8, 9}, collect(b))

	_, err = b.Drain(3, 2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = b.Drain(0, 100)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestExtendFromSlice(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.ExtendFromSlice([]int{1, 2, 3}))
	require.NoError(t, b.ExtendFromSlice([]int{4, 5}))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, collect(b))
}

func TestExtendFromIterator(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	i := 0
	require.NoError(t, b.Extend(func() (int, bool) {
		if i >= 5 {
			return 0, false
		}
		i++
		return i, true
	}))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, collect(b))
}

func TestTryReserveGrowsCapacityToPowerOfTwo(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 0)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.TryReserve(5))
	assert.Equal(t, 8, b.Cap())

	require.NoError(t, b.TryReserveExact(9))
	assert.Equal(t, 9, b.Cap())
}

func TestTryReserveInPlaceFailsWhenGrowthCrossesAPageBoundary(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 0, 4)
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Push(i))
	}

	// AddrSpace's Resize only succeeds when the page-rounded new size is no
	// more than the block size it is handed, and Buf hands it the 32-byte
	// element size of its 4-element storage; requesting enough elements to
	// spill onto a second page therefore fails rather than relocates.
	err = b.TryReserveInPlace(10000)
	assert.Error(t, err)
	assert.Equal(t, 4, b.Cap())
	assert.Equal(t, []int{0, 1, 2, 3}, collect(b))

	require.NoError(t, b.TryReserve(10000))
	assert.GreaterOrEqual(t, b.Cap(), 10004)
	assert.Equal(t, []int{0, 1, 2, 3}, collect(b))
}

func TestMetaAccessible(t *testing.T) {
	h := newTestHold(t, 1<<20)
	b, err := New[int, int](h, 42, 0)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 42, *b.Meta())
	*b.Meta() = 7
	assert.Equal(t, 7, *b.Meta())
}

func TestStowPreservesContentsAndFreesSource(t *testing.T) {
	src := newTestHold(t, 1<<20).(*hold.AddrSpace)
	dst := newTestHold(t, 1<<20).(*hold.AddrSpace)

	b, err := New[int, int](src, 0, 0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Push(i*i))
	}

	require.NoError(t, b.StowInto(dst))

	for i := 0; i < 50; i++ {
		assert.Equal(t, i*i, *b.Get(i))
	}

	b.Close()
	assert.Zero(t, src.Stats().Live)
}
