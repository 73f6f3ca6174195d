// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package arc

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	s := Pack(3, 7, 2, true, false)
	assert.Equal(t, uint64(3), hardCount(s))
	assert.Equal(t, uint64(7), softCount(s))
	assert.Equal(t, uint64(2), refCount(s))
	assert.True(t, mutSet(s))
	assert.False(t, relocatedSet(s))
}

func TestHardStatusInit(t *testing.T) {
	assert.Equal(t, uint64(1), hardCount(HardStatusInit))
	assert.Equal(t, uint64(0), softCount(HardStatusInit))
	assert.Equal(t, uint64(0), refCount(HardStatusInit))
	assert.False(t, mutSet(HardStatusInit))
}

func TestReadWriteLockedMasks(t *testing.T) {
	mut := Pack(1, 0, 0, true, false)
	assert.NotZero(t, mut&ReadLockedMask)
	assert.NotZero(t, mut&WriteLockedMask)

	relocating := Pack(1, 0, 0, false, true)
	assert.NotZero(t, relocating&ReadLockedMask)
	assert.NotZero(t, relocating&WriteLockedMask)

	refHeld := Pack(2, 0, 1, false, false)
	assert.Zero(t, refHeld&ReadLockedMask)
	assert.NotZero(t, refHeld&WriteLockedMask)

	plain := Pack(1, 0, 0, false, false)
	assert.Zero(t, plain&ReadLockedMask)
	assert.Zero(t, plain&WriteLockedMask)
}

func TestHardToRefToMutRoundTrip(t *testing.T) {
	var status atomic.Uint64
	status.Store(HardStatusInit)

	require.NoError(t, Spin(&status, StepHardToRef(true)))
	assert.Equal(t, uint64(2), hardCount(status.Load()))
	assert.Equal(t, uint64(1), refCount(status.Load()))

	require.NoError(t, Spin(&status, StepRefToMut()))
	assert.True(t, mutSet(status.Load()))
	assert.Zero(t, refCount(status.Load()))

	require.NoError(t, Spin(&status, StepMutToRef()))
	assert.False(t, mutSet(status.Load()))
	assert.Equal(t, uint64(1), refCount(status.Load()))
}

func TestHardToMutRejectsWhenRefHeld(t *testing.T) {
	var status atomic.Uint64
	status.Store(Pack(1, 0, 1, false, false))

	err := Poll(&status, StepHardToMut())
	require.Error(t, err)
	var arcErr *Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, ErrContended, arcErr.Kind)
}

func TestSoftToHardFailsOnceCleared(t *testing.T) {
	var status atomic.Uint64
	status.Store(Pack(0, 1, 0, false, false))

	err := Poll(&status, StepSoftToHard())
	require.Error(t, err)
	var arcErr *Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, ErrCleared, arcErr.Kind)
}

func TestDropHardThenDropSoftToZero(t *testing.T) {
	var status atomic.Uint64
	status.Store(Pack(1, 1, 0, false, false))

	require.NoError(t, Spin(&status, StepDropHard()))
	assert.Zero(t, hardCount(status.Load()))
	assert.Equal(t, uint64(1), softCount(status.Load()))

	require.NoError(t, Spin(&status, StepDropSoft()))
	assert.Zero(t, status.Load())
}

func TestFenceHardZeroToSoftThenSoftToHardIsCleared(t *testing.T) {
	var status atomic.Uint64
	status.Store(Pack(0, 0, 0, false, false))

	require.NoError(t, Spin(&status, StepFenceHardZeroToSoft()))
	assert.Equal(t, uint64(1), softCount(status.Load()))

	err := Poll(&status, StepSoftToHard())
	require.Error(t, err)
	var arcErr *Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, ErrCleared, arcErr.Kind)
}

func TestBeginAndAbortRelocate(t *testing.T) {
	var status atomic.Uint64
	status.Store(HardStatusInit)

	require.NoError(t, Spin(&status, StepBeginRelocate()))
	assert.True(t, relocatedSet(status.Load()))

	err := Poll(&status, StepHardToRef(true))
	require.Error(t, err)

	require.NoError(t, Spin(&status, StepAbortRelocate()))
	assert.False(t, relocatedSet(status.Load()))
	require.NoError(t, Poll(&status, StepHardToRef(true)))
}

func TestErrFromHoldWraps(t *testing.T) {
	base := &Error{Kind: ErrCleared}
	wrapped := ErrFromHold(base)
	var arcErr *Error
	require.ErrorAs(t, wrapped, &arcErr)
	assert.Same(t, base, arcErr.Wrap)
	assert.Nil(t, ErrFromHold(nil))
}

func TestCountOverflowIsTerminalNotRetried(t *testing.T) {
	var status atomic.Uint64
	status.Store(Pack(1, 0, RefCountMax, false, false))

	err := Poll(&status, StepHardToRef(false))
	require.Error(t, err)
	var arcErr *Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, ErrRefCountOverflow, arcErr.Kind)
}
