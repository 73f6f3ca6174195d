// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelease/corelease/arc"
	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/layout"
	"github.com/corelease/corelease/resident"
)

func newTestHold(t *testing.T, size uint64) hold.Hold {
	t.Helper()
	as := hold.NewAddrSpace(size)
	require.NoError(t, as.Grow(size))
	t.Cleanup(func() { require.NoError(t, as.Destroy()) })
	return as
}

// counter is a minimal Resident: an int payload with no sibling metadata,
// recording drop/stow calls so tests can assert destructor and relocation
// behavior directly.
type counter struct {
	dropped int
	stowed  int
}

type counterResident struct{ r *counter }

func (cr counterResident) Size(*struct{}) layout.Layout { return layout.ForType[int]() }

func (cr counterResident) Drop(data *int, _ *struct{}) {
	cr.r.dropped++
	_ = data
}

func (cr counterResident) Clone(data *int, _ *struct{}) (int, struct{}, error) {
	return *data, struct{}{}, nil
}

func (cr counterResident) Stow(data *int, _ *struct{}, src resident.Hold, dst resident.Hold) (int, error) {
	cr.r.stowed++
	return *data, nil
}

func newCounterHard(t *testing.T, h hold.Hold, initial int) (Hard[int, struct{}], *counter) {
	t.Helper()
	r := &counter{}
	res := counterResident{r: r}
	l, err := New[int, struct{}](h, res, struct{}{}, func(d *int) { *d = initial })
	require.NoError(t, err)
	return l, r
}

func TestHardDataAndMetaRoundTrip(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 42)
	defer l.Drop()

	assert.True(t, l.IsValid())
	assert.Equal(t, 42, *l.Data())
	assert.NotNil(t, l.Meta())
}

func TestHardCloneAndDropRunsResidentOnceBothReleased(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l1, r := newCounterHard(t, h, 7)

	l2, err := l1.Clone()
	require.NoError(t, err)

	l1.Drop()
	assert.Zero(t, r.dropped)

	l2.Drop()
	assert.Equal(t, 1, r.dropped)
}

func TestHardToRefToHardRoundTrip(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 1)
	defer l.Drop()

	ref, err := l.TryToRef()
	require.NoError(t, err)
	assert.Equal(t, 1, *ref.Data())

	back := ref.IntoHard()
	assert.Equal(t, 1, *back.Data())
	back.Drop()
}

func TestHardToMutExclusivity(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 9)
	defer l.Drop()

	ref, err := l.TryToRef()
	require.NoError(t, err)

	_, err = l.PollMut()
	assert.Error(t, err)

	ref.Drop()

	mut, err := l.PollMut()
	require.NoError(t, err)
	*mut.Data() = 10
	hardAgain := mut.IntoHard()
	assert.Equal(t, 10, *hardAgain.Data())
	hardAgain.Drop()
}

func TestHardIntoSoftDropsResidentAndBlocksPromotion(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, r := newCounterHard(t, h, 5)

	soft, err := l.IntoSoft()
	require.NoError(t, err)
	assert.Equal(t, 1, r.dropped)

	_, err = soft.PollHard()
	var arcErr *arc.Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, arc.ErrCleared, arcErr.Kind)

	soft.Drop()
}

func TestSoftCloneAndDropFreesBlockOnceAllReleased(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 3)

	soft, err := l.ToSoft()
	require.NoError(t, err)
	soft2, err := soft.Clone()
	require.NoError(t, err)

	l.Drop()
	soft.Drop()
	soft2.Drop()
}

func TestMutExcludesConcurrentRef(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 1)
	defer l.Drop()

	mut, err := l.TryToMut()
	require.NoError(t, err)

	_, err = l.PollRef()
	assert.Error(t, err)

	ref := mut.IntoRef()
	_, err = l.PollMut()
	assert.Error(t, err)
	ref.Drop()
}

func TestPtrAndRawAddr(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, _ := newCounterHard(t, h, 1)
	defer l.Drop()

	p := l.Ptr()
	assert.True(t, p.IsValid())
	assert.Equal(t, 1, *p.Data())

	raw := p.Raw()
	assert.False(t, raw.IsNil())
	assert.NotZero(t, raw.Addr())
}

func TestStowRelocatesAndResolvesTransparently(t *testing.T) {
	src := newTestHold(t, 1<<20).(*hold.AddrSpace)
	dst := newTestHold(t, 1<<20).(*hold.AddrSpace)

	l, r := newCounterHard(t, src, 123)

	require.NoError(t, Stow[int, struct{}](l, dst))
	assert.Equal(t, 1, r.stowed)

	assert.Equal(t, 123, *l.Data())
	*l.Data() = 456
	assert.Equal(t, 456, *l.Data())

	l.Drop()
	assert.Equal(t, 1, r.dropped)
	assert.Zero(t, src.Stats().Live)
}

// failingStowResident makes Stow's resident-copy step fail, so Stow must roll back
// (clear RELOCATED_FLAG) and leave the source arc exactly as it was.
type failingStowResident struct{}

func (failingStowResident) Size(*struct{}) layout.Layout { return layout.ForType[int]() }
func (failingStowResident) Drop(*int, *struct{})         {}
func (failingStowResident) Stow(data *int, _ *struct{}, src resident.Hold, dst resident.Hold) (int, error) {
	return 0, assert.AnError
}

func TestStowFailureLeavesSourceUnchanged(t *testing.T) {
	src := newTestHold(t, 1<<20).(*hold.AddrSpace)
	dst := newTestHold(t, 1<<20)

	l, err := New[int, struct{}](src, failingStowResident{}, struct{}{}, func(d *int) { *d = 99 })
	require.NoError(t, err)
	defer l.Drop()

	err = Stow[int, struct{}](l, dst)
	assert.Error(t, err)

	assert.Equal(t, 99, *l.Data())

	ref, err := l.TryToRef()
	require.NoError(t, err)
	ref.Drop()
}

type noStowResident struct{}

func (noStowResident) Size(*struct{}) layout.Layout { return layout.ForType[int]() }
func (noStowResident) Drop(*int, *struct{})         {}

func TestStowRejectsResidentWithoutStower(t *testing.T) {
	h := newTestHold(t, 1<<20)
	l, err := New[int, struct{}](h, noStowResident{}, struct{}{}, func(d *int) { *d = 1 })
	require.NoError(t, err)
	defer l.Drop()

	err = Stow[int, struct{}](l, h)
	var arcErr *arc.Error
	require.ErrorAs(t, err, &arcErr)
	assert.Equal(t, arc.ErrUnsupportedStow, arcErr.Kind)
}
