// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hashtrie

import (
	"testing"

	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/testpkg/fuzzutil"
)

// FuzzHashTrie drives Insert/Remove/Get against a real HashTrie from a byte
// stream, checking every Insert/Remove return against a plain Go map kept
// alongside it — the same insert/free/mutate-step fuzz shape the teacher's
// offheap.FuzzObjectStore uses, adapted from allocation steps to trie
// operations.
func FuzzHashTrie(f *testing.F) {
	for _, tc := range fuzzutil.MakeRandomTestCases() {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, bytes []byte) {
		newFuzzTrieRun(bytes).Run()
	})
}

func newFuzzTrieRun(bytes []byte) *fuzzutil.TestRun {
	as := hold.NewAddrSpace(8 << 20)
	if err := as.Grow(8 << 20); err != nil {
		panic(err)
	}

	trie, err := New[uint8, uint8](as, func(k uint8) uint64 { return uint64(k) * 0x9e3779b97f4a7c15 })
	if err != nil {
		panic(err)
	}

	model := &fuzzTrieModel{
		trie:  trie,
		addrs: as,
		want:  map[uint8]uint8{},
	}

	stepMaker := func(bc *fuzzutil.ByteConsumer) fuzzutil.Step {
		chooser := bc.Byte()
		switch chooser % 3 {
		case 0:
			return &fuzzInsertStep{model: model, key: bc.Byte(), value: bc.Byte()}
		case 1:
			return &fuzzRemoveStep{model: model, key: bc.Byte()}
		default:
			return &fuzzGetStep{model: model, key: bc.Byte()}
		}
	}

	cleanup := func() {
		model.trie.Close()
		if err := model.addrs.Destroy(); err != nil {
			panic(err)
		}
	}

	return fuzzutil.NewTestRun(bytes, stepMaker, cleanup)
}

type fuzzTrieModel struct {
	trie  *Trie[uint8, uint8]
	addrs *hold.AddrSpace
	want  map[uint8]uint8
}

type fuzzInsertStep struct {
	model      *fuzzTrieModel
	key, value uint8
}

func (s *fuzzInsertStep) DoStep() {
	prev, err := s.model.trie.Insert(s.key, s.value)
	if err != nil {
		// Out of memory is an acceptable outcome; the trie must still be
		// internally consistent with the model's view of what succeeded.
		return
	}
	oldValue, existed := s.model.want[s.key]
	if existed != (prev != nil) {
		panic("insert: previous-value presence mismatch against model")
	}
	if existed && oldValue != *prev {
		panic("insert: previous value mismatch against model")
	}
	s.model.want[s.key] = s.value
}

type fuzzRemoveStep struct {
	model *fuzzTrieModel
	key   uint8
}

func (s *fuzzRemoveStep) DoStep() {
	removed, ok := s.model.trie.Remove(s.key)
	wantValue, wantOk := s.model.want[s.key]
	if ok != wantOk {
		panic("remove: presence mismatch against model")
	}
	if ok && *removed != wantValue {
		panic("remove: value mismatch against model")
	}
	delete(s.model.want, s.key)
}

type fuzzGetStep struct {
	model *fuzzTrieModel
	key   uint8
}

func (s *fuzzGetStep) DoStep() {
	got, ok := s.model.trie.Get(s.key)
	wantValue, wantOk := s.model.want[s.key]
	if ok != wantOk {
		panic("get: presence mismatch against model")
	}
	if ok && got != wantValue {
		panic("get: value mismatch against model")
	}
}
