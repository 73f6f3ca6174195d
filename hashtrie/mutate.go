// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hashtrie

import "github.com/corelease/corelease/resident"

// insertAt inserts (key, value) into the node at addr (allocating a fresh
// node first if addr is 0), returning the node's address, the previous
// value if this was a replace, and any allocation error. Every path that
// must allocate builds the new subtree completely before touching addr's
// slot, so a failed allocation leaves the existing trie exactly as it was
// (spec.md §7.3's allocation-failure invariant); the one exception is a
// brand new root, which the caller (Trie.Insert) frees on failure since
// there was nothing to preserve.
func insertAt[K comparable, V any](h resident.Hold, hashFn func(K) uint64, addr uintptr, depth int, hash uint64, key K, value V) (uintptr, *V, error) {
	if addr == 0 {
		var err error
		addr, err = newNode[K, V](h)
		if err != nil {
			return 0, nil, err
		}
	}

	n := nodeAt[K, V](addr)
	b := branchBit(hash, depth)
	s := &n.slots[b]

	switch s.kind {
	case slotEmpty:
		s.kind, s.key, s.value = slotLeaf, key, value
		n.count++
		return addr, nil, nil

	case slotLeaf:
		if s.key == key {
			old := s.value
			s.value = value
			return addr, &old, nil
		}
		otherHash := hashFn(s.key)
		childAddr, err := mergeLeaves[K, V](h, depth+1, s.key, otherHash, s.value, key, hash, value)
		if err != nil {
			return addr, nil, err
		}
		*s = slot[K, V]{kind: slotNode, child: childAddr}
		return addr, nil, nil

	case slotNode:
		newChild, prev, err := insertAt[K, V](h, hashFn, s.child, depth+1, hash, key, value)
		if err != nil {
			return addr, nil, err
		}
		s.child = newChild
		return addr, prev, nil

	case slotKnot:
		kn := s.knot
		for i := range kn.pairs {
			if kn.pairs[i].key == key {
				old := kn.pairs[i].value
				kn.pairs[i].value = value
				return addr, &old, nil
			}
		}
		kn.pairs = append(kn.pairs, pair[K, V]{key: key, value: value})
		return addr, nil, nil
	}

	panic("hashtrie: unreachable slot kind")
}

// mergeLeaves builds a fresh subtree holding both (k1, v1) and (k2, v2),
// recursing until their branch bits diverge or depth is exhausted, in
// which case both pairs are placed in a knot (spec.md's merged_leaf). On
// failure, any nodes already allocated by this call are freed before the
// error is returned, so the caller's existing trie is left untouched.
func mergeLeaves[K comparable, V any](h resident.Hold, depth int, k1 K, h1 uint64, v1 V, k2 K, h2 uint64, v2 V) (uintptr, error) {
	addr, err := newNode[K, V](h)
	if err != nil {
		return 0, err
	}
	n := nodeAt[K, V](addr)

	b1 := branchBit(h1, depth)
	b2 := branchBit(h2, depth)

	switch {
	case b1 != b2:
		n.slots[b1] = slot[K, V]{kind: slotLeaf, key: k1, value: v1}
		n.slots[b2] = slot[K, V]{kind: slotLeaf, key: k2, value: v2}
		n.count = 2
		return addr, nil

	case depth+1 >= maxDepth:
		n.slots[b1] = slot[K, V]{kind: slotKnot, knot: &knot[K, V]{pairs: []pair[K, V]{{key: k1, value: v1}, {key: k2, value: v2}}}}
		n.count = 1
		return addr, nil

	default:
		childAddr, err := mergeLeaves[K, V](h, depth+1, k1, h1, v1, k2, h2, v2)
		if err != nil {
			freeNode[K, V](h, addr)
			return 0, err
		}
		n.slots[b1] = slot[K, V]{kind: slotNode, child: childAddr}
		n.count = 1
		return addr, nil
	}
}

// getAt returns the value stored for key below addr, or (zero, false).
func getAt[K comparable, V any](addr uintptr, depth int, hash uint64, key K) (V, bool) {
	var zero V
	if addr == 0 {
		return zero, false
	}
	n := nodeAt[K, V](addr)
	s := &n.slots[branchBit(hash, depth)]
	switch s.kind {
	case slotLeaf:
		if s.key == key {
			return s.value, true
		}
		return zero, false
	case slotNode:
		return getAt[K, V](s.child, depth+1, hash, key)
	case slotKnot:
		for _, p := range s.knot.pairs {
			if p.key == key {
				return p.value, true
			}
		}
		return zero, false
	default:
		return zero, false
	}
}

// removeAt deletes key below addr, returning the (possibly unchanged)
// node address, the removed value if present, and whether the node at
// addr is now completely empty (signalling the parent to clear its slot).
func removeAt[K comparable, V any](h resident.Hold, addr uintptr, depth int, hash uint64, key K) (uintptr, *V, bool) {
	if addr == 0 {
		return 0, nil, true
	}
	n := nodeAt[K, V](addr)
	b := branchBit(hash, depth)
	s := &n.slots[b]

	switch s.kind {
	case slotLeaf:
		if s.key != key {
			return addr, nil, false
		}
		old := s.value
		*s = slot[K, V]{}
		n.count--
		return addr, &old, n.count == 0

	case slotKnot:
		kn := s.knot
		for i := range kn.pairs {
			if kn.pairs[i].key != key {
				continue
			}
			old := kn.pairs[i].value
			kn.pairs = append(kn.pairs[:i], kn.pairs[i+1:]...)
			if len(kn.pairs) == 1 {
				remaining := kn.pairs[0]
				*s = slot[K, V]{kind: slotLeaf, key: remaining.key, value: remaining.value}
			}
			return addr, &old, false
		}
		return addr, nil, false

	case slotNode:
		newChild, removed, childEmpty := removeAt[K, V](h, s.child, depth+1, hash, key)
		if removed == nil {
			return addr, nil, false
		}
		if childEmpty {
			freeNode[K, V](h, newChild)
			*s = slot[K, V]{}
			n.count--
			return addr, removed, n.count == 0
		}
		// Compact a child that has decayed to a single embedded leaf
		// back up into this node's slot (spec.md §4.5's remove note).
		if sole, ok := soleLeaf[K, V](newChild); ok {
			freeNode[K, V](h, newChild)
			*s = slot[K, V]{kind: slotLeaf, key: sole.key, value: sole.value}
		} else {
			s.child = newChild
		}
		return addr, removed, false

	default:
		return addr, nil, false
	}
}

func soleLeaf[K comparable, V any](addr uintptr) (pair[K, V], bool) {
	n := nodeAt[K, V](addr)
	if n.count != 1 {
		return pair[K, V]{}, false
	}
	for b := 0; b < fanout; b++ {
		if n.slots[b].kind == slotLeaf {
			return pair[K, V]{key: n.slots[b].key, value: n.slots[b].value}, true
		}
	}
	return pair[K, V]{}, false
}
