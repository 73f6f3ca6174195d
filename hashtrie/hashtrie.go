// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package hashtrie

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/corelease/corelease/hold"
	"github.com/corelease/corelease/layout"
	"github.com/corelease/corelease/lease"
	"github.com/corelease/corelease/resident"
)

// root is the HashTrie's entire Resident payload: the address of the Hold
// block holding the top node (0 for an empty trie) and the live key count.
// It is small and fixed-size on purpose, so that the surrounding arc never
// needs to resize — every other byte of the trie's state lives in the
// chain of Hold-allocated Node blocks that root.addr anchors.
type root struct {
	addr uintptr
	len  int
}

// HashFunc hashes a key to the 64-bit value the trie branches on. Keys
// that implement fmt.Stringer or []byte-like shapes typically hash via
// xxhash (see NewBytesKeyed); arbitrary comparable keys need a caller
// supplied HashFunc.
type HashFunc[K comparable] func(K) uint64

type trieResident[K comparable, V any] struct{}

func (trieResident[K, V]) Size(*struct{}) layout.Layout { return layout.ForType[root]() }

func (trieResident[K, V]) Drop(data *root, _ *struct{}) {
	// The owning Hold is not reachable from Resident.Drop's signature
	// (spec.md's resident_drop takes no Hold parameter); Trie.Close frees
	// the node chain explicitly before dropping the Hard lease, mirroring
	// how the teacher's object_store requires callers to release owned
	// sub-allocations before the top-level Free.
	_ = data
}

func (trieResident[K, V]) Stow(data *root, _ *struct{}, src resident.Hold, dst resident.Hold) (root, error) {
	if data.addr == 0 {
		return root{}, nil
	}
	newAddr, err := stowNode[K, V](data.addr, dst)
	if err != nil {
		return root{}, err
	}
	freeNode[K, V](src, data.addr)
	return root{addr: newAddr, len: data.len}, nil
}

// Trie is a HashTrie resident: a process-wide-unique Hard lease over a
// root{} payload, behind a mutex serialising structural mutation. Fine
// grained lock-free traversal at the node level is left to the Hold and
// lease layers beneath it; spec.md does not require the trie's own
// insert/remove to be lock-free, only that allocation failures are
// transactional (§7.3) and that stow/unstow correctly relocate it (§4.4.3).
type Trie[K comparable, V any] struct {
	hold   hold.Hold
	hashFn HashFunc[K]
	mu     sync.Mutex
	own    lease.Hard[root, struct{}]
}

// New constructs an empty HashTrie allocated from h, hashing keys with
// hashFn.
func New[K comparable, V any](h hold.Hold, hashFn HashFunc[K]) (*Trie[K, V], error) {
	own, err := lease.New[root, struct{}](h, trieResident[K, V]{}, struct{}{}, func(r *root) { *r = root{} })
	if err != nil {
		return nil, err
	}
	return &Trie[K, V]{hold: h, hashFn: hashFn, own: own}, nil
}

// NewBytesKeyed builds a HashTrie keyed by any K convertible to a byte
// slice via toBytes, hashing with xxhash — the hash function the teacher's
// pkg/intern package already uses for byte-keyed interning.
func NewBytesKeyed[K comparable, V any](h hold.Hold, toBytes func(K) []byte) (*Trie[K, V], error) {
	return New[K, V](h, func(k K) uint64 { return xxhash.Sum64(toBytes(k)) })
}

// Len reports the number of distinct live keys.
func (t *Trie[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.own.Data().len
}

// ContainsKey reports whether key is present.
func (t *Trie[K, V]) ContainsKey(key K) bool {
	_, ok := t.Get(key)
	return ok
}

// Get returns the value stored for key, or (zero, false).
func (t *Trie[K, V]) Get(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hash := t.hashFn(key)
	return getAt[K, V](t.own.Data().addr, 0, hash, key)
}

// Insert stores value for key, returning the previous value if key was
// already present. On allocation failure the trie is left completely
// unchanged and the error is returned (spec.md §7.3, §8 scenario 6).
func (t *Trie[K, V]) Insert(key K, value V) (*V, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := t.own.Data()
	hash := t.hashFn(key)
	newAddr, prev, err := insertAt[K, V](t.hold, t.hashFn, data.addr, 0, hash, key, value)
	if err != nil {
		if data.addr == 0 && newAddr != 0 {
			freeNode[K, V](t.hold, newAddr)
		}
		return nil, err
	}
	data.addr = newAddr
	if prev == nil {
		data.len++
	}
	return prev, nil
}

// Remove deletes key, returning its value if it was present.
func (t *Trie[K, V]) Remove(key K) (*V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := t.own.Data()
	hash := t.hashFn(key)
	newAddr, removed, empty := removeAt[K, V](t.hold, data.addr, 0, hash, key)
	if removed == nil {
		return nil, false
	}
	if empty {
		freeNode[K, V](t.hold, newAddr)
		data.addr = 0
	} else {
		data.addr = newAddr
	}
	data.len--
	return removed, true
}

// Range calls fn for every (key, value) pair in ascending branch-bit order
// at each level, stopping early if fn returns false (spec.md's next /
// next_back iteration, flattened into a single callback-driven walk; a
// resumable two-directional cursor is not implemented here since nothing
// in this port needs one).
func (t *Trie[K, V]) Range(fn func(key K, value V) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	walk[K, V](t.own.Data().addr, fn)
}

// StowInto relocates this trie's arc into dst, recursively rebuilding its
// entire node chain there (spec.md §4.4.3). On success, subsequent calls
// on t transparently operate against the new location; on failure the
// trie is left exactly as it was.
func (t *Trie[K, V]) StowInto(dst hold.Hold) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := lease.Stow[root, struct{}](t.own, dst); err != nil {
		return err
	}
	t.hold = dst
	return nil
}

// Close frees every Hold-allocated node this trie owns and drops its Hard
// lease. Callers must not use the Trie afterward.
func (t *Trie[K, V]) Close() {
	t.mu.Lock()
	data := t.own.Data()
	nodeHold := t.hold
	if h, ok := hold.Tag(t.own.Ptr().Raw().Addr()); ok {
		nodeHold = h
	}
	if data.addr != 0 {
		freeNode[K, V](nodeHold, data.addr)
		data.addr = 0
	}
	t.mu.Unlock()
	t.own.Drop()
}

func walk[K comparable, V any](addr uintptr, fn func(K, V) bool) bool {
	if addr == 0 {
		return true
	}
	n := nodeAt[K, V](addr)
	for b := 0; b < fanout; b++ {
		s := &n.slots[b]
		switch s.kind {
		case slotLeaf:
			if !fn(s.key, s.value) {
				return false
			}
		case slotNode:
			if !walk[K, V](s.child, fn) {
				return false
			}
		case slotKnot:
			for _, p := range s.knot.pairs {
				if !fn(p.key, p.value) {
					return false
				}
			}
		}
	}
	return true
}

// stowNode rebuilds the node at addr (and every descendant) inside dst,
// depth-first, per spec.md §4.4.3. On failure it unwinds everything this
// call has already allocated in dst, leaving dst untouched; the source
// tree at addr is never modified by Stow, so a failure there requires no
// rollback of its own.
func stowNode[K comparable, V any](addr uintptr, dst resident.Hold) (uintptr, error) {
	block, err := dst.Alloc(nodeLayout[K, V]())
	if err != nil {
		return 0, err
	}
	newAddr := block.Ptr
	dstNode := nodeAt[K, V](newAddr)
	*dstNode = Node[K, V]{}

	srcNode := nodeAt[K, V](addr)
	dstNode.count = srcNode.count

	for b := 0; b < fanout; b++ {
		s := &srcNode.slots[b]
		switch s.kind {
		case slotLeaf:
			dstNode.slots[b] = slot[K, V]{kind: slotLeaf, key: s.key, value: s.value}
		case slotKnot:
			pairsCopy := make([]pair[K, V], len(s.knot.pairs))
			copy(pairsCopy, s.knot.pairs)
			dstNode.slots[b] = slot[K, V]{kind: slotKnot, knot: &knot[K, V]{pairs: pairsCopy}}
		case slotNode:
			childAddr, err := stowNode[K, V](s.child, dst)
			if err != nil {
				unstowPartial[K, V](dstNode, dst)
				dst.Dealloc(layout.Block{Ptr: newAddr, Size: nodeLayout[K, V]().Size})
				return 0, err
			}
			dstNode.slots[b] = slot[K, V]{kind: slotNode, child: childAddr}
		}
	}
	return newAddr, nil
}

// unstowPartial frees every child subtree already built into partial
// during a Stow that failed partway through, so the destination Hold is
// left exactly as it was before the attempt (the unstow half of spec.md
// §4.4.3's rollback contract).
func unstowPartial[K comparable, V any](partial *Node[K, V], dst resident.Hold) {
	for b := 0; b < fanout; b++ {
		s := &partial.slots[b]
		if s.kind == slotNode {
			freeNode[K, V](dst, s.child)
		}
	}
}
