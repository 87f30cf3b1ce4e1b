package smt

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Option configures a SparseMerkleTree at construction time, mirroring the
// teacher's own variadic functional-options constructor shape.
type Option func(*treeConfig)

type treeConfig struct {
	logger zerolog.Logger
}

// WithLogger overrides the logger a tree instance uses for its own
// Debug-level structural events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *treeConfig) { c.logger = l }
}

// SparseMerkleTree is the single-domain sparse Merkle tree (C5): a 256-level
// binary trie over H256 keys, backed by a pluggable Store and keyed digest
// scheme via HasherFactory.
type SparseMerkleTree struct {
	store  Store
	hasher HasherFactory
	log    zerolog.Logger
}

// NewSparseMerkleTree builds a tree over an existing Store, using hasher for
// every digest it computes. The Store's current root is used as-is: callers
// resuming from a persisted store get that state back without any extra
// step, matching the teacher's own "nodes/values already populated" tree
// construction.
func NewSparseMerkleTree(store Store, hasher HasherFactory, options ...Option) *SparseMerkleTree {
	cfg := treeConfig{logger: log}
	for _, opt := range options {
		opt(&cfg)
	}
	return &SparseMerkleTree{store: store, hasher: hasher, log: cfg.logger}
}

// NewDefaultTree builds a tree over store using the reference BLAKE3 hash.
func NewDefaultTree(store Store, options ...Option) *SparseMerkleTree {
	return NewSparseMerkleTree(store, Blake3Hasher, options...)
}

// Store returns the tree's backing Store.
func (t *SparseMerkleTree) Store() Store {
	return t.store
}

// Root returns the tree's current root digest.
func (t *SparseMerkleTree) Root() (H256, error) {
	root, err := t.store.GetRoot()
	return root, wrapStoreErr("get_root", err)
}

// IsEmpty reports whether the tree's root is the zero digest.
func (t *SparseMerkleTree) IsEmpty() (bool, error) {
	root, err := t.Root()
	if err != nil {
		return false, err
	}
	return root.IsZero(), nil
}

// Get returns the value stored at key, and false if key is absent or holds
// the zero value (spec.md §4.5). It never touches a branch.
func (t *SparseMerkleTree) Get(key H256) (Value, bool, error) {
	v, ok, err := t.store.GetLeaf(key)
	if err != nil {
		return nil, false, wrapStoreErr("get_leaf", err)
	}
	return v, ok, nil
}

// Update writes value at key and returns the tree's new root (spec.md §4.2).
// A value whose digest is zero deletes the leaf, identically to Remove.
func (t *SparseMerkleTree) Update(key H256, value Value) (H256, error) {
	node := MergeValueFromH256(value.ToH256(t.hasher))

	var err error
	if node.IsZero() {
		err = t.store.RemoveLeaf(key)
	} else {
		err = t.store.InsertLeaf(key, value)
	}
	if err != nil {
		return H256{}, wrapStoreErr("update_leaf", err)
	}

	return t.hashRecompute(key, node)
}

// Remove deletes key and returns the tree's new root (spec.md §4.3).
// Removing an already-absent key is a no-op that still returns the current
// root.
func (t *SparseMerkleTree) Remove(key H256) (H256, error) {
	if err := t.store.RemoveLeaf(key); err != nil {
		return H256{}, wrapStoreErr("remove_leaf", err)
	}
	return t.hashRecompute(key, ZeroMergeValue())
}

// hashRecompute walks key's 256 ancestor branches bottom-up, folding in
// node at height 0 and the freshly computed parent digest at every height
// after, persisting or pruning each branch as it goes (spec.md §4.2 step 2).
func (t *SparseMerkleTree) hashRecompute(key H256, node MergeValue) (H256, error) {
	currentKey := key
	currentNode := node

	for height := 0; height <= 255; height++ {
		h := uint8(height)
		parentKey := currentKey.ParentPath(h)
		bk := BranchKey{Height: h, NodeKey: parentKey}

		existing, ok, err := t.store.GetBranch(bk)
		if err != nil {
			return H256{}, wrapStoreErr("get_branch", err)
		}

		var left, right MergeValue
		switch {
		case ok && currentKey.IsRight(h):
			left, right = existing.Left, currentNode
		case ok:
			left, right = currentNode, existing.Right
		case currentKey.IsRight(h):
			left, right = ZeroMergeValue(), currentNode
		default:
			left, right = currentNode, ZeroMergeValue()
		}

		if left.IsZero() && right.IsZero() {
			if err := t.store.RemoveBranch(bk); err != nil {
				return H256{}, wrapStoreErr("remove_branch", err)
			}
			t.log.Debug().Uint8("height", h).Str("node_key", parentKey.String()).Msg("branch pruned")
		} else {
			if err := t.store.InsertBranch(bk, BranchNode{Left: left, Right: right}); err != nil {
				return H256{}, wrapStoreErr("insert_branch", err)
			}
		}

		currentKey = parentKey
		currentNode = Merge(t.hasher, h, parentKey, left, right)
	}

	root := currentNode.Hash()
	if err := t.store.UpdateRoot(root); err != nil {
		return H256{}, wrapStoreErr("update_root", err)
	}
	return root, nil
}

// LeafUpdate is one (key, value) pair submitted to UpdateAll.
type LeafUpdate struct {
	Key   H256
	Value Value
}

// UpdateAll applies every leaf write in leaves and returns the single
// resulting root, recomputing shared ancestor branches once instead of once
// per leaf (spec.md §4.4). When the same key appears more than once, the
// last entry for that key in leaves order wins; a zero-digest value deletes
// the leaf exactly as Update does.
func (t *SparseMerkleTree) UpdateAll(leaves []LeafUpdate) (H256, error) {
	if len(leaves) == 0 {
		return t.Root()
	}

	ordered := dedupLastWins(leaves)

	nodes := make([]nodeEntry, 0, len(ordered))
	for _, l := range ordered {
		mv := MergeValueFromH256(l.Value.ToH256(t.hasher))

		var err error
		if mv.IsZero() {
			err = t.store.RemoveLeaf(l.Key)
		} else {
			err = t.store.InsertLeaf(l.Key, l.Value)
		}
		if err != nil {
			return H256{}, wrapStoreErr("update_leaf", err)
		}

		nodes = append(nodes, nodeEntry{key: l.Key, value: mv})
	}

	return t.hashRecomputeAll(nodes)
}

// RemoveAll deletes every key in keys and returns the single resulting root
// (spec.md §4.4). Duplicate keys collapse to one entry.
func (t *SparseMerkleTree) RemoveAll(keys []H256) (H256, error) {
	if len(keys) == 0 {
		return t.Root()
	}

	seen := make(map[H256]bool, len(keys))
	nodes := make([]nodeEntry, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if err := t.store.RemoveLeaf(k); err != nil {
			return H256{}, wrapStoreErr("remove_leaf", err)
		}
		nodes = append(nodes, nodeEntry{key: k, value: ZeroMergeValue()})
	}

	return t.hashRecomputeAll(nodes)
}

// nodeEntry pairs a key (at the current recompute height, its ancestor path
// so far) with the MergeValue it currently carries.
type nodeEntry struct {
	key   H256
	value MergeValue
}

// sortNodeEntries sorts nodes ascending by key, shared by both the
// single- and double-keyed batch recomputation passes.
func sortNodeEntries(nodes []nodeEntry) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].key.Less(nodes[j].key) })
}

// dedupLastWins sorts leaves by key and keeps, for each distinct key, the
// entry that appeared last in the caller's original ordering.
func dedupLastWins(leaves []LeafUpdate) []LeafUpdate {
	reversed := make([]LeafUpdate, len(leaves))
	for i, l := range leaves {
		reversed[len(leaves)-1-i] = l
	}
	sort.SliceStable(reversed, func(i, j int) bool {
		return reversed[i].Key.Less(reversed[j].Key)
	})

	out := make([]LeafUpdate, 0, len(reversed))
	seen := make(map[H256]bool, len(reversed))
	for _, l := range reversed {
		if seen[l.Key] {
			continue
		}
		seen[l.Key] = true
		out = append(out, l)
	}
	return out
}

// hashRecomputeAll is the batch counterpart of hashRecompute: it walks every
// input node up through all 256 heights together, merging two nodes in one
// pass whenever they turn out to be exact siblings at the current height
// (spec.md §4.4). It ends with exactly one node: the new root.
func (t *SparseMerkleTree) hashRecomputeAll(nodes []nodeEntry) (H256, error) {
	sortNodeEntries(nodes)

	for height := 0; height <= 255; height++ {
		h := uint8(height)
		next := make([]nodeEntry, 0, len(nodes))

		for i := 0; i < len(nodes); {
			cur := nodes[i]
			i++
			parentKey := cur.key.ParentPath(h)
			bk := BranchKey{Height: h, NodeKey: parentKey}

			var left, right MergeValue
			pairedWithNext := false
			if !cur.key.IsRight(h) && i < len(nodes) {
				expectedSibling := cur.key
				expectedSibling.SetBit(h)
				if expectedSibling == nodes[i].key {
					left, right = cur.value, nodes[i].value
					i++
					pairedWithNext = true
				}
			}

			if !pairedWithNext {
				existing, ok, err := t.store.GetBranch(bk)
				if err != nil {
					return H256{}, wrapStoreErr("get_branch", err)
				}
				switch {
				case ok && cur.key.IsRight(h):
					left, right = existing.Left, cur.value
				case ok:
					left, right = cur.value, existing.Right
				case cur.key.IsRight(h):
					left, right = ZeroMergeValue(), cur.value
				default:
					left, right = cur.value, ZeroMergeValue()
				}
			}

			if left.IsZero() && right.IsZero() {
				if err := t.store.RemoveBranch(bk); err != nil {
					return H256{}, wrapStoreErr("remove_branch", err)
				}
			} else {
				if err := t.store.InsertBranch(bk, BranchNode{Left: left, Right: right}); err != nil {
					return H256{}, wrapStoreErr("insert_branch", err)
				}
			}

			next = append(next, nodeEntry{key: parentKey, value: Merge(t.hasher, h, parentKey, left, right)})
		}

		nodes = next
	}

	if len(nodes) != 1 {
		return H256{}, fmt.Errorf("smt: hash_recompute_all: expected to converge to 1 node, got %d", len(nodes))
	}

	root := nodes[0].value.Hash()
	if err := t.store.UpdateRoot(root); err != nil {
		return H256{}, wrapStoreErr("update_root", err)
	}
	return root, nil
}

// branchLookup is the minimal read capability MerkleProof generation needs;
// both SparseMerkleTree and SparseMerkleTree2 supply it over their own
// Store/Store2, so the proof-building walk itself lives once in proof.go.
type branchLookup func(BranchKey) (BranchNode, bool, error)

// MerkleProof builds a compact membership/non-membership proof for keys
// (spec.md §4.6). keys need not be sorted or deduplicated by the caller.
func (t *SparseMerkleTree) MerkleProof(keys []H256) (*MerkleProof, error) {
	return buildMerkleProof(t.store.GetBranch, keys)
}
