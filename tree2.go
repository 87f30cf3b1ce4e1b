package smt

import (
	"fmt"

	"github.com/rs/zerolog"
)

// SparseMerkleTree2 is the double-keyed counterpart of SparseMerkleTree
// (C7): every operation is namespaced under an opaque, comparable domain id
// X, backed by a Store2[X] instead of a Store (spec.md §3.6).
type SparseMerkleTree2[X comparable] struct {
	store  Store2[X]
	hasher HasherFactory
	log    zerolog.Logger
}

// NewSparseMerkleTree2 builds a double-keyed tree over an existing Store2.
func NewSparseMerkleTree2[X comparable](store Store2[X], hasher HasherFactory, options ...Option) *SparseMerkleTree2[X] {
	cfg := treeConfig{logger: log}
	for _, opt := range options {
		opt(&cfg)
	}
	return &SparseMerkleTree2[X]{store: store, hasher: hasher, log: cfg.logger}
}

// NewDefaultTree2 builds a double-keyed tree using the reference BLAKE3 hash.
func NewDefaultTree2[X comparable](store Store2[X], options ...Option) *SparseMerkleTree2[X] {
	return NewSparseMerkleTree2[X](store, Blake3Hasher, options...)
}

// Store returns the tree's backing Store2.
func (t *SparseMerkleTree2[X]) Store() Store2[X] {
	return t.store
}

// Root returns xid's current root digest.
func (t *SparseMerkleTree2[X]) Root(xid X) (H256, error) {
	root, err := t.store.GetRoot(xid)
	return root, wrapStoreErr("get_root", err)
}

// IsEmpty reports whether xid's root is the zero digest.
func (t *SparseMerkleTree2[X]) IsEmpty(xid X) (bool, error) {
	root, err := t.Root(xid)
	if err != nil {
		return false, err
	}
	return root.IsZero(), nil
}

// Get returns the value stored at key under xid.
func (t *SparseMerkleTree2[X]) Get(xid X, key H256) (Value, bool, error) {
	v, ok, err := t.store.GetLeaf(xid, key)
	if err != nil {
		return nil, false, wrapStoreErr("get_leaf", err)
	}
	return v, ok, nil
}

// Update writes value at key under xid and returns xid's new root.
func (t *SparseMerkleTree2[X]) Update(xid X, key H256, value Value) (H256, error) {
	node := MergeValueFromH256(value.ToH256(t.hasher))

	var err error
	if node.IsZero() {
		err = t.store.RemoveLeaf(xid, key)
	} else {
		err = t.store.InsertLeaf(xid, key, value)
	}
	if err != nil {
		return H256{}, wrapStoreErr("update_leaf", err)
	}

	return t.hashRecompute(xid, key, node)
}

// Remove deletes key under xid and returns xid's new root.
func (t *SparseMerkleTree2[X]) Remove(xid X, key H256) (H256, error) {
	if err := t.store.RemoveLeaf(xid, key); err != nil {
		return H256{}, wrapStoreErr("remove_leaf", err)
	}
	return t.hashRecompute(xid, key, ZeroMergeValue())
}

// RemoveX deletes every branch, leaf, and the root slot under xid,
// resetting xid back to an empty tree (spec.md §3.6/§6.3).
func (t *SparseMerkleTree2[X]) RemoveX(xid X) error {
	return wrapStoreErr("remove_x", t.store.RemoveX(xid))
}

func (t *SparseMerkleTree2[X]) hashRecompute(xid X, key H256, node MergeValue) (H256, error) {
	currentKey := key
	currentNode := node

	for height := 0; height <= 255; height++ {
		h := uint8(height)
		parentKey := currentKey.ParentPath(h)
		bk := BranchKey{Height: h, NodeKey: parentKey}

		existing, ok, err := t.store.GetBranch(xid, bk)
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
			if err := t.store.RemoveBranch(xid, bk); err != nil {
				return H256{}, wrapStoreErr("remove_branch", err)
			}
		} else {
			if err := t.store.InsertBranch(xid, bk, BranchNode{Left: left, Right: right}); err != nil {
				return H256{}, wrapStoreErr("insert_branch", err)
			}
		}

		currentKey = parentKey
		currentNode = Merge(t.hasher, h, parentKey, left, right)
	}

	root := currentNode.Hash()
	if err := t.store.UpdateRoot(xid, root); err != nil {
		return H256{}, wrapStoreErr("update_root", err)
	}
	return root, nil
}

// UpdateAll applies every leaf write in leaves under xid in one
// recomputation pass, mirroring SparseMerkleTree.UpdateAll.
func (t *SparseMerkleTree2[X]) UpdateAll(xid X, leaves []LeafUpdate) (H256, error) {
	if len(leaves) == 0 {
		return t.Root(xid)
	}

	ordered := dedupLastWins(leaves)

	nodes := make([]nodeEntry, 0, len(ordered))
	for _, l := range ordered {
		mv := MergeValueFromH256(l.Value.ToH256(t.hasher))

		var err error
		if mv.IsZero() {
			err = t.store.RemoveLeaf(xid, l.Key)
		} else {
			err = t.store.InsertLeaf(xid, l.Key, l.Value)
		}
		if err != nil {
			return H256{}, wrapStoreErr("update_leaf", err)
		}

		nodes = append(nodes, nodeEntry{key: l.Key, value: mv})
	}

	return t.hashRecomputeAll(xid, nodes)
}

// RemoveAll deletes every key in keys under xid in one recomputation pass.
func (t *SparseMerkleTree2[X]) RemoveAll(xid X, keys []H256) (H256, error) {
	if len(keys) == 0 {
		return t.Root(xid)
	}

	seen := make(map[H256]bool, len(keys))
	nodes := make([]nodeEntry, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if err := t.store.RemoveLeaf(xid, k); err != nil {
			return H256{}, wrapStoreErr("remove_leaf", err)
		}
		nodes = append(nodes, nodeEntry{key: k, value: ZeroMergeValue()})
	}

	return t.hashRecomputeAll(xid, nodes)
}

func (t *SparseMerkleTree2[X]) hashRecomputeAll(xid X, nodes []nodeEntry) (H256, error) {
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
				existing, ok, err := t.store.GetBranch(xid, bk)
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
				if err := t.store.RemoveBranch(xid, bk); err != nil {
					return H256{}, wrapStoreErr("remove_branch", err)
				}
			} else {
				if err := t.store.InsertBranch(xid, bk, BranchNode{Left: left, Right: right}); err != nil {
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
	if err := t.store.UpdateRoot(xid, root); err != nil {
		return H256{}, wrapStoreErr("update_root", err)
	}
	return root, nil
}

// MerkleProof builds a membership/non-membership proof for keys under xid.
func (t *SparseMerkleTree2[X]) MerkleProof(xid X, keys []H256) (*MerkleProof, error) {
	return buildMerkleProof(func(bk BranchKey) (BranchNode, bool, error) {
		return t.store.GetBranch(xid, bk)
	}, keys)
}
