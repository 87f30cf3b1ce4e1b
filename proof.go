package smt

import "sort"

// MaxStackSize bounds every stack this package uses while building or
// verifying a proof (spec.md §4.6/§4.8): 256 tree heights plus the final
// root slot.
const MaxStackSize = 257

// MerkleProof is a compact membership/non-membership proof over a set of
// keys (C6): one 256-bit bitmap per key recording which heights carry a
// non-zero sibling, and the flat list of those sibling digests in the order
// they were collected.
type MerkleProof struct {
	LeavesBitmap []H256
	Proof        []MergeValue
}

// LeafClaim is one assertion fed to ComputeRoot/Verify: Value == nil asserts
// key is absent from the tree, a non-nil Value asserts it holds that digest.
type LeafClaim struct {
	Key   H256
	Value *H256
}

// buildMerkleProof implements spec.md §4.6 against an arbitrary branch
// source, so SparseMerkleTree and SparseMerkleTree2 can share one
// implementation over their respective single- and double-keyed stores.
func buildMerkleProof(getBranch branchLookup, keys []H256) (*MerkleProof, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeys
	}

	sorted := make([]H256, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	bitmaps := make([]H256, len(sorted))
	for i, k := range sorted {
		for h := 0; h <= 255; h++ {
			height := uint8(h)
			branch, ok, err := getBranch(BranchKey{Height: height, NodeKey: k.ParentPath(height)})
			if err != nil {
				return nil, wrapStoreErr("get_branch", err)
			}
			if !ok {
				continue
			}
			var sibling MergeValue
			if k.IsRight(height) {
				sibling = branch.Left
			} else {
				sibling = branch.Right
			}
			if !sibling.IsZero() {
				bitmaps[i].SetBit(height)
			}
		}
	}

	var stack []uint8
	var proof []MergeValue

	for i, k := range sorted {
		hasNext := i+1 < len(sorted)
		var forkHeight uint8
		if hasNext {
			forkHeight = k.ForkHeight(sorted[i+1])
		} else {
			forkHeight = 255
		}

		for h := 0; h <= int(forkHeight); h++ {
			height := uint8(h)
			if height == forkHeight && hasNext {
				break
			}
			if len(stack) > 0 && stack[len(stack)-1] == height {
				stack = stack[:len(stack)-1]
				continue
			}
			if !bitmaps[i].GetBit(height) {
				continue
			}

			branch, ok, err := getBranch(BranchKey{Height: height, NodeKey: k.ParentPath(height)})
			if err != nil {
				return nil, wrapStoreErr("get_branch", err)
			}
			if !ok {
				continue
			}
			var sibling MergeValue
			if k.IsRight(height) {
				sibling = branch.Left
			} else {
				sibling = branch.Right
			}
			if sibling.IsZero() {
				return nil, ErrCorruptedProof
			}
			proof = append(proof, sibling)
		}

		stack = append(stack, forkHeight)
		if len(stack) > MaxStackSize {
			return nil, ErrCorruptedProof
		}
	}

	if len(stack) != 1 {
		return nil, ErrNonMergableRange
	}

	return &MerkleProof{LeavesBitmap: bitmaps, Proof: proof}, nil
}

// ComputeRoot reconstructs the root that leaves (given in the same sorted
// order the proof was built over) would produce against this proof's
// bitmaps and sibling list (spec.md §4.7).
func (p *MerkleProof) ComputeRoot(f HasherFactory, leaves []LeafClaim) (H256, error) {
	return computeRoot(f, leaves, p.LeavesBitmap, p.Proof)
}

// Verify reports whether leaves reconstruct exactly root under this proof.
func (p *MerkleProof) Verify(f HasherFactory, root H256, leaves []LeafClaim) (bool, error) {
	got, err := p.ComputeRoot(f, leaves)
	if err != nil {
		return false, err
	}
	return got == root, nil
}

// Compile transcribes this proof into a CompiledMerkleProof: a flat
// bytecode program that reproduces the exact merge sequence ComputeRoot
// would walk, without needing the bitmap at verification time (spec.md
// §4.8). keys must be the key set the proof was built over, in any order:
// Compile sorts a copy the same way MerkleProof does.
func (p *MerkleProof) Compile(keys []H256) (*CompiledMerkleProof, error) {
	sorted := make([]H256, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	return compileProof(sorted, p.LeavesBitmap, p.Proof)
}

// computeRoot is the shared mirror of buildMerkleProof's walk, consuming
// sibling digests from proof instead of querying a store.
func computeRoot(f HasherFactory, leaves []LeafClaim, bitmaps []H256, proof []MergeValue) (H256, error) {
	if len(leaves) != len(bitmaps) {
		return H256{}, &IncorrectNumberOfLeavesError{Expected: len(bitmaps), Actual: len(leaves)}
	}

	type pendingMerge struct {
		forkHeight uint8
		value      MergeValue
	}
	var stack []pendingMerge
	proofIdx := 0

	for i, leaf := range leaves {
		var current MergeValue
		if leaf.Value != nil {
			current = MergeValueFromH256(*leaf.Value)
		} else {
			current = ZeroMergeValue()
		}

		hasNext := i+1 < len(leaves)
		var forkHeight uint8
		if hasNext {
			forkHeight = leaf.Key.ForkHeight(leaves[i+1].Key)
		} else {
			forkHeight = 255
		}

		for h := 0; h <= int(forkHeight); h++ {
			height := uint8(h)
			if height == forkHeight && hasNext {
				break
			}

			var sibling MergeValue
			switch {
			case len(stack) > 0 && stack[len(stack)-1].forkHeight == height:
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				sibling = top.value
			case bitmaps[i].GetBit(height):
				if proofIdx >= len(proof) {
					return H256{}, ErrCorruptedProof
				}
				sibling = proof[proofIdx]
				proofIdx++
			default:
				sibling = ZeroMergeValue()
			}

			current = mergeAtHeight(f, leaf.Key, height, current, sibling)
		}

		stack = append(stack, pendingMerge{forkHeight: forkHeight, value: current})
		if len(stack) > MaxStackSize {
			return H256{}, ErrCorruptedProof
		}
	}

	if len(stack) != 1 {
		return H256{}, ErrNonMergableRange
	}
	return stack[0].value.Hash(), nil
}

// mergeAtHeight merges current with sibling at height, placing each on the
// side key's own bit at that height puts it on.
func mergeAtHeight(f HasherFactory, key H256, height uint8, current, sibling MergeValue) MergeValue {
	parentKey := key.ParentPath(height)
	if key.IsRight(height) {
		return Merge(f, height, parentKey, sibling, current)
	}
	return Merge(f, height, parentKey, current, sibling)
}
