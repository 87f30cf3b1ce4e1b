package smt

// Merge combines a height, the parent's node key, and two child
// MergeValues into the MergeValue standing for the subtree rooted one
// level up (C3). It implements spec.md §4.1 / §6.1 exactly:
//
//	both zero      -> Zero
//	otherwise      -> Hash(height_byte || parent_key[32] || left.hash[32] || right.hash[32])
//
// The byte framing is part of the external contract (spec.md §6.1): change
// it and every previously generated proof stops verifying.
func Merge(f HasherFactory, height uint8, parentKey H256, left, right MergeValue) MergeValue {
	if left.IsZero() && right.IsZero() {
		return ZeroMergeValue()
	}

	h := f()
	h.Write([]byte{height})
	h.Write(parentKey[:])
	lh := left.Hash()
	rh := right.Hash()
	h.Write(lh[:])
	h.Write(rh[:])

	return valueMergeValue(H256FromBytes(h.Sum(nil)))
}
