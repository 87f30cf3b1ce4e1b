package smt

import "bytes"

// BranchKey identifies a branch node: the height it sits at, and the node
// key (some leaf's parent path at that height). Order is by height
// ascending, then by node_key lexicographically (spec.md §3.3/§6.4).
type BranchKey struct {
	Height  uint8
	NodeKey H256
}

// Less reports whether k sorts strictly before other under the
// (height asc, node_key bytes asc) ordering spec.md §6.4 requires of the
// persisted layout; it is the byte order of Encode's output.
func (k BranchKey) Less(other BranchKey) bool {
	if k.Height != other.Height {
		return k.Height < other.Height
	}
	return bytes.Compare(k.NodeKey[:], other.NodeKey[:]) < 0
}

// Encode renders k as the big-height-first byte key spec.md §6.4 describes,
// so natural byte ordering of the encoded key equals Less's ordering.
func (k BranchKey) Encode() []byte {
	buf := make([]byte, 1+32)
	buf[0] = k.Height
	copy(buf[1:], k.NodeKey[:])
	return buf
}

// DecodeBranchKey parses a key produced by Encode.
func DecodeBranchKey(buf []byte) (BranchKey, bool) {
	if len(buf) != 33 {
		return BranchKey{}, false
	}
	var k BranchKey
	k.Height = buf[0]
	copy(k.NodeKey[:], buf[1:])
	return k, true
}

// BranchNode is an internal node: the MergeValues of its two children.
// A branch whose children are both Zero is never persisted (spec.md §3.3).
type BranchNode struct {
	Left  MergeValue
	Right MergeValue
}

// IsEmpty reports whether both children are the zero subtree; such a
// branch must never be stored.
func (b BranchNode) IsEmpty() bool {
	return b.Left.IsZero() && b.Right.IsZero()
}
