package smt

import (
	"crypto/sha256"
	"hash"

	"lukechampine.com/blake3"
)

// HasherFactory builds a fresh hash.Hash for a single digest computation.
// A fresh instance per call avoids the data races a shared hash.Hash would
// invite across concurrent reads of the same tree (same reasoning the
// teacher's treehasher.go documents for its own digest() helper).
type HasherFactory func() hash.Hash

// SHA256Hasher is the stdlib hash the teacher uses directly.
func SHA256Hasher() hash.Hash {
	return sha256.New()
}

// Blake3Hasher is the spec's named reference hash (32-byte BLAKE3 digest).
func Blake3Hasher() hash.Hash {
	h, err := blake3.New(32, nil)
	if err != nil {
		// New only errors on a key of the wrong length; nil never qualifies.
		panic(err)
	}
	return h
}

// hashBytes runs data through a freshly built hasher and returns the
// 32-byte digest as an H256. Callers must only ever use factories whose
// hash.Hash has a 32-byte output.
func hashBytes(f HasherFactory, data []byte) H256 {
	h := f()
	h.Write(data)
	return H256FromBytes(h.Sum(nil))
}
