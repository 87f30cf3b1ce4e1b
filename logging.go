package smt

import (
	"os"

	"github.com/rs/zerolog"
)

// log is the package-level structured logger, grounded on the logging
// idiom other_examples/.../optakt-flow-dps__.../trie.go uses for its own
// Merkle-trie-over-KV-store (a package-level zerolog.Logger, Info/Debug
// calls describing the exact kind of structural event this tree produces).
//
// The core tree logs at Debug only (SparseMerkleTree logs each pruned
// branch), so it stays silent unless a caller raises the level; BadgerStore
// logs version creation at Info and rollback at Warn.
var log = zerolog.New(os.Stderr).With().Timestamp().Str("component", "smt").Logger()

// SetLogger replaces the package-level logger, e.g. to route output
// through an application's own zerolog.Logger instead of stderr.
func SetLogger(l zerolog.Logger) {
	log = l
}
