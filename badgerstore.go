package smt

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists a single-domain tree in a badger.DB opened in
// managed mode, the transaction idiom grounded on
// other_examples/.../optakt-flow-dps__.../trie.go (db.View(func(tx
// *badger.Txn) error {...}), tx.Get, item.Value(func(val []byte) error
// {...})) — adapted here to managed transactions so CreateVersion/
// RollbackToVersion can ride on badger's own MVCC timestamps instead of a
// second bookkeeping layer.
type BadgerStore struct {
	db *badger.DB

	writeTs uint64 // atomic: next commit timestamp to hand out

	mu          sync.Mutex
	versions    []uint64
	branchLines map[string]uint64
}

var (
	badgerBranchPrefix = []byte{'b'}
	badgerLeafPrefix   = []byte{'l'}
	badgerRootKey      = []byte{'r'}
)

// OpenBadgerStore opens (creating if necessary) a badger-backed Store at
// path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := badger.OpenManaged(badger.DefaultOptions(path))
	if err != nil {
		return nil, fmt.Errorf("smt: open badger store: %w", err)
	}
	return &BadgerStore{db: db, branchLines: make(map[string]uint64)}, nil
}

// Close releases the underlying badger.DB.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) nextCommitTs() uint64 {
	return atomic.AddUint64(&s.writeTs, 1)
}

func (s *BadgerStore) readTs() uint64 {
	return atomic.LoadUint64(&s.writeTs)
}

func branchStoreKey(k BranchKey) []byte {
	return append(append([]byte{}, badgerBranchPrefix...), k.Encode()...)
}

func leafStoreKey(k H256) []byte {
	return append(append([]byte{}, badgerLeafPrefix...), k.Bytes()...)
}

func (s *BadgerStore) GetBranch(key BranchKey) (BranchNode, bool, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(branchStoreKey(key))
	if err == badger.ErrKeyNotFound {
		return BranchNode{}, false, nil
	}
	if err != nil {
		return BranchNode{}, false, err
	}

	var out BranchNode
	err = item.Value(func(val []byte) error {
		decoded, derr := decodeBranchNode(val)
		if derr != nil {
			return derr
		}
		out = decoded
		return nil
	})
	if err != nil {
		return BranchNode{}, false, err
	}
	return out, true, nil
}

func (s *BadgerStore) InsertBranch(key BranchKey, branch BranchNode) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(branchStoreKey(key), encodeBranchNode(branch)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore) RemoveBranch(key BranchKey) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Delete(branchStoreKey(key)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore) GetLeaf(key H256) (Value, bool, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(leafStoreKey(key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out Value
	err = item.Value(func(val []byte) error {
		decoded, derr := decodeValue(val)
		if derr != nil {
			return derr
		}
		out = decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *BadgerStore) InsertLeaf(key H256, value Value) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(leafStoreKey(key), encoded); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore) RemoveLeaf(key H256) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Delete(leafStoreKey(key)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore) GetRoot() (H256, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(badgerRootKey)
	if err == badger.ErrKeyNotFound {
		return ZeroH256, nil
	}
	if err != nil {
		return H256{}, err
	}

	var out H256
	err = item.Value(func(val []byte) error {
		out = H256FromBytes(val)
		return nil
	})
	return out, err
}

func (s *BadgerStore) UpdateRoot(root H256) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(badgerRootKey, root.Bytes()); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

// CreateVersion snapshots the store's current badger timestamp. No data
// copy happens: badger already keeps every prior value reachable at its
// original commit timestamp.
func (s *BadgerStore) CreateVersion() (uint64, error) {
	id := s.readTs()
	s.mu.Lock()
	s.versions = append(s.versions, id)
	s.mu.Unlock()
	log.Info().Uint64("version", id).Msg("badger store version created")
	return id, nil
}

func (s *BadgerStore) Versions() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.versions))
	copy(out, s.versions)
	return out, nil
}

// RollbackToVersion rewinds the store's read/write timestamp to id. Data
// committed after id is not deleted, only superseded: a later write reuses
// timestamps above id again, so the next CommitAt naturally becomes the
// newest visible value at its key.
func (s *BadgerStore) RollbackToVersion(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, v := range s.versions {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("smt: badger store: no such version %d", id)
	}
	s.versions = s.versions[:idx+1]
	atomic.StoreUint64(&s.writeTs, id)
	log.Warn().Uint64("version", id).Msg("badger store rolled back")
	return nil
}

func (s *BadgerStore) CreateBranch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branchLines[name] = s.readTs()
	return nil
}

func (s *BadgerStore) PromoteBranch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.branchLines[name]
	if !ok {
		return fmt.Errorf("smt: badger store: no such branch %q", name)
	}
	atomic.StoreUint64(&s.writeTs, ts)
	return nil
}

// encodeValue serializes the two concrete Value kinds this package defines.
// A tag byte distinguishes them so GetLeaf can reconstruct the right type;
// badger only ever sees opaque bytes.
func encodeValue(v Value) ([]byte, error) {
	switch x := v.(type) {
	case H256:
		out := make([]byte, 33)
		out[0] = 0
		copy(out[1:], x[:])
		return out, nil
	case Bytes:
		out := make([]byte, 1+len(x))
		out[0] = 1
		copy(out[1:], x)
		return out, nil
	default:
		return nil, fmt.Errorf("smt: badger store: unsupported Value type %T", v)
	}
}

func decodeValue(b []byte) (Value, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("smt: badger store: corrupt value record")
	}
	switch b[0] {
	case 0:
		if len(b) != 33 {
			return nil, fmt.Errorf("smt: badger store: corrupt H256 value record")
		}
		return H256FromBytes(b[1:]), nil
	case 1:
		out := make(Bytes, len(b)-1)
		copy(out, b[1:])
		return out, nil
	default:
		return nil, fmt.Errorf("smt: badger store: unknown value tag %d", b[0])
	}
}

func encodeMergeValue(buf []byte, m MergeValue) {
	if m.IsZero() {
		buf[0] = 0
		return
	}
	buf[0] = 1
	h := m.Hash()
	copy(buf[1:33], h[:])
}

func decodeMergeValue(buf []byte) (MergeValue, error) {
	switch buf[0] {
	case 0:
		return ZeroMergeValue(), nil
	case 1:
		return MergeValueFromH256(H256FromBytes(buf[1:33])), nil
	default:
		return MergeValue{}, fmt.Errorf("smt: badger store: unknown merge value tag %d", buf[0])
	}
}

func encodeBranchNode(b BranchNode) []byte {
	out := make([]byte, 66)
	encodeMergeValue(out[0:33], b.Left)
	encodeMergeValue(out[33:66], b.Right)
	return out
}

func decodeBranchNode(b []byte) (BranchNode, error) {
	if len(b) != 66 {
		return BranchNode{}, fmt.Errorf("smt: badger store: corrupt branch record")
	}
	left, err := decodeMergeValue(b[0:33])
	if err != nil {
		return BranchNode{}, err
	}
	right, err := decodeMergeValue(b[33:66])
	if err != nil {
		return BranchNode{}, err
	}
	return BranchNode{Left: left, Right: right}, nil
}

// BadgerStore2 is the double-keyed counterpart of BadgerStore: every key is
// additionally namespaced under an opaque domain id X, encoded with %v.
// This assumes distinct X values never collide under that rendering, true
// for the primitive-like id shapes (strings, integers, fixed arrays) this
// package expects to be used with (see DESIGN.md).
type BadgerStore2[X comparable] struct {
	db *badger.DB

	writeTs uint64

	mu          sync.Mutex
	versions    []uint64
	branchLines map[string]uint64
}

// OpenBadgerStore2 opens (creating if necessary) a badger-backed Store2 at
// path.
func OpenBadgerStore2[X comparable](path string) (*BadgerStore2[X], error) {
	db, err := badger.OpenManaged(badger.DefaultOptions(path))
	if err != nil {
		return nil, fmt.Errorf("smt: open badger store: %w", err)
	}
	return &BadgerStore2[X]{db: db, branchLines: make(map[string]uint64)}, nil
}

func (s *BadgerStore2[X]) Close() error {
	return s.db.Close()
}

func (s *BadgerStore2[X]) nextCommitTs() uint64 {
	return atomic.AddUint64(&s.writeTs, 1)
}

func (s *BadgerStore2[X]) readTs() uint64 {
	return atomic.LoadUint64(&s.writeTs)
}

func encodeXid[X comparable](xid X) []byte {
	return []byte(fmt.Sprintf("%v", xid))
}

func xidPrefixKey[X comparable](tag byte, xid X) []byte {
	x := encodeXid(xid)
	buf := make([]byte, 0, 3+len(x))
	buf = append(buf, tag)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(x)))
	buf = append(buf, lenBuf...)
	buf = append(buf, x...)
	return buf
}

func branchStoreKey2[X comparable](xid X, k BranchKey) []byte {
	return append(xidPrefixKey('b', xid), k.Encode()...)
}

func leafStoreKey2[X comparable](xid X, k H256) []byte {
	return append(xidPrefixKey('l', xid), k.Bytes()...)
}

func rootStoreKey2[X comparable](xid X) []byte {
	return xidPrefixKey('r', xid)
}

func (s *BadgerStore2[X]) GetBranch(xid X, key BranchKey) (BranchNode, bool, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(branchStoreKey2(xid, key))
	if err == badger.ErrKeyNotFound {
		return BranchNode{}, false, nil
	}
	if err != nil {
		return BranchNode{}, false, err
	}

	var out BranchNode
	err = item.Value(func(val []byte) error {
		decoded, derr := decodeBranchNode(val)
		if derr != nil {
			return derr
		}
		out = decoded
		return nil
	})
	if err != nil {
		return BranchNode{}, false, err
	}
	return out, true, nil
}

func (s *BadgerStore2[X]) InsertBranch(xid X, key BranchKey, branch BranchNode) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(branchStoreKey2(xid, key), encodeBranchNode(branch)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore2[X]) RemoveBranch(xid X, key BranchKey) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Delete(branchStoreKey2(xid, key)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore2[X]) GetLeaf(xid X, key H256) (Value, bool, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(leafStoreKey2(xid, key))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var out Value
	err = item.Value(func(val []byte) error {
		decoded, derr := decodeValue(val)
		if derr != nil {
			return derr
		}
		out = decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *BadgerStore2[X]) InsertLeaf(xid X, key H256, value Value) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(leafStoreKey2(xid, key), encoded); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore2[X]) RemoveLeaf(xid X, key H256) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Delete(leafStoreKey2(xid, key)); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore2[X]) GetRoot(xid X) (H256, error) {
	txn := s.db.NewTransactionAt(s.readTs(), false)
	defer txn.Discard()

	item, err := txn.Get(rootStoreKey2(xid))
	if err == badger.ErrKeyNotFound {
		return ZeroH256, nil
	}
	if err != nil {
		return H256{}, err
	}

	var out H256
	err = item.Value(func(val []byte) error {
		out = H256FromBytes(val)
		return nil
	})
	return out, err
}

func (s *BadgerStore2[X]) UpdateRoot(xid X, root H256) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()
	if err := txn.Set(rootStoreKey2(xid), root.Bytes()); err != nil {
		return err
	}
	return txn.CommitAt(ts, nil)
}

// RemoveX deletes every branch, leaf, and the root slot stored under xid.
func (s *BadgerStore2[X]) RemoveX(xid X) error {
	ts := s.nextCommitTs()
	txn := s.db.NewTransactionAt(ts-1, true)
	defer txn.Discard()

	for _, prefix := range [][]byte{
		xidPrefixKey('b', xid),
		xidPrefixKey('l', xid),
		xidPrefixKey('r', xid),
	} {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte{}, it.Item().Key()...))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
	}

	return txn.CommitAt(ts, nil)
}

func (s *BadgerStore2[X]) CreateVersion() (uint64, error) {
	id := s.readTs()
	s.mu.Lock()
	s.versions = append(s.versions, id)
	s.mu.Unlock()
	return id, nil
}

func (s *BadgerStore2[X]) Versions() ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.versions))
	copy(out, s.versions)
	return out, nil
}

func (s *BadgerStore2[X]) RollbackToVersion(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, v := range s.versions {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("smt: badger store: no such version %d", id)
	}
	s.versions = s.versions[:idx+1]
	atomic.StoreUint64(&s.writeTs, id)
	return nil
}

func (s *BadgerStore2[X]) CreateBranch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branchLines[name] = s.readTs()
	return nil
}

func (s *BadgerStore2[X]) PromoteBranch(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.branchLines[name]
	if !ok {
		return fmt.Errorf("smt: badger store: no such branch %q", name)
	}
	atomic.StoreUint64(&s.writeTs, ts)
	return nil
}
