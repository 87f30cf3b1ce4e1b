package smt

import "testing"

func openTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStoreBranchAndLeafCRUD(t *testing.T) {
	s := openTestBadgerStore(t)

	bk := BranchKey{Height: 4, NodeKey: H256{0: 7}}
	branch := BranchNode{Left: MergeValueFromH256(H256{0: 1}), Right: ZeroMergeValue()}
	if err := s.InsertBranch(bk, branch); err != nil {
		t.Fatalf("InsertBranch: %v", err)
	}
	got, ok, err := s.GetBranch(bk)
	if err != nil || !ok {
		t.Fatalf("GetBranch: ok=%v err=%v", ok, err)
	}
	if got != branch {
		t.Fatalf("GetBranch = %+v, want %+v", got, branch)
	}
	if err := s.RemoveBranch(bk); err != nil {
		t.Fatalf("RemoveBranch: %v", err)
	}
	if _, ok, _ := s.GetBranch(bk); ok {
		t.Fatal("branch should be gone after RemoveBranch")
	}

	key := H256{0: 3}
	if err := s.InsertLeaf(key, Bytes("hello")); err != nil {
		t.Fatalf("InsertLeaf: %v", err)
	}
	v, ok, err := s.GetLeaf(key)
	if err != nil || !ok {
		t.Fatalf("GetLeaf: ok=%v err=%v", ok, err)
	}
	if string(v.(Bytes)) != "hello" {
		t.Fatalf("GetLeaf = %v, want hello", v)
	}
}

func TestBadgerStoreRoot(t *testing.T) {
	s := openTestBadgerStore(t)

	root, err := s.GetRoot()
	if err != nil || root != ZeroH256 {
		t.Fatalf("fresh store root = %x err=%v, want zero", root, err)
	}
	want := H256{0: 9}
	if err := s.UpdateRoot(want); err != nil {
		t.Fatalf("UpdateRoot: %v", err)
	}
	got, err := s.GetRoot()
	if err != nil || got != want {
		t.Fatalf("GetRoot = %x err=%v, want %x", got, err, want)
	}
}

func TestBadgerStoreAsTreeBackend(t *testing.T) {
	s := openTestBadgerStore(t)
	tree := NewDefaultTree(s)

	key := H256{0: 1}
	value := H256{0: 2}
	if _, err := tree.Update(key, value); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := tree.Get(key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.(H256) != value {
		t.Fatalf("Get = %v, want %v", got, value)
	}
}

func TestBadgerStoreVersioning(t *testing.T) {
	s := openTestBadgerStore(t)
	tree := NewDefaultTree(s)

	k1 := H256{0: 1}
	if _, err := tree.Update(k1, H256{0: 11}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	v1, err := s.CreateVersion()
	if err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}

	k2 := H256{0: 2}
	if _, err := tree.Update(k2, H256{0: 22}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := s.RollbackToVersion(v1); err != nil {
		t.Fatalf("RollbackToVersion: %v", err)
	}
	if _, ok, _ := tree.Get(k2); ok {
		t.Fatal("rollback should have made the post-version write unreachable")
	}
}

func TestBadgerStore2RemoveX(t *testing.T) {
	s, err := OpenBadgerStore2[string](t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadgerStore2: %v", err)
	}
	defer s.Close()

	tree := NewDefaultTree2[string](s)
	if _, err := tree.Update("a", H256{0: 1}, H256{0: 9}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := tree.Update("b", H256{0: 1}, H256{0: 9}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := tree.RemoveX("a"); err != nil {
		t.Fatalf("RemoveX: %v", err)
	}
	if _, ok, _ := tree.Get("a", H256{0: 1}); ok {
		t.Fatal("domain a's leaf should be gone after RemoveX")
	}
	if _, ok, _ := tree.Get("b", H256{0: 1}); !ok {
		t.Fatal("domain b should be untouched by removing domain a")
	}
}
