package mmr

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// memBackend is an in-memory Backend used only for tests; real backends
// live in internal/pmmrfile.
type memBackend struct {
	hashes []Hash
}

func (m *memBackend) AppendHash(h Hash) (uint64, error) {
	m.hashes = append(m.hashes, h)
	return uint64(len(m.hashes)), nil
}

func (m *memBackend) HashAt(pos uint64) (Hash, bool, error) {
	if pos == 0 || pos > uint64(len(m.hashes)) {
		return Hash{}, false, nil
	}
	return m.hashes[pos-1], true, nil
}

func (m *memBackend) Size() uint64 { return uint64(len(m.hashes)) }

func leafBytes(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(i))
	return b
}

func TestHeightSequence(t *testing.T) {
	// Known postorder height sequence for positions 1..10.
	want := []uint64{0, 0, 1, 0, 0, 1, 2, 0, 0, 1}
	for i, w := range want {
		pos := uint64(i + 1)
		if got := Height(pos); got != w {
			t.Errorf("Height(%d) = %d, want %d", pos, got, w)
		}
	}
}

func TestIsValidMMRSize(t *testing.T) {
	valid := []uint64{0, 1, 3, 4, 7, 8, 10, 11}
	for _, n := range valid {
		if !IsValidMMRSize(n) {
			t.Errorf("IsValidMMRSize(%d) = false, want true", n)
		}
	}
	invalid := []uint64{2, 5, 6, 9}
	for _, n := range invalid {
		if IsValidMMRSize(n) {
			t.Errorf("IsValidMMRSize(%d) = true, want false", n)
		}
	}
}

func TestPushAndNumLeaves(t *testing.T) {
	backend := &memBackend{}
	tree := NewTree(backend)

	for i := 0; i < 10; i++ {
		if _, err := tree.Push(leafBytes(i)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	size := tree.Size()
	if !IsValidMMRSize(size) {
		t.Fatalf("tree size %d is not a valid MMR size", size)
	}
	if got := NumLeaves(size); got != 10 {
		t.Fatalf("NumLeaves(%d) = %d, want 10", size, got)
	}
}

func TestRootDeterministic(t *testing.T) {
	build := func() Hash {
		backend := &memBackend{}
		tree := NewTree(backend)
		for i := 0; i < 15; i++ {
			if _, err := tree.Push(leafBytes(i)); err != nil {
				t.Fatal(err)
			}
		}
		root, err := tree.Root()
		if err != nil {
			t.Fatal(err)
		}
		return root
	}

	r1 := build()
	r2 := build()
	if r1 != r2 {
		t.Fatal("root is not reproducible across independent builds")
	}
}

func TestMerkleProofRoundTrip(t *testing.T) {
	backend := &memBackend{}
	tree := NewTree(backend)

	var positions []uint64
	for i := 0; i < 20; i++ {
		pos, err := tree.Push(leafBytes(i))
		if err != nil {
			t.Fatal(err)
		}
		positions = append(positions, pos)
	}

	root, err := tree.Root()
	if err != nil {
		t.Fatal(err)
	}

	for i, pos := range positions {
		proof, err := tree.MerkleProof(pos)
		if err != nil {
			t.Fatalf("proof for leaf %d at pos %d: %v", i, pos, err)
		}
		if !Verify(leafBytes(i), proof, root) {
			t.Fatalf("proof for leaf %d at pos %d did not verify", i, pos)
		}
	}
}

func TestMerkleProofRejectsWrongLeaf(t *testing.T) {
	backend := &memBackend{}
	tree := NewTree(backend)
	for i := 0; i < 8; i++ {
		if _, err := tree.Push(leafBytes(i)); err != nil {
			t.Fatal(err)
		}
	}
	root, err := tree.Root()
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.MerkleProof(1)
	if err != nil {
		t.Fatal(err)
	}
	if Verify(leafBytes(99), proof, root) {
		t.Fatal("proof should not verify against the wrong leaf content")
	}
}

func TestLeafToPosMatchesPushOrder(t *testing.T) {
	backend := &memBackend{}
	tree := NewTree(backend)
	for i := 0; i < 12; i++ {
		pos, err := tree.Push(leafBytes(i))
		if err != nil {
			t.Fatal(err)
		}
		if want := LeafToPos(uint64(i)); want != pos {
			t.Errorf("LeafToPos(%d) = %d, want %d (actual push position)", i, want, pos)
		}
	}
}

func TestHashLeafDomainSeparation(t *testing.T) {
	a := HashLeaf(1, []byte("x"))
	b := HashLeaf(2, []byte("x"))
	if bytes.Equal(a[:], b[:]) {
		t.Fatal("position salt did not separate identical leaf content at different positions")
	}
}
