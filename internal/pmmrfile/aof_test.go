package pmmrfile

import (
	"bytes"
	"path/filepath"
	"testing"
)

func record(b byte) []byte {
	r := make([]byte, 8)
	for i := range r {
		r[i] = b
	}
	return r
}

func TestAppendVisibleBeforeCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.bin")
	f, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	idx, err := f.Append(record(1))
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Fatalf("expected first append at index 0, got %d", idx)
	}
	if f.Size() != 1 {
		t.Fatalf("expected size 1 pre-commit, got %d", f.Size())
	}
	if f.CommittedSize() != 0 {
		t.Fatalf("expected committed size 0 pre-commit, got %d", f.CommittedSize())
	}

	got, err := f.ReadAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, record(1)) {
		t.Fatal("uncommitted record not readable through buffer")
	}
}

func TestCommitPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.bin")
	f, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append(record(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append(record(2)); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if f.CommittedSize() != 2 {
		t.Fatalf("expected committed size 2, got %d", f.CommittedSize())
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.CommittedSize() != 2 {
		t.Fatalf("expected reopened committed size 2, got %d", reopened.CommittedSize())
	}
	got, err := reopened.ReadAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, record(2)) {
		t.Fatal("committed record did not survive reopen")
	}
}

func TestDiscardDropsUncommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.bin")
	f, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Append(record(1)); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Append(record(2)); err != nil {
		t.Fatal(err)
	}
	f.Discard()
	if f.Size() != 1 {
		t.Fatalf("expected size 1 after discard, got %d", f.Size())
	}
}

func TestRewindTruncatesCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.bin")
	f, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for i := byte(1); i <= 5; i++ {
		if _, err := f.Append(record(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := f.Rewind(2); err != nil {
		t.Fatal(err)
	}
	if f.CommittedSize() != 2 {
		t.Fatalf("expected committed size 2 after rewind, got %d", f.CommittedSize())
	}
	if _, err := f.ReadAt(2); err == nil {
		t.Fatal("expected read past rewound size to fail")
	}
}

func TestCompactKeepsSelectedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashes.bin")
	f, err := Open(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for i := byte(1); i <= 4; i++ {
		if _, err := f.Append(record(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := f.Compact([]int64{1, 3}); err != nil {
		t.Fatal(err)
	}
	if f.CommittedSize() != 2 {
		t.Fatalf("expected committed size 2 after compact, got %d", f.CommittedSize())
	}
	got0, err := f.ReadAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got0, record(2)) {
		t.Fatal("compacted index 0 should hold original record 2")
	}
	got1, err := f.ReadAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, record(4)) {
		t.Fatal("compacted index 1 should hold original record 4")
	}
}
