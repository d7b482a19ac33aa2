package pmmrfile

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestDataFileAppendCommitReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.dat")
	df, err := OpenDataFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer df.Close()

	idx0 := df.Append([]byte("short"))
	idx1 := df.Append([]byte("a somewhat longer record"))
	if idx0 != 0 || idx1 != 1 {
		t.Fatalf("expected indices 0,1, got %d,%d", idx0, idx1)
	}
	if err := df.Commit(); err != nil {
		t.Fatal(err)
	}

	got0, err := df.ReadAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got0, []byte("short")) {
		t.Fatalf("record 0 mismatch: %q", got0)
	}
	got1, err := df.ReadAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got1, []byte("a somewhat longer record")) {
		t.Fatalf("record 1 mismatch: %q", got1)
	}
}

func TestDataFilePersistsIndexAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.dat")
	df, err := OpenDataFile(path)
	if err != nil {
		t.Fatal(err)
	}
	df.Append([]byte("one"))
	df.Append([]byte("two"))
	if err := df.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := df.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenDataFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.NumRecords() != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", reopened.NumRecords())
	}
	got, err := reopened.ReadAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("two")) {
		t.Fatalf("record 1 mismatch after reopen: %q", got)
	}
}

func TestDataFileRewind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.dat")
	df, err := OpenDataFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer df.Close()

	df.Append([]byte("a"))
	df.Append([]byte("b"))
	df.Append([]byte("c"))
	if err := df.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := df.Rewind(1); err != nil {
		t.Fatal(err)
	}
	if df.NumRecords() != 1 {
		t.Fatalf("expected 1 record after rewind, got %d", df.NumRecords())
	}
	if _, err := df.ReadAt(1); err == nil {
		t.Fatal("expected read past rewound size to fail")
	}
}
