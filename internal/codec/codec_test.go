package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	A uint64
	B [32]byte
	C []byte
	D bool
}

func (s *sample) Write(w *Writer) error {
	if err := w.WriteU64(s.A); err != nil {
		return err
	}
	if err := w.WriteHash(s.B); err != nil {
		return err
	}
	if err := w.WriteVarBytes(s.C); err != nil {
		return err
	}
	return w.WriteBool(s.D)
}

func (s *sample) Read(r *Reader) error {
	var err error
	if s.A, err = r.ReadU64(); err != nil {
		return err
	}
	if s.B, err = r.ReadHash(); err != nil {
		return err
	}
	if s.C, err = r.ReadVarBytes(); err != nil {
		return err
	}
	s.D, err = r.ReadBool()
	return err
}

func TestRoundTrip(t *testing.T) {
	orig := &sample{A: 42, C: []byte("hello"), D: true}
	orig.B[0] = 0xAB

	for _, v := range []Version{0, 1, 7} {
		data, err := Encode(v, orig)
		if err != nil {
			t.Fatalf("encode v%d: %v", v, err)
		}

		got := &sample{}
		if err := Decode(data, v, ModeFull, got); err != nil {
			t.Fatalf("decode v%d: %v", v, err)
		}
		if got.A != orig.A || got.B != orig.B || !bytes.Equal(got.C, orig.C) || got.D != orig.D {
			t.Fatalf("round trip mismatch at v%d: got %+v want %+v", v, got, orig)
		}
	}
}

func TestReadVarBytesEmpty(t *testing.T) {
	s := &sample{A: 1, D: false}
	data, err := Encode(0, s)
	if err != nil {
		t.Fatal(err)
	}
	got := &sample{}
	if err := Decode(data, 0, ModeFull, got); err != nil {
		t.Fatal(err)
	}
	if len(got.C) != 0 {
		t.Fatalf("expected empty C, got %v", got.C)
	}
}

func TestReadVarBytesRejectsOversizeLength(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf, 0)
	if err := w.WriteU64(1 << 40); err != nil {
		t.Fatal(err)
	}
	r := NewReader(buf, 0, ModeFull)
	if _, err := r.ReadVarBytes(); err == nil {
		t.Fatal("expected error for oversize var bytes length")
	}
}

func TestTruncatedDataErrors(t *testing.T) {
	orig := &sample{A: 1, C: []byte("x")}
	data, err := Encode(0, orig)
	if err != nil {
		t.Fatal(err)
	}
	got := &sample{}
	if err := Decode(data[:len(data)-2], 0, ModeFull, got); err == nil {
		t.Fatal("expected error decoding truncated data")
	}
}
