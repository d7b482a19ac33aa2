// Package codec implements the canonical binary serialization used for
// every on-disk and on-wire type in the chain state engine: fixed
// big-endian integers, u64-length-prefixed variable data, no padding.
//
// Every serializable type implements Writeable/Readable against an
// abstract sink/source parameterized by a protocol Version, mirroring the
// teacher's varint helpers in pkg/util/encoding.go but fixed-width and
// version-aware per spec §4.1.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version is a protocol version number. Higher versions may append new
// fields after a size cue embedded in the envelope.
type Version uint16

// Mode controls how strictly a Reader treats trailing data within a known
// envelope.
type Mode uint8

const (
	// ModeFull rejects unknown trailing bytes inside a known envelope.
	ModeFull Mode = iota
	// ModeHeader tolerates trailing bytes (used for header-only decodes).
	ModeHeader
)

// ErrTrailingData is returned in ModeFull when an envelope has bytes left
// over after every declared field has been read.
var ErrTrailingData = errors.New("codec: trailing data in full decode mode")

// Writeable is implemented by every serializable type.
type Writeable interface {
	Write(w *Writer) error
}

// Readable is implemented by every serializable type via a pointer receiver.
type Readable interface {
	Read(r *Reader) error
}

// Writer is the abstract byte sink. All integers are written big-endian.
type Writer struct {
	w       io.Writer
	version Version
	n       int64
}

// NewWriter wraps w for writing at protocol version v.
func NewWriter(w io.Writer, v Version) *Writer {
	return &Writer{w: w, version: v}
}

// Version returns the writer's protocol version.
func (w *Writer) Version() Version { return w.version }

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 { return w.n }

func (w *Writer) write(b []byte) error {
	n, err := w.w.Write(b)
	w.n += int64(n)
	return err
}

// WriteU8 writes a single byte.
func (w *Writer) WriteU8(v uint8) error { return w.write([]byte{v}) }

// WriteU16 writes a big-endian uint16.
func (w *Writer) WriteU16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

// WriteU32 writes a big-endian uint32.
func (w *Writer) WriteU32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

// WriteU64 writes a big-endian uint64.
func (w *Writer) WriteU64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return w.write(b[:])
}

// WriteI64 writes a big-endian signed 64-bit integer.
func (w *Writer) WriteI64(v int64) error { return w.WriteU64(uint64(v)) }

// WriteBytes writes a fixed-size byte slice with no length prefix.
func (w *Writer) WriteBytes(b []byte) error { return w.write(b) }

// WriteVarBytes writes a u64-length-prefixed byte slice.
func (w *Writer) WriteVarBytes(b []byte) error {
	if err := w.WriteU64(uint64(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return w.write(b)
}

// WriteHash writes a fixed 32-byte hash.
func (w *Writer) WriteHash(h [32]byte) error { return w.write(h[:]) }

// WriteBool writes a single-byte boolean.
func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteU8(1)
	}
	return w.WriteU8(0)
}

// Reader is the abstract byte source.
type Reader struct {
	r       io.Reader
	version Version
	mode    Mode
	n       int64
}

// NewReader wraps r for reading at protocol version v in mode m.
func NewReader(r io.Reader, v Version, m Mode) *Reader {
	return &Reader{r: r, version: v, mode: m}
}

// Version returns the reader's protocol version.
func (r *Reader) Version() Version { return r.version }

// Mode returns the reader's strictness mode.
func (r *Reader) Mode() Mode { return r.mode }

func (r *Reader) readFull(b []byte) error {
	n, err := io.ReadFull(r.r, b)
	r.n += int64(n)
	return err
}

// ReadU8 reads a single byte.
func (r *Reader) ReadU8() (uint8, error) {
	var b [1]byte
	if err := r.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a big-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	var b [2]byte
	if err := r.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() (uint32, error) {
	var b [4]byte
	if err := r.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadU64 reads a big-endian uint64.
func (r *Reader) ReadU64() (uint64, error) {
	var b [8]byte
	if err := r.readFull(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// ReadI64 reads a big-endian signed 64-bit integer.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

// maxVarBytes bounds a single length-prefixed read to defend against a
// corrupt or hostile length field causing an unbounded allocation.
const maxVarBytes = 128 << 20 // 128MiB

// ReadBytes reads exactly n fixed bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := r.readFull(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadVarBytes reads a u64-length-prefixed byte slice.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	n, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	if n > maxVarBytes {
		return nil, fmt.Errorf("codec: var bytes length %d exceeds maximum %d", n, maxVarBytes)
	}
	if n == 0 {
		return []byte{}, nil
	}
	return r.ReadBytes(int(n))
}

// ReadHash reads a fixed 32-byte hash.
func (r *Reader) ReadHash() ([32]byte, error) {
	var h [32]byte
	if err := r.readFull(h[:]); err != nil {
		return h, err
	}
	return h, nil
}

// ReadBool reads a single-byte boolean.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

// RequireNoTrailing enforces ModeFull's "unknown trailing data rejected"
// rule. Called after an envelope has consumed every field it knows about;
// remaining is whatever the caller determined was left unread (e.g. a
// byte count mismatch against a declared envelope size).
func (r *Reader) RequireNoTrailing(remaining int) error {
	if r.mode == ModeFull && remaining != 0 {
		return ErrTrailingData
	}
	return nil
}

// Encode serializes a Writeable at version v and returns the bytes.
func Encode(v Version, x Writeable) ([]byte, error) {
	buf := new(growBuffer)
	w := NewWriter(buf, v)
	if err := x.Write(w); err != nil {
		return nil, err
	}
	return buf.bytes(), nil
}

// Decode deserializes a Readable from data at version v in mode m.
func Decode(data []byte, v Version, m Mode, x Readable) error {
	src := &byteSource{data: data}
	r := NewReader(src, v, m)
	if err := x.Read(r); err != nil {
		return err
	}
	return r.RequireNoTrailing(len(data) - src.pos)
}

// growBuffer is a minimal io.Writer over a growing byte slice, used so
// codec does not pull in bytes.Buffer as a public dependency of callers.
type growBuffer struct{ b []byte }

func (g *growBuffer) Write(p []byte) (int, error) {
	g.b = append(g.b, p...)
	return len(p), nil
}

func (g *growBuffer) bytes() []byte { return g.b }

type byteSource struct {
	data []byte
	pos  int
}

func (b *byteSource) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}
