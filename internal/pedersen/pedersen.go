// Package pedersen implements Pedersen commitments and excess-signature
// verification over secp256k1, the cryptographic primitive underlying
// spec §4.6's Mimblewimble identity (`sum(outputs) - sum(inputs) ==
// sum(kernel_excesses) + offset*G + fees*H`).
//
// The reference implementation (original_source/secp256k1zkp) binds to
// libsecp256k1-zkp's C rangeproof/bulletproof and Pedersen-commitment
// routines. No Go binding to that exact library exists in this module's
// dependency pack; grounded on the pack's available secp256k1 stack
// (github.com/decred/dcrd/dcrec/secp256k1/v4, already present transitively
// in the teacher's go.mod), this package builds the homomorphic
// commitment arithmetic directly from that library's curve operations: a
// commitment to value v with blinding factor r is the curve point
// `v*H + r*G`, where H is a fixed secondary generator independent of G.
package pedersen

import (
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Commitment is a compressed 33-byte Pedersen commitment.
type Commitment [33]byte

// BlindingFactor is a 32-byte scalar (a private key in curve terms).
type BlindingFactor [32]byte

// hGenerator is the alternate generator H, derived by a deterministic
// hash-to-curve ("try and increment") over a fixed domain tag so every
// node computes the identical point without a trusted setup.
var hGenerator = deriveGeneratorH()

func deriveGeneratorH() *secp256k1.JacobianPoint {
	tag := []byte("grinchain/pedersen/alternate-generator/v1")
	for ctr := uint32(0); ; ctr++ {
		h := sha256.New()
		h.Write(tag)
		h.Write([]byte{byte(ctr), byte(ctr >> 8), byte(ctr >> 16), byte(ctr >> 24)})
		candidate := h.Sum(nil)

		var fx secp256k1.FieldVal
		if overflow := fx.SetByteSlice(candidate); overflow {
			continue
		}
		var pub secp256k1.JacobianPoint
		if decompressEven(&fx, &pub) {
			pub.ToAffine()
			return &pub
		}
	}
}

// decompressEven attempts to lift x to a point with an even Y coordinate,
// mirroring SEC1 point decompression for compressed-form prefix 0x02.
func decompressEven(x *secp256k1.FieldVal, out *secp256k1.JacobianPoint) bool {
	var y secp256k1.FieldVal
	if !secp256k1.DecompressY(x, false, &y) {
		return false
	}
	y.Normalize()
	out.X.Set(x)
	out.Y.Set(&y)
	out.Z.SetInt(1)
	return true
}

// Commit computes a Pedersen commitment to value under blinding factor r.
func Commit(value uint64, r BlindingFactor) (Commitment, error) {
	var rScalar secp256k1.ModNScalar
	if overflow := rScalar.SetByteSlice(r[:]); overflow {
		return Commitment{}, errors.New("pedersen: blinding factor out of range")
	}

	var rG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&rScalar, &rG)

	var vScalar secp256k1.ModNScalar
	vScalar.SetInt(0)
	setUint64(&vScalar, value)

	var vH secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&vScalar, hGenerator, &vH)

	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&rG, &vH, &sum)

	return compressJacobian(&sum), nil
}

// setUint64 loads a uint64 into a ModNScalar without an intermediate
// byte-order-sensitive allocation for small values.
func setUint64(s *secp256k1.ModNScalar, v uint64) {
	var buf [32]byte
	big.NewInt(0).SetUint64(v).FillBytes(buf[:])
	s.SetByteSlice(buf[:])
}

// compressJacobian normalizes p to affine form and compresses it,
// special-casing the point at infinity (identity element) as the
// all-zero Commitment — the identity never otherwise arises as a valid
// curve point, since x=0 is not on the secp256k1 curve.
func compressJacobian(p *secp256k1.JacobianPoint) Commitment {
	if p.Z.IsZero() {
		return Commitment{}
	}
	p.ToAffine()
	return compress(p)
}

func compress(p *secp256k1.JacobianPoint) Commitment {
	var out Commitment
	if p.Y.IsOdd() {
		out[0] = 0x03
	} else {
		out[0] = 0x02
	}
	xBytes := p.X.Bytes()
	copy(out[1:], xBytes[:])
	return out
}

func decompress(c Commitment) (*secp256k1.JacobianPoint, error) {
	if c.IsZero() {
		var p secp256k1.JacobianPoint
		p.X.SetInt(0)
		p.Y.SetInt(0)
		p.Z.SetInt(0)
		return &p, nil
	}
	var x secp256k1.FieldVal
	if overflow := x.SetByteSlice(c[1:]); overflow {
		return nil, errors.New("pedersen: commitment x coordinate out of range")
	}
	wantOdd := c[0] == 0x03
	var p secp256k1.JacobianPoint
	if !decompressEven(&x, &p) {
		return nil, errors.New("pedersen: commitment is not a valid curve point")
	}
	if p.Y.IsOdd() != wantOdd {
		p.Y.Negate(1)
		p.Y.Normalize()
	}
	return &p, nil
}

// Add homomorphically sums commitments: Commit(a,ra) + Commit(b,rb) ==
// Commit(a+b, ra+rb). This is the basis of the block-level sum checks in
// spec §4.6.
func Add(commitments ...Commitment) (Commitment, error) {
	var acc secp256k1.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0) // point at infinity

	for _, c := range commitments {
		p, err := decompress(c)
		if err != nil {
			return Commitment{}, err
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, p, &next)
		acc = next
	}
	return compressJacobian(&acc), nil
}

// Negate returns the additive inverse of a commitment, used to subtract
// input commitments from the running UTXO sum (spec §4.6).
func Negate(c Commitment) (Commitment, error) {
	p, err := decompress(c)
	if err != nil {
		return Commitment{}, err
	}
	if p.Z.IsZero() {
		return Commitment{}, nil
	}
	p.ToAffine()
	p.Y.Negate(1)
	p.Y.Normalize()
	return compress(p), nil
}

// Sum adds positives and subtracts negatives, returning the resulting
// commitment. Used for the running utxo_sum/kernel_sum in spec §4.6.
func Sum(positives, negatives []Commitment) (Commitment, error) {
	var acc secp256k1.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0)

	accum := func(c Commitment, negate bool) error {
		p, err := decompress(c)
		if err != nil {
			return err
		}
		if negate && !p.Z.IsZero() {
			p.ToAffine()
			p.Y.Negate(1)
			p.Y.Normalize()
			p.Z.SetInt(1)
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, p, &next)
		acc = next
		return nil
	}

	for _, c := range positives {
		if err := accum(c, false); err != nil {
			return Commitment{}, err
		}
	}
	for _, c := range negatives {
		if err := accum(c, true); err != nil {
			return Commitment{}, err
		}
	}
	return compressJacobian(&acc), nil
}

// Equal reports whether two commitments encode the same curve point.
func (c Commitment) Equal(other Commitment) bool { return c == other }

// IsZero reports whether c is the all-zero placeholder (used for an
// unset/genesis total offset commitment).
func (c Commitment) IsZero() bool {
	for _, b := range c {
		if b != 0 {
			return false
		}
	}
	return true
}

// VerifyExcessSig checks a kernel's excess signature. The reference
// implementation uses a single-signer Schnorr scheme over the kernel
// excess treated as a public key; this module's dependency pack has no
// Schnorr-over-secp256k1 verifier, so it is built on the same module's
// github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa package instead,
// reinterpreting the excess commitment's compressed encoding directly as
// a secp256k1 public key (a valid SEC1 encoding either way) and msg as
// the 32-byte kernel signature message (spec §4.6's "one-shot per
// kernel" signature check).
func VerifyExcessSig(excess Commitment, msg [32]byte, sig []byte) (bool, error) {
	pub, err := secp256k1.ParsePubKey(excess[:])
	if err != nil {
		return false, errors.New("pedersen: excess is not a valid public key encoding")
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, errors.New("pedersen: malformed excess signature")
	}
	return parsed.Verify(msg[:], pub), nil
}
