// crypto.go - Cryptographic primitives for confidential records.
//
// MiMC (over the BW6-761 scalar field) provides the commitment scheme, the
// nullifier PRF and the owner key derivation; BLS12-377 provides the
// Diffie-Hellman key exchange used to encrypt records towards their owner.
// All values hashed with MiMC are first canonicalized to field-sized blocks
// so that native hashing matches the in-circuit hashing exactly.

package record

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377_fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	bw6761_fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bw6-761/fr/mimc"
)

// toBlock reduces an arbitrary byte string into the MiMC field and returns its
// canonical fixed-width encoding. MiMC input must be block-aligned, and the
// reduction here must match the field semantics of the in-circuit hasher.
func toBlock(b []byte) []byte {
	var e bw6761_fr.Element
	e.SetBytes(b)
	out := e.Bytes()
	return out[:]
}

func uintBlock(v uint64) []byte {
	return toBlock(new(big.Int).SetUint64(v).Bytes())
}

// mimcHash hashes a sequence of values, each canonicalized to one field block.
func mimcHash(values ...[]byte) []byte {
	h := mimcNative.NewMiMC()
	for _, v := range values {
		h.Write(toBlock(v))
	}
	return h.Sum(nil)
}

// Commitment computes cm = MiMC(owner || amount || validator || rho || rand).
func Commitment(owner []byte, amount uint64, validator ValidatorID, rho, rnd []byte) []byte {
	h := mimcNative.NewMiMC()
	h.Write(toBlock(owner))
	h.Write(uintBlock(amount))
	h.Write(toBlock(validator[:]))
	h.Write(toBlock(rho))
	h.Write(toBlock(rnd))
	return h.Sum(nil)
}

// Nullifier implements the spend-tag PRF: nf = MiMC(sk || rho).
func Nullifier(sk, rho []byte) []byte {
	return mimcHash(sk, rho)
}

// OwnerKey is a spending keypair: sk is private, Pk = MiMC(sk) is the public
// owner address bound into record commitments.
type OwnerKey struct {
	Sk []byte
	Pk []byte
}

// NewOwnerKey generates a fresh spending keypair.
func NewOwnerKey() *OwnerKey {
	sk := randomBytes(32)
	return &OwnerKey{Sk: sk, Pk: mimcHash(sk)}
}

// randomBytes generates n random bytes using crypto/rand.
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// DHKeyPair is a BLS12-377 keypair used to address record ciphertexts.
type DHKeyPair struct {
	Sk *bls12377_fr.Element
	Pk *bls12377.G1Affine
}

// NewDHKeyPair generates a random BLS12-377 keypair.
func NewDHKeyPair() (*DHKeyPair, error) {
	var sk bls12377_fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, err
	}
	g1Jac, _, _, _ := bls12377.Generators()
	var pk bls12377.G1Affine
	pk.FromJacobian(&g1Jac)
	pk.ScalarMultiplication(&pk, sk.BigInt(new(big.Int)))
	return &DHKeyPair{Sk: &sk, Pk: &pk}, nil
}

// sharedSecret computes g^ab from our scalar and their point.
func sharedSecret(sk *bls12377_fr.Element, pk *bls12377.G1Affine) *bls12377.G1Affine {
	var shared bls12377.G1Affine
	shared.ScalarMultiplication(pk, sk.BigInt(new(big.Int)))
	return &shared
}

// keystream expands a shared point into n bytes via a MiMC hash chain.
func keystream(shared *bls12377.G1Affine, n int) []byte {
	h := mimcNative.NewMiMC()
	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	h.Write(toBlock(x[:]))
	h.Write(toBlock(y[:]))
	block := h.Sum(nil)

	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, block...)
		h.Reset()
		h.Write(toBlock(block))
		block = h.Sum(nil)
	}
	return out[:n]
}

// Encrypt seals a record towards the holder of ownerDH. The blob is
// self-contained: an ephemeral public point followed by the masked record.
// Only the owner can recover the plaintext; the ledger stores the blob
// verbatim, keyed by the record commitment.
func Encrypt(r *Record, ownerDH *bls12377.G1Affine) ([]byte, error) {
	eph, err := NewDHKeyPair()
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	shared := sharedSecret(eph.Sk, ownerDH)
	ks := keystream(shared, len(plain))
	for i := range plain {
		plain[i] ^= ks[i]
	}
	ephBytes := eph.Pk.Bytes()
	return append(ephBytes[:], plain...), nil
}

// Decrypt recovers a record from a ciphertext blob using the owner's DH key.
func Decrypt(blob []byte, sk *bls12377_fr.Element) (*Record, error) {
	var eph bls12377.G1Affine
	n, err := eph.SetBytes(blob)
	if err != nil {
		return nil, errors.New("record ciphertext has malformed ephemeral point")
	}
	masked := append([]byte{}, blob[n:]...)
	shared := sharedSecret(sk, &eph)
	ks := keystream(shared, len(masked))
	for i := range masked {
		masked[i] ^= ks[i]
	}
	var r Record
	if err := json.Unmarshal(masked, &r); err != nil {
		return nil, errors.New("record ciphertext does not decrypt to a record")
	}
	return &r, nil
}

// Recognize attempts to decrypt a blob and checks whether the resulting
// record belongs to the given owner public key and matches the ledger
// commitment it was stored under. Used by wallets scanning the unspent set
// for their own records.
func Recognize(commitment, blob []byte, sk *bls12377_fr.Element, ownerPk []byte) (*Record, bool) {
	r, err := Decrypt(blob, sk)
	if err != nil {
		return nil, false
	}
	if !bytes.Equal(r.Owner, ownerPk) {
		return nil, false
	}
	if !bytes.Equal(r.Commitment(), commitment) {
		return nil, false
	}
	return r, true
}
