// record.go - Confidential ledger records for the zkledger protocol.
//
// A Record is a confidential entry owned by an address. It is never stored or
// transmitted in plaintext on-chain: the ledger only ever sees its commitment
// (a one-way MiMC binding over the record contents plus private randomness)
// and, once spent, its nullifier.

package record

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Kind distinguishes liquid value records from staking records.
type Kind uint8

const (
	// KindValue is a plain confidential value record {owner, amount}.
	KindValue Kind = iota
	// KindStaking additionally binds a validator identity to the amount.
	KindStaking
)

// ValidatorID is a validator identity. On the wire it is carried as two
// fixed-width halves (upper and lower 16 bytes); internally it is one value.
type ValidatorID [32]byte

// JoinValidatorID reassembles a validator identity from its two public halves.
func JoinValidatorID(upper, lower []byte) (ValidatorID, error) {
	var id ValidatorID
	if len(upper) != 16 || len(lower) != 16 {
		return id, errors.New("validator identity halves must be 16 bytes each")
	}
	copy(id[:16], upper)
	copy(id[16:], lower)
	return id, nil
}

// Halves splits the identity into its upper and lower public halves.
func (id ValidatorID) Halves() (upper, lower []byte) {
	return append([]byte{}, id[:16]...), append([]byte{}, id[16:]...)
}

// IsZero reports whether the identity is unset (value records).
func (id ValidatorID) IsZero() bool {
	return id == ValidatorID{}
}

func (id ValidatorID) String() string {
	return hex.EncodeToString(id[:])
}

// Record represents a confidential ledger entry.
// Owner is the MiMC image of the owner's spending key; Rho and Rand are the
// per-record randomness that make the commitment hiding and the nullifier
// unique.
type Record struct {
	Kind      Kind        `json:"kind"`
	Owner     []byte      `json:"owner"`
	Amount    uint64      `json:"amount"`
	Validator ValidatorID `json:"validator,omitempty"`
	Rho       []byte      `json:"rho"`
	Rand      []byte      `json:"rand"`
}

// NewValueRecord creates a value record for the given owner public key,
// randomized with fresh rho/rand.
func NewValueRecord(owner []byte, amount uint64) *Record {
	return &Record{
		Kind:   KindValue,
		Owner:  owner,
		Amount: amount,
		Rho:    randomBytes(32),
		Rand:   randomBytes(32),
	}
}

// NewStakingRecord creates a staking record binding amount to a validator.
func NewStakingRecord(owner []byte, amount uint64, validator ValidatorID) *Record {
	r := NewValueRecord(owner, amount)
	r.Kind = KindStaking
	r.Validator = validator
	return r
}

// Commitment computes the record's one-way public binding:
// cm = MiMC(owner || amount || validator || rho || rand).
// The commitment never changes once the record is created.
func (r *Record) Commitment() []byte {
	return Commitment(r.Owner, r.Amount, r.Validator, r.Rho, r.Rand)
}

// CommitmentHex is the hex form used as the ledger set key.
func (r *Record) CommitmentHex() string {
	return hex.EncodeToString(r.Commitment())
}

// Nullifier derives the record's unique spend tag under the owner's spending
// key. It is revealed exactly once, when the record is consumed.
func (r *Record) Nullifier(sk []byte) []byte {
	return Nullifier(sk, r.Rho)
}

// NullifierHex is the hex form used as the spent set key.
func (r *Record) NullifierHex(sk []byte) string {
	return hex.EncodeToString(r.Nullifier(sk))
}

func (r *Record) String() string {
	if r.Kind == KindStaking {
		return fmt.Sprintf("StakingRecord(amount=%d,validator=%s)", r.Amount, r.Validator)
	}
	return fmt.Sprintf("ValueRecord(amount=%d)", r.Amount)
}
