// tx.go - Ledger transactions.
//
// A transaction names the records it consumes (by nullifier plus prior
// commitment), the records it creates (by commitment plus ciphertext), the
// values it reveals publicly, and carries an opaque zero-knowledge proof.
// Authorization comes from the proof, never from signatures over plaintext
// balances.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"zkledger/internal/proof"
	"zkledger/internal/record"
)

// Input references a record being consumed: the nullifier revealed by the
// spend and the prior commitment it nullifies.
type Input struct {
	Nullifier  string `json:"nullifier"`
	Commitment string `json:"commitment"`
}

// Output is a newly created record: its commitment and the ciphertext that
// only the new owner can open.
type Output struct {
	Commitment string `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// Public carries the values a transaction reveals in the clear. Amount is the
// minted/staked/unstaked amount; Fee the burned fee; the validator identity
// travels as two fixed-width halves.
type Public struct {
	Amount        uint64 `json:"amount,omitempty"`
	Fee           uint64 `json:"fee,omitempty"`
	ValidatorHigh []byte `json:"validator_high,omitempty"`
	ValidatorLow  []byte `json:"validator_low,omitempty"`
}

// Transaction is the atomic unit of ledger state change: either all of its
// effects apply or none do.
type Transaction struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
	Public  Public   `json:"public"`
	Proof   []byte   `json:"proof"`
}

// NewTransaction creates an empty transaction of the given function kind with
// a fresh identifier.
func NewTransaction(kind string) *Transaction {
	return &Transaction{ID: uuid.NewString(), Kind: kind}
}

// DecodeTransaction parses a wire payload.
func DecodeTransaction(payload []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	if tx.ID == "" {
		return nil, errors.New("transaction has no id")
	}
	return &tx, nil
}

// Encode serializes the transaction for transport.
func (tx *Transaction) Encode() ([]byte, error) {
	return json.Marshal(tx)
}

// Nullifiers lists the nullifiers this transaction reveals, in input order.
func (tx *Transaction) Nullifiers() []string {
	out := make([]string, len(tx.Inputs))
	for i, in := range tx.Inputs {
		out[i] = in.Nullifier
	}
	return out
}

// Publics assembles the public inputs handed to the proof oracle.
func (tx *Transaction) Publics() proof.Publics {
	pub := proof.Publics{
		Nullifiers:     make([]string, 0, len(tx.Inputs)),
		InCommitments:  make([]string, 0, len(tx.Inputs)),
		OutCommitments: make([]string, 0, len(tx.Outputs)),
		Amount:         tx.Public.Amount,
		Fee:            tx.Public.Fee,
	}
	for _, in := range tx.Inputs {
		pub.Nullifiers = append(pub.Nullifiers, in.Nullifier)
		pub.InCommitments = append(pub.InCommitments, in.Commitment)
	}
	for _, out := range tx.Outputs {
		pub.OutCommitments = append(pub.OutCommitments, out.Commitment)
	}
	if id, err := tx.ValidatorID(); err == nil && !id.IsZero() {
		pub.Validator = id[:]
	}
	return pub
}

// ValidatorID joins the two public halves into the single identity used
// internally. Returns an error if the halves are missing or malformed.
func (tx *Transaction) ValidatorID() (record.ValidatorID, error) {
	return record.JoinValidatorID(tx.Public.ValidatorHigh, tx.Public.ValidatorLow)
}

// IsStaking reports whether the function kind moves validator power.
func (tx *Transaction) IsStaking() bool {
	return tx.Kind == proof.KindStake || tx.Kind == proof.KindUnstake
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("%s(%s)", tx.Kind, tx.ID)
}
