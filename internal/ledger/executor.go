// executor.go - Deterministic transaction execution.
//
// Execute is a pure function from (view, transaction) to a state delta or a
// transaction-scoped rejection. It consults no clock, no process-local
// randomness and no map iteration order: replicas executing the same block
// over the same prior state must produce byte-identical deltas.

package ledger

import (
	"errors"
	"fmt"
	"math"

	"zkledger/internal/proof"
)

// Transaction-scoped rejection kinds. The offending transaction is excluded;
// the block and the adapter continue.
var (
	ErrInvalidProof         = errors.New("invalid proof")
	ErrDoubleSpend          = errors.New("double spend")
	ErrUnknownRecord        = errors.New("unknown record")
	ErrMalformedTransaction = errors.New("malformed transaction")
)

// arity fixes the input/output record counts per function kind.
type arity struct {
	inputs     int
	outMin     int
	outMax     int
	revealsVal bool // carries a public validator identity and amount
}

var arities = map[string]arity{
	proof.KindTransfer: {inputs: 1, outMin: 2, outMax: 2},
	proof.KindCombine:  {inputs: 2, outMin: 1, outMax: 1},
	proof.KindSplit:    {inputs: 1, outMin: 2, outMax: 2},
	proof.KindFee:      {inputs: 1, outMin: 1, outMax: 1},
	proof.KindStake:    {inputs: 1, outMin: 2, outMax: 2, revealsVal: true},
	proof.KindUnstake:  {inputs: 1, outMin: 1, outMax: 2, revealsVal: true},
	proof.KindMint:     {inputs: 0, outMin: 1, outMax: 1},
	proof.KindConsume:  {inputs: 1, outMin: 0, outMax: 0},
}

// Execute validates a transaction against the given view and produces its
// state delta. The view is read, never written; the caller decides whether
// and where the delta is applied (block view, mempool overlay, or dropped).
func Execute(view View, verifier proof.Verifier, tx *Transaction) (*Delta, error) {
	if err := checkShape(tx); err != nil {
		return nil, err
	}

	if err := verifier.Verify(tx.Kind, tx.Publics(), tx.Proof); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	if err := checkInputs(view, tx); err != nil {
		return nil, err
	}

	if err := checkArithmetic(view, tx); err != nil {
		return nil, err
	}

	return buildDelta(tx)
}

// checkShape rejects transactions whose declared structure does not match
// their function kind. Exhaustive over kinds: unknown kinds are malformed.
func checkShape(tx *Transaction) error {
	a, ok := arities[tx.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown function kind %q", ErrMalformedTransaction, tx.Kind)
	}
	if len(tx.Inputs) != a.inputs {
		return fmt.Errorf("%w: %s wants %d inputs, got %d", ErrMalformedTransaction, tx.Kind, a.inputs, len(tx.Inputs))
	}
	if len(tx.Outputs) < a.outMin || len(tx.Outputs) > a.outMax {
		return fmt.Errorf("%w: %s has %d outputs", ErrMalformedTransaction, tx.Kind, len(tx.Outputs))
	}
	for _, in := range tx.Inputs {
		if in.Nullifier == "" || in.Commitment == "" {
			return fmt.Errorf("%w: input with empty nullifier or commitment", ErrMalformedTransaction)
		}
	}
	for _, out := range tx.Outputs {
		if out.Commitment == "" {
			return fmt.Errorf("%w: output with empty commitment", ErrMalformedTransaction)
		}
	}

	if a.revealsVal {
		if _, err := tx.ValidatorID(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
		}
		if tx.Public.Amount == 0 {
			return fmt.Errorf("%w: %s with zero amount", ErrMalformedTransaction, tx.Kind)
		}
	} else if len(tx.Public.ValidatorHigh) != 0 || len(tx.Public.ValidatorLow) != 0 {
		return fmt.Errorf("%w: %s must not carry a validator identity", ErrMalformedTransaction, tx.Kind)
	}

	switch tx.Kind {
	case proof.KindMint:
		if tx.Public.Amount == 0 {
			return fmt.Errorf("%w: mint with zero amount", ErrMalformedTransaction)
		}
	case proof.KindFee:
		if tx.Public.Fee == 0 {
			return fmt.Errorf("%w: fee transaction with zero fee", ErrMalformedTransaction)
		}
	}
	if tx.Public.Amount > math.MaxInt64 {
		return fmt.Errorf("%w: amount out of range", ErrMalformedTransaction)
	}
	return nil
}

// checkInputs enforces the double-spend and existence rules against the
// view's staged state. A nullifier repeated within the transaction itself is
// a double spend too.
func checkInputs(view View, tx *Transaction) error {
	seenNf := make(map[string]struct{}, len(tx.Inputs))
	seenCm := make(map[string]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seenNf[in.Nullifier]; dup {
			return fmt.Errorf("%w: nullifier %s repeated in transaction", ErrDoubleSpend, in.Nullifier)
		}
		seenNf[in.Nullifier] = struct{}{}
		if _, dup := seenCm[in.Commitment]; dup {
			return fmt.Errorf("%w: commitment %s repeated in transaction", ErrDoubleSpend, in.Commitment)
		}
		seenCm[in.Commitment] = struct{}{}

		if view.SpentNullifier(in.Nullifier) {
			return fmt.Errorf("%w: nullifier %s already spent", ErrDoubleSpend, in.Nullifier)
		}
		if !view.HasCommitment(in.Commitment) {
			return fmt.Errorf("%w: commitment %s not in unspent set", ErrUnknownRecord, in.Commitment)
		}
	}
	for _, out := range tx.Outputs {
		if view.HasCommitment(out.Commitment) {
			return fmt.Errorf("%w: output commitment %s already exists", ErrMalformedTransaction, out.Commitment)
		}
	}
	return nil
}

// checkArithmetic enforces the publicly checkable value rules. Conservation
// of the private amounts is attested by the proof; the revealed values are
// never taken on faith from the proof alone.
func checkArithmetic(view View, tx *Transaction) error {
	if tx.Kind != proof.KindUnstake {
		return nil
	}
	id, err := tx.ValidatorID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	power := view.ValidatorPower(id.String())
	if tx.Public.Amount > power {
		return fmt.Errorf("%w: unstake of %d exceeds staked power %d", ErrMalformedTransaction, tx.Public.Amount, power)
	}
	return nil
}

// buildDelta translates an accepted transaction into its state delta.
func buildDelta(tx *Transaction) (*Delta, error) {
	d := NewDelta()
	for _, in := range tx.Inputs {
		d.Spent = append(d.Spent, in.Nullifier)
		d.Consumed = append(d.Consumed, in.Commitment)
	}
	for _, out := range tx.Outputs {
		d.Records[out.Commitment] = out.Ciphertext
	}

	if tx.IsStaking() {
		id, err := tx.ValidatorID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
		}
		change := int64(tx.Public.Amount)
		if tx.Kind == proof.KindUnstake {
			change = -change
		}
		d.Stake[id.String()] = change
	}
	return d, nil
}
