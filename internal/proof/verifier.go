// verifier.go - Proof verification oracle for the ledger state machine.
//
// The executor treats proof verification as a black box: given a function
// kind, the transaction's public inputs and an opaque proof, the oracle
// accepts or rejects. The production implementation verifies Groth16 proofs
// over BW6-761 against a fixed verifying key per function kind.

package proof

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// Function kinds with a circuit and verifying key. Split shares the transfer
// circuit: both spend one value record into two.
const (
	KindTransfer = "transfer"
	KindCombine  = "combine"
	KindSplit    = "split"
	KindFee      = "fee"
	KindStake    = "stake"
	KindUnstake  = "unstake"
	KindMint     = "mint"
	KindConsume  = "consume"
)

// Kinds lists every function kind, in a fixed order.
var Kinds = []string{
	KindTransfer, KindCombine, KindSplit, KindFee,
	KindStake, KindUnstake, KindMint, KindConsume,
}

// Publics are the public inputs a transaction reveals; the oracle checks the
// proof against exactly these values.
type Publics struct {
	Nullifiers     []string // hex, one per consumed record
	InCommitments  []string // hex, prior commitments referenced by inputs
	OutCommitments []string // hex, newly created records
	Amount         uint64   // revealed amount (mint, stake, unstake)
	Fee            uint64   // revealed fee (fee)
	Validator      []byte   // 32-byte validator identity (stake, unstake)
}

// Verifier is the proof verification oracle. Implementations must be
// deterministic and side-effect-free; the executor calls Verify once per
// transaction.
type Verifier interface {
	Verify(kind string, pub Publics, proof []byte) error
}

// VerifierFunc adapts a function to the Verifier interface. Tests use it to
// substitute the oracle.
type VerifierFunc func(kind string, pub Publics, proof []byte) error

func (f VerifierFunc) Verify(kind string, pub Publics, proof []byte) error {
	return f(kind, pub, proof)
}

// Groth16Verifier verifies transaction proofs against a fixed set of
// verifying keys, one per function kind.
type Groth16Verifier struct {
	keys map[string]groth16.VerifyingKey
}

// NewGroth16Verifier loads the verifying keys for all function kinds from dir.
func NewGroth16Verifier(dir string) (*Groth16Verifier, error) {
	keys := make(map[string]groth16.VerifyingKey, len(Kinds))
	for _, kind := range Kinds {
		vk, err := LoadVerifyingKey(verifyingKeyPath(dir, kind))
		if err != nil {
			return nil, fmt.Errorf("loading verifying key for %s: %w", kind, err)
		}
		keys[kind] = vk
	}
	return &Groth16Verifier{keys: keys}, nil
}

// Verify checks the Groth16 proof for the given kind against the public
// inputs. Any mismatch between proof and publics fails verification.
func (v *Groth16Verifier) Verify(kind string, pub Publics, proofBytes []byte) error {
	vk, ok := v.keys[kind]
	if !ok {
		return fmt.Errorf("no verifying key for function %q", kind)
	}

	assignment, err := publicAssignment(kind, pub)
	if err != nil {
		return err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("building public witness: %w", err)
	}

	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("unmarshaling proof: %w", err)
	}
	if err := groth16.Verify(proof, vk, witness); err != nil {
		return fmt.Errorf("proof verification failed: %w", err)
	}
	return nil
}

// circuitFor returns an empty circuit of the right shape for compilation.
func circuitFor(kind string) (frontend.Circuit, error) {
	switch kind {
	case KindTransfer, KindSplit:
		return &TransferCircuit{}, nil
	case KindCombine:
		return &CombineCircuit{}, nil
	case KindFee:
		return &FeeCircuit{}, nil
	case KindMint:
		return &MintCircuit{}, nil
	case KindConsume:
		return &ConsumeCircuit{}, nil
	case KindStake:
		return &StakeCircuit{}, nil
	case KindUnstake:
		return &UnstakeCircuit{}, nil
	default:
		return nil, fmt.Errorf("unknown function kind %q", kind)
	}
}

// publicAssignment builds the public witness assignment for a kind from the
// transaction's revealed values.
func publicAssignment(kind string, pub Publics) (frontend.Circuit, error) {
	switch kind {
	case KindTransfer, KindSplit:
		if err := checkShape(pub, 1, 2); err != nil {
			return nil, err
		}
		return &TransferCircuit{
			InNullifier:  hexVar(pub.Nullifiers[0]),
			InCommitment: hexVar(pub.InCommitments[0]),
			OutCommitment: [2]frontend.Variable{
				hexVar(pub.OutCommitments[0]),
				hexVar(pub.OutCommitments[1]),
			},
		}, nil
	case KindCombine:
		if err := checkShape(pub, 2, 1); err != nil {
			return nil, err
		}
		return &CombineCircuit{
			InNullifier: [2]frontend.Variable{
				hexVar(pub.Nullifiers[0]), hexVar(pub.Nullifiers[1]),
			},
			InCommitment: [2]frontend.Variable{
				hexVar(pub.InCommitments[0]), hexVar(pub.InCommitments[1]),
			},
			OutCommitment: hexVar(pub.OutCommitments[0]),
		}, nil
	case KindFee:
		if err := checkShape(pub, 1, 1); err != nil {
			return nil, err
		}
		return &FeeCircuit{
			InNullifier:   hexVar(pub.Nullifiers[0]),
			InCommitment:  hexVar(pub.InCommitments[0]),
			OutCommitment: hexVar(pub.OutCommitments[0]),
			Fee:           pub.Fee,
		}, nil
	case KindMint:
		if err := checkShape(pub, 0, 1); err != nil {
			return nil, err
		}
		return &MintCircuit{
			OutCommitment: hexVar(pub.OutCommitments[0]),
			Amount:        pub.Amount,
		}, nil
	case KindConsume:
		if err := checkShape(pub, 1, 0); err != nil {
			return nil, err
		}
		return &ConsumeCircuit{
			InNullifier:  hexVar(pub.Nullifiers[0]),
			InCommitment: hexVar(pub.InCommitments[0]),
		}, nil
	case KindStake:
		if err := checkShape(pub, 1, 2); err != nil {
			return nil, err
		}
		return &StakeCircuit{
			InNullifier:     hexVar(pub.Nullifiers[0]),
			InCommitment:    hexVar(pub.InCommitments[0]),
			OutCommitment:   hexVar(pub.OutCommitments[0]),
			StakeCommitment: hexVar(pub.OutCommitments[1]),
			Amount:          pub.Amount,
			Validator:       new(big.Int).SetBytes(pub.Validator),
		}, nil
	case KindUnstake:
		if len(pub.Nullifiers) != 1 || len(pub.InCommitments) != 1 ||
			len(pub.OutCommitments) < 1 || len(pub.OutCommitments) > 2 {
			return nil, fmt.Errorf("unstake publics have wrong shape")
		}
		c := &UnstakeCircuit{
			InNullifier:         hexVar(pub.Nullifiers[0]),
			InCommitment:        hexVar(pub.InCommitments[0]),
			OutCommitment:       hexVar(pub.OutCommitments[0]),
			RemainderCommitment: 0,
			HasRemainder:        0,
			Amount:              pub.Amount,
			Validator:           new(big.Int).SetBytes(pub.Validator),
		}
		if len(pub.OutCommitments) == 2 {
			c.RemainderCommitment = hexVar(pub.OutCommitments[1])
			c.HasRemainder = 1
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown function kind %q", kind)
	}
}

func checkShape(pub Publics, inputs, outputs int) error {
	if len(pub.Nullifiers) != inputs || len(pub.InCommitments) != inputs || len(pub.OutCommitments) != outputs {
		return fmt.Errorf("publics have wrong shape: want %d inputs and %d outputs", inputs, outputs)
	}
	return nil
}

// hexVar converts a hex-encoded field element to a witness variable.
// Invalid hex becomes zero, which cannot verify against an honest proof.
func hexVar(s string) frontend.Variable {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0
	}
	return new(big.Int).SetBytes(b)
}
