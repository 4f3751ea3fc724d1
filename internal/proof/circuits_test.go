package proof

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"zkledger/internal/record"
)

func bigOf(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// Full prove/verify round trip for the transfer circuit. Skipped in short
// mode: Groth16 setup over BW6-761 takes a while.
func TestTransferCircuitEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is expensive")
	}

	ccs, err := Compile(KindTransfer)
	if err != nil {
		t.Fatalf("circuit compilation failed: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("groth16 setup failed: %v", err)
	}

	owner := record.NewOwnerKey()
	recipient := record.NewOwnerKey()
	in := record.NewValueRecord(owner.Pk, 100)
	out1 := record.NewValueRecord(recipient.Pk, 30)
	out2 := record.NewValueRecord(owner.Pk, 70)

	assignment := &TransferCircuit{
		InNullifier:  bigOf(in.Nullifier(owner.Sk)),
		InCommitment: bigOf(in.Commitment()),
		OutCommitment: [2]frontend.Variable{
			bigOf(out1.Commitment()), bigOf(out2.Commitment()),
		},
		InSk:      bigOf(owner.Sk),
		InRho:     bigOf(in.Rho),
		InRand:    bigOf(in.Rand),
		InAmount:  in.Amount,
		OutOwner:  [2]frontend.Variable{bigOf(out1.Owner), bigOf(out2.Owner)},
		OutRho:    [2]frontend.Variable{bigOf(out1.Rho), bigOf(out2.Rho)},
		OutRand:   [2]frontend.Variable{bigOf(out1.Rand), bigOf(out2.Rand)},
		OutAmount: [2]frontend.Variable{out1.Amount, out2.Amount},
	}

	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		t.Fatalf("witness creation failed: %v", err)
	}
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		t.Fatalf("proof generation failed: %v", err)
	}

	pub := Publics{
		Nullifiers:     []string{in.NullifierHex(owner.Sk)},
		InCommitments:  []string{in.CommitmentHex()},
		OutCommitments: []string{out1.CommitmentHex(), out2.CommitmentHex()},
	}
	pa, err := publicAssignment(KindTransfer, pub)
	if err != nil {
		t.Fatalf("public assignment failed: %v", err)
	}
	pw, err := frontend.NewWitness(pa, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	if err != nil {
		t.Fatalf("public witness creation failed: %v", err)
	}
	if err := groth16.Verify(proof, vk, pw); err != nil {
		t.Fatalf("proof verification failed: %v", err)
	}
}

func TestPublicAssignmentShapes(t *testing.T) {
	cases := []struct {
		kind    string
		pub     Publics
		wantErr bool
	}{
		{KindTransfer, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, OutCommitments: []string{"cc", "dd"}}, false},
		{KindTransfer, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, OutCommitments: []string{"cc"}}, true},
		{KindCombine, Publics{Nullifiers: []string{"aa", "bb"}, InCommitments: []string{"cc", "dd"}, OutCommitments: []string{"ee"}}, false},
		{KindMint, Publics{OutCommitments: []string{"aa"}, Amount: 5}, false},
		{KindMint, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, OutCommitments: []string{"cc"}}, true},
		{KindConsume, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}}, false},
		{KindUnstake, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, OutCommitments: []string{"cc"}, Validator: make([]byte, 32)}, false},
		{KindUnstake, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, OutCommitments: []string{"cc", "dd"}, Validator: make([]byte, 32)}, false},
		{KindUnstake, Publics{Nullifiers: []string{"aa"}, InCommitments: []string{"bb"}, Validator: make([]byte, 32)}, true},
		{"bogus", Publics{}, true},
	}
	for _, c := range cases {
		_, err := publicAssignment(c.kind, c.pub)
		if c.wantErr && err == nil {
			t.Errorf("%s: expected shape error, got nil", c.kind)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", c.kind, err)
		}
	}
}

func TestVerifierFunc(t *testing.T) {
	called := false
	v := VerifierFunc(func(kind string, pub Publics, proof []byte) error {
		called = true
		if kind != KindTransfer {
			t.Errorf("unexpected kind %q", kind)
		}
		return nil
	})
	if err := v.Verify(KindTransfer, Publics{}, nil); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !called {
		t.Fatalf("VerifierFunc not invoked")
	}
}
