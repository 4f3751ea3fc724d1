// keys.go - Groth16 key management for the transaction circuits.
//
// Every replica and every wallet must verify against the same fixed key set,
// so keys are generated once (at chain setup) and distributed as files, one
// proving/verifying pair per function kind.

package proof

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

func provingKeyPath(dir, kind string) string {
	return filepath.Join(dir, kind+".proving.key")
}

func verifyingKeyPath(dir, kind string) string {
	return filepath.Join(dir, kind+".verifying.key")
}

// Compile builds the constraint system for a function kind.
func Compile(kind string) (constraint.ConstraintSystem, error) {
	circuit, err := circuitFor(kind)
	if err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compiling %s circuit: %w", kind, err)
	}
	return ccs, nil
}

// Setup generates and saves the Groth16 key pair for every function kind.
// Existing key files are kept, so reruns only fill in what is missing.
func Setup(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, kind := range Kinds {
		pkPath := provingKeyPath(dir, kind)
		vkPath := verifyingKeyPath(dir, kind)
		if _, err := os.Stat(vkPath); err == nil {
			continue
		}
		ccs, err := Compile(kind)
		if err != nil {
			return err
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			return fmt.Errorf("setup for %s: %w", kind, err)
		}
		if err := saveKey(pkPath, pk); err != nil {
			return err
		}
		if err := saveKey(vkPath, vk); err != nil {
			return err
		}
	}
	return nil
}

func saveKey(path string, key io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = key.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk.
func LoadProvingKey(path string) (groth16.ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BW6_761)
	_, err = pk.ReadFrom(f)
	return pk, err
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	_, err = vk.ReadFrom(f)
	return vk, err
}

// ProvingKeyFor loads the proving key for a function kind from dir.
func ProvingKeyFor(dir, kind string) (groth16.ProvingKey, error) {
	return LoadProvingKey(provingKeyPath(dir, kind))
}

// Prove generates a proof for a full (private plus public) circuit assignment.
// Wallet-side only; the ledger never proves, it only verifies.
func Prove(kind string, assignment frontend.Circuit, pk groth16.ProvingKey) ([]byte, error) {
	ccs, err := Compile(kind)
	if err != nil {
		return nil, err
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("building witness: %w", err)
	}
	p, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		return nil, fmt.Errorf("proof generation failed: %w", err)
	}
	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("proof marshaling failed: %w", err)
	}
	return buf.Bytes(), nil
}
