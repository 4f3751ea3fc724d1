// circuits.go - Groth16 circuits for the ledger transaction functions.
//
// One circuit per transaction function family. Each circuit proves, in zero
// knowledge, that the spender owns the consumed records, that nullifiers and
// commitments were derived correctly, and that value is conserved between
// inputs, outputs and the publicly revealed amounts. The in-circuit MiMC
// calls mirror the native hashing in the record package exactly.

package proof

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// assertInput constrains pk = MiMC(sk) and nf = MiMC(sk, rho), and binds the
// input record commitment to its contents.
func assertInput(api frontend.API, sk, rho, rnd, amount, validator, commitment, nullifier frontend.Variable) {
	hasher, _ := mimc.NewMiMC(api)

	hasher.Write(sk)
	pk := hasher.Sum()

	hasher.Reset()
	hasher.Write(sk)
	hasher.Write(rho)
	api.AssertIsEqual(nullifier, hasher.Sum())

	assertCommitment(api, pk, amount, validator, rho, rnd, commitment)
	api.ToBinary(amount, 64)
}

// assertOutput binds an output commitment to its private contents.
func assertOutput(api frontend.API, owner, amount, validator, rho, rnd, commitment frontend.Variable) {
	assertCommitment(api, owner, amount, validator, rho, rnd, commitment)
	api.ToBinary(amount, 64)
}

// assertCommitment constrains cm = MiMC(owner || amount || validator || rho || rand).
func assertCommitment(api frontend.API, owner, amount, validator, rho, rnd, commitment frontend.Variable) {
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(owner)
	hasher.Write(amount)
	hasher.Write(validator)
	hasher.Write(rho)
	hasher.Write(rnd)
	api.AssertIsEqual(commitment, hasher.Sum())
}

// TransferCircuit spends one value record into two value records
// (recipient plus change). Also used for split, which has the same shape.
type TransferCircuit struct {
	// Public inputs
	InNullifier   frontend.Variable    `gnark:",public"`
	InCommitment  frontend.Variable    `gnark:",public"`
	OutCommitment [2]frontend.Variable `gnark:",public"`

	// Private inputs
	InSk      frontend.Variable
	InRho     frontend.Variable
	InRand    frontend.Variable
	InAmount  frontend.Variable
	OutOwner  [2]frontend.Variable
	OutRho    [2]frontend.Variable
	OutRand   [2]frontend.Variable
	OutAmount [2]frontend.Variable
}

func (c *TransferCircuit) Define(api frontend.API) error {
	assertInput(api, c.InSk, c.InRho, c.InRand, c.InAmount, 0, c.InCommitment, c.InNullifier)
	for i := 0; i < 2; i++ {
		assertOutput(api, c.OutOwner[i], c.OutAmount[i], 0, c.OutRho[i], c.OutRand[i], c.OutCommitment[i])
	}
	// value conservation
	api.AssertIsEqual(c.InAmount, api.Add(c.OutAmount[0], c.OutAmount[1]))
	return nil
}

// CombineCircuit merges two value records into one.
type CombineCircuit struct {
	InNullifier   [2]frontend.Variable `gnark:",public"`
	InCommitment  [2]frontend.Variable `gnark:",public"`
	OutCommitment frontend.Variable    `gnark:",public"`

	InSk      [2]frontend.Variable
	InRho     [2]frontend.Variable
	InRand    [2]frontend.Variable
	InAmount  [2]frontend.Variable
	OutOwner  frontend.Variable
	OutRho    frontend.Variable
	OutRand   frontend.Variable
	OutAmount frontend.Variable
}

func (c *CombineCircuit) Define(api frontend.API) error {
	for i := 0; i < 2; i++ {
		assertInput(api, c.InSk[i], c.InRho[i], c.InRand[i], c.InAmount[i], 0, c.InCommitment[i], c.InNullifier[i])
	}
	assertOutput(api, c.OutOwner, c.OutAmount, 0, c.OutRho, c.OutRand, c.OutCommitment)
	api.AssertIsEqual(api.Add(c.InAmount[0], c.InAmount[1]), c.OutAmount)
	return nil
}

// FeeCircuit spends a value record into a smaller one, revealing the burned
// fee publicly.
type FeeCircuit struct {
	InNullifier   frontend.Variable `gnark:",public"`
	InCommitment  frontend.Variable `gnark:",public"`
	OutCommitment frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`

	InSk      frontend.Variable
	InRho     frontend.Variable
	InRand    frontend.Variable
	InAmount  frontend.Variable
	OutOwner  frontend.Variable
	OutRho    frontend.Variable
	OutRand   frontend.Variable
	OutAmount frontend.Variable
}

func (c *FeeCircuit) Define(api frontend.API) error {
	assertInput(api, c.InSk, c.InRho, c.InRand, c.InAmount, 0, c.InCommitment, c.InNullifier)
	assertOutput(api, c.OutOwner, c.OutAmount, 0, c.OutRho, c.OutRand, c.OutCommitment)
	api.AssertIsEqual(c.InAmount, api.Add(c.OutAmount, c.Fee))
	api.ToBinary(c.Fee, 64)
	return nil
}

// MintCircuit creates a value record with a publicly revealed amount.
type MintCircuit struct {
	OutCommitment frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`

	OutOwner frontend.Variable
	OutRho   frontend.Variable
	OutRand  frontend.Variable
}

func (c *MintCircuit) Define(api frontend.API) error {
	assertOutput(api, c.OutOwner, c.Amount, 0, c.OutRho, c.OutRand, c.OutCommitment)
	return nil
}

// ConsumeCircuit destroys a value record, proving ownership only.
type ConsumeCircuit struct {
	InNullifier  frontend.Variable `gnark:",public"`
	InCommitment frontend.Variable `gnark:",public"`

	InSk     frontend.Variable
	InRho    frontend.Variable
	InRand   frontend.Variable
	InAmount frontend.Variable
}

func (c *ConsumeCircuit) Define(api frontend.API) error {
	assertInput(api, c.InSk, c.InRho, c.InRand, c.InAmount, 0, c.InCommitment, c.InNullifier)
	return nil
}

// StakeCircuit spends a value record into a liquid remainder and a staking
// record bound to a validator. The staked amount and the validator identity
// are public.
type StakeCircuit struct {
	InNullifier     frontend.Variable `gnark:",public"`
	InCommitment    frontend.Variable `gnark:",public"`
	OutCommitment   frontend.Variable `gnark:",public"` // liquid remainder
	StakeCommitment frontend.Variable `gnark:",public"`
	Amount          frontend.Variable `gnark:",public"`
	Validator       frontend.Variable `gnark:",public"`

	InSk      frontend.Variable
	InRho     frontend.Variable
	InRand    frontend.Variable
	InAmount  frontend.Variable
	OutOwner  frontend.Variable
	OutRho    frontend.Variable
	OutRand   frontend.Variable
	OutAmount frontend.Variable
	StakeRho  frontend.Variable
	StakeRand frontend.Variable
}

func (c *StakeCircuit) Define(api frontend.API) error {
	assertInput(api, c.InSk, c.InRho, c.InRand, c.InAmount, 0, c.InCommitment, c.InNullifier)
	assertOutput(api, c.OutOwner, c.OutAmount, 0, c.OutRho, c.OutRand, c.OutCommitment)
	// the staking record keeps the same owner as the spent record
	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.InSk)
	owner := hasher.Sum()
	assertOutput(api, owner, c.Amount, c.Validator, c.StakeRho, c.StakeRand, c.StakeCommitment)
	api.AssertIsEqual(c.InAmount, api.Add(c.OutAmount, c.Amount))
	api.ToBinary(c.Amount, 64)
	return nil
}

// UnstakeCircuit spends a staking record back into liquid value, optionally
// leaving a reduced staking record. HasRemainder selects whether the
// remainder slot is constrained.
type UnstakeCircuit struct {
	InNullifier         frontend.Variable `gnark:",public"`
	InCommitment        frontend.Variable `gnark:",public"`
	OutCommitment       frontend.Variable `gnark:",public"` // liquid value out
	RemainderCommitment frontend.Variable `gnark:",public"`
	HasRemainder        frontend.Variable `gnark:",public"`
	Amount              frontend.Variable `gnark:",public"`
	Validator           frontend.Variable `gnark:",public"`

	InSk          frontend.Variable
	InRho         frontend.Variable
	InRand        frontend.Variable
	InAmount      frontend.Variable
	OutOwner      frontend.Variable
	OutRho        frontend.Variable
	OutRand       frontend.Variable
	RemainderRho  frontend.Variable
	RemainderRand frontend.Variable
}

func (c *UnstakeCircuit) Define(api frontend.API) error {
	api.AssertIsBoolean(c.HasRemainder)
	assertInput(api, c.InSk, c.InRho, c.InRand, c.InAmount, c.Validator, c.InCommitment, c.InNullifier)
	assertOutput(api, c.OutOwner, c.Amount, 0, c.OutRho, c.OutRand, c.OutCommitment)

	hasher, _ := mimc.NewMiMC(api)
	hasher.Write(c.InSk)
	owner := hasher.Sum()

	remainder := api.Sub(c.InAmount, c.Amount)
	api.ToBinary(remainder, 64)
	// remainder must be zero exactly when no remainder record is emitted
	api.AssertIsEqual(api.Mul(remainder, api.Sub(1, c.HasRemainder)), 0)

	hasher.Reset()
	hasher.Write(owner)
	hasher.Write(remainder)
	hasher.Write(c.Validator)
	hasher.Write(c.RemainderRho)
	hasher.Write(c.RemainderRand)
	expected := api.Select(c.HasRemainder, hasher.Sum(), c.RemainderCommitment)
	api.AssertIsEqual(c.RemainderCommitment, expected)
	api.ToBinary(c.Amount, 64)
	return nil
}
