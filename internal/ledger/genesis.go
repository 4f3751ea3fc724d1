// genesis.go - Deterministic initial ledger snapshot.
//
// The genesis document is produced once, distributed with the chain
// configuration, and loaded verbatim at chain initialization. It is never
// regenerated or mutated afterwards; every later state descends from it by
// block execution only.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"

	"zkledger/internal/record"
)

// GenesisRecord is a premine record: commitment plus owner-sealed ciphertext.
type GenesisRecord struct {
	Commitment string `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// GenesisValidator is one row of the initial stake table. The identity is
// carried as two fixed-width halves, like in staking transactions.
type GenesisValidator struct {
	AddressHigh []byte `json:"address_high"`
	AddressLow  []byte `json:"address_low"`
	Power       uint64 `json:"power"`
}

// Genesis is the height-0 application state document.
type Genesis struct {
	ChainID    string             `json:"chain_id,omitempty"`
	Records    []GenesisRecord    `json:"records"`
	Validators []GenesisValidator `json:"validators"`
}

// Premine describes one initial allocation: who owns it and how much.
type Premine struct {
	OwnerPk []byte
	OwnerDH *bls12377.G1Affine
	Amount  uint64
}

// BuildGenesis creates the genesis document for the given allocations and
// validator list. The plaintext records are returned as well so the operator
// can hand them to their owners; they never appear on-chain.
func BuildGenesis(chainID string, premine []Premine, validators []GenesisValidator) (*Genesis, []*record.Record, error) {
	g := &Genesis{ChainID: chainID, Validators: validators}
	records := make([]*record.Record, 0, len(premine))
	for _, p := range premine {
		if p.Amount == 0 {
			return nil, nil, errors.New("premine entry with zero amount")
		}
		r := record.NewValueRecord(p.OwnerPk, p.Amount)
		ct, err := record.Encrypt(r, p.OwnerDH)
		if err != nil {
			return nil, nil, fmt.Errorf("encrypting premine record: %w", err)
		}
		g.Records = append(g.Records, GenesisRecord{
			Commitment: r.CommitmentHex(),
			Ciphertext: ct,
		})
		records = append(records, r)
	}
	if err := g.validate(); err != nil {
		return nil, nil, err
	}
	return g, records, nil
}

// ParseGenesis decodes and validates a genesis document.
func ParseGenesis(payload []byte) (*Genesis, error) {
	var g Genesis
	if err := json.Unmarshal(payload, &g); err != nil {
		return nil, fmt.Errorf("decoding genesis: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Encode serializes the genesis document.
func (g *Genesis) Encode() ([]byte, error) {
	return json.MarshalIndent(g, "", "  ")
}

func (g *Genesis) validate() error {
	seen := make(map[string]struct{}, len(g.Records))
	for _, r := range g.Records {
		if r.Commitment == "" {
			return errors.New("genesis record with empty commitment")
		}
		if _, dup := seen[r.Commitment]; dup {
			return fmt.Errorf("genesis record commitment %s duplicated", r.Commitment)
		}
		seen[r.Commitment] = struct{}{}
	}
	seenVal := make(map[string]struct{}, len(g.Validators))
	for _, v := range g.Validators {
		id, err := record.JoinValidatorID(v.AddressHigh, v.AddressLow)
		if err != nil {
			return fmt.Errorf("genesis validator: %w", err)
		}
		if v.Power == 0 {
			return fmt.Errorf("genesis validator %s with zero power", id)
		}
		if _, dup := seenVal[id.String()]; dup {
			return fmt.Errorf("genesis validator %s duplicated", id)
		}
		seenVal[id.String()] = struct{}{}
	}
	return nil
}

// State materializes the height-0 ledger state.
func (g *Genesis) State() (*State, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	s := NewState()
	for _, r := range g.Records {
		s.AddRecord(r.Commitment, r.Ciphertext)
	}
	for _, v := range g.Validators {
		id, _ := record.JoinValidatorID(v.AddressHigh, v.AddressLow)
		s.SetValidatorPower(id.String(), v.Power)
	}
	return s, nil
}
