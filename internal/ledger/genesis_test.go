package ledger

import (
	"bytes"
	"testing"

	"zkledger/internal/record"
)

func testValidator(b byte, power uint64) GenesisValidator {
	var id record.ValidatorID
	id[0] = b
	hi, lo := id.Halves()
	return GenesisValidator{AddressHigh: hi, AddressLow: lo, Power: power}
}

func TestBuildGenesisRoundTrip(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	premine := []Premine{
		{OwnerPk: alice.key.Pk, OwnerDH: alice.dh.Pk, Amount: 100},
		{OwnerPk: bob.key.Pk, OwnerDH: bob.dh.Pk, Amount: 50},
	}
	vals := []GenesisValidator{testValidator(1, 10), testValidator(2, 20)}

	g, plain, err := BuildGenesis("zkledger-test", premine, vals)
	if err != nil {
		t.Fatalf("BuildGenesis: %v", err)
	}
	if len(plain) != 2 || plain[0].Amount != 100 || plain[1].Amount != 50 {
		t.Fatalf("plaintext records not returned: %v", plain)
	}

	payload, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := ParseGenesis(payload)
	if err != nil {
		t.Fatalf("ParseGenesis: %v", err)
	}

	s, err := parsed.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	for _, r := range plain {
		if !s.HasCommitment(r.CommitmentHex()) {
			t.Errorf("premine record %s missing from genesis state", r.CommitmentHex())
		}
	}
	var v1 record.ValidatorID
	v1[0] = 1
	if s.ValidatorPower(v1.String()) != 10 {
		t.Errorf("genesis stake table not materialized")
	}

	// owners can recover their allocations from the document alone
	ct, _ := s.Ciphertext(plain[0].CommitmentHex())
	got, ok := record.Recognize(plain[0].Commitment(), ct, alice.dh.Sk, alice.key.Pk)
	if !ok || got.Amount != 100 {
		t.Errorf("owner cannot recognize premine record")
	}
}

func TestGenesisStateDigestIsStable(t *testing.T) {
	alice := newAccount(t)
	g, _, err := BuildGenesis("zkledger-test", []Premine{{OwnerPk: alice.key.Pk, OwnerDH: alice.dh.Pk, Amount: 1}}, nil)
	if err != nil {
		t.Fatalf("BuildGenesis: %v", err)
	}
	payload, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	s1, err := g.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	parsed, err := ParseGenesis(payload)
	if err != nil {
		t.Fatalf("ParseGenesis: %v", err)
	}
	s2, err := parsed.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !bytes.Equal(Digest(s1), Digest(s2)) {
		t.Fatalf("genesis digest changed across encode/parse")
	}
}

func TestGenesisValidation(t *testing.T) {
	alice := newAccount(t)

	t.Run("duplicate commitment", func(t *testing.T) {
		g := &Genesis{Records: []GenesisRecord{
			{Commitment: "cm1", Ciphertext: []byte("a")},
			{Commitment: "cm1", Ciphertext: []byte("b")},
		}}
		if _, err := parseGenesisDoc(t, g); err == nil {
			t.Fatalf("duplicate commitment accepted")
		}
	})
	t.Run("zero power validator", func(t *testing.T) {
		g := &Genesis{Validators: []GenesisValidator{testValidator(1, 0)}}
		if _, err := parseGenesisDoc(t, g); err == nil {
			t.Fatalf("zero-power validator accepted")
		}
	})
	t.Run("malformed address halves", func(t *testing.T) {
		v := testValidator(1, 10)
		v.AddressLow = v.AddressLow[:4]
		g := &Genesis{Validators: []GenesisValidator{v}}
		if _, err := parseGenesisDoc(t, g); err == nil {
			t.Fatalf("short address half accepted")
		}
	})
	t.Run("duplicate validator", func(t *testing.T) {
		g := &Genesis{Validators: []GenesisValidator{testValidator(1, 10), testValidator(1, 20)}}
		if _, err := parseGenesisDoc(t, g); err == nil {
			t.Fatalf("duplicate validator accepted")
		}
	})
	t.Run("zero amount premine", func(t *testing.T) {
		if _, _, err := BuildGenesis("", []Premine{{OwnerPk: alice.key.Pk, OwnerDH: alice.dh.Pk, Amount: 0}}, nil); err == nil {
			t.Fatalf("zero-amount premine accepted")
		}
	})
}

// parseGenesisDoc round-trips a document through its wire encoding so the
// same validation path runs as on a loaded file.
func parseGenesisDoc(t *testing.T, g *Genesis) (*Genesis, error) {
	t.Helper()
	payload, err := g.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return ParseGenesis(payload)
}
