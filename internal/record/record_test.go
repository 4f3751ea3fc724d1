package record

import (
	"bytes"
	"testing"
)

func TestCommitmentIsStable(t *testing.T) {
	owner := NewOwnerKey()
	r := NewValueRecord(owner.Pk, 100)
	cm1 := r.Commitment()
	cm2 := r.Commitment()
	if !bytes.Equal(cm1, cm2) {
		t.Errorf("commitment changed between computations")
	}
	if len(cm1) == 0 {
		t.Errorf("commitment should not be empty")
	}
}

func TestCommitmentBindsContents(t *testing.T) {
	owner := NewOwnerKey()
	r := NewValueRecord(owner.Pk, 100)

	changed := *r
	changed.Amount = 101
	if bytes.Equal(r.Commitment(), changed.Commitment()) {
		t.Errorf("commitment should change with amount")
	}

	var validator ValidatorID
	validator[0] = 1
	staking := NewStakingRecord(owner.Pk, 100, validator)
	staking.Rho = r.Rho
	staking.Rand = r.Rand
	if bytes.Equal(r.Commitment(), staking.Commitment()) {
		t.Errorf("commitment should bind the validator identity")
	}
}

func TestNullifierUniquePerRecord(t *testing.T) {
	owner := NewOwnerKey()
	a := NewValueRecord(owner.Pk, 10)
	b := NewValueRecord(owner.Pk, 10)
	if a.NullifierHex(owner.Sk) == b.NullifierHex(owner.Sk) {
		t.Errorf("two records with distinct rho should have distinct nullifiers")
	}
	// deterministic for the same record and key
	if a.NullifierHex(owner.Sk) != a.NullifierHex(owner.Sk) {
		t.Errorf("nullifier should be deterministic")
	}
}

func TestValidatorIDHalvesRoundTrip(t *testing.T) {
	var id ValidatorID
	for i := range id {
		id[i] = byte(i + 1)
	}
	upper, lower := id.Halves()
	joined, err := JoinValidatorID(upper, lower)
	if err != nil {
		t.Fatalf("JoinValidatorID failed: %v", err)
	}
	if joined != id {
		t.Errorf("halves round trip mismatch: %s != %s", joined, id)
	}

	if _, err := JoinValidatorID(upper, lower[:8]); err == nil {
		t.Errorf("expected error for short half")
	}
}

func TestEncryptDecryptRecord(t *testing.T) {
	owner := NewOwnerKey()
	dh, err := NewDHKeyPair()
	if err != nil {
		t.Fatalf("NewDHKeyPair failed: %v", err)
	}

	r := NewValueRecord(owner.Pk, 42)
	blob, err := Encrypt(r, dh.Pk)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := Decrypt(blob, dh.Sk)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if got.Amount != r.Amount || !bytes.Equal(got.Owner, r.Owner) {
		t.Errorf("decrypted record does not match original")
	}
	if !bytes.Equal(got.Commitment(), r.Commitment()) {
		t.Errorf("decrypted record commitment mismatch")
	}
}

func TestRecognizeRejectsForeignRecords(t *testing.T) {
	alice := NewOwnerKey()
	bob := NewOwnerKey()
	aliceDH, _ := NewDHKeyPair()
	bobDH, _ := NewDHKeyPair()

	r := NewValueRecord(alice.Pk, 7)
	blob, err := Encrypt(r, aliceDH.Pk)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if got, ok := Recognize(r.Commitment(), blob, aliceDH.Sk, alice.Pk); !ok || got.Amount != 7 {
		t.Errorf("owner should recognize own record")
	}
	if _, ok := Recognize(r.Commitment(), blob, bobDH.Sk, bob.Pk); ok {
		t.Errorf("non-owner should not recognize the record")
	}
}
