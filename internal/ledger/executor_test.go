package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"zkledger/internal/proof"
	"zkledger/internal/record"
)

// acceptAll stands in for the proof oracle: executor tests exercise the
// ledger rules, not the proof system.
var acceptAll = proof.VerifierFunc(func(string, proof.Publics, []byte) error { return nil })

var rejectAll = proof.VerifierFunc(func(string, proof.Publics, []byte) error {
	return errors.New("proof does not verify")
})

type account struct {
	key *record.OwnerKey
	dh  *record.DHKeyPair
}

func newAccount(t *testing.T) *account {
	t.Helper()
	dh, err := record.NewDHKeyPair()
	if err != nil {
		t.Fatalf("NewDHKeyPair: %v", err)
	}
	return &account{key: record.NewOwnerKey(), dh: dh}
}

// fund inserts a fresh value record for the account into the state and
// returns it.
func fund(t *testing.T, s *State, acc *account, amount uint64) *record.Record {
	t.Helper()
	r := record.NewValueRecord(acc.key.Pk, amount)
	ct, err := record.Encrypt(r, acc.dh.Pk)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	s.AddRecord(r.CommitmentHex(), ct)
	return r
}

func input(acc *account, r *record.Record) Input {
	return Input{Nullifier: r.NullifierHex(acc.key.Sk), Commitment: r.CommitmentHex()}
}

func output(t *testing.T, acc *account, r *record.Record) Output {
	t.Helper()
	ct, err := record.Encrypt(r, acc.dh.Pk)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return Output{Commitment: r.CommitmentHex(), Ciphertext: ct}
}

// transferTx spends r into amount for `to` and the change back to `from`.
func transferTx(t *testing.T, from, to *account, r *record.Record, amount uint64) (*Transaction, *record.Record, *record.Record) {
	t.Helper()
	toRec := record.NewValueRecord(to.key.Pk, amount)
	change := record.NewValueRecord(from.key.Pk, r.Amount-amount)
	tx := NewTransaction(proof.KindTransfer)
	tx.Inputs = []Input{input(from, r)}
	tx.Outputs = []Output{output(t, to, toRec), output(t, from, change)}
	return tx, toRec, change
}

func stakeTx(t *testing.T, acc *account, r *record.Record, amount uint64, validator record.ValidatorID) (*Transaction, *record.Record, *record.Record) {
	t.Helper()
	change := record.NewValueRecord(acc.key.Pk, r.Amount-amount)
	staked := record.NewStakingRecord(acc.key.Pk, amount, validator)
	hi, lo := validator.Halves()
	tx := NewTransaction(proof.KindStake)
	tx.Inputs = []Input{input(acc, r)}
	tx.Outputs = []Output{output(t, acc, change), output(t, acc, staked)}
	tx.Public = Public{Amount: amount, ValidatorHigh: hi, ValidatorLow: lo}
	return tx, change, staked
}

func unstakeTx(t *testing.T, acc *account, staked *record.Record, amount uint64) (*Transaction, *record.Record) {
	t.Helper()
	liquid := record.NewValueRecord(acc.key.Pk, amount)
	hi, lo := staked.Validator.Halves()
	tx := NewTransaction(proof.KindUnstake)
	tx.Inputs = []Input{input(acc, staked)}
	tx.Outputs = []Output{output(t, acc, liquid)}
	if remainder := staked.Amount - amount; remainder > 0 {
		rest := record.NewStakingRecord(acc.key.Pk, remainder, staked.Validator)
		tx.Outputs = append(tx.Outputs, output(t, acc, rest))
	}
	tx.Public = Public{Amount: amount, ValidatorHigh: hi, ValidatorLow: lo}
	return tx, liquid
}

func mustExecute(t *testing.T, view View, tx *Transaction) *Delta {
	t.Helper()
	d, err := Execute(view, acceptAll, tx)
	if err != nil {
		t.Fatalf("Execute(%s) rejected: %v", tx.Kind, err)
	}
	return d
}

func TestTransferScenario(t *testing.T) {
	// value record {owner=A, amount=100}; transfer 30 to B leaves
	// {owner=B, amount=30} and {owner=A, amount=70}.
	alice := newAccount(t)
	bob := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	tx, toBob, change := transferTx(t, alice, bob, r0, 30)
	d := mustExecute(t, committed, tx)
	if err := committed.Apply(d); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if committed.HasCommitment(r0.CommitmentHex()) {
		t.Errorf("spent record still in unspent set")
	}
	if !committed.SpentNullifier(r0.NullifierHex(alice.key.Sk)) {
		t.Errorf("nullifier not in spent set")
	}
	if !committed.HasCommitment(toBob.CommitmentHex()) || !committed.HasCommitment(change.CommitmentHex()) {
		t.Errorf("output records missing from unspent set")
	}

	// Bob recognizes his record and Alice her change; Alice's unspent
	// holdings now sum to 70.
	ct, _ := committed.Ciphertext(toBob.CommitmentHex())
	got, ok := record.Recognize(toBob.Commitment(), ct, bob.dh.Sk, bob.key.Pk)
	if !ok || got.Amount != 30 {
		t.Fatalf("bob cannot recognize his 30-amount record")
	}
	var aliceTotal uint64
	for _, entry := range committed.Records() {
		ct, _ := committed.Ciphertext(entry.Commitment)
		if rec, ok := record.Recognize(mustHex(t, entry.Commitment), ct, alice.dh.Sk, alice.key.Pk); ok {
			aliceTotal += rec.Amount
		}
	}
	if aliceTotal != 70 {
		t.Errorf("alice unspent total = %d, want 70", aliceTotal)
	}
}

func TestDoubleSpendRejected(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	tx1, _, _ := transferTx(t, alice, bob, r0, 30)
	if err := committed.Apply(mustExecute(t, committed, tx1)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	tx2, _, _ := transferTx(t, alice, bob, r0, 10)
	if _, err := Execute(committed, acceptAll, tx2); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("want ErrDoubleSpend, got %v", err)
	}
}

func TestDoubleSpendWithinBlock(t *testing.T) {
	// the second spend of the same record must fail against the block
	// view's staged state, before anything is committed
	alice := newAccount(t)
	bob := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	block := NewStagedView(committed)
	tx1, _, _ := transferTx(t, alice, bob, r0, 30)
	block.Apply(mustExecute(t, block, tx1))

	tx2, _, _ := transferTx(t, alice, bob, r0, 10)
	if _, err := Execute(block, acceptAll, tx2); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("want ErrDoubleSpend, got %v", err)
	}
}

func TestSpendOfRecordCreatedInSameBlock(t *testing.T) {
	// a later transaction may spend an output a prior transaction in the
	// same block produced; the chained record nets out at promotion and
	// never reaches the committed unspent set
	alice := newAccount(t)
	bob := newAccount(t)
	carol := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	block := NewStagedView(committed)
	tx1, toBob, _ := transferTx(t, alice, bob, r0, 30)
	block.Apply(mustExecute(t, block, tx1))
	if !block.HasCommitment(toBob.CommitmentHex()) {
		t.Fatalf("block view does not expose the staged output")
	}

	tx2, toCarol, _ := transferTx(t, bob, carol, toBob, 10)
	block.Apply(mustExecute(t, block, tx2))
	if block.HasCommitment(toBob.CommitmentHex()) {
		t.Errorf("consumed staged record still visible in block view")
	}

	next := committed.Clone()
	if err := next.Apply(block.Delta()); err != nil {
		t.Fatalf("Apply of chained block delta: %v", err)
	}
	if next.HasCommitment(toBob.CommitmentHex()) {
		t.Errorf("netted record leaked into committed unspent set")
	}
	if !next.SpentNullifier(toBob.NullifierHex(bob.key.Sk)) {
		t.Errorf("nullifier of netted record missing from spent set")
	}
	if !next.HasCommitment(toCarol.CommitmentHex()) {
		t.Errorf("final output missing from unspent set")
	}
}

func TestDuplicateInputWithinTransaction(t *testing.T) {
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 50)

	tx := NewTransaction(proof.KindCombine)
	tx.Inputs = []Input{input(alice, r0), input(alice, r0)}
	tx.Outputs = []Output{output(t, alice, record.NewValueRecord(alice.key.Pk, 100))}
	if _, err := Execute(committed, acceptAll, tx); !errors.Is(err, ErrDoubleSpend) {
		t.Fatalf("want ErrDoubleSpend for duplicated input, got %v", err)
	}
}

func TestUnknownRecordRejected(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	committed := NewState()
	// record was never added to the state
	phantom := record.NewValueRecord(alice.key.Pk, 100)

	tx, _, _ := transferTx(t, alice, bob, phantom, 30)
	if _, err := Execute(committed, acceptAll, tx); !errors.Is(err, ErrUnknownRecord) {
		t.Fatalf("want ErrUnknownRecord, got %v", err)
	}
}

func TestInvalidProofRejected(t *testing.T) {
	alice := newAccount(t)
	bob := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	tx, _, _ := transferTx(t, alice, bob, r0, 30)
	if _, err := Execute(committed, rejectAll, tx); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("want ErrInvalidProof, got %v", err)
	}
}

func TestShapeRejections(t *testing.T) {
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	var validator record.ValidatorID
	validator[0] = 7
	hi, lo := validator.Halves()

	cases := []struct {
		name string
		tx   *Transaction
	}{
		{"unknown kind", func() *Transaction {
			tx := NewTransaction("teleport")
			return tx
		}()},
		{"transfer with one output", func() *Transaction {
			tx := NewTransaction(proof.KindTransfer)
			tx.Inputs = []Input{input(alice, r0)}
			tx.Outputs = []Output{output(t, alice, record.NewValueRecord(alice.key.Pk, 100))}
			return tx
		}()},
		{"transfer carrying validator identity", func() *Transaction {
			tx, _, _ := transferTx(t, alice, alice, r0, 30)
			tx.Public.ValidatorHigh = hi
			tx.Public.ValidatorLow = lo
			return tx
		}()},
		{"stake with zero amount", func() *Transaction {
			tx, _, _ := stakeTx(t, alice, r0, 40, validator)
			tx.Public.Amount = 0
			return tx
		}()},
		{"stake with malformed halves", func() *Transaction {
			tx, _, _ := stakeTx(t, alice, r0, 40, validator)
			tx.Public.ValidatorLow = tx.Public.ValidatorLow[:8]
			return tx
		}()},
		{"mint with zero amount", func() *Transaction {
			tx := NewTransaction(proof.KindMint)
			tx.Outputs = []Output{output(t, alice, record.NewValueRecord(alice.key.Pk, 0))}
			return tx
		}()},
		{"fee with zero fee", func() *Transaction {
			tx := NewTransaction(proof.KindFee)
			tx.Inputs = []Input{input(alice, r0)}
			tx.Outputs = []Output{output(t, alice, record.NewValueRecord(alice.key.Pk, 100))}
			return tx
		}()},
	}
	for _, c := range cases {
		if _, err := Execute(committed, acceptAll, c.tx); !errors.Is(err, ErrMalformedTransaction) {
			t.Errorf("%s: want ErrMalformedTransaction, got %v", c.name, err)
		}
	}
}

func TestStakeScenario(t *testing.T) {
	// stake({owner=A, amount=100}, 40, V) leaves a 60 liquid record, a 40
	// staking record and a +40 power delta for V.
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	var validator record.ValidatorID
	validator[31] = 9

	tx, change, staked := stakeTx(t, alice, r0, 40, validator)
	d := mustExecute(t, committed, tx)
	if d.Stake[validator.String()] != 40 {
		t.Fatalf("stake delta = %d, want +40", d.Stake[validator.String()])
	}
	if err := committed.Apply(d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if committed.ValidatorPower(validator.String()) != 40 {
		t.Errorf("validator power = %d, want 40", committed.ValidatorPower(validator.String()))
	}
	if !committed.HasCommitment(change.CommitmentHex()) || !committed.HasCommitment(staked.CommitmentHex()) {
		t.Errorf("stake outputs missing from unspent set")
	}
}

func TestStakeUnstakeRoundTrip(t *testing.T) {
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	var validator record.ValidatorID
	validator[0] = 3
	before := committed.ValidatorPower(validator.String())

	stake, _, staked := stakeTx(t, alice, r0, 40, validator)
	if err := committed.Apply(mustExecute(t, committed, stake)); err != nil {
		t.Fatalf("Apply stake: %v", err)
	}

	unstake, liquid := unstakeTx(t, alice, staked, 40)
	if len(unstake.Outputs) != 1 {
		t.Fatalf("full unstake should emit no remainder record")
	}
	if err := committed.Apply(mustExecute(t, committed, unstake)); err != nil {
		t.Fatalf("Apply unstake: %v", err)
	}

	if got := committed.ValidatorPower(validator.String()); got != before {
		t.Errorf("validator power = %d after round trip, want %d", got, before)
	}
	if liquid.Amount != 40 {
		t.Errorf("round trip returned %d, want the original 40", liquid.Amount)
	}
	if !committed.HasCommitment(liquid.CommitmentHex()) {
		t.Errorf("liquid record missing after unstake")
	}
}

func TestPartialUnstakeKeepsRemainder(t *testing.T) {
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	var validator record.ValidatorID
	validator[5] = 1

	stake, _, staked := stakeTx(t, alice, r0, 50, validator)
	if err := committed.Apply(mustExecute(t, committed, stake)); err != nil {
		t.Fatalf("Apply stake: %v", err)
	}

	unstake, _ := unstakeTx(t, alice, staked, 20)
	if len(unstake.Outputs) != 2 {
		t.Fatalf("partial unstake should emit a remainder staking record")
	}
	if err := committed.Apply(mustExecute(t, committed, unstake)); err != nil {
		t.Fatalf("Apply unstake: %v", err)
	}
	if got := committed.ValidatorPower(validator.String()); got != 30 {
		t.Errorf("validator power = %d, want 30", got)
	}
}

func TestUnstakeUnderflowRejected(t *testing.T) {
	alice := newAccount(t)
	committed := NewState()
	r0 := fund(t, committed, alice, 100)

	var validator record.ValidatorID
	validator[1] = 2

	stake, _, staked := stakeTx(t, alice, r0, 30, validator)
	if err := committed.Apply(mustExecute(t, committed, stake)); err != nil {
		t.Fatalf("Apply stake: %v", err)
	}

	// claim to unstake more than is staked
	unstake, _ := unstakeTx(t, alice, staked, 30)
	unstake.Public.Amount = 31
	if _, err := Execute(committed, acceptAll, unstake); !errors.Is(err, ErrMalformedTransaction) {
		t.Fatalf("want ErrMalformedTransaction for underflow, got %v", err)
	}
}

func TestExecutionIsDeterministic(t *testing.T) {
	// executing the same block twice from the same prior state must yield
	// identical digests
	alice := newAccount(t)
	bob := newAccount(t)

	base := NewState()
	r0 := fund(t, base, alice, 100)
	r1 := fund(t, base, alice, 25)
	var validator record.ValidatorID
	validator[2] = 4

	tx1, _, _ := transferTx(t, alice, bob, r0, 30)
	tx2, _, _ := stakeTx(t, alice, r1, 10, validator)
	block := []*Transaction{tx1, tx2}

	run := func() []byte {
		s := base.Clone()
		view := NewStagedView(s)
		for _, tx := range block {
			view.Apply(mustExecute(t, view, tx))
		}
		if err := s.Apply(view.Delta()); err != nil {
			t.Fatalf("Apply block delta: %v", err)
		}
		return Digest(s)
	}

	d1 := run()
	d2 := run()
	if !bytes.Equal(d1, d2) {
		t.Fatalf("same block produced different digests: %x vs %x", d1, d2)
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}
