// state.go - Ledger state views.
//
// Three views share one shape: the committed state, the in-progress block
// view, and the mempool admission overlay. The committed State is a plain
// value that is cloned, never aliased; the staged views layer a Delta on top
// of a committed snapshot and are discarded wholesale. Promotion is explicit:
// a block's accumulated delta is applied to a clone of the committed state at
// commit time, and the overlay is rebuilt from scratch afterwards.

package ledger

import (
	"fmt"
	"sort"
)

// View is the read interface executors run against. Implementations must be
// consistent for the duration of one transaction execution.
type View interface {
	// HasCommitment reports whether a commitment is in the unspent set.
	HasCommitment(cm string) bool
	// SpentNullifier reports whether a nullifier is in the spent set.
	SpentNullifier(nf string) bool
	// ValidatorPower returns the staked power for a validator (0 if absent).
	ValidatorPower(validator string) uint64
}

// ValidatorPowerEntry is one row of the stake table.
type ValidatorPowerEntry struct {
	Validator string
	Power     uint64
}

// RecordEntry is one row of the unspent set.
type RecordEntry struct {
	Commitment string
	Ciphertext []byte
}

// State holds the committed ledger state at some height: the unspent
// commitment set (with record ciphertexts), the spent nullifier set, and the
// validator stake table.
type State struct {
	records    map[string][]byte
	nullifiers map[string]struct{}
	stake      map[string]uint64
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		records:    make(map[string][]byte),
		nullifiers: make(map[string]struct{}),
		stake:      make(map[string]uint64),
	}
}

// Clone returns a deep copy. Views never share mutable maps.
func (s *State) Clone() *State {
	c := &State{
		records:    make(map[string][]byte, len(s.records)),
		nullifiers: make(map[string]struct{}, len(s.nullifiers)),
		stake:      make(map[string]uint64, len(s.stake)),
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k := range s.nullifiers {
		c.nullifiers[k] = struct{}{}
	}
	for k, v := range s.stake {
		c.stake[k] = v
	}
	return c
}

func (s *State) HasCommitment(cm string) bool {
	_, ok := s.records[cm]
	return ok
}

func (s *State) SpentNullifier(nf string) bool {
	_, ok := s.nullifiers[nf]
	return ok
}

func (s *State) ValidatorPower(validator string) uint64 {
	return s.stake[validator]
}

// Ciphertext returns the stored record ciphertext for a commitment.
func (s *State) Ciphertext(cm string) ([]byte, bool) {
	ct, ok := s.records[cm]
	return ct, ok
}

// AddRecord inserts an unspent record. Used when loading committed state.
func (s *State) AddRecord(cm string, ciphertext []byte) {
	s.records[cm] = ciphertext
}

// AddNullifier inserts a spent nullifier. Used when loading committed state.
func (s *State) AddNullifier(nf string) {
	s.nullifiers[nf] = struct{}{}
}

// SetValidatorPower sets a stake table row. Used when loading committed state.
func (s *State) SetValidatorPower(validator string, power uint64) {
	if power == 0 {
		delete(s.stake, validator)
		return
	}
	s.stake[validator] = power
}

// Records returns the unspent set sorted by commitment.
func (s *State) Records() []RecordEntry {
	out := make([]RecordEntry, 0, len(s.records))
	for cm, ct := range s.records {
		out = append(out, RecordEntry{Commitment: cm, Ciphertext: ct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commitment < out[j].Commitment })
	return out
}

// Nullifiers returns the spent set in sorted order.
func (s *State) Nullifiers() []string {
	out := make([]string, 0, len(s.nullifiers))
	for nf := range s.nullifiers {
		out = append(out, nf)
	}
	sort.Strings(out)
	return out
}

// Validators returns the stake table sorted by validator identity.
func (s *State) Validators() []ValidatorPowerEntry {
	out := make([]ValidatorPowerEntry, 0, len(s.stake))
	for v, p := range s.stake {
		out = append(out, ValidatorPowerEntry{Validator: v, Power: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Validator < out[j].Validator })
	return out
}

// Apply folds a delta into the state. Fails if the delta consumes records or
// reveals nullifiers the state does not agree with; callers validate via the
// executor first, so a failure here indicates a sequencing bug.
//
// A commitment both created and consumed by the same delta is a record that
// lived entirely within the block. It nets out: neither the insert nor the
// delete reaches the state, though its nullifier is still recorded.
func (s *State) Apply(d *Delta) error {
	netted := make(map[string]struct{})
	for _, cm := range d.Consumed {
		if _, ok := d.Records[cm]; ok {
			netted[cm] = struct{}{}
			continue
		}
		if _, ok := s.records[cm]; !ok {
			return fmt.Errorf("applying delta: consumed commitment %s not in unspent set", cm)
		}
	}
	for _, nf := range d.Spent {
		if _, ok := s.nullifiers[nf]; ok {
			return fmt.Errorf("applying delta: nullifier %s already spent", nf)
		}
	}
	for v, change := range d.Stake {
		if change < 0 && s.stake[v] < uint64(-change) {
			return fmt.Errorf("applying delta: stake underflow for validator %s", v)
		}
	}

	for _, cm := range d.Consumed {
		delete(s.records, cm)
	}
	for cm, ct := range d.Records {
		if _, ok := netted[cm]; ok {
			continue
		}
		s.records[cm] = ct
	}
	for _, nf := range d.Spent {
		s.nullifiers[nf] = struct{}{}
	}
	for v, change := range d.Stake {
		next := int64(s.stake[v]) + change
		s.SetValidatorPower(v, uint64(next))
	}
	return nil
}

// Delta is the state change produced by executing transactions: records
// created, commitments consumed, nullifiers revealed, and signed stake
// changes per validator.
type Delta struct {
	Records  map[string][]byte
	Consumed []string
	Spent    []string
	Stake    map[string]int64
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{
		Records: make(map[string][]byte),
		Stake:   make(map[string]int64),
	}
}

// Merge folds another delta into this one. Stake changes for the same
// validator are summed, never applied independently.
func (d *Delta) Merge(other *Delta) {
	for cm, ct := range other.Records {
		d.Records[cm] = ct
	}
	d.Consumed = append(d.Consumed, other.Consumed...)
	d.Spent = append(d.Spent, other.Spent...)
	for v, change := range other.Stake {
		d.Stake[v] += change
	}
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return len(d.Records) == 0 && len(d.Consumed) == 0 && len(d.Spent) == 0 && len(d.Stake) == 0
}

// StagedView layers an accumulating delta over a committed snapshot. It backs
// both the in-progress block view on the delivery path and the disposable
// mempool admission overlay. The base snapshot is owned by the view and never
// shared with the committed state.
type StagedView struct {
	base  *State
	delta *Delta
}

// NewStagedView creates a staged view over a snapshot of the given state.
func NewStagedView(committed *State) *StagedView {
	return &StagedView{base: committed.Clone(), delta: NewDelta()}
}

func (v *StagedView) HasCommitment(cm string) bool {
	// A record created and then consumed within the staged delta is spent,
	// so the consumed check comes first.
	for _, consumed := range v.delta.Consumed {
		if consumed == cm {
			return false
		}
	}
	if _, ok := v.delta.Records[cm]; ok {
		return true
	}
	return v.base.HasCommitment(cm)
}

func (v *StagedView) SpentNullifier(nf string) bool {
	for _, spent := range v.delta.Spent {
		if spent == nf {
			return true
		}
	}
	return v.base.SpentNullifier(nf)
}

func (v *StagedView) ValidatorPower(validator string) uint64 {
	power := int64(v.base.ValidatorPower(validator)) + v.delta.Stake[validator]
	if power < 0 {
		return 0
	}
	return uint64(power)
}

// Apply stages a transaction delta onto the view.
func (v *StagedView) Apply(d *Delta) {
	v.delta.Merge(d)
}

// Delta returns the accumulated staged delta.
func (v *StagedView) Delta() *Delta {
	return v.delta
}
