// digest.go - Deterministic state digest.
//
// The digest is the app-state commitment handed back to consensus at every
// commit. Replicas diverge permanently if two equal states ever hash
// differently, so each set is canonically sorted before hashing and no map
// iteration order leaks into the result.

package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
)

// Digest computes the commitment over the full ledger state: the unspent
// record set, the spent nullifier set and the validator stake table. It is a
// pure function of the sets' contents.
func Digest(s *State) []byte {
	h := sha256.New()

	records := s.Records()
	writeLen(h, len(records))
	for _, r := range records {
		writeBytes(h, []byte(r.Commitment))
		writeBytes(h, r.Ciphertext)
	}

	nullifiers := s.Nullifiers()
	writeLen(h, len(nullifiers))
	for _, nf := range nullifiers {
		writeBytes(h, []byte(nf))
	}

	validators := s.Validators()
	writeLen(h, len(validators))
	for _, v := range validators {
		writeBytes(h, []byte(v.Validator))
		var power [8]byte
		binary.BigEndian.PutUint64(power[:], v.Power)
		h.Write(power[:])
	}

	return h.Sum(nil)
}

func writeLen(w io.Writer, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	w.Write(buf[:])
}

func writeBytes(w io.Writer, b []byte) {
	writeLen(w, len(b))
	w.Write(b)
}
