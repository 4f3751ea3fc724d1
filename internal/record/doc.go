// Package record implements the confidential record primitives of the
// zkledger protocol.
//
// Overview:
//   - Records are private {owner, amount} or {owner, amount, validator}
//     entries, visible on-chain only through their MiMC commitment
//   - Spending a record reveals its nullifier, a unique PRF output that the
//     ledger uses as its sole double-spend guard
//   - Records travel and persist as ciphertext: a BLS12-377 Diffie-Hellman
//     exchange plus a MiMC keystream seals each record towards its owner
//
// Security model:
//   - MiMC over the BW6-761 scalar field for commitments, nullifiers and
//     owner addresses, matching the proof circuits bit for bit
//   - All randomness comes from crypto/rand
//   - A commitment never changes once created; nullifiers are revealed at
//     most once
package record
