// Package store persists the committed ledger state in a SQLite database.
//
// Durability contract: one block, one SQL transaction. The record set,
// nullifier set, stake table and the block row (height plus state digest)
// move together or not at all, so a crash between blocks always leaves a
// complete state at some height that can be reloaded on restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"zkledger/internal/ledger"
)

const busyTimeoutMs = 5000

// ErrNotFound is returned by point lookups for absent rows.
var ErrNotFound = errors.New("not found")

// Store is a durable copy of the committed ledger state.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			commitment TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nullifiers (
			nullifier TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS validators (
			validator TEXT PRIMARY KEY,
			power INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			height INTEGER PRIMARY KEY,
			digest BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveGenesis writes the full height-0 state in one transaction. Fails if a
// block row already exists.
func (s *Store) SaveGenesis(state *ledger.State, digest []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin genesis: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&existing); err != nil {
		return fmt.Errorf("check blocks: %w", err)
	}
	if existing != 0 {
		return errors.New("store already initialized")
	}

	for _, r := range state.Records() {
		if _, err := tx.Exec(`INSERT INTO records (commitment, ciphertext) VALUES (?, ?)`, r.Commitment, r.Ciphertext); err != nil {
			return fmt.Errorf("insert genesis record: %w", err)
		}
	}
	for _, v := range state.Validators() {
		if _, err := tx.Exec(`INSERT INTO validators (validator, power) VALUES (?, ?)`, v.Validator, int64(v.Power)); err != nil {
			return fmt.Errorf("insert genesis validator: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO blocks (height, digest) VALUES (0, ?)`, digest); err != nil {
		return fmt.Errorf("insert genesis block row: %w", err)
	}
	return tx.Commit()
}

// CommitBlock durably applies one block's delta. stake carries the resulting
// absolute power for every validator the block touched; a zero power removes
// the row. Heights must be written in order without gaps.
func (s *Store) CommitBlock(height int64, digest []byte, d *ledger.Delta, stake map[string]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin block %d: %w", height, err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(height) FROM blocks`).Scan(&last); err != nil {
		return fmt.Errorf("read last height: %w", err)
	}
	if !last.Valid {
		return errors.New("store not initialized")
	}
	if height != last.Int64+1 {
		return fmt.Errorf("block %d does not follow stored height %d", height, last.Int64)
	}

	// Records created and consumed within the same block net out and never
	// touch the records table. Their nullifiers are still persisted below.
	netted := make(map[string]struct{})
	for _, cm := range d.Consumed {
		if _, ok := d.Records[cm]; ok {
			netted[cm] = struct{}{}
			continue
		}
		res, err := tx.Exec(`DELETE FROM records WHERE commitment = ?`, cm)
		if err != nil {
			return fmt.Errorf("consume record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("consumed commitment %s not stored", cm)
		}
	}
	for _, r := range sortedRecords(d.Records) {
		if _, ok := netted[r.Commitment]; ok {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO records (commitment, ciphertext) VALUES (?, ?)`, r.Commitment, r.Ciphertext); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
	}
	for _, nf := range d.Spent {
		if _, err := tx.Exec(`INSERT INTO nullifiers (nullifier) VALUES (?)`, nf); err != nil {
			return fmt.Errorf("insert nullifier: %w", err)
		}
	}
	for _, v := range sortedStake(stake) {
		if v.Power == 0 {
			if _, err := tx.Exec(`DELETE FROM validators WHERE validator = ?`, v.Validator); err != nil {
				return fmt.Errorf("delete validator: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(`INSERT INTO validators (validator, power) VALUES (?, ?)
			ON CONFLICT(validator) DO UPDATE SET power = excluded.power`, v.Validator, int64(v.Power)); err != nil {
			return fmt.Errorf("upsert validator: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO blocks (height, digest) VALUES (?, ?)`, height, digest); err != nil {
		return fmt.Errorf("insert block row: %w", err)
	}
	return tx.Commit()
}

// LastBlock returns the latest committed height and digest. ok is false when
// the store was never initialized with a genesis state.
func (s *Store) LastBlock() (height int64, digest []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT height, digest FROM blocks ORDER BY height DESC LIMIT 1`)
	if err := row.Scan(&height, &digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, fmt.Errorf("read last block: %w", err)
	}
	return height, digest, true, nil
}

// LoadState reloads the full committed state.
func (s *Store) LoadState() (*ledger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := ledger.NewState()

	rows, err := s.db.Query(`SELECT commitment, ciphertext FROM records`)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for rows.Next() {
		var cm string
		var ct []byte
		if err := rows.Scan(&cm, &ct); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan record: %w", err)
		}
		state.AddRecord(cm, ct)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("load records: %w", err)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT nullifier FROM nullifiers`)
	if err != nil {
		return nil, fmt.Errorf("load nullifiers: %w", err)
	}
	for rows.Next() {
		var nf string
		if err := rows.Scan(&nf); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan nullifier: %w", err)
		}
		state.AddNullifier(nf)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("load nullifiers: %w", err)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT validator, power FROM validators`)
	if err != nil {
		return nil, fmt.Errorf("load validators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		var power int64
		if err := rows.Scan(&v, &power); err != nil {
			return nil, fmt.Errorf("scan validator: %w", err)
		}
		state.SetValidatorPower(v, uint64(power))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load validators: %w", err)
	}

	return state, nil
}

// Ciphertext looks up a stored record ciphertext by commitment.
func (s *Store) Ciphertext(cm string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ct []byte
	if err := s.db.QueryRow(`SELECT ciphertext FROM records WHERE commitment = ?`, cm).Scan(&ct); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup record: %w", err)
	}
	return ct, nil
}

// IsSpent reports whether a nullifier is in the stored spent set.
func (s *Store) IsSpent(nf string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var one int
	if err := s.db.QueryRow(`SELECT 1 FROM nullifiers WHERE nullifier = ?`, nf).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup nullifier: %w", err)
	}
	return true, nil
}

// BlockDigest returns the stored digest for a height.
func (s *Store) BlockDigest(height int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var digest []byte
	if err := s.db.QueryRow(`SELECT digest FROM blocks WHERE height = ?`, height).Scan(&digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup block: %w", err)
	}
	return digest, nil
}

func sortedRecords(m map[string][]byte) []ledger.RecordEntry {
	out := make([]ledger.RecordEntry, 0, len(m))
	for cm, ct := range m {
		out = append(out, ledger.RecordEntry{Commitment: cm, Ciphertext: ct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commitment < out[j].Commitment })
	return out
}

func sortedStake(m map[string]uint64) []ledger.ValidatorPowerEntry {
	out := make([]ledger.ValidatorPowerEntry, 0, len(m))
	for v, p := range m {
		out = append(out, ledger.ValidatorPowerEntry{Validator: v, Power: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Validator < out[j].Validator })
	return out
}
