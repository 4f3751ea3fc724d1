// main.go - One-shot genesis builder.
//
// Generates the genesis document a consensus engine hands to zkledgerd at
// chain initialization: premined records sealed to freshly generated owner
// keys, plus the initial validator stake table. The owner keys and plaintext
// records are written to per-owner wallet files for out-of-band distribution;
// they never appear in the genesis document itself.
//
// Usage:
//   genesis -out genesis.json -wallets wallets -premine 100,50 \
//     -validators <64-hex-id>:10 [-setup-keys -key-dir keys]
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"zkledger/internal/ledger"
	"zkledger/internal/proof"
	"zkledger/internal/record"
)

// walletFile is what a premine owner receives: their keys and the plaintext
// records they can spend.
type walletFile struct {
	OwnerSk string          `json:"owner_sk"`
	OwnerPk string          `json:"owner_pk"`
	DHSk    string          `json:"dh_sk"`
	DHPk    string          `json:"dh_pk"`
	Records []record.Record `json:"records"`
}

func main() {
	out := flag.String("out", "genesis.json", "output path for the genesis document")
	walletDir := flag.String("wallets", "wallets", "directory for generated owner wallet files")
	chainID := flag.String("chain-id", "zkledger", "chain identifier")
	premineSpec := flag.String("premine", "", "comma-separated premine amounts, one record per amount")
	validatorSpec := flag.String("validators", "", "comma-separated validator entries, <64-hex-id>:<power>")
	setupKeys := flag.Bool("setup-keys", false, "also run the Groth16 key ceremony")
	keyDir := flag.String("key-dir", "keys", "directory for Groth16 keys")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(log, *out, *walletDir, *chainID, *premineSpec, *validatorSpec, *setupKeys, *keyDir); err != nil {
		log.Error().Err(err).Msg("genesis build failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger, out, walletDir, chainID, premineSpec, validatorSpec string, setupKeys bool, keyDir string) error {
	amounts, err := parsePremine(premineSpec)
	if err != nil {
		return err
	}
	validators, err := parseValidators(validatorSpec)
	if err != nil {
		return err
	}
	if len(amounts) == 0 && len(validators) == 0 {
		return fmt.Errorf("nothing to build: no premine and no validators")
	}

	type owner struct {
		key *record.OwnerKey
		dh  *record.DHKeyPair
	}
	owners := make([]owner, len(amounts))
	premine := make([]ledger.Premine, len(amounts))
	for i, amount := range amounts {
		dh, err := record.NewDHKeyPair()
		if err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		owners[i] = owner{key: record.NewOwnerKey(), dh: dh}
		premine[i] = ledger.Premine{OwnerPk: owners[i].key.Pk, OwnerDH: dh.Pk, Amount: amount}
	}

	g, records, err := ledger.BuildGenesis(chainID, premine, validators)
	if err != nil {
		return err
	}

	payload, err := g.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, payload, 0o644); err != nil {
		return fmt.Errorf("writing genesis document: %w", err)
	}
	log.Info().Str("path", out).Int("records", len(records)).Int("validators", len(validators)).Msg("genesis document written")

	if len(records) > 0 {
		if err := os.MkdirAll(walletDir, 0o700); err != nil {
			return fmt.Errorf("creating wallet directory: %w", err)
		}
	}
	for i, r := range records {
		skBytes := owners[i].dh.Sk.Bytes()
		pkBytes := owners[i].dh.Pk.Bytes()
		w := walletFile{
			OwnerSk: hex.EncodeToString(owners[i].key.Sk),
			OwnerPk: hex.EncodeToString(owners[i].key.Pk),
			DHSk:    hex.EncodeToString(skBytes[:]),
			DHPk:    hex.EncodeToString(pkBytes[:]),
			Records: []record.Record{*r},
		}
		walletPayload, err := json.MarshalIndent(&w, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding wallet: %w", err)
		}
		path := filepath.Join(walletDir, fmt.Sprintf("owner%d_wallet.json", i+1))
		if err := os.WriteFile(path, walletPayload, 0o600); err != nil {
			return fmt.Errorf("writing wallet: %w", err)
		}
		log.Info().Str("path", path).Str("commitment", r.CommitmentHex()).Msg("wallet written")
	}

	if setupKeys {
		log.Info().Str("dir", keyDir).Msg("running Groth16 setup, this can take a while")
		if err := proof.Setup(keyDir); err != nil {
			return fmt.Errorf("key setup: %w", err)
		}
		log.Info().Msg("Groth16 keys ready")
	}
	return nil
}

func parsePremine(spec string) ([]uint64, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	amounts := make([]uint64, 0, len(parts))
	for _, part := range parts {
		amount, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil || amount == 0 {
			return nil, fmt.Errorf("premine amount %q must be a positive integer", part)
		}
		amounts = append(amounts, amount)
	}
	return amounts, nil
}

func parseValidators(spec string) ([]ledger.GenesisValidator, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	validators := make([]ledger.GenesisValidator, 0, len(parts))
	for _, part := range parts {
		idHex, powerStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("validator entry %q must be <64-hex-id>:<power>", part)
		}
		id, err := hex.DecodeString(idHex)
		if err != nil || len(id) != 32 {
			return nil, fmt.Errorf("validator id %q must be 32 bytes of hex", idHex)
		}
		power, err := strconv.ParseUint(powerStr, 10, 64)
		if err != nil || power == 0 {
			return nil, fmt.Errorf("validator power %q must be a positive integer", powerStr)
		}
		validators = append(validators, ledger.GenesisValidator{
			AddressHigh: id[:16],
			AddressLow:  id[16:],
			Power:       power,
		})
	}
	return validators, nil
}
