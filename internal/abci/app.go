// Package abci connects the ledger to a Tendermint consensus engine. It
// implements the ABCI application protocol: admission on the mempool
// connection (CheckTx), execution on the consensus connection (BeginBlock,
// DeliverTx, EndBlock, Commit) and reads on the query connection. Admission
// and delivery run the same executor over different staged views, so a
// transaction accepted into the mempool can still be rejected at delivery
// without harming the block.
package abci

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	abcitypes "github.com/tendermint/tendermint/abci/types"

	"zkledger/internal/ledger"
	"zkledger/internal/proof"
	"zkledger/internal/store"
)

// Response codes surfaced to consensus. Anything nonzero excludes the
// transaction; the adapter itself keeps running.
const (
	CodeOK            uint32 = 0
	CodeEncodingError uint32 = 1
	CodeInvalidProof  uint32 = 2
	CodeDoubleSpend   uint32 = 3
	CodeUnknownRecord uint32 = 4
	CodeMalformedTx   uint32 = 5
)

const appVersion = 1

// Application is the ABCI application over the confidential ledger.
type Application struct {
	abcitypes.BaseApplication

	mu  sync.RWMutex
	log zerolog.Logger

	store    *store.Store
	verifier proof.Verifier
	metrics  *Metrics

	committed *ledger.State
	height    int64
	digest    []byte

	// block accumulates the in-progress block on the consensus connection;
	// mempool is the admission overlay, rebuilt after every commit.
	block   *ledger.StagedView
	mempool *ledger.StagedView

	initialized bool
}

// NewApplication builds the application, reloading committed state from the
// store if it holds one. An uninitialized store waits for InitChain.
func NewApplication(st *store.Store, verifier proof.Verifier, log zerolog.Logger) (*Application, error) {
	app := &Application{
		store:    st,
		verifier: verifier,
		metrics:  NewMetrics(),
		log:      log,
	}

	height, digest, ok, err := st.LastBlock()
	if err != nil {
		return nil, fmt.Errorf("reading chain head: %w", err)
	}
	if !ok {
		log.Info().Msg("store empty, waiting for chain initialization")
		return app, nil
	}

	state, err := st.LoadState()
	if err != nil {
		return nil, fmt.Errorf("reloading state: %w", err)
	}
	if reloaded := ledger.Digest(state); !bytes.Equal(reloaded, digest) {
		return nil, fmt.Errorf("reloaded state digest %x does not match stored digest %x at height %d", reloaded, digest, height)
	}

	app.committed = state
	app.height = height
	app.digest = digest
	app.mempool = ledger.NewStagedView(state)
	app.initialized = true
	log.Info().Int64("height", height).Hex("digest", digest).Msg("recovered committed state")
	return app, nil
}

// Info reports the last committed height and state digest so consensus can
// decide where to resume replay.
func (app *Application) Info(req abcitypes.RequestInfo) abcitypes.ResponseInfo {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return abcitypes.ResponseInfo{
		Data:             "zkledger",
		AppVersion:       appVersion,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.digest,
	}
}

// InitChain loads the genesis document carried in the consensus engine's
// genesis file and persists the height-0 state.
func (app *Application) InitChain(req abcitypes.RequestInitChain) abcitypes.ResponseInitChain {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.initialized {
		app.fatal(fmt.Errorf("chain initialized twice"))
	}

	g, err := ledger.ParseGenesis(req.AppStateBytes)
	if err != nil {
		app.fatal(fmt.Errorf("genesis document: %w", err))
	}
	state, err := g.State()
	if err != nil {
		app.fatal(fmt.Errorf("genesis state: %w", err))
	}
	digest := ledger.Digest(state)

	if err := app.store.SaveGenesis(state, digest); err != nil {
		app.fatal(fmt.Errorf("persisting genesis: %w", err))
	}

	app.committed = state
	app.height = 0
	app.digest = digest
	app.mempool = ledger.NewStagedView(state)
	app.initialized = true

	updates := make([]abcitypes.ValidatorUpdate, 0, len(state.Validators()))
	for _, v := range state.Validators() {
		updates = append(updates, validatorUpdate(v.Validator, v.Power))
	}
	app.log.Info().
		Hex("digest", digest).
		Int("records", len(state.Records())).
		Int("validators", len(updates)).
		Msg("chain initialized")

	return abcitypes.ResponseInitChain{
		AppHash:    digest,
		Validators: updates,
	}
}

// CheckTx admits or rejects a transaction for the mempool. Accepted
// transactions are staged onto the admission overlay so later candidates see
// their nullifiers.
func (app *Application) CheckTx(req abcitypes.RequestCheckTx) abcitypes.ResponseCheckTx {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.requireInitialized()

	tx, err := ledger.DecodeTransaction(req.Tx)
	if err != nil {
		return abcitypes.ResponseCheckTx{Code: CodeEncodingError, Log: err.Error()}
	}

	d, err := ledger.Execute(app.mempool, app.verifier, tx)
	if err != nil {
		app.metrics.mempoolRejected.Add(1)
		app.log.Debug().Str("tx", tx.ID).Str("kind", tx.Kind).Err(err).Msg("rejected from mempool")
		return abcitypes.ResponseCheckTx{Code: codeFor(err), Log: err.Error()}
	}
	app.mempool.Apply(d)
	app.metrics.mempoolAccepted.Add(1)
	// fee-paying transactions are ordered ahead of free ones
	return abcitypes.ResponseCheckTx{Code: CodeOK, GasWanted: 1, Priority: int64(tx.Public.Fee)}
}

// BeginBlock opens a fresh block view over the committed state.
func (app *Application) BeginBlock(req abcitypes.RequestBeginBlock) abcitypes.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.requireInitialized()

	app.block = ledger.NewStagedView(app.committed)
	return abcitypes.ResponseBeginBlock{}
}

// DeliverTx executes one ordered transaction against the block view. A
// rejection excludes the transaction and nothing else.
func (app *Application) DeliverTx(req abcitypes.RequestDeliverTx) abcitypes.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.requireInitialized()
	if app.block == nil {
		app.fatal(fmt.Errorf("transaction delivered outside a block"))
	}

	tx, err := ledger.DecodeTransaction(req.Tx)
	if err != nil {
		return abcitypes.ResponseDeliverTx{Code: CodeEncodingError, Log: err.Error()}
	}

	d, err := ledger.Execute(app.block, app.verifier, tx)
	if err != nil {
		app.metrics.txRejected.Add(1)
		app.log.Info().Str("tx", tx.ID).Str("kind", tx.Kind).Err(err).Msg("rejected in block")
		return abcitypes.ResponseDeliverTx{Code: codeFor(err), Log: err.Error()}
	}
	app.block.Apply(d)
	app.metrics.txAccepted.Add(1)

	app.log.Info().Str("tx", tx.ID).Str("kind", tx.Kind).Msg("executed")
	return abcitypes.ResponseDeliverTx{
		Code: CodeOK,
		Events: []abcitypes.Event{{
			Type: "app",
			Attributes: []abcitypes.EventAttribute{
				{Key: []byte("tx_id"), Value: []byte(tx.ID), Index: true},
				{Key: []byte("kind"), Value: []byte(tx.Kind), Index: true},
			},
		}},
	}
}

// EndBlock reports the block's validator power changes to consensus as
// absolute resulting powers.
func (app *Application) EndBlock(req abcitypes.RequestEndBlock) abcitypes.ResponseEndBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.requireInitialized()
	if app.block == nil {
		app.fatal(fmt.Errorf("block ended before it began"))
	}

	updates := make([]abcitypes.ValidatorUpdate, 0, len(app.block.Delta().Stake))
	for _, v := range touchedValidators(app.block.Delta()) {
		updates = append(updates, validatorUpdate(v, app.block.ValidatorPower(v)))
	}
	return abcitypes.ResponseEndBlock{ValidatorUpdates: updates}
}

// Commit promotes the block view into the committed state, persists it, and
// returns the new state digest. Storage failure here is fatal: continuing
// would let the durable copy fall behind what consensus believes committed.
func (app *Application) Commit() abcitypes.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.requireInitialized()
	if app.block == nil {
		app.fatal(fmt.Errorf("commit outside a block"))
	}

	delta := app.block.Delta()
	next := app.committed.Clone()
	if err := next.Apply(delta); err != nil {
		app.fatal(fmt.Errorf("promoting block: %w", err))
	}
	digest := ledger.Digest(next)
	height := app.height + 1

	stake := make(map[string]uint64, len(delta.Stake))
	for v := range delta.Stake {
		stake[v] = next.ValidatorPower(v)
	}
	if err := app.store.CommitBlock(height, digest, delta, stake); err != nil {
		app.fatal(fmt.Errorf("persisting block %d: %w", height, err))
	}

	app.committed = next
	app.height = height
	app.digest = digest
	app.block = nil
	app.mempool = ledger.NewStagedView(next)
	app.metrics.blocksCommitted.Add(1)

	app.log.Info().
		Int64("height", height).
		Hex("digest", digest).
		Int("created", len(delta.Records)).
		Int("spent", len(delta.Spent)).
		Msg("block committed")

	return abcitypes.ResponseCommit{Data: digest}
}

// Query serves reads over the committed state. Paths mirror the state's
// three sets plus point lookups.
func (app *Application) Query(req abcitypes.RequestQuery) abcitypes.ResponseQuery {
	app.mu.RLock()
	defer app.mu.RUnlock()
	app.requireInitialized()

	switch req.Path {
	case "/records":
		return jsonResponse(app.committed.Records())
	case "/record":
		ct, ok := app.committed.Ciphertext(string(req.Data))
		if !ok {
			return abcitypes.ResponseQuery{Code: CodeUnknownRecord, Log: "commitment not in unspent set"}
		}
		return abcitypes.ResponseQuery{Code: CodeOK, Key: req.Data, Value: ct, Height: app.height}
	case "/nullifiers":
		return jsonResponse(app.committed.Nullifiers())
	case "/nullifier":
		spent := app.committed.SpentNullifier(string(req.Data))
		return jsonResponse(spent)
	case "/validators":
		return jsonResponse(app.committed.Validators())
	case "/height":
		return jsonResponse(app.height)
	case "/digest":
		return abcitypes.ResponseQuery{Code: CodeOK, Value: app.digest, Height: app.height}
	default:
		return abcitypes.ResponseQuery{Code: CodeEncodingError, Log: fmt.Sprintf("unknown query path %q", req.Path)}
	}
}

// Metrics exposes the adapter's activity counters.
func (app *Application) Metrics() *Metrics {
	return app.metrics
}

// codeFor maps executor rejections to response codes.
func codeFor(err error) uint32 {
	switch {
	case errors.Is(err, ledger.ErrInvalidProof):
		return CodeInvalidProof
	case errors.Is(err, ledger.ErrDoubleSpend):
		return CodeDoubleSpend
	case errors.Is(err, ledger.ErrUnknownRecord):
		return CodeUnknownRecord
	case errors.Is(err, ledger.ErrMalformedTransaction):
		return CodeMalformedTx
	default:
		return CodeMalformedTx
	}
}

// fatal logs and panics. Protocol violations and storage failures must halt
// the adapter rather than let replicas drift.
func (app *Application) fatal(err error) {
	app.log.Error().Err(err).Msg("fatal adapter failure")
	panic(err)
}

func (app *Application) requireInitialized() {
	if !app.initialized {
		app.fatal(fmt.Errorf("request before chain initialization"))
	}
}

// validatorUpdate converts a stake table row to an ABCI validator update.
// The 32-byte validator identity doubles as an ed25519 public key.
func validatorUpdate(validator string, power uint64) abcitypes.ValidatorUpdate {
	id, err := hex.DecodeString(validator)
	if err != nil {
		panic(fmt.Errorf("invalid validator identity %q: %w", validator, err))
	}
	return abcitypes.UpdateValidator(id, int64(power), "")
}

func touchedValidators(d *ledger.Delta) []string {
	out := make([]string, 0, len(d.Stake))
	for v := range d.Stake {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func jsonResponse(v any) abcitypes.ResponseQuery {
	payload, err := json.Marshal(v)
	if err != nil {
		return abcitypes.ResponseQuery{Code: CodeEncodingError, Log: err.Error()}
	}
	return abcitypes.ResponseQuery{Code: CodeOK, Value: payload}
}
