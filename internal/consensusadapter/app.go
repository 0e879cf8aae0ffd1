// Package consensusadapter implements the ABCI application (component C6)
// that binds the chain core to a CometBFT consensus engine.
//
// Adapted from the teacher's pkg/consensus/abci_validator.go: same
// method set, same *log.Logger field, same "decode tx, dispatch one
// core command per tx, collect an ExecTxResult" shape, generalized from
// the teacher's single ValidatorBlock-per-tx model to this chain's
// Tx{id, ballot} envelope.
package consensusadapter

import (
	"context"
	"fmt"
	"log"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/vote-bft/vote-node/internal/ballot"
	"github.com/vote-bft/vote-node/internal/chain"
)

const (
	appName    = "zcash-vote-bft"
	appVersion = uint64(1)

	// codeOK and codeError are the only two result codes this
	// application emits (spec §4.6): zero on success, one on any
	// classified failure. The failure reason always travels in Log.
	codeOK    = uint32(0)
	codeError = uint32(1)
)

// App implements abcitypes.Application, translating consensus-engine
// calls into commands posted to a single chain.Core.
type App struct {
	core   *chain.Core
	logger *log.Logger
}

// New constructs an App bound to core.
func New(core *chain.Core) *App {
	return &App{
		core:   core,
		logger: log.New(log.Writer(), "[ConsensusAdapter] ", log.LstdFlags),
	}
}

var _ abcitypes.Application = (*App)(nil)

// Info reports the node's current height and application hash so the
// consensus engine can detect replay vs. fresh-start on connect.
func (a *App) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	state, err := a.core.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("consensusadapter: info: %w", err)
	}
	return &abcitypes.ResponseInfo{
		Data:             appName,
		Version:          "1.0.0",
		AppVersion:       appVersion,
		LastBlockHeight:  int64(state.Height),
		LastBlockAppHash: state.Hash[:],
	}, nil
}

// InitChain is a no-op: election state is seeded by the registry's
// startup reconciliation (spec §6), not by the consensus engine.
func (a *App) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	a.logger.Printf("init chain: chain_id=%s", req.ChainId)
	return &abcitypes.ResponseInitChain{}, nil
}

// CheckTx decodes the envelope and runs CheckBallot, per spec §4.6:
// "decode Tx, issue CheckBallot, map Ok->code 0 with payload=sighash,
// Err->code 1 with payload=reason".
func (a *App) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	tx, err := ballot.DecodeTx(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: codeError, Log: err.Error()}, nil
	}

	sighash, checkErr := a.core.CheckBallot(ctx, tx.ID, &tx.Ballot)
	if checkErr != nil {
		return &abcitypes.ResponseCheckTx{Code: codeError, Log: checkErr.Error()}, nil
	}
	return &abcitypes.ResponseCheckTx{
		Code:      codeOK,
		Data:      sighash[:],
		GasWanted: 1,
		GasUsed:   1,
	}, nil
}

// PrepareProposal screens each candidate tx through the core's
// intra-block double-spend check, retaining only those it admits, per
// spec §4.6: "for each candidate tx issue PrepareProposal, retain only
// those that returned None".
func (a *App) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	included := make([][]byte, 0, len(req.Txs))
	for _, raw := range req.Txs {
		tx, err := ballot.DecodeTx(raw)
		if err != nil {
			a.logger.Printf("prepare proposal: dropping malformed tx: %v", err)
			continue
		}
		if err := a.core.PrepareProposal(tx.ID, &tx.Ballot); err != nil {
			a.logger.Printf("prepare proposal: dropping tx %s: %v", tx.ID, err)
			continue
		}
		included = append(included, raw)
	}
	return &abcitypes.ResponsePrepareProposal{Txs: included}, nil
}

// ProcessProposal re-validates a proposer's block: any tx that fails to
// decode is grounds for rejecting the whole proposal, since a proposer
// that cannot be trusted to frame txs correctly cannot be trusted at
// all.
func (a *App) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, raw := range req.Txs {
		if _, err := ballot.DecodeTx(raw); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// FinalizeBlock issues FinalizeBallot for every tx in delivery order,
// per spec §4.6: validation failures are reported per-tx and do not
// abort the block (spec §7).
func (a *App) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	results := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, raw := range req.Txs {
		tx, err := ballot.DecodeTx(raw)
		if err != nil {
			results[i] = &abcitypes.ExecTxResult{Code: codeError, Log: err.Error()}
			continue
		}

		sighash, finalizeErr := a.core.FinalizeBallot(ctx, tx.ID, &tx.Ballot)
		if finalizeErr != nil {
			results[i] = &abcitypes.ExecTxResult{Code: codeError, Log: finalizeErr.Error()}
			continue
		}
		results[i] = &abcitypes.ExecTxResult{
			Code: codeOK,
			Data: sighash[:],
			Events: []abcitypes.Event{
				{
					Type: "ballot_finalized",
					Attributes: []abcitypes.EventAttribute{
						{Key: "election_id", Value: tx.ID},
					},
				},
			},
		}
	}

	state, err := a.core.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("consensusadapter: finalize block: read app state: %w", err)
	}
	return &abcitypes.ResponseFinalizeBlock{
		TxResults: results,
		AppHash:   state.Hash[:],
	}, nil
}

// Commit lands the block's finalize transaction and bumps the height.
// Per spec §7 a storage error here is unrecoverable: the process exits
// so the consensus engine restarts recovery from its own journal.
func (a *App) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	if _, err := a.core.Commit(ctx); err != nil {
		a.logger.Fatalf("commit: unrecoverable storage error: %v", err)
	}
	return &abcitypes.ResponseCommit{}, nil
}

// Query is unused: every read path in this system goes through the
// HTTP surface (component C7) against the storage layer directly.
func (a *App) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	return &abcitypes.ResponseQuery{Code: codeError, Log: "query not supported, use the HTTP surface"}, nil
}

// ExtendVote and VerifyVoteExtension are unused: this application does
// not participate in vote extensions.
func (a *App) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *App) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// State sync is not implemented: a new validator catches up by replaying
// blocks, per the teacher's own snapshot stubs.
func (a *App) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *App) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *App) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *App) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}
