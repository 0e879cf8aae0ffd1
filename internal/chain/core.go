// Package chain is the single-writer ballot-processing state machine
// (component C5): the consensus adapter posts commands into it and the
// core's one worker goroutine is the only path that ever mutates storage,
// the check-cache, or the mempool-nullifier set.
//
// The command-loop shape follows the teacher's own framing of
// single-writer access in its ledger store doc comments, upgraded from a
// documented convention into an explicit channel-owned goroutine, per the
// "do not introduce fine-grained locks" design note.
package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vote-bft/vote-node/internal/ballot"
	"github.com/vote-bft/vote-node/internal/domainhash"
	"github.com/vote-bft/vote-node/internal/election"
	"github.com/vote-bft/vote-node/internal/frontier"
	"github.com/vote-bft/vote-node/internal/metrics"
	"github.com/vote-bft/vote-node/internal/sigscheme"
	"github.com/vote-bft/vote-node/internal/storage"
	"github.com/vote-bft/vote-node/internal/zkproof"
)

// AppState is the node's published height and application hash (spec §3).
type AppState struct {
	Height uint32
	Hash   [32]byte
}

const appStateHeightProp = "app_state.height"
const appStateHashProp = "app_state.hash"

// checkResult is one check-cache entry: either the ballot's sighash (on
// success) or the classified failure reason.
type checkResult struct {
	sighash [32]byte
	err     error
}

// command is one unit of work posted to the core's single worker
// goroutine; it closes over its own reply channel.
type command func(c *Core)

// Core owns every piece of chain state: storage, the election registry,
// the bounded check-cache, and the mempool-nullifier set. All of it is
// touched only from Run, never from the public API goroutines.
type Core struct {
	store    *storage.Store
	registry *election.Registry
	verifier *zkproof.Verifier
	metrics  *metrics.Metrics

	checkCache *lru.Cache[[32]byte, checkResult]

	// mempoolNullifiers screens intra-block double-spends across
	// proposed-but-not-yet-finalized ballots of the same election,
	// cleared wholesale after every successful FinalizeBallot.
	mempoolNullifiers map[string]map[[32]byte]struct{}

	// finalizeTx is the transaction opened by the first FinalizeBallot of
	// a block and closed by Commit.
	finalizeTx *storage.Tx

	state  AppState
	loaded bool

	cmds   chan command
	logger *log.Logger
}

// New constructs a Core. m may be nil, in which case activity is not
// recorded. Call Info once at startup to load AppState from storage
// before serving any consensus traffic.
func New(store *storage.Store, registry *election.Registry, verifier *zkproof.Verifier, m *metrics.Metrics, checkCacheSize int) (*Core, error) {
	cache, err := lru.New[[32]byte, checkResult](checkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("chain: create check cache: %w", err)
	}
	c := &Core{
		store:             store,
		registry:          registry,
		verifier:          verifier,
		metrics:           m,
		checkCache:        cache,
		mempoolNullifiers: make(map[string]map[[32]byte]struct{}),
		cmds:              make(chan command, 256),
		logger:            log.New(log.Writer(), "[Chain] ", log.LstdFlags),
	}
	return c, nil
}

// Run is the core's single worker goroutine: the sole reader of cmds, and
// therefore the only code path that ever mutates c's state. Call it once,
// in its own goroutine, before issuing any commands.
func (c *Core) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.cmds:
			cmd(c)
		}
	}
}

// post sends a command to the worker and blocks until it runs.
func (c *Core) post(fn func(c *Core)) {
	done := make(chan struct{})
	c.cmds <- func(c *Core) {
		fn(c)
		close(done)
	}
	<-done
}

// loadAppState reads AppState from storage into c.state, used once at
// startup by Info.
func (c *Core) loadAppState(ctx context.Context) error {
	heightBytes, err := c.store.LoadProp(ctx, appStateHeightProp)
	if err != nil {
		if err == storage.ErrPropNotFound {
			c.state = AppState{Height: 0, Hash: domainhash.AppHash(nil)}
			c.loaded = true
			return nil
		}
		return fmt.Errorf("%w: load height: %v", ErrStorageError, err)
	}
	hashBytes, err := c.store.LoadProp(ctx, appStateHashProp)
	if err != nil {
		return fmt.Errorf("%w: load hash: %v", ErrStorageError, err)
	}
	if len(heightBytes) != 4 || len(hashBytes) != 32 {
		return fmt.Errorf("%w: malformed app state property", ErrStorageError)
	}
	var h uint32
	for _, b := range heightBytes {
		h = h<<8 | uint32(b)
	}
	var hash [32]byte
	copy(hash[:], hashBytes)
	c.state = AppState{Height: h, Hash: hash}
	c.loaded = true
	return nil
}

// Info returns the node's current height and application hash.
func (c *Core) Info(ctx context.Context) (AppState, error) {
	var state AppState
	var loadErr error
	c.post(func(c *Core) {
		if !c.loaded {
			loadErr = c.loadAppState(ctx)
		}
		state = c.state
	})
	return state, loadErr
}

// resolveElection looks up and validates an election is open, the first
// step of CheckBallot (FinalizeBallot performs the same two checks inline).
func (c *Core) resolveElection(electionID string) (*election.Election, error) {
	e, ok := c.registry.Get(electionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
	}
	if e.Closed {
		return nil, fmt.Errorf("%w: %s", ErrElectionClosed, electionID)
	}
	return e, nil
}

// runBallotValidator executes validator steps 1-4 of spec §4.3 against an
// already-resolved election, independent of storage state.
func (c *Core) runBallotValidator(e *election.Election, b *ballot.Ballot) error {
	if err := b.Validate(e.SignatureRequired); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}

	pub := zkproof.PublicInputs{
		Nullifier:  b.Data.AggregateNullifier(),
		Commitment: b.Data.AggregateCommitment(),
	}
	if err := c.verifier.Verify(b.Proof, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	sighash, err := b.Sighash()
	if err != nil {
		return fmt.Errorf("%w: compute sighash: %v", ErrMalformedTx, err)
	}

	bindingKey, err := sigscheme.PublicKeyFromBytes(b.BindingPubKey)
	if err != nil {
		return fmt.Errorf("%w: binding public key: %v", ErrInvalidSignature, err)
	}
	bindingSig, err := sigscheme.SignatureFromBytes(b.BindingSig)
	if err != nil {
		return fmt.Errorf("%w: binding signature: %v", ErrInvalidSignature, err)
	}
	if err := bindingKey.Verify(sigscheme.DomainBinding, sighash[:], bindingSig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if e.SignatureRequired {
		for i, action := range b.Data.Actions {
			pk, err := sigscheme.PublicKeyFromBytes(b.SpendAuthPubKeys[i])
			if err != nil {
				return fmt.Errorf("%w: action %d public key: %v", ErrInvalidSignature, i, err)
			}
			sig, err := sigscheme.SignatureFromBytes(b.SpendAuthSigs[i])
			if err != nil {
				return fmt.Errorf("%w: action %d signature: %v", ErrInvalidSignature, i, err)
			}
			msg := append(append([]byte{}, action.Nf[:]...), action.Cmx[:]...)
			if err := pk.Verify(sigscheme.DomainSpendAuth, msg, sig); err != nil {
				return fmt.Errorf("%w: action %d: %v", ErrInvalidSignature, i, err)
			}
		}
	}

	return nil
}

func hexBytes(b [32]byte) string { return hex.EncodeToString(b[:]) }

// encodeBallotJSON renders a ballot as the JSON bytes stored in
// ballots.data; Ballot contains only JSON-safe fields, so this cannot
// fail in practice.
func encodeBallotJSON(b *ballot.Ballot) ([]byte, error) {
	return json.Marshal(b)
}

// checkAnchorsAndNullifiers runs the shared anchor-discipline and
// double-spend screen of spec §4.4's CheckBallot algorithm against a
// read-only view of storage (no finalize transaction in scope).
func (c *Core) checkAnchorsAndNullifiers(ctx context.Context, e *election.Election, b *ballot.Ballot) error {
	if ballot.DomainHex(b.Data.Domain) != e.ID {
		return fmt.Errorf("%w: domain %s does not match election %s", ErrMalformedTx, ballot.DomainHex(b.Data.Domain), e.ID)
	}
	if b.Data.Anchors.Nf != e.NfAnchor {
		return fmt.Errorf("%w: ballot nf anchor %s != election anchor %s", ErrNullifierRootMismatch, hexBytes(b.Data.Anchors.Nf), hexBytes(e.NfAnchor))
	}
	if b.Data.ExpiryHeight != nil && *b.Data.ExpiryHeight != 0 && c.state.Height > *b.Data.ExpiryHeight {
		return fmt.Errorf("%w: ballot expired at height %d (current %d)", ErrMalformedTx, *b.Data.ExpiryHeight, c.state.Height)
	}

	known, err := c.store.CheckRoot(ctx, e.ID, hexBytes(b.Data.Anchors.Cmx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownCommitmentAnchor, hexBytes(b.Data.Anchors.Cmx))
	}

	for _, action := range b.Data.Actions {
		spent, err := c.store.HasNullifier(ctx, e.ID, hexBytes(action.Nf))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		if spent {
			return fmt.Errorf("%w: nullifier %s already spent", ErrDoubleSpend, hexBytes(action.Nf))
		}
	}
	return nil
}

// CheckBallot implements spec §4.4's CheckBallot algorithm: deterministic
// w.r.t. durable storage, consulting and populating the check-cache so a
// replayed sighash is answered without re-running the validator.
func (c *Core) CheckBallot(ctx context.Context, electionID string, b *ballot.Ballot) (sighash [32]byte, err error) {
	sighash, hashErr := b.Sighash()
	if hashErr != nil {
		return [32]byte{}, fmt.Errorf("%w: compute sighash: %v", ErrMalformedTx, hashErr)
	}

	c.post(func(c *Core) {
		if c.metrics != nil {
			c.metrics.BallotsChecked.Inc()
		}

		if cached, ok := c.checkCache.Get(sighash); ok {
			err = cached.err
			return
		}

		e, resolveErr := c.resolveElection(electionID)
		if resolveErr != nil {
			err = resolveErr
			c.checkCache.Add(sighash, checkResult{sighash: sighash, err: err})
			return
		}

		if validateErr := c.runBallotValidator(e, b); validateErr != nil {
			err = validateErr
			c.checkCache.Add(sighash, checkResult{sighash: sighash, err: err})
			return
		}

		if anchorErr := c.checkAnchorsAndNullifiers(ctx, e, b); anchorErr != nil {
			err = anchorErr
			c.checkCache.Add(sighash, checkResult{sighash: sighash, err: err})
			return
		}

		c.checkCache.Add(sighash, checkResult{sighash: sighash, err: nil})
	})
	if err != nil && c.metrics != nil {
		c.metrics.BallotsRejected.Inc()
	}
	return sighash, err
}

// PrepareProposal screens a candidate ballot against every other ballot
// already admitted into the proposal under construction, implementing
// spec §4.4's intra-block double-spend screen: the ordinary validator
// only checks nullifiers against committed state, so two pending
// ballots spending the same nullifier would both pass CheckBallot.
func (c *Core) PrepareProposal(electionID string, b *ballot.Ballot) error {
	var err error
	c.post(func(c *Core) {
		spent, ok := c.mempoolNullifiers[electionID]
		if !ok {
			spent = make(map[[32]byte]struct{})
			c.mempoolNullifiers[electionID] = spent
		}
		for _, action := range b.Data.Actions {
			if _, dup := spent[action.Nf]; dup {
				err = fmt.Errorf("%w: nullifier %s already proposed in this block", ErrDoubleSpend, hexBytes(action.Nf))
				return
			}
		}
		// Only commit the ballot's nullifiers to the set once every one of
		// them is confirmed free of intra-block conflict.
		for _, action := range b.Data.Actions {
			spent[action.Nf] = struct{}{}
		}
	})
	return err
}

// ensureFinalizeTx opens the block's shared finalize transaction on the
// first FinalizeBallot call, per spec §4.1's transaction-lifetime rule.
func (c *Core) ensureFinalizeTx(ctx context.Context) error {
	if c.finalizeTx != nil {
		return nil
	}
	tx, err := c.store.BeginFinalize(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	c.finalizeTx = tx
	return nil
}

// FinalizeBallot implements spec §4.4's FinalizeBallot algorithm. It runs
// inside the block's shared finalize transaction, using a per-ballot
// savepoint so a fatal double-spend rolls back only this ballot's writes
// without discarding prior ballots already finalized in the same block.
func (c *Core) FinalizeBallot(ctx context.Context, electionID string, b *ballot.Ballot) (sighash [32]byte, err error) {
	sighash, hashErr := b.Sighash()
	if hashErr != nil {
		return [32]byte{}, fmt.Errorf("%w: compute sighash: %v", ErrMalformedTx, hashErr)
	}

	c.post(func(c *Core) {
		if openErr := c.ensureFinalizeTx(ctx); openErr != nil {
			err = openErr
			return
		}
		tx := c.finalizeTx

		e, ok := c.registry.Get(electionID)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrElectionNotFound, electionID)
			return
		}
		if e.Closed {
			err = fmt.Errorf("%w: %s", ErrElectionClosed, electionID)
			return
		}

		savepoint := fmt.Sprintf("ballot_%s", hexBytes(sighash)[:16])
		if spErr := tx.Savepoint(ctx, savepoint); spErr != nil {
			err = fmt.Errorf("%w: %v", ErrStorageError, spErr)
			return
		}

		if finalizeErr := c.finalizeBallotLocked(ctx, tx, e, b, sighash); finalizeErr != nil {
			if rbErr := tx.RollbackToSavepoint(ctx, savepoint); rbErr != nil {
				err = fmt.Errorf("%w: rollback after %v: %v", ErrStorageError, finalizeErr, rbErr)
				return
			}
			err = finalizeErr
			return
		}
		if relErr := tx.ReleaseSavepoint(ctx, savepoint); relErr != nil {
			err = fmt.Errorf("%w: %v", ErrStorageError, relErr)
			return
		}

		c.checkCache.Remove(sighash)
		c.mempoolNullifiers = make(map[string]map[[32]byte]struct{})
	})
	if err != nil && c.metrics != nil {
		c.metrics.BallotsRejected.Inc()
	}
	return sighash, err
}

// finalizeBallotLocked performs steps 2-7 of spec §4.4's FinalizeBallot
// algorithm. Called only from the core's worker goroutine.
func (c *Core) finalizeBallotLocked(ctx context.Context, tx *storage.Tx, e *election.Election, b *ballot.Ballot, sighash [32]byte) error {
	height, frontierBytes, err := tx.LatestFrontier(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("%w: load frontier: %v", ErrStorageError, err)
	}
	fr, err := frontier.Deserialize(frontierBytes)
	if err != nil {
		return fmt.Errorf("%w: decode frontier: %v", ErrStorageError, err)
	}

	for _, action := range b.Data.Actions {
		if appendErr := fr.Append(action.Cmx); appendErr != nil {
			return fmt.Errorf("%w: append commitment: %v", ErrStorageError, appendErr)
		}
		if nfErr := tx.StoreNullifier(ctx, e.ID, hexBytes(action.Nf)); nfErr != nil {
			if errors.Is(nfErr, storage.ErrDuplicateNullifier) {
				return fmt.Errorf("%w: nullifier %s", ErrDoubleSpend, hexBytes(action.Nf))
			}
			return fmt.Errorf("%w: store nullifier: %v", ErrStorageError, nfErr)
		}
	}

	newHeight := height + 1
	newRoot := fr.Root()
	if err := tx.StoreFrontier(ctx, e.ID, newHeight, fr.Serialize()); err != nil {
		return fmt.Errorf("%w: store frontier: %v", ErrStorageError, err)
	}
	if err := tx.StoreRoot(ctx, e.ID, newHeight, hexBytes(newRoot)); err != nil {
		return fmt.Errorf("%w: store root: %v", ErrStorageError, err)
	}

	ballotJSON, err := encodeBallotJSON(b)
	if err != nil {
		return fmt.Errorf("%w: encode ballot: %v", ErrStorageError, err)
	}
	if err := tx.StoreBallot(ctx, storage.BallotRow{
		Election: e.ID,
		Height:   newHeight,
		Hash:     hexBytes(sighash),
		Data:     ballotJSON,
	}); err != nil {
		return fmt.Errorf("%w: store ballot: %v", ErrStorageError, err)
	}

	newAppHash, err := recomputeAppHash(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.StoreProp(ctx, appStateHashProp, newAppHash[:]); err != nil {
		return fmt.Errorf("%w: store app hash: %v", ErrStorageError, err)
	}

	c.state.Hash = newAppHash
	if c.metrics != nil {
		c.metrics.BallotsFinalized.Inc()
		c.metrics.FrontierHeight.WithLabelValues(e.ID).Set(float64(newHeight))
	}
	return nil
}

// recomputeAppHash implements spec §4.5: the tip commitment root of every
// election, sorted by election_id ascending, folded into the
// personalized application hash.
func recomputeAppHash(ctx context.Context, tx *storage.Tx) ([32]byte, error) {
	tips, err := tx.ListTipRootsByElection(ctx)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: list tip roots: %v", ErrStorageError, err)
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].Election < tips[j].Election })

	roots := make([][32]byte, len(tips))
	for i, t := range tips {
		decoded, err := hex.DecodeString(t.Hash)
		if err != nil || len(decoded) != 32 {
			return [32]byte{}, fmt.Errorf("%w: malformed tip root for %s", ErrStorageError, t.Election)
		}
		copy(roots[i][:], decoded)
	}
	return domainhash.AppHash(roots), nil
}

// Commit implements spec §4.4's Commit command: close the finalize
// transaction opened by this block's first FinalizeBallot, then bump
// AppState.height. A failure here is unrecoverable (spec §7) — the
// caller must terminate the process so the consensus engine can recover.
func (c *Core) Commit(ctx context.Context) (AppState, error) {
	var state AppState
	var err error
	c.post(func(c *Core) {
		if c.finalizeTx == nil {
			// An empty block: nothing was finalized, so there is no
			// transaction to close, but height still advances.
			state = c.state
			err = c.bumpHeight(ctx)
			if err == nil {
				state = c.state
			}
			return
		}
		if commitErr := c.finalizeTx.Commit(); commitErr != nil {
			err = fmt.Errorf("%w: commit finalize transaction: %v", ErrStorageError, commitErr)
			c.finalizeTx = nil
			return
		}
		c.finalizeTx = nil

		if bumpErr := c.bumpHeight(ctx); bumpErr != nil {
			err = bumpErr
			return
		}
		state = c.state
	})
	return state, err
}

// bumpHeight persists AppState.height+1 and updates the in-memory view.
func (c *Core) bumpHeight(ctx context.Context) error {
	newHeight := c.state.Height + 1
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], newHeight)
	if err := c.store.StoreProp(ctx, appStateHeightProp, heightBytes[:]); err != nil {
		return fmt.Errorf("%w: store height: %v", ErrStorageError, err)
	}
	c.state.Height = newHeight
	if c.metrics != nil {
		c.metrics.AppStateHeight.Set(float64(newHeight))
	}
	return nil
}
