package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vote-bft/vote-node/internal/ballot"
	"github.com/vote-bft/vote-node/internal/config"
	"github.com/vote-bft/vote-node/internal/election"
	"github.com/vote-bft/vote-node/internal/metrics"
	"github.com/vote-bft/vote-node/internal/sigscheme"
	"github.com/vote-bft/vote-node/internal/storage"
	"github.com/vote-bft/vote-node/internal/zkproof"
)

// openTestStore connects to a real Postgres instance configured via the
// usual DB_* environment variables, gated on RUN_STORAGE_TESTS, matching
// the same guard internal/storage's own integration tests use.
func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	if os.Getenv("RUN_STORAGE_TESTS") == "" {
		t.Skip("RUN_STORAGE_TESTS not set, skipping chain integration test")
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	s, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// testVerifier compiles the action circuit and returns a Verifier loaded
// with its own keys, plus the matching proving key so tests can produce
// proofs that verify under it.
func testVerifier(t *testing.T) (*zkproof.Verifier, groth16.ProvingKey) {
	t.Helper()
	var circuit zkproof.ActionCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		t.Fatalf("groth16 setup: %v", err)
	}

	var csBuf, vkBuf bytes.Buffer
	if _, err := cs.WriteTo(&csBuf); err != nil {
		t.Fatalf("serialize cs: %v", err)
	}
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		t.Fatalf("serialize vk: %v", err)
	}

	v := zkproof.NewVerifier()
	if err := v.LoadKeys(&csBuf, &vkBuf); err != nil {
		t.Fatalf("load keys: %v", err)
	}
	return v, pk
}

// proveAction builds a valid groth16 proof for a ballot's aggregate
// nullifier/commitment (pub) under the mimcLike relation Define asserts:
// nf = secret^2+rho, cmx = nf^2+value, solving for rho and value in the
// BN254 scalar field from the given secret.
func proveAction(t *testing.T, pk groth16.ProvingKey, secret int64, pub zkproof.PublicInputs) []byte {
	t.Helper()
	var circuit zkproof.ActionCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}

	mod := ecc.BN254.ScalarField()
	s := big.NewInt(secret)
	nf := new(big.Int).Mod(new(big.Int).SetBytes(pub.Nullifier[:]), mod)
	cmx := new(big.Int).Mod(new(big.Int).SetBytes(pub.Commitment[:]), mod)
	rho := new(big.Int).Sub(nf, new(big.Int).Mul(s, s))
	rho.Mod(rho, mod)
	value := new(big.Int).Sub(cmx, new(big.Int).Mul(nf, nf))
	value.Mod(value, mod)

	assignment := &zkproof.ActionCircuit{
		Nullifier:  nf,
		Commitment: cmx,
		Secret:     s,
		Rho:        rho,
		Value:      value,
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("build witness: %v", err)
	}
	proof, err := groth16.Prove(cs, pk, fullWitness)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		t.Fatalf("serialize proof: %v", err)
	}
	return buf.Bytes()
}

// setupElection writes one election definition file and runs
// LoadAndReconcile against the live store, returning the registry and the
// election's assigned id.
func setupElection(t *testing.T, store *storage.Store, signatureRequired bool) (*election.Registry, *election.Election) {
	t.Helper()
	dir := t.TempDir()

	def := map[string]interface{}{
		"signature_required": signatureRequired,
		"nf_anchor":          hex.EncodeToString(make([]byte, 32)),
		"frontier_depth":     8,
	}
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatalf("marshal election def: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "election.json"), data, 0o644); err != nil {
		t.Fatalf("write election file: %v", err)
	}

	registry := election.New()
	ctx := context.Background()
	if err := registry.LoadAndReconcile(ctx, store, dir); err != nil {
		t.Fatalf("load and reconcile: %v", err)
	}

	all := registry.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one election, got %d", len(all))
	}
	return registry, all[0]
}

// buildBallot assembles a fully valid ballot for e: one action with a real
// groth16 proof and binding signature, matching validator steps 1-4.
func buildBallot(t *testing.T, pk groth16.ProvingKey, e *election.Election, actionSeed int64) ballot.Ballot {
	t.Helper()
	sigscheme.Initialize()

	nf := [32]byte{byte(actionSeed), 0x01}
	cmx := [32]byte{byte(actionSeed), 0x02}

	var domain [32]byte
	decoded, err := hex.DecodeString(e.ID)
	if err != nil || len(decoded) != 32 {
		t.Fatalf("decode election id: %v", err)
	}
	copy(domain[:], decoded)

	b := ballot.Ballot{
		Data: ballot.Data{
			Domain: domain,
			Anchors: ballot.Anchors{
				Nf:  e.NfAnchor,
				Cmx: initialRoot(t, e),
			},
			Actions: []ballot.Action{{Cmx: cmx, Nf: nf}},
		},
	}
	b.Proof = proveAction(t, pk, actionSeed, zkproof.PublicInputs{
		Nullifier:  b.Data.AggregateNullifier(),
		Commitment: b.Data.AggregateCommitment(),
	})

	sighash, err := b.Sighash()
	if err != nil {
		t.Fatalf("sighash: %v", err)
	}
	bindingKey, bindingPub, err := sigscheme.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate binding key: %v", err)
	}
	b.BindingPubKey = bindingPub.Bytes()
	b.BindingSig = bindingKey.Sign(sigscheme.DomainBinding, sighash[:]).Bytes()

	if e.SignatureRequired {
		sk, pubKey, err := sigscheme.GenerateKeyPair()
		if err != nil {
			t.Fatalf("generate spend-auth key: %v", err)
		}
		msg := append(append([]byte{}, nf[:]...), cmx[:]...)
		sig := sk.Sign(sigscheme.DomainSpendAuth, msg)
		b.SpendAuthPubKeys = [][]byte{pubKey.Bytes()}
		b.SpendAuthSigs = [][]byte{sig.Bytes()}
	}

	return b
}

// initialRoot computes the empty frontier root for e, the anchor every
// ballot submitted against a freshly-reconciled election must cite.
func initialRoot(t *testing.T, e *election.Election) [32]byte {
	t.Helper()
	fr, err := e.InitialFrontier()
	if err != nil {
		t.Fatalf("initial frontier: %v", err)
	}
	return fr.Root()
}

func newCore(t *testing.T, store *storage.Store, registry *election.Registry, v *zkproof.Verifier) *Core {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	c, err := New(store, registry, v, m, 64)
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c
}

func TestCheckAndFinalizeBallotHappyPath(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()

	v, pk := testVerifier(t)
	registry, e := setupElection(t, store, false)
	c := newCore(t, store, registry, v)
	ctx := context.Background()

	if _, err := c.Info(ctx); err != nil {
		t.Fatalf("info: %v", err)
	}

	b := buildBallot(t, pk, e, 10)

	if _, err := c.CheckBallot(ctx, e.ID, &b); err != nil {
		t.Fatalf("check ballot: %v", err)
	}

	if _, err := c.FinalizeBallot(ctx, e.ID, &b); err != nil {
		t.Fatalf("finalize ballot: %v", err)
	}

	state, err := c.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if state.Height != 1 {
		t.Errorf("height = %d, want 1", state.Height)
	}

	row, err := store.GetBallot(ctx, e.ID, 1)
	if err != nil {
		t.Fatalf("get ballot: %v", err)
	}
	var stored ballot.Ballot
	if err := json.Unmarshal(row.Data, &stored); err != nil {
		t.Fatalf("unmarshal stored ballot: %v", err)
	}
	if len(stored.Data.Actions) != 1 {
		t.Errorf("stored ballot has %d actions, want 1", len(stored.Data.Actions))
	}
}

func TestFinalizeBallotRejectsDoubleSpend(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()

	v, pk := testVerifier(t)
	registry, e := setupElection(t, store, false)
	c := newCore(t, store, registry, v)
	ctx := context.Background()
	if _, err := c.Info(ctx); err != nil {
		t.Fatalf("info: %v", err)
	}

	first := buildBallot(t, pk, e, 20)
	if _, err := c.FinalizeBallot(ctx, e.ID, &first); err != nil {
		t.Fatalf("finalize first ballot: %v", err)
	}
	if _, err := c.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Reuse the exact same action (same nullifier/commitment) in a new
	// ballot against the same (now stale) anchor; the historical-root
	// screen treats the original anchor permissively, so only the
	// nullifier screen should reject it.
	second := first
	second.Proof = append([]byte{}, first.Proof...)

	if _, err := c.FinalizeBallot(ctx, e.ID, &second); !errors.Is(err, ErrDoubleSpend) {
		t.Errorf("expected ErrDoubleSpend, got %v", err)
	}
}

func TestCheckBallotRejectsUnknownElection(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()

	v, pk := testVerifier(t)
	registry, e := setupElection(t, store, false)
	c := newCore(t, store, registry, v)
	ctx := context.Background()
	if _, err := c.Info(ctx); err != nil {
		t.Fatalf("info: %v", err)
	}

	b := buildBallot(t, pk, e, 30)
	if _, err := c.CheckBallot(ctx, "not-a-real-election", &b); !errors.Is(err, ErrElectionNotFound) {
		t.Errorf("expected ErrElectionNotFound, got %v", err)
	}
}

func TestCheckBallotCachesResultBySighash(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()

	v, pk := testVerifier(t)
	registry, e := setupElection(t, store, false)
	c := newCore(t, store, registry, v)
	ctx := context.Background()
	if _, err := c.Info(ctx); err != nil {
		t.Fatalf("info: %v", err)
	}

	b := buildBallot(t, pk, e, 40)
	h1, err := c.CheckBallot(ctx, e.ID, &b)
	if err != nil {
		t.Fatalf("check ballot: %v", err)
	}
	h2, err := c.CheckBallot(ctx, e.ID, &b)
	if err != nil {
		t.Fatalf("check ballot (cached): %v", err)
	}
	if h1 != h2 {
		t.Errorf("sighash changed across cached calls: %x != %x", h1, h2)
	}
}

func TestPrepareProposalRejectsIntraBlockDoubleSpend(t *testing.T) {
	store := openTestStore(t)
	defer store.Close()

	v, pk := testVerifier(t)
	registry, e := setupElection(t, store, false)
	c := newCore(t, store, registry, v)
	ctx := context.Background()
	if _, err := c.Info(ctx); err != nil {
		t.Fatalf("info: %v", err)
	}

	b := buildBallot(t, pk, e, 50)
	if err := c.PrepareProposal(e.ID, &b); err != nil {
		t.Fatalf("prepare proposal (first): %v", err)
	}

	dup := b
	if err := c.PrepareProposal(e.ID, &dup); !errors.Is(err, ErrDoubleSpend) {
		t.Errorf("expected ErrDoubleSpend on repeated proposal, got %v", err)
	}
}
