package zkproof

import (
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// curve is the scalar field the action circuit is compiled over. BN254 is
// used for the same reason the teacher's bls_zkp prover uses it: it is
// gnark's best-supported curve for Groth16 and needs no extra pairing
// configuration.
var curve = ecc.BN254

// Verifier holds a compiled circuit's verifying key and checks ballot
// action proofs against it. It mirrors the teacher's BLSZKProver
// (pkg/crypto/bls_zkp/prover.go) shape — mutex-guarded lazy setup,
// load-from-file, verify — narrowed to the verifier's side only, since the
// chain application never needs to produce proofs, only check them.
type Verifier struct {
	mu sync.RWMutex

	cs          constraint.ConstraintSystem
	vk          groth16.VerifyingKey
	initialized bool
}

// NewVerifier returns an uninitialized Verifier; call Setup or LoadKeys
// before Verify.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Setup compiles the action circuit and runs a fresh (insecure,
// development-only) Groth16 trusted setup. Production deployments must use
// LoadKeys with a verifying key produced by a real ceremony.
func (v *Verifier) Setup() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return nil
	}

	var circuit ActionCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("zkproof: compile circuit: %w", err)
	}
	_, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("zkproof: groth16 setup: %w", err)
	}
	v.cs = cs
	v.vk = vk
	v.initialized = true
	return nil
}

// LoadKeys reads a previously generated constraint system and verifying key,
// in the encoding their WriteTo methods produce.
func (v *Verifier) LoadKeys(csR, vkR io.Reader) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return nil
	}

	cs := groth16.NewCS(curve)
	if _, err := cs.ReadFrom(csR); err != nil {
		return fmt.Errorf("zkproof: read constraint system: %w", err)
	}
	vk := groth16.NewVerifyingKey(curve)
	if _, err := vk.ReadFrom(vkR); err != nil {
		return fmt.Errorf("zkproof: read verifying key: %w", err)
	}

	v.cs = cs
	v.vk = vk
	v.initialized = true
	return nil
}

// PublicInputs are the two disclosed values the proof must attest to. The
// chain core fills them with a ballot's aggregate nullifier and aggregate
// commitment (ballot.Data.AggregateNullifier/AggregateCommitment).
type PublicInputs struct {
	Nullifier  [32]byte
	Commitment [32]byte
}

// Verify checks proofBytes (a serialized groth16 proof, as carried in the
// ballot's proof field) against pub. It returns ErrInvalidProof-wrapping
// errors on any verification failure; callers compare with errors.Is.
func (v *Verifier) Verify(proofBytes []byte, pub PublicInputs) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.initialized {
		return fmt.Errorf("zkproof: verifier not initialized")
	}

	assignment := &ActionCircuit{
		Nullifier:  new(big.Int).SetBytes(pub.Nullifier[:]),
		Commitment: new(big.Int).SetBytes(pub.Commitment[:]),
	}
	publicWitness, err := frontend.NewWitness(assignment, curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("zkproof: build public witness: %w", err)
	}

	proof := groth16.NewProof(curve)
	if _, err := proof.ReadFrom(bytesReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: malformed proof encoding: %v", ErrInvalidProof, err)
	}

	if err := groth16.Verify(proof, v.vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}
