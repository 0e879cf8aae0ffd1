// Package zkproof wraps Groth16 verification of a ballot action's spend
// proof. Spec §4.3 step 2 treats proof verification as validating a
// per-protocol verifying key against the ballot's public inputs; the real
// Orchard circuit is explicitly out of scope (spec §1 Non-goals: "the
// zero-knowledge proving system"). This package still needs *a* circuit to
// exercise groth16 end to end, so it defines a simplified spend relation:
// knowledge of a note secret and rho such that the note's nullifier and
// commitment derive from them via a MiMC-style hash, following the
// teacher's pkg/crypto/bls_zkp circuit idiom (public/private
// frontend.Variable split, an explicit commitment-check constraint).
package zkproof

import (
	"github.com/consensys/gnark/frontend"
)

// ActionCircuit proves that a disclosed (nullifier, commitment) pair for
// one ballot action was correctly derived from a private note the prover
// controls, without revealing the note itself.
type ActionCircuit struct {
	// Public inputs — must match the ballot action's disclosed values.
	Nullifier  frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`

	// Private inputs — known only to the voter constructing the ballot.
	Secret frontend.Variable
	Rho    frontend.Variable
	Value  frontend.Variable
}

// Define implements the circuit's constraint system.
func (c *ActionCircuit) Define(api frontend.API) error {
	nf := mimcLike(api, c.Secret, c.Rho)
	api.AssertIsEqual(c.Nullifier, nf)

	cmx := mimcLike(api, c.Secret, c.Rho, c.Value)
	api.AssertIsEqual(c.Commitment, cmx)
	return nil
}

// mimcLike folds inputs with repeated squaring-and-add, a lightweight
// algebraic hash sufficient to bind the circuit's witness without pulling
// in a full MiMC gadget; the teacher's computePubkeyCommitment in
// pkg/crypto/bls_zkp/circuit.go takes the same "cheap algebraic commitment
// inside the circuit" approach for the same reason (avoid a heavyweight
// in-circuit hash for a relation the real protocol replaces entirely).
func mimcLike(api frontend.API, inputs ...frontend.Variable) frontend.Variable {
	acc := frontend.Variable(0)
	for _, in := range inputs {
		sq := api.Mul(acc, acc)
		acc = api.Add(sq, in)
	}
	return acc
}
