package zkproof

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// provingFixture compiles the circuit and runs its own trusted setup,
// keeping the proving key the Verifier type deliberately never retains.
func provingFixture(t *testing.T) (groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	var circuit ActionCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		t.Fatalf("groth16 setup: %v", err)
	}
	return pk, vk
}

// proveValidAction builds a proof for the witness Secret=3, Rho=5, Value=7,
// whose derived nullifier/commitment satisfy ActionCircuit.Define under
// mimcLike: nf = Secret^2+Rho = 14, cmx = nf^2+Value = 203.
func proveValidAction(t *testing.T, pk groth16.ProvingKey) ([]byte, PublicInputs) {
	t.Helper()
	var circuit ActionCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}

	assignment := &ActionCircuit{
		Nullifier:  big.NewInt(14),
		Commitment: big.NewInt(203),
		Secret:     big.NewInt(3),
		Rho:        big.NewInt(5),
		Value:      big.NewInt(7),
	}
	fullWitness, err := frontend.NewWitness(assignment, curve.ScalarField())
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

	var pub PublicInputs
	big.NewInt(14).FillBytes(pub.Nullifier[:])
	big.NewInt(203).FillBytes(pub.Commitment[:])
	return buf.Bytes(), pub
}

func TestVerifyAcceptsValidProof(t *testing.T) {
	pk, vk := provingFixture(t)
	proofBytes, pub := proveValidAction(t, pk)

	var csBuf, vkBuf bytes.Buffer
	var circuit ActionCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	if _, err := cs.WriteTo(&csBuf); err != nil {
		t.Fatalf("serialize constraint system: %v", err)
	}
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		t.Fatalf("serialize verifying key: %v", err)
	}

	v := NewVerifier()
	if err := v.LoadKeys(&csBuf, &vkBuf); err != nil {
		t.Fatalf("load keys: %v", err)
	}

	if err := v.Verify(proofBytes, pub); err != nil {
		t.Fatalf("expected valid proof to verify, got %v", err)
	}
}

func TestVerifyRejectsMismatchedPublicInputs(t *testing.T) {
	pk, vk := provingFixture(t)
	proofBytes, pub := proveValidAction(t, pk)
	pub.Commitment[31] ^= 0xFF // corrupt the disclosed commitment

	var csBuf, vkBuf bytes.Buffer
	var circuit ActionCircuit
	cs, err := frontend.Compile(curve.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile circuit: %v", err)
	}
	cs.WriteTo(&csBuf)
	vk.WriteTo(&vkBuf)

	v := NewVerifier()
	if err := v.LoadKeys(&csBuf, &vkBuf); err != nil {
		t.Fatalf("load keys: %v", err)
	}

	if err := v.Verify(proofBytes, pub); err == nil {
		t.Errorf("expected verification failure for mismatched public inputs")
	}
}

func TestVerifyRejectsMalformedProofBytes(t *testing.T) {
	v := NewVerifier()
	if err := v.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := v.Verify([]byte("not a proof"), PublicInputs{}); err == nil {
		t.Errorf("expected error for malformed proof bytes")
	}
}

func TestVerifyRequiresInitialization(t *testing.T) {
	v := NewVerifier()
	if err := v.Verify([]byte{}, PublicInputs{}); err == nil {
		t.Errorf("expected error when verifier has not been set up")
	}
}
