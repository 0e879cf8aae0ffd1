package ballot

import "testing"

func sampleBallot() Ballot {
	return Ballot{
		Data: Data{
			Domain: [32]byte{1, 2, 3},
			Anchors: Anchors{
				Nf:  [32]byte{4, 5, 6},
				Cmx: [32]byte{7, 8, 9},
			},
			Actions: []Action{
				{Cmx: [32]byte{10}, Nf: [32]byte{11}},
				{Cmx: [32]byte{12}, Nf: [32]byte{13}},
			},
		},
		Proof:      []byte("proof-bytes"),
		BindingSig: []byte("binding-sig"),
	}
}

func TestSighashStableAcrossCalls(t *testing.T) {
	b := sampleBallot()
	h1, err := b.Sighash()
	if err != nil {
		t.Fatalf("sighash: %v", err)
	}
	h2, err := b.Sighash()
	if err != nil {
		t.Fatalf("sighash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("sighash not stable: %x != %x", h1, h2)
	}
}

func TestSighashIgnoresProofAndSignatures(t *testing.T) {
	b1 := sampleBallot()
	b2 := sampleBallot()
	b2.Proof = []byte("different-proof")
	b2.BindingSig = []byte("different-sig")

	h1, err := b1.Sighash()
	if err != nil {
		t.Fatalf("sighash: %v", err)
	}
	h2, err := b2.Sighash()
	if err != nil {
		t.Fatalf("sighash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("sighash must depend only on Data, got %x != %x", h1, h2)
	}
}

func TestSighashChangesWithData(t *testing.T) {
	b1 := sampleBallot()
	b2 := sampleBallot()
	b2.Data.Actions[0].Cmx[0] = 0xFF

	h1, _ := b1.Sighash()
	h2, _ := b2.Sighash()
	if h1 == h2 {
		t.Errorf("sighash must change when data changes")
	}
}

func TestValidateRejectsTooManyActions(t *testing.T) {
	b := sampleBallot()
	for i := 0; i < MaxActions; i++ {
		b.Data.Actions = append(b.Data.Actions, Action{})
	}
	if err := b.Validate(false); err == nil {
		t.Errorf("expected error for too many actions")
	}
}

func TestValidateRequiresMatchingSpendAuthCount(t *testing.T) {
	b := sampleBallot()
	if err := b.Validate(true); err == nil {
		t.Errorf("expected error when spend-auth signatures are missing")
	}
	b.SpendAuthSigs = [][]byte{{1}, {2}}
	if err := b.Validate(true); err == nil {
		t.Errorf("expected error when spend-auth public keys are missing")
	}
	b.SpendAuthPubKeys = [][]byte{{3}, {4}}
	if err := b.Validate(true); err != nil {
		t.Errorf("unexpected error with matching signature count: %v", err)
	}
}

func TestTxEnvelopeRoundTrip(t *testing.T) {
	tx := Tx{ID: "deadbeef", Ballot: sampleBallot()}
	encoded, err := EncodeTx(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeTx(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != tx.ID {
		t.Errorf("id mismatch: got %q, want %q", decoded.ID, tx.ID)
	}
	if len(decoded.Ballot.Data.Actions) != len(tx.Ballot.Data.Actions) {
		t.Errorf("action count mismatch after round trip")
	}
}

func TestDecodeTxRejectsTruncated(t *testing.T) {
	if _, err := DecodeTx([]byte{1, 0, 0}); err == nil {
		t.Errorf("expected error for truncated envelope")
	}
	tx := Tx{ID: "x", Ballot: sampleBallot()}
	encoded, _ := EncodeTx(tx)
	if _, err := DecodeTx(encoded[:len(encoded)-1]); err == nil {
		t.Errorf("expected error for truncated ballot section")
	}
}

func TestDomainHexRoundTrip(t *testing.T) {
	var d [32]byte
	d[0] = 0xAB
	d[31] = 0xCD
	s := DomainHex(d)
	back, err := DomainFromHex(s)
	if err != nil {
		t.Fatalf("DomainFromHex: %v", err)
	}
	if back != d {
		t.Errorf("domain round trip mismatch")
	}
}
