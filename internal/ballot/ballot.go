// Package ballot defines the wire shapes of spec §3: a ballot's disclosed
// data, its zero-knowledge proof and signatures, and the Tx envelope that
// carries a ballot alongside its target election through the consensus
// engine's mempool.
package ballot

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vote-bft/vote-node/internal/canonicaljson"
	"github.com/vote-bft/vote-node/internal/domainhash"
)

// MaxActions bounds the number of actions a single ballot may carry,
// enforced in validator step 1 (spec §4.3).
const MaxActions = 64

// Action is one atomic spend-and-create within a ballot: it contributes one
// nullifier (spending a previously created note) and one note commitment
// (creating a new one).
type Action struct {
	Cmx [32]byte `json:"cmx"`
	Nf  [32]byte `json:"nf"`
}

// Anchors are the two historical roots a ballot was constructed against.
type Anchors struct {
	Nf  [32]byte `json:"nf"`
	Cmx [32]byte `json:"cmx"`
}

// Data is a ballot's disclosed payload — everything except the proof and
// signatures, and the only part that feeds the sighash.
type Data struct {
	Domain       [32]byte  `json:"domain"`
	Anchors      Anchors   `json:"anchors"`
	Actions      []Action  `json:"actions"`
	ExpiryHeight *uint32   `json:"expiry_height,omitempty"`
}

// Ballot is the opaque wire object accepted over HTTP and carried through
// the mempool: disclosed data plus the cryptographic material that proves
// it is well-formed.
type Ballot struct {
	Data Data   `json:"data"`
	Proof           []byte   `json:"proof"`
	BindingSig      []byte   `json:"binding_signature"`
	BindingPubKey   []byte   `json:"binding_public_key"`
	SpendAuthSigs    [][]byte `json:"spend_auth_signatures,omitempty"`
	SpendAuthPubKeys [][]byte `json:"spend_auth_public_keys,omitempty"`
}

// ErrTooManyActions is returned when a ballot exceeds MaxActions.
var ErrTooManyActions = errors.New("ballot: too many actions")

// Validate performs the structural checks common to every ballot,
// independent of any election-specific predicate: action count and
// spend-auth signature count consistency.
func (b *Ballot) Validate(requireSig bool) error {
	if len(b.Data.Actions) == 0 {
		return errors.New("ballot: no actions")
	}
	if len(b.Data.Actions) > MaxActions {
		return fmt.Errorf("%w: %d > %d", ErrTooManyActions, len(b.Data.Actions), MaxActions)
	}
	if requireSig {
		if len(b.SpendAuthSigs) != len(b.Data.Actions) {
			return fmt.Errorf("ballot: expected %d spend-authorization signatures, got %d", len(b.Data.Actions), len(b.SpendAuthSigs))
		}
		if len(b.SpendAuthPubKeys) != len(b.Data.Actions) {
			return fmt.Errorf("ballot: expected %d spend-authorization public keys, got %d", len(b.Data.Actions), len(b.SpendAuthPubKeys))
		}
	}
	return nil
}

// Sighash derives the canonical 32-byte digest of the ballot's disclosed
// data. It is stable across equivalent encodings because it hashes
// canonical (sorted-key) JSON rather than the wire bytes directly.
func (b *Ballot) Sighash() ([32]byte, error) {
	canon, err := canonicaljson.Marshal(b.Data)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ballot: canonicalize data: %w", err)
	}
	return domainhash.Sum(domainhash.SighashPersonalization, canon), nil
}

// AggregateNullifier folds every action's nullifier into the single
// public input the zero-knowledge proof attests to.
func (d *Data) AggregateNullifier() [32]byte {
	parts := make([][]byte, len(d.Actions))
	for i, a := range d.Actions {
		nf := a.Nf
		parts[i] = nf[:]
	}
	return domainhash.Sum(domainhash.ActionAggPersonalization, parts...)
}

// AggregateCommitment folds every action's note commitment into the
// single public input the zero-knowledge proof attests to.
func (d *Data) AggregateCommitment() [32]byte {
	parts := make([][]byte, len(d.Actions))
	for i, a := range d.Actions {
		cmx := a.Cmx
		parts[i] = cmx[:]
	}
	return domainhash.Sum(domainhash.ActionAggPersonalization, parts...)
}

// DomainHex renders an election domain fingerprint as lowercase hex, the
// canonical external representation of an election_id (spec §3).
func DomainHex(domain [32]byte) string {
	return hex.EncodeToString(domain[:])
}

// DomainFromHex is the inverse of DomainHex.
func DomainFromHex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("ballot: decode election id: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("ballot: election id must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Tx is the envelope submitted over HTTP and carried through the
// consensus engine's mempool (spec §6 "Tx envelope").
type Tx struct {
	ID     string `json:"id"`
	Ballot Ballot `json:"ballot"`
}

// EncodeTx produces the fixed little-endian length-prefixed binary
// encoding of a Tx: a 4-byte LE length followed by the raw UTF-8 bytes of
// ID, then a 4-byte LE length followed by the JSON bytes of Ballot. Decoding
// is the exact inverse (DecodeTx), so the HTTP submitter and the
// consensus-adapter decoder never disagree on framing.
func EncodeTx(tx Tx) ([]byte, error) {
	idBytes := []byte(tx.ID)
	ballotJSON, err := json.Marshal(tx.Ballot)
	if err != nil {
		return nil, fmt.Errorf("ballot: encode tx ballot: %w", err)
	}

	buf := make([]byte, 0, 4+len(idBytes)+4+len(ballotJSON))
	buf = appendUint32(buf, uint32(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = appendUint32(buf, uint32(len(ballotJSON)))
	buf = append(buf, ballotJSON...)
	return buf, nil
}

// ErrMalformedTx is returned by DecodeTx when the envelope framing does
// not match EncodeTx's output.
var ErrMalformedTx = errors.New("malformed tx envelope")

// DecodeTx is the exact inverse of EncodeTx.
func DecodeTx(data []byte) (Tx, error) {
	var tx Tx
	if len(data) < 4 {
		return tx, ErrMalformedTx
	}
	idLen := binary.LittleEndian.Uint32(data[0:4])
	off := 4
	if uint64(off)+uint64(idLen) > uint64(len(data)) {
		return tx, ErrMalformedTx
	}
	tx.ID = string(data[off : off+int(idLen)])
	off += int(idLen)

	if uint64(off)+4 > uint64(len(data)) {
		return tx, ErrMalformedTx
	}
	ballotLen := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	if uint64(off)+uint64(ballotLen) != uint64(len(data)) {
		return tx, ErrMalformedTx
	}
	if err := json.Unmarshal(data[off:off+int(ballotLen)], &tx.Ballot); err != nil {
		return tx, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	return tx, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}
