// Package election loads election definitions from disk at startup,
// fingerprints them into their 32-byte domain id, and exposes lookup by
// election_id to the chain core (component C4).
package election

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vote-bft/vote-node/internal/canonicaljson"
	"github.com/vote-bft/vote-node/internal/domainhash"
	"github.com/vote-bft/vote-node/internal/frontier"
)

// DefaultFrontierDepth is the tree depth used when an election file does
// not declare one explicitly.
const DefaultFrontierDepth = 32

// Election is the immutable verifier-facing definition of one election,
// plus the two fields the chain core needs to evaluate ballots against it.
type Election struct {
	// ID is the lowercase-hex domain fingerprint computed by Fingerprint,
	// and the value every ballot's data.domain must equal.
	ID string `json:"id"`

	// SignatureRequired gates whether CheckBallot enforces spend-auth
	// signature verification (spec §4.3 step 4).
	SignatureRequired bool `json:"signature_required"`

	// NfAnchor is the root of the historical nullifier set at election
	// creation; every ballot's anchors.nf must equal it exactly.
	NfAnchor [32]byte `json:"-"`
	NfAnchorHex string `json:"nf_anchor"`

	// FrontierDepth fixes the note-commitment tree capacity for this
	// election.
	FrontierDepth uint8 `json:"frontier_depth"`

	// Name, Question, and Candidates are free-form verifier-facing
	// metadata, preserved verbatim and never interpreted by the core.
	Name       json.RawMessage `json:"name,omitempty"`
	Question   json.RawMessage `json:"question,omitempty"`
	Candidates json.RawMessage `json:"candidates,omitempty"`

	// Closed reflects the election's current accept/reject state,
	// mirrored from storage at startup and mutated only through the
	// registry's startup reconciliation or operator tooling.
	Closed bool `json:"-"`
}

// fingerprintInput is the subset of fields that feed Fingerprint: the
// declared id is never part of its own input, or every election would be
// vacuously self-consistent.
type fingerprintInput struct {
	SignatureRequired bool            `json:"signature_required"`
	NfAnchor          string          `json:"nf_anchor"`
	FrontierDepth     uint8           `json:"frontier_depth"`
	Name              json.RawMessage `json:"name,omitempty"`
	Question          json.RawMessage `json:"question,omitempty"`
	Candidates        json.RawMessage `json:"candidates,omitempty"`
}

// Fingerprint computes the 32-byte domain id an election's file content
// must declare, from every field except the declared id itself.
func Fingerprint(e *Election) ([32]byte, error) {
	in := fingerprintInput{
		SignatureRequired: e.SignatureRequired,
		NfAnchor:          e.NfAnchorHex,
		FrontierDepth:     e.FrontierDepth,
		Name:              e.Name,
		Question:          e.Question,
		Candidates:        e.Candidates,
	}
	canon, err := canonicaljson.Marshal(in)
	if err != nil {
		return [32]byte{}, fmt.Errorf("election: canonicalize: %w", err)
	}
	return domainhash.Sum(domainhash.AppHashPersonalization, canon), nil
}

// ErrIDMismatch is returned by ParseFile when a file's declared id does
// not equal its computed fingerprint (spec §6).
var ErrIDMismatch = errors.New("election: declared id does not match computed fingerprint")

// ParseFile decodes one election definition from JSON bytes, computes its
// fingerprint, and rejects it if the declared id disagrees.
func ParseFile(data []byte) (*Election, error) {
	var e Election
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("election: decode: %w", err)
	}

	if e.FrontierDepth == 0 {
		e.FrontierDepth = DefaultFrontierDepth
	}
	if e.FrontierDepth > frontier.MaxDepth {
		return nil, fmt.Errorf("election: frontier depth %d exceeds maximum %d", e.FrontierDepth, frontier.MaxDepth)
	}

	anchor, err := hex.DecodeString(e.NfAnchorHex)
	if err != nil || len(anchor) != 32 {
		return nil, fmt.Errorf("election: nf_anchor must be 32 bytes hex: %w", err)
	}
	copy(e.NfAnchor[:], anchor)

	computed, err := Fingerprint(&e)
	if err != nil {
		return nil, err
	}
	computedHex := hex.EncodeToString(computed[:])
	if e.ID == "" {
		e.ID = computedHex
	} else if e.ID != computedHex {
		return nil, fmt.Errorf("%w: declared %s, computed %s", ErrIDMismatch, e.ID, computedHex)
	}

	return &e, nil
}

// InitialFrontier returns the empty frontier an election starts from,
// matching FrontierDepth.
func (e *Election) InitialFrontier() (*frontier.Frontier, error) {
	return frontier.New(e.FrontierDepth)
}

// encodeDefinition renders an election as the JSON bytes stored in
// elections.definition.
func encodeDefinition(e *Election) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Election only contains JSON-safe fields (strings, bools, a
		// fixed-width integer, and json.RawMessage); Marshal cannot fail.
		panic(fmt.Sprintf("election: marshal definition: %v", err))
	}
	return data
}

// decodeDefinition is the inverse of encodeDefinition, re-deriving
// NfAnchor from NfAnchorHex since it is not itself stored in JSON.
func decodeDefinition(data []byte) (*Election, error) {
	var e Election
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("election: decode definition: %w", err)
	}
	anchor, err := hex.DecodeString(e.NfAnchorHex)
	if err != nil || len(anchor) != 32 {
		return nil, fmt.Errorf("election: stored nf_anchor malformed: %w", err)
	}
	copy(e.NfAnchor[:], anchor)
	return &e, nil
}
