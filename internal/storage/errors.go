package storage

import "errors"

// Sentinel errors for repository operations, matching the teacher's
// pkg/database/errors.go convention of one sentinel per not-found case.
var (
	// ErrElectionNotFound is returned when an election_id has no row.
	ErrElectionNotFound = errors.New("storage: election not found")

	// ErrBallotNotFound is returned when an (election, height) pair has no
	// stored ballot.
	ErrBallotNotFound = errors.New("storage: ballot not found")

	// ErrFrontierNotFound is returned when an election has no frontier
	// rows at all, which should never happen once an election is
	// registered (height 0 is always seeded).
	ErrFrontierNotFound = errors.New("storage: frontier not found")

	// ErrDuplicateNullifier is returned by StoreNullifier on conflict; the
	// chain core maps it to the DoubleSpend classified error.
	ErrDuplicateNullifier = errors.New("storage: nullifier already spent")

	// ErrPropNotFound is returned by LoadProp when the named property has
	// never been stored.
	ErrPropNotFound = errors.New("storage: property not found")
)
