package chain

import "errors"

// Classified errors surfaced as strings in consensus replies (spec §7).
// Callers compare with errors.Is; wrapped context is added with
// fmt.Errorf("...: %w", ...) at each call site.
var (
	ErrElectionNotFound        = errors.New("ElectionNotFound")
	ErrElectionClosed          = errors.New("ElectionClosed")
	ErrInvalidProof            = errors.New("InvalidProof")
	ErrInvalidSignature        = errors.New("InvalidSignature")
	ErrNullifierRootMismatch   = errors.New("NullifierRootMismatch")
	ErrUnknownCommitmentAnchor = errors.New("UnknownCommitmentAnchor")
	ErrDoubleSpend             = errors.New("DoubleSpend")
	ErrStorageError            = errors.New("StorageError")
	ErrMalformedTx             = errors.New("MalformedTx")
)
