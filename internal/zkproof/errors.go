package zkproof

import (
	"bytes"
	"errors"
	"io"
)

// ErrInvalidProof is wrapped by Verify on any proof-verification failure:
// malformed encoding, mismatched public inputs, or an invalid Groth16 proof.
var ErrInvalidProof = errors.New("invalid zero-knowledge proof")

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
