// Package frontier implements the incremental Merkle frontier of spec §4.2:
// a structure that can append a leaf and compute the tree's current root
// without holding the full leaf history.
//
// The shape (level-indexed ommer slots, fixed-size hash arrays, explicit
// error sentinels, byte-stable serialization) follows the idiom of the
// teacher's pkg/merkle package, generalized from a full-rebuild tree into
// an append-only frontier since the full-rebuild approach cannot serve
// spec §4.2's requirement of deriving a root from partial state. The
// append/root algorithm itself is the standard incremental-Merkle-tree
// construction (as used by e.g. the Ethereum deposit contract): a
// depth-indexed array of "ommer" siblings plus bitwise folding against
// precomputed empty-subtree hashes.
package frontier

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vote-bft/vote-node/internal/domainhash"
)

// ErrFull is returned by Append once the frontier has accepted 2^Depth
// leaves and has no room for another.
var ErrFull = errors.New("frontier: tree is full")

// ErrMalformed is returned by Deserialize when the input bytes do not match
// the expected encoding for any depth.
var ErrMalformed = errors.New("frontier: malformed serialization")

// MaxDepth bounds the tree depth accepted by New/Deserialize; the protocol
// typically uses 32.
const MaxDepth = 64

// Frontier is a pure value type: append is O(depth), root is deterministic
// and depends only on the ordered sequence of appended leaves, never on the
// path taken to reach them.
type Frontier struct {
	depth    uint8
	position uint64 // number of leaves appended so far

	// ommers[level] is valid (holds a real left-sibling node) exactly when
	// bit `level` of position is 1 — the standard incremental-tree
	// invariant. We also track it explicitly for readability and so
	// Serialize need not re-derive it from position.
	ommers  [][domainhash.Size]byte
	present []bool

	// full and fullRoot cache the root once capacity is exhausted: the
	// final carry-out of the last Append has nowhere left to park as an
	// ommer (there is no level above depth), so it must be remembered
	// directly.
	full     bool
	fullRoot [domainhash.Size]byte
}

// New returns an empty frontier of the given depth (tree capacity = 2^depth
// leaves). depth must be in [1, MaxDepth].
func New(depth uint8) (*Frontier, error) {
	if depth == 0 || depth > MaxDepth {
		return nil, fmt.Errorf("frontier: depth %d out of range [1,%d]", depth, MaxDepth)
	}
	return &Frontier{
		depth:   depth,
		ommers:  make([][domainhash.Size]byte, depth),
		present: make([]bool, depth),
	}, nil
}

// Depth reports the tree's fixed capacity exponent.
func (f *Frontier) Depth() uint8 { return f.depth }

// Position reports how many leaves have been appended so far.
func (f *Frontier) Position() uint64 { return f.position }

// Append inserts leaf as the next note commitment. Appends are
// total-ordered: calling Append repeatedly in a fixed order always produces
// the same resulting Root(), regardless of how the caller batches calls.
func (f *Frontier) Append(leaf [domainhash.Size]byte) error {
	// At depth 64 the shift wraps to 0 and position can never reach 2^64.
	capacity := uint64(1) << f.depth
	if f.depth < 64 && f.position >= capacity {
		return ErrFull
	}

	node := domainhash.MergeLeaf(0, leaf)
	size := f.position + 1
	for level := uint8(0); level < f.depth; level++ {
		if size&1 == 1 {
			f.ommers[level] = node
			f.present[level] = true
			f.position++
			return nil
		}
		node = domainhash.Merge(level, f.ommers[level], node)
		f.present[level] = false
		size >>= 1
	}
	// Every level carried: this leaf exactly completed the tree. There is
	// no level above depth to park the carry, so the fully-folded node is
	// the tree's final root, cached directly.
	f.full = true
	f.fullRoot = node
	f.position++
	return nil
}

// Root computes the current Merkle root, folding each occupied ommer with
// the canonical empty-subtree hash for levels not yet reached by an
// ommer.
func (f *Frontier) Root() [domainhash.Size]byte {
	if f.full {
		return f.fullRoot
	}
	node := domainhash.EmptyRoot(0)
	size := f.position
	for level := uint8(0); level < f.depth; level++ {
		if size&1 == 1 {
			node = domainhash.Merge(level, f.ommers[level], node)
		} else {
			node = domainhash.Merge(level, node, domainhash.EmptyRoot(level))
		}
		size >>= 1
	}
	return node
}

// Serialize produces a byte-stable encoding: depth, position, then for each
// level a presence flag and (if present) the 32-byte ommer. Two frontiers
// reached by appending the same leaf sequence serialize identically,
// regardless of replica.
func (f *Frontier) Serialize() []byte {
	buf := make([]byte, 0, 1+8+1+int(f.depth)*(1+domainhash.Size)+domainhash.Size)
	buf = append(buf, f.depth)
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], f.position)
	buf = append(buf, posBuf[:]...)
	if f.full {
		buf = append(buf, 1)
		buf = append(buf, f.fullRoot[:]...)
		return buf
	}
	buf = append(buf, 0)
	for level := uint8(0); level < f.depth; level++ {
		if f.present[level] {
			buf = append(buf, 1)
			buf = append(buf, f.ommers[level][:]...)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// Deserialize is the exact inverse of Serialize.
func Deserialize(data []byte) (*Frontier, error) {
	if len(data) < 1+8+1 {
		return nil, ErrMalformed
	}
	depth := data[0]
	if depth == 0 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: depth %d out of range", ErrMalformed, depth)
	}
	position := binary.BigEndian.Uint64(data[1:9])

	f := &Frontier{
		depth:    depth,
		position: position,
		ommers:   make([][domainhash.Size]byte, depth),
		present:  make([]bool, depth),
	}

	off := 9
	fullFlag := data[off]
	off++
	if fullFlag == 1 {
		if off+domainhash.Size != len(data) {
			return nil, ErrMalformed
		}
		f.full = true
		copy(f.fullRoot[:], data[off:off+domainhash.Size])
		return f, nil
	}
	if fullFlag != 0 {
		return nil, ErrMalformed
	}

	for level := uint8(0); level < depth; level++ {
		if off >= len(data) {
			return nil, ErrMalformed
		}
		switch data[off] {
		case 0:
			off++
		case 1:
			off++
			if off+domainhash.Size > len(data) {
				return nil, ErrMalformed
			}
			copy(f.ommers[level][:], data[off:off+domainhash.Size])
			f.present[level] = true
			off += domainhash.Size
		default:
			return nil, ErrMalformed
		}
	}
	if off != len(data) {
		return nil, ErrMalformed
	}
	return f, nil
}
